package orchestration

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/sipeed/execclient/pkg/config"
)

// Schedule decides when the next tick runs.
type Schedule interface {
	Next(after time.Time) (time.Time, error)
	String() string
}

// IntervalSchedule fires a fixed duration after the previous tick ended.
type IntervalSchedule time.Duration

func (s IntervalSchedule) Next(after time.Time) (time.Time, error) {
	return after.Add(time.Duration(s)), nil
}

func (s IntervalSchedule) String() string { return "every " + time.Duration(s).String() }

// CronSchedule fires on a cron expression.
type CronSchedule string

// NewCronSchedule validates expr.
func NewCronSchedule(expr string) (CronSchedule, error) {
	if !gronx.New().IsValid(expr) {
		return "", fmt.Errorf("invalid cron expression %q", expr)
	}
	return CronSchedule(expr), nil
}

func (s CronSchedule) Next(after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(string(s), after, false)
}

func (s CronSchedule) String() string { return "cron " + string(s) }

// ScheduleFrom picks a cron schedule when poll.cron is set and an interval
// schedule otherwise.
func ScheduleFrom(cfg config.PollConfig) (Schedule, error) {
	if cfg.Cron != "" {
		return NewCronSchedule(cfg.Cron)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.Interval)
	}
	return IntervalSchedule(cfg.Interval), nil
}
