package orchestration

import (
	"context"

	"github.com/sipeed/execclient/pkg/capability"
	"github.com/sipeed/execclient/pkg/domain"
)

// ---------------------------------------------------------------------------
// Stage results and fold
// ---------------------------------------------------------------------------

// Result is a stage's outcome: a new value, or the value the stage received
// together with the error that stopped it.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successfully produced value.
func Ok[T any](v T) Result[T] { return Result[T]{value: v} }

// Fail carries the previous value forward with err.
func Fail[T any](prev T, err error) Result[T] { return Result[T]{value: prev, err: err} }

func (r Result[T]) Value() T   { return r.value }
func (r Result[T]) Err() error { return r.err }

// Stage is one named step of a fold.
type Stage[T any] struct {
	ID  string
	Run func(ctx context.Context, in T) Result[T]
}

// FoldReport lists which stages applied and which failed.
type FoldReport struct {
	Applied []string
	Failed  []error
}

// Fold threads initial through stages in order. A failing stage is recorded
// and the next stage receives the last good value.
func Fold[T any](ctx context.Context, initial T, stages []Stage[T]) (T, FoldReport) {
	var report FoldReport
	current := initial
	for _, st := range stages {
		res := st.Run(ctx, current)
		if res.Err() != nil {
			report.Failed = append(report.Failed, res.Err())
			continue
		}
		current = res.Value()
		report.Applied = append(report.Applied, st.ID)
	}
	return current, report
}

// ---------------------------------------------------------------------------
// Capability adapters
// ---------------------------------------------------------------------------

func enhanceStages(descs []capability.Descriptor, in capability.Input) []Stage[string] {
	stages := make([]Stage[string], 0, len(descs))
	for _, d := range descs {
		d := d
		stages = append(stages, Stage[string]{
			ID: d.ID,
			Run: func(ctx context.Context, prompt string) Result[string] {
				out, err := d.Enhance(ctx, prompt, in)
				if err != nil {
					return Fail(prompt, asCapabilityError(d, err))
				}
				return Ok(out)
			},
		})
	}
	return stages
}

func processStages(descs []capability.Descriptor, in capability.Input) []Stage[string] {
	stages := make([]Stage[string], 0, len(descs))
	for _, d := range descs {
		d := d
		stages = append(stages, Stage[string]{
			ID: d.ID,
			Run: func(ctx context.Context, response string) Result[string] {
				out, err := d.Process(ctx, response, in)
				if err != nil {
					return Fail(response, asCapabilityError(d, err))
				}
				return Ok(out)
			},
		})
	}
	return stages
}

// collectContext runs every collector and keys successful results by
// collector id. Failed collectors and nil results leave no key behind.
func collectContext(ctx context.Context, descs []capability.Descriptor, topics []string, in capability.Input) (map[string]interface{}, []error) {
	out := make(map[string]interface{}, len(descs))
	var failed []error
	for _, d := range descs {
		v, err := d.Collect(ctx, topics, in)
		if err != nil {
			failed = append(failed, asCapabilityError(d, err))
			continue
		}
		if v == nil {
			continue
		}
		out[d.ID] = v
	}
	return out, failed
}

func asCapabilityError(d capability.Descriptor, err error) error {
	if ce, ok := err.(*domain.CapabilityError); ok {
		return ce
	}
	return &domain.CapabilityError{CapabilityID: d.ID, Kind: d.Kind.String(), Err: err}
}
