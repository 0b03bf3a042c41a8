package orchestration

import (
	"sort"
	"sync"
	"time"

	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/domain"
)

// RetryPolicy defines how commit failures are handled.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"` // 0 means unlimited
	Backoff     time.Duration `json:"backoff"`      // base delay between retries
	MaxBackoff  time.Duration `json:"max_backoff"`  // also how long a parked message waits
}

// DefaultRetryPolicy retries on the next tick, up to five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MaxBackoff:  10 * time.Minute,
	}
}

// RetryPolicyFrom reads the retry settings out of the poll config.
func RetryPolicyFrom(cfg config.PollConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.RetryBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// ---------------------------------------------------------------------------
// Attempt book
// ---------------------------------------------------------------------------

// Attempt records the failed commits of one message.
type Attempt struct {
	MessageID domain.EntityID `json:"message_id"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error"`
	RetryAt   time.Time       `json:"retry_at"`
	Parked    bool            `json:"parked"` // non-retryable or out of attempts
}

// attemptBook tracks messages whose commit failed so the next ticks can skip
// them until their backoff has passed. Successful commits leave no entry.
type attemptBook struct {
	mu      sync.Mutex
	entries map[domain.EntityID]*Attempt
	policy  RetryPolicy
}

func newAttemptBook(policy RetryPolicy) *attemptBook {
	return &attemptBook{entries: make(map[domain.EntityID]*Attempt), policy: policy}
}

// Eligible reports whether id may be processed at now. A parked entry whose
// wait has passed is dropped and the message starts over.
func (b *attemptBook) Eligible(id domain.EntityID, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.entries[id]
	if !ok {
		return true
	}
	if now.Before(a.RetryAt) {
		return false
	}
	if a.Parked {
		delete(b.entries, id)
	}
	return true
}

// Fail records a failed commit and reports whether the message will be
// retried.
func (b *attemptBook) Fail(id domain.EntityID, err error, retryable bool, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.entries[id]
	if !ok {
		a = &Attempt{MessageID: id}
		b.entries[id] = a
	}
	a.Attempts++
	if err != nil {
		a.LastError = err.Error()
	}
	if !retryable || (b.policy.MaxAttempts > 0 && a.Attempts >= b.policy.MaxAttempts) {
		a.Parked = true
		a.RetryAt = now.Add(b.policy.MaxBackoff)
		return false
	}
	a.RetryAt = now.Add(b.policy.delay(a.Attempts))
	return true
}

// Succeed forgets id.
func (b *attemptBook) Succeed(id domain.EntityID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, id)
}

// Waiting counts entries that are not eligible at now.
func (b *attemptBook) Waiting(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, a := range b.entries {
		if now.Before(a.RetryAt) {
			n++
		}
	}
	return n
}

// Snapshot returns the entries ordered by message id.
func (b *attemptBook) Snapshot() []Attempt {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Attempt, 0, len(b.entries))
	for _, a := range b.entries {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}
