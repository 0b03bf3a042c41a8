// Package source retrieves unanswered messages and writes responses back.
// The ledger is the primary backend and the keyed store is the fallback.
package source

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/ledger"
	"github.com/sipeed/execclient/pkg/logger"
	"github.com/sipeed/execclient/pkg/store"
)

// Source is what the polling loop needs from message backends.
type Source interface {
	// FetchUnanswered returns a lazy, single-use sequence of unanswered
	// messages. Backend failures never surface here; an outage yields an
	// empty sequence.
	FetchUnanswered(ctx context.Context, limit int) iter.Seq[*domain.Message]
	// CommitResponse marks m answered with response and returns the ledger
	// transaction id, or "" for store commits. Failures are *domain.CommitError.
	CommitResponse(ctx context.Context, m *domain.Message, response string) (string, error)
}

// Adapter implements Source over an optional ledger client and a store.
type Adapter struct {
	ledger *ledger.Client
	store  store.Store
	now    func() time.Time
	log    *logger.ComponentLogger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock overrides the time source used for answered timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New returns an adapter. A nil ledger client disables the ledger path and
// every fetch goes straight to the store.
func New(ledgerClient *ledger.Client, st store.Store, opts ...Option) *Adapter {
	a := &Adapter{
		ledger: ledgerClient,
		store:  st,
		now:    time.Now,
		log:    logger.Component("source"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LedgerEnabled reports whether the ledger path is configured.
func (a *Adapter) LedgerEnabled() bool { return a.ledger != nil }

func (a *Adapter) FetchUnanswered(ctx context.Context, limit int) iter.Seq[*domain.Message] {
	var used atomic.Bool
	return func(yield func(*domain.Message) bool) {
		if used.Swap(true) {
			return
		}
		for _, m := range a.fetch(ctx, limit) {
			if !yield(m) {
				return
			}
		}
	}
}

func (a *Adapter) fetch(ctx context.Context, limit int) []*domain.Message {
	if a.ledger != nil {
		msgs, err := a.fetchLedger(ctx, limit)
		if err == nil {
			return msgs
		}
		a.log.Warn("Ledger fetch failed, falling back to store", map[string]interface{}{
			"error": err.Error(),
		})
	}

	msgs, err := a.fetchStore(ctx, limit)
	if err != nil {
		a.log.Error("Store fetch failed, skipping this tick", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return msgs
}

func (a *Adapter) CommitResponse(ctx context.Context, m *domain.Message, response string) (string, error) {
	switch m.Origin {
	case domain.OriginLedger:
		return a.commitLedger(ctx, m, response)
	case domain.OriginStore:
		return "", a.commitStore(ctx, m, response)
	default:
		return "", &domain.CommitError{
			MessageID: m.ID,
			Source:    m.Origin,
			Err:       domain.ErrInvalidMessage.With("unknown origin " + string(m.Origin)),
		}
	}
}

// IsRetryable reports whether a commit failure may succeed on a later tick.
func IsRetryable(err error) bool {
	var ce *domain.CommitError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return err != nil
}
