// Package store is the keyed record store behind the execution client:
// messages, execution client state and prompt enhancement logs. Two
// implementations exist, sqlite for deployments and memory for tests and
// ephemeral runs.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/domain"
)

// MessageFilter selects messages. Zero fields do not constrain the result.
type MessageFilter struct {
	CharacterIDs []string
	Answered     *bool
}

// Unanswered is the filter the polling loop uses.
func Unanswered(characterIDs ...string) MessageFilter {
	f := false
	return MessageFilter{CharacterIDs: characterIDs, Answered: &f}
}

// MessagePatch is a partial message update. Setting Answered to true requires
// a Response so the answered/response invariant holds.
type MessagePatch struct {
	Response   *string
	Answered   *bool
	AnsweredAt *time.Time

	// OnlyUnanswered makes the update apply only while the stored message
	// is still unanswered.
	OnlyUnanswered bool
}

// AnswerPatch returns the patch that commits response at time at.
func AnswerPatch(response string, at time.Time) MessagePatch {
	answered := true
	ts := at.UTC()
	return MessagePatch{Response: &response, Answered: &answered, AnsweredAt: &ts, OnlyUnanswered: true}
}

func (p MessagePatch) validate() error {
	if p.Answered != nil && *p.Answered && p.Response == nil {
		return domain.ErrInvalidMessage.With("answered patch without response")
	}
	return nil
}

// StatePatch is a partial execution client state update. Increment adds to
// TotalProcessed and may not be negative.
type StatePatch struct {
	Increment int64
	Active    *bool
	UpdatedAt time.Time
}

func (p StatePatch) validate() error {
	if p.Increment < 0 {
		return fmt.Errorf("total processed cannot decrease (increment %d)", p.Increment)
	}
	return nil
}

// Store is the keyed record store.
type Store interface {
	// Connect opens the backing storage. It must be called before any other
	// method and is safe to call again after Close.
	Connect(ctx context.Context) error
	Close() error

	FindMessages(ctx context.Context, filter MessageFilter, limit int) ([]*domain.Message, error)
	FindMessage(ctx context.Context, id domain.EntityID) (*domain.Message, error)
	CreateMessage(ctx context.Context, m *domain.Message) error
	// UpdateMessage applies patch and reports whether a message was changed.
	// It returns false, nil when the message is missing or OnlyUnanswered
	// did not hold.
	UpdateMessage(ctx context.Context, id domain.EntityID, patch MessagePatch) (bool, error)

	FindState(ctx context.Context, scope string) (*domain.ExecutionClientState, error)
	CreateState(ctx context.Context, s *domain.ExecutionClientState) error
	UpdateState(ctx context.Context, scope string, patch StatePatch) (*domain.ExecutionClientState, error)

	CreateEnhancementLog(ctx context.Context, log *domain.PromptEnhancementLog) error
	EnhancementLogs(ctx context.Context, messageID domain.EntityID) ([]*domain.PromptEnhancementLog, error)
}

// New builds the store selected by cfg.Database.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.DatabasePath()), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
