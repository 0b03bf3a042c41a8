package source

import (
	"context"
	"errors"

	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/store"
)

func (a *Adapter) fetchStore(ctx context.Context, limit int) ([]*domain.Message, error) {
	msgs, err := a.store.FindMessages(ctx, store.Unanswered(), limit)
	if err != nil {
		return nil, &domain.SourceFetchError{Source: domain.OriginStore, Err: err}
	}
	for _, m := range msgs {
		m.Origin = domain.OriginStore
	}
	return msgs, nil
}

// commitStore answers a stored message. Committing a message that is
// already answered succeeds without touching the stored response.
func (a *Adapter) commitStore(ctx context.Context, m *domain.Message, response string) error {
	fail := func(err error, retryable bool) error {
		return &domain.CommitError{MessageID: m.ID, Source: domain.OriginStore, Retryable: retryable, Err: err}
	}

	changed, err := a.store.UpdateMessage(ctx, m.ID, store.AnswerPatch(response, a.now()))
	if err != nil {
		return fail(err, true)
	}
	if changed {
		return nil
	}

	current, err := a.store.FindMessage(ctx, m.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fail(err, false)
	case err != nil:
		return fail(err, true)
	case current.Answered:
		a.log.Debug("Message already answered, commit skipped", map[string]interface{}{
			"message_id": m.ID.String(),
		})
		return nil
	default:
		return fail(errors.New("update matched no unanswered row"), true)
	}
}
