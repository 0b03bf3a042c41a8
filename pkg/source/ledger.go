package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/ledger"
)

// fetchLedger walks the characters assigned to this execution client and
// collects their unanswered messages. The ledger has no message timestamps,
// so the result keeps whatever order the RPC node returned.
func (a *Adapter) fetchLedger(ctx context.Context, limit int) ([]*domain.Message, error) {
	chars, err := a.ledger.Characters(ctx)
	if err != nil {
		return nil, &domain.SourceFetchError{Source: domain.OriginLedger, Err: err}
	}

	var out []*domain.Message
	for _, ch := range chars {
		msgs, err := a.ledger.Messages(ctx, ch.Address)
		if err != nil {
			return nil, &domain.SourceFetchError{Source: domain.OriginLedger, Err: err}
		}
		for _, lm := range msgs {
			if lm.IsAnswered {
				continue
			}
			out = append(out, fromLedger(lm))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func fromLedger(lm ledger.Message) *domain.Message {
	m := &domain.Message{
		ID:          domain.EntityID(lm.Address.String()),
		CharacterID: lm.Character.String(),
		SenderID:    lm.Sender.String(),
		Content:     lm.Content,
		Answered:    lm.IsAnswered,
		Origin:      domain.OriginLedger,
	}
	if lm.Response != nil {
		r := *lm.Response
		m.Response = &r
	}
	return m
}

func (a *Adapter) commitLedger(ctx context.Context, m *domain.Message, response string) (string, error) {
	fail := func(err error, retryable bool) (string, error) {
		return "", &domain.CommitError{MessageID: m.ID, Source: domain.OriginLedger, Retryable: retryable, Err: err}
	}
	if a.ledger == nil {
		return fail(errors.New("ledger is not configured"), false)
	}
	msgAddr, err := solana.PublicKeyFromBase58(m.ID.String())
	if err != nil {
		return fail(fmt.Errorf("message address: %w", err), false)
	}
	charAddr, err := solana.PublicKeyFromBase58(m.CharacterID)
	if err != nil {
		return fail(fmt.Errorf("character address: %w", err), false)
	}

	sig, err := a.ledger.AnswerMessage(ctx, charAddr, msgAddr, response)
	if err != nil {
		return fail(err, !errors.Is(err, domain.ErrAlreadyAnswered))
	}
	return sig, nil
}
