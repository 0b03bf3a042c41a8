package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sipeed/execclient/pkg/capability"
	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/events"
	"github.com/sipeed/execclient/pkg/source"
	"github.com/sipeed/execclient/pkg/store"
)

// TickResult summarizes one tick.
type TickResult struct {
	Tick           int64                `json:"tick"`
	StartedAt      time.Time            `json:"started_at"`
	Duration       time.Duration        `json:"duration"`
	Messages       int                  `json:"messages"`
	Committed      int                  `json:"committed"`
	Failed         int                  `json:"failed"`
	Skipped        int                  `json:"skipped"`
	Fallbacks      int                  `json:"fallbacks"`
	Source         domain.MessageOrigin `json:"source,omitempty"`
	TotalProcessed int64                `json:"total_processed,omitempty"`
	Outcomes       []MessageOutcome     `json:"outcomes,omitempty"`
}

// MessageOutcome is what happened to one message within a tick.
type MessageOutcome struct {
	MessageID        domain.EntityID      `json:"message_id"`
	Origin           domain.MessageOrigin `json:"origin"`
	Prompt           string               `json:"-"`
	Response         string               `json:"response"`
	Fallback         bool                 `json:"fallback"`
	Committed        bool                 `json:"committed"`
	TxID             string               `json:"tx_id,omitempty"`
	CapabilityErrors int                  `json:"capability_errors,omitempty"`
	Err              error                `json:"-"`
	Error            string               `json:"error,omitempty"`
	WillRetry        bool                 `json:"will_retry,omitempty"`
}

// Tick runs one polling cycle: fetch unanswered messages and process them
// one after another. A tick with no messages has no side effects. Otherwise
// the identity state's processed counter grows by one per tick, however many
// messages the tick handled. Ticks never overlap.
func (s *ExecutionClientService) Tick(ctx context.Context) (TickResult, error) {
	if !s.isInitialized() {
		return TickResult{}, ErrNotInitialized
	}
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	n := s.ticks.Add(1)
	wall := time.Now()
	res := TickResult{Tick: n, StartedAt: s.now().UTC()}

	ctx, span := s.tracer.Start(ctx, "execclient.tick", trace.WithAttributes(attribute.Int64("tick", n)))
	defer span.End()
	s.bus.Publish(events.TickStarted, eventSource, events.TickEventData{Tick: n})

	// Messages waiting out a retry backoff still come back from the source,
	// so ask for enough to fill the batch around them.
	waiting := s.attempts.Waiting(res.StartedAt)
	for m := range s.source.FetchUnanswered(ctx, s.cfg.Limit+waiting) {
		if res.Messages >= s.cfg.Limit {
			break
		}
		if !s.attempts.Eligible(m.ID, res.StartedAt) {
			res.Skipped++
			continue
		}
		res.Messages++
		if res.Source == "" {
			res.Source = m.Origin
		}
		out := s.processMessage(ctx, m)
		if out.Committed {
			res.Committed++
		} else {
			res.Failed++
		}
		if out.Fallback {
			res.Fallbacks++
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	var err error
	if res.Messages > 0 {
		st, uerr := s.store.UpdateState(ctx, s.cfg.ScopeKey, store.StatePatch{Increment: 1, UpdatedAt: s.now()})
		if uerr != nil {
			err = uerr
			span.RecordError(uerr)
			span.SetStatus(codes.Error, "update execution client state")
			s.log.Error("Failed to record tick", map[string]interface{}{
				"tick":  n,
				"error": uerr.Error(),
			})
		} else {
			res.TotalProcessed = st.TotalProcessed
		}
	}
	res.Duration = time.Since(wall)
	span.SetAttributes(
		attribute.Int("messages", res.Messages),
		attribute.Int("committed", res.Committed),
		attribute.Int("failed", res.Failed),
	)

	s.lastTick.Store(&res)
	s.bus.Publish(events.TickCompleted, eventSource, events.TickEventData{
		Tick:       n,
		Messages:   res.Messages,
		Committed:  res.Committed,
		Failed:     res.Failed,
		DurationMS: res.Duration.Milliseconds(),
		Source:     string(res.Source),
	})
	if res.Messages > 0 {
		s.log.Info("Tick completed", map[string]interface{}{
			"tick":        n,
			"messages":    res.Messages,
			"committed":   res.Committed,
			"failed":      res.Failed,
			"skipped":     res.Skipped,
			"source":      string(res.Source),
			"duration_ms": res.Duration.Milliseconds(),
		})
	} else {
		s.log.Debug("Tick found no messages", map[string]interface{}{"tick": n, "skipped": res.Skipped})
	}
	return res, err
}

// processMessage runs the pipeline for one message. Every failure is
// contained here: the outcome reports it and the tick moves on.
func (s *ExecutionClientService) processMessage(ctx context.Context, m *domain.Message) MessageOutcome {
	ctx, span := s.tracer.Start(ctx, "execclient.process_message", trace.WithAttributes(
		attribute.String("message.id", m.ID.String()),
		attribute.String("message.origin", m.Origin.String()),
	))
	defer span.End()

	out := MessageOutcome{MessageID: m.ID, Origin: m.Origin}
	in := capability.Input{MessageID: m.ID, CharacterID: m.CharacterID, Origin: m.Origin}

	collected, failed := collectContext(ctx, s.registry.LookupByKind(capability.KindContextCollector), s.cfg.Topics, in)
	s.logCapabilityErrors(m, failed)
	out.CapabilityErrors += len(failed)
	in.Context = collected

	prompt, enhanced := Fold(ctx, m.Content, enhanceStages(s.registry.LookupByKind(capability.KindPromptEnhancer), in))
	s.logCapabilityErrors(m, enhanced.Failed)
	out.CapabilityErrors += len(enhanced.Failed)
	out.Prompt = prompt
	if len(enhanced.Applied) > 0 {
		s.recordEnhancement(ctx, m, prompt, enhanced.Applied, collected)
	}

	completion, fallback := s.generate(ctx, prompt)
	out.Fallback = fallback

	response, processed := Fold(ctx, completion, processStages(s.registry.LookupByKind(capability.KindResponseProcessor), in))
	s.logCapabilityErrors(m, processed.Failed)
	out.CapabilityErrors += len(processed.Failed)
	out.Response = response

	txID, err := s.source.CommitResponse(ctx, m, response)
	if err != nil {
		retryable := source.IsRetryable(err)
		out.Err = err
		out.Error = err.Error()
		out.WillRetry = s.attempts.Fail(m.ID, err, retryable, s.now())
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		s.log.Error("Commit failed", map[string]interface{}{
			"message_id": m.ID.String(),
			"origin":     string(m.Origin),
			"retryable":  retryable,
			"will_retry": out.WillRetry,
			"error":      err.Error(),
		})
		s.bus.Publish(events.MessageCommitFailed, eventSource, events.MessageEventData{
			MessageID:   m.ID.String(),
			CharacterID: m.CharacterID,
			Origin:      string(m.Origin),
			Fallback:    fallback,
			Error:       err.Error(),
			Retryable:   out.WillRetry,
		})
		return out
	}

	s.attempts.Succeed(m.ID)
	out.Committed = true
	out.TxID = txID
	s.log.Info("Message answered", map[string]interface{}{
		"message_id": m.ID.String(),
		"origin":     string(m.Origin),
		"fallback":   fallback,
		"tx_id":      txID,
	})
	s.bus.Publish(events.MessageProcessed, eventSource, events.MessageEventData{
		MessageID:   m.ID.String(),
		CharacterID: m.CharacterID,
		Origin:      string(m.Origin),
		Preview:     preview(response, 80),
		Fallback:    fallback,
		TxID:        txID,
	})
	return out
}

// generate asks the provider for a completion and substitutes
// FallbackResponse when it fails.
func (s *ExecutionClientService) generate(ctx context.Context, prompt string) (string, bool) {
	text, err := s.provider.Generate(ctx, prompt)
	if err == nil {
		return text, false
	}
	gerr := &domain.GenerationError{Provider: s.provider.Name(), Err: err}
	trace.SpanFromContext(ctx).RecordError(gerr)
	s.log.Warn("Completion failed, using fallback response", map[string]interface{}{
		"provider": s.provider.Name(),
		"error":    gerr.Error(),
	})
	return FallbackResponse, true
}

func (s *ExecutionClientService) recordEnhancement(ctx context.Context, m *domain.Message, enhanced string, applied []string, collected map[string]interface{}) {
	entry := &domain.PromptEnhancementLog{
		ID:        domain.NewID(),
		MessageID: m.ID,
		Original:  m.Content,
		Enhanced:  enhanced,
		Enhancers: applied,
		Context:   collected,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateEnhancementLog(ctx, entry); err != nil {
		s.log.Warn("Failed to write enhancement log", map[string]interface{}{
			"message_id": m.ID.String(),
			"error":      err.Error(),
		})
	}
}

func (s *ExecutionClientService) logCapabilityErrors(m *domain.Message, errs []error) {
	for _, err := range errs {
		s.log.Warn("Capability failed, continuing", map[string]interface{}{
			"message_id": m.ID.String(),
			"error":      err.Error(),
		})
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
