package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/domain"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	sqlite := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "test.db"))
	require.NoError(t, sqlite.Connect(ctx))
	t.Cleanup(func() { sqlite.Close() })

	mem := NewMemoryStore()
	require.NoError(t, mem.Connect(ctx))
	return map[string]Store{"sqlite": sqlite, "memory": mem}
}

func newMessage(character, content string, created time.Time) *domain.Message {
	return &domain.Message{
		ID:          domain.NewID(),
		CharacterID: character,
		SenderID:    "sender-1",
		Content:     content,
		CreatedAt:   created,
	}
}

func TestFindMessagesFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			first := newMessage("char-a", "first", base)
			second := newMessage("char-b", "second", base.Add(time.Minute))
			third := newMessage("char-a", "third", base.Add(2*time.Minute))
			resp := "done"
			answered := newMessage("char-a", "old", base.Add(-time.Hour))
			answered.Answered = true
			answered.Response = &resp

			for _, m := range []*domain.Message{third, first, answered, second} {
				require.NoError(t, s.CreateMessage(ctx, m))
			}

			got, err := s.FindMessages(ctx, Unanswered(), 0)
			require.NoError(t, err)
			require.Len(t, got, 3)
			if name == "sqlite" {
				assert.Equal(t, []string{"first", "second", "third"}, contents(got))
			} else {
				assert.Equal(t, []string{"third", "first", "second"}, contents(got))
			}

			got, err = s.FindMessages(ctx, Unanswered("char-a"), 0)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"first", "third"}, contents(got))

			got, err = s.FindMessages(ctx, Unanswered(), 2)
			require.NoError(t, err)
			assert.Len(t, got, 2)

			got, err = s.FindMessages(ctx, MessageFilter{}, 0)
			require.NoError(t, err)
			assert.Len(t, got, 4)

			for _, m := range got {
				assert.Equal(t, domain.OriginStore, m.Origin)
			}
		})
	}
}

func contents(msgs []*domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestCreateMessageRejectsInvalid(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newMessage("char", "x", time.Now())
			m.Answered = true
			err := s.CreateMessage(context.Background(), m)
			assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		})
	}
}

func TestAnswerIsConditional(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newMessage("char", "hello", time.Now())
			require.NoError(t, s.CreateMessage(ctx, m))

			at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			changed, err := s.UpdateMessage(ctx, m.ID, AnswerPatch("Hi", at))
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = s.UpdateMessage(ctx, m.ID, AnswerPatch("second", at.Add(time.Hour)))
			require.NoError(t, err)
			assert.False(t, changed)

			stored, err := s.FindMessage(ctx, m.ID)
			require.NoError(t, err)
			assert.True(t, stored.Answered)
			assert.Equal(t, "Hi", stored.ResponseText())
			require.NotNil(t, stored.AnsweredAt)
			assert.True(t, at.Equal(*stored.AnsweredAt))

			changed, err = s.UpdateMessage(ctx, domain.NewID(), AnswerPatch("x", at))
			require.NoError(t, err)
			assert.False(t, changed)
		})
	}
}

func TestAnsweredPatchRequiresResponse(t *testing.T) {
	answered := true
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateMessage(context.Background(), domain.NewID(), MessagePatch{Answered: &answered})
			assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		})
	}
}

func TestFindMessageNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.FindMessage(context.Background(), "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestStateLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.FindState(ctx, "scope")
			require.ErrorIs(t, err, domain.ErrNotFound)

			_, err = s.UpdateState(ctx, "scope", StatePatch{Increment: 1})
			require.ErrorIs(t, err, domain.ErrNotFound)

			require.NoError(t, s.CreateState(ctx, domain.NewExecutionClientState("scope")))
			assert.Error(t, s.CreateState(ctx, domain.NewExecutionClientState("scope")))

			at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
			st, err := s.UpdateState(ctx, "scope", StatePatch{Increment: 1, UpdatedAt: at})
			require.NoError(t, err)
			assert.Equal(t, int64(1), st.TotalProcessed)
			assert.True(t, at.Equal(st.UpdatedAt))

			inactive := false
			st, err = s.UpdateState(ctx, "scope", StatePatch{Increment: 2, Active: &inactive})
			require.NoError(t, err)
			assert.Equal(t, int64(3), st.TotalProcessed)
			assert.False(t, st.Active)

			_, err = s.UpdateState(ctx, "scope", StatePatch{Increment: -1})
			assert.Error(t, err)

			st, err = s.FindState(ctx, "scope")
			require.NoError(t, err)
			assert.Equal(t, int64(3), st.TotalProcessed)
			assert.Equal(t, []domain.MessageType{domain.MessageTypeChat}, st.SupportedMessageTypes)
		})
	}
}

func TestEnhancementLogs(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			msgID := domain.NewID()
			log := &domain.PromptEnhancementLog{
				MessageID: msgID,
				Original:  "Hello",
				Enhanced:  "Hello\n\nContext:",
				Enhancers: []string{"context-injector"},
				Context:   map[string]interface{}{"topic-context": "weather"},
			}
			require.NoError(t, s.CreateEnhancementLog(ctx, log))
			assert.False(t, log.ID.IsZero())
			require.NoError(t, s.CreateEnhancementLog(ctx, &domain.PromptEnhancementLog{MessageID: domain.NewID(), Original: "o", Enhanced: "o"}))

			logs, err := s.EnhancementLogs(ctx, msgID)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, "Hello", logs[0].Original)
			assert.Equal(t, []string{"context-injector"}, logs[0].Enhancers)
			assert.Equal(t, "weather", logs[0].Context["topic-context"])
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	m := newMessage("char", "hello", time.Now())
	require.NoError(t, s.CreateMessage(ctx, m))

	got, err := s.FindMessage(ctx, m.ID)
	require.NoError(t, err)
	got.Content = "mutated"

	again, err := s.FindMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Content)
	assert.Equal(t, 1, s.MessageCount())
}

func TestSQLiteStoreRequiresConnect(t *testing.T) {
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"))
	_, err := s.FindMessages(context.Background(), MessageFilter{}, 0)
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}

func TestSQLiteStoreReconnectKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "x.db")
	s := NewSQLiteStore(path)
	require.NoError(t, s.Connect(ctx))
	m := newMessage("char", "persisted", time.Now())
	require.NoError(t, s.CreateMessage(ctx, m))
	require.NoError(t, s.Close())

	require.NoError(t, s.Connect(ctx))
	defer s.Close()
	got, err := s.FindMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Content)
}

func TestNewSelectsDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "memory"
	s, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "a.db")
	s, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)

	cfg.Database.Driver = "postgres"
	_, err = New(cfg)
	assert.Error(t, err)
}
