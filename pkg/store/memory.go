package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sipeed/execclient/pkg/domain"
)

// ---------------------------------------------------------------------------
// Generic keyed table
// ---------------------------------------------------------------------------

// table is an insertion-ordered map guarded by a RWMutex. Items are stored
// and returned as copies via the clone function.
type table[K comparable, T any] struct {
	mu    sync.RWMutex
	items map[K]*T
	order []K
	clone func(*T) *T
}

func newTable[K comparable, T any](clone func(*T) *T) *table[K, T] {
	return &table[K, T]{items: make(map[K]*T), clone: clone}
}

// Get retrieves a copy of the item stored under key.
func (t *table[K, T]) Get(key K) (*T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[key]
	if !ok {
		return nil, false
	}
	return t.clone(item), true
}

// Insert stores item under key unless the key is taken.
func (t *table[K, T]) Insert(key K, item *T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[key]; ok {
		return false
	}
	t.items[key] = t.clone(item)
	t.order = append(t.order, key)
	return true
}

// Update applies fn to the stored item under the write lock. fn reports
// whether it changed anything.
func (t *table[K, T]) Update(key K, fn func(*T) bool) (*T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[key]
	if !ok {
		return nil, false
	}
	if !fn(item) {
		return t.clone(item), false
	}
	return t.clone(item), true
}

// Scan returns copies of matching items in insertion order, stopping at
// limit when limit is positive.
func (t *table[K, T]) Scan(match func(*T) bool, limit int) []*T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*T
	for _, k := range t.order {
		item := t.items[k]
		if !match(item) {
			continue
		}
		out = append(out, t.clone(item))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Count returns the number of stored items.
func (t *table[K, T]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

// MemoryStore keeps every record in process memory. Messages are returned in
// insertion order.
type MemoryStore struct {
	messages *table[domain.EntityID, domain.Message]
	states   *table[string, domain.ExecutionClientState]
	logs     *table[domain.EntityID, domain.PromptEnhancementLog]
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: newTable[domain.EntityID](func(m *domain.Message) *domain.Message { return m.Clone() }),
		states:   newTable[string](cloneState),
		logs:     newTable[domain.EntityID](cloneLog),
	}
}

func (s *MemoryStore) Connect(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) FindMessages(_ context.Context, filter MessageFilter, limit int) ([]*domain.Message, error) {
	chars := make(map[string]bool, len(filter.CharacterIDs))
	for _, id := range filter.CharacterIDs {
		chars[id] = true
	}
	return s.messages.Scan(func(m *domain.Message) bool {
		if filter.Answered != nil && m.Answered != *filter.Answered {
			return false
		}
		return len(chars) == 0 || chars[m.CharacterID]
	}, limit), nil
}

func (s *MemoryStore) FindMessage(_ context.Context, id domain.EntityID) (*domain.Message, error) {
	m, ok := s.messages.Get(id)
	if !ok {
		return nil, domain.ErrNotFound.With("message " + id.String())
	}
	return m, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, m *domain.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	c := m.Clone()
	c.Origin = domain.OriginStore
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if !s.messages.Insert(c.ID, c) {
		return domain.ErrInvalidMessage.With("duplicate id " + c.ID.String())
	}
	return nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, id domain.EntityID, patch MessagePatch) (bool, error) {
	if err := patch.validate(); err != nil {
		return false, err
	}
	_, changed := s.messages.Update(id, func(m *domain.Message) bool {
		if patch.OnlyUnanswered && m.Answered {
			return false
		}
		if patch.Response == nil && patch.Answered == nil && patch.AnsweredAt == nil {
			return false
		}
		if patch.Response != nil {
			r := *patch.Response
			m.Response = &r
		}
		if patch.Answered != nil {
			m.Answered = *patch.Answered
		}
		if patch.AnsweredAt != nil {
			ts := patch.AnsweredAt.UTC()
			m.AnsweredAt = &ts
		}
		return true
	})
	return changed, nil
}

func (s *MemoryStore) FindState(_ context.Context, scope string) (*domain.ExecutionClientState, error) {
	st, ok := s.states.Get(scope)
	if !ok {
		return nil, domain.ErrNotFound.With("execution client state " + scope)
	}
	return st, nil
}

func (s *MemoryStore) CreateState(_ context.Context, st *domain.ExecutionClientState) error {
	if !s.states.Insert(st.ScopeKey, st) {
		return fmt.Errorf("execution client state %s already exists", st.ScopeKey)
	}
	return nil
}

func (s *MemoryStore) UpdateState(_ context.Context, scope string, patch StatePatch) (*domain.ExecutionClientState, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}
	updated := patch.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	st, _ := s.states.Update(scope, func(st *domain.ExecutionClientState) bool {
		st.TotalProcessed += patch.Increment
		if patch.Active != nil {
			st.Active = *patch.Active
		}
		st.UpdatedAt = updated.UTC()
		return true
	})
	if st == nil {
		return nil, domain.ErrNotFound.With("execution client state " + scope)
	}
	return st, nil
}

func (s *MemoryStore) CreateEnhancementLog(_ context.Context, l *domain.PromptEnhancementLog) error {
	if l.ID.IsZero() {
		l.ID = domain.NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.logs.Insert(l.ID, l)
	return nil
}

func (s *MemoryStore) EnhancementLogs(_ context.Context, messageID domain.EntityID) ([]*domain.PromptEnhancementLog, error) {
	return s.logs.Scan(func(l *domain.PromptEnhancementLog) bool {
		return l.MessageID == messageID
	}, 0), nil
}

// MessageCount returns the number of stored messages.
func (s *MemoryStore) MessageCount() int { return s.messages.Count() }

func cloneState(st *domain.ExecutionClientState) *domain.ExecutionClientState {
	c := *st
	c.SupportedMessageTypes = append([]domain.MessageType(nil), st.SupportedMessageTypes...)
	return &c
}

func cloneLog(l *domain.PromptEnhancementLog) *domain.PromptEnhancementLog {
	c := *l
	c.Enhancers = append([]string(nil), l.Enhancers...)
	if l.Context != nil {
		c.Context = make(map[string]interface{}, len(l.Context))
		for k, v := range l.Context {
			c.Context[k] = v
		}
	}
	return &c
}
