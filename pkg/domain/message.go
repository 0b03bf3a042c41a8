package domain

import "time"

// ---------------------------------------------------------------------------
// Message entity
// ---------------------------------------------------------------------------

// Message is a request from a sender to an AI character. It is created
// outside the execution client and mutated exactly once, when a response is
// committed.
type Message struct {
	ID          EntityID      `json:"id"`
	CharacterID string        `json:"character_id"`
	SenderID    string        `json:"sender_id"`
	Content     string        `json:"content"`
	Response    *string       `json:"response,omitempty"`
	Answered    bool          `json:"answered"`
	CreatedAt   time.Time     `json:"created_at"`
	AnsweredAt  *time.Time    `json:"answered_at,omitempty"`
	Origin      MessageOrigin `json:"origin"`
}

// Validate checks the answered/response invariant and required fields.
func (m *Message) Validate() error {
	if m.ID.IsZero() {
		return ErrInvalidMessage.With("missing id")
	}
	if m.CharacterID == "" {
		return ErrInvalidMessage.With("missing character id")
	}
	if m.Answered && m.Response == nil {
		return ErrInvalidMessage.With("answered message has no response")
	}
	return nil
}

// ResponseText returns the response or an empty string.
func (m *Message) ResponseText() string {
	if m.Response == nil {
		return ""
	}
	return *m.Response
}

// Clone returns a deep copy so callers can hand messages across goroutines
// without sharing the response pointer.
func (m *Message) Clone() *Message {
	c := *m
	if m.Response != nil {
		r := *m.Response
		c.Response = &r
	}
	if m.AnsweredAt != nil {
		ts := *m.AnsweredAt
		c.AnsweredAt = &ts
	}
	return &c
}

// ---------------------------------------------------------------------------
// Execution client identity state
// ---------------------------------------------------------------------------

// ExecutionClientState holds the persistent counters for one execution
// client within an application scope.
type ExecutionClientState struct {
	ScopeKey              string        `json:"scope_key"`
	TotalProcessed        int64         `json:"total_processed"`
	Active                bool          `json:"active"`
	SupportedMessageTypes []MessageType `json:"supported_message_types"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// NewExecutionClientState returns a zero-counter active state for scope.
func NewExecutionClientState(scope string) *ExecutionClientState {
	return &ExecutionClientState{
		ScopeKey:              scope,
		Active:                true,
		SupportedMessageTypes: []MessageType{MessageTypeChat},
		UpdatedAt:             time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// Prompt enhancement audit record
// ---------------------------------------------------------------------------

// PromptEnhancementLog is a write-only record of how a prompt was rewritten
// before generation.
type PromptEnhancementLog struct {
	ID        EntityID               `json:"id"`
	MessageID EntityID               `json:"message_id"`
	Original  string                 `json:"original"`
	Enhanced  string                 `json:"enhanced"`
	Enhancers []string               `json:"enhancers"`
	Context   map[string]interface{} `json:"context,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Character profile
// ---------------------------------------------------------------------------

// CharacterProfile is the ledger view of the character a message addresses.
type CharacterProfile struct {
	Address         string `json:"address"`
	Name            string `json:"name"`
	Owner           string `json:"owner"`
	App             string `json:"app"`
	ExecutionClient string `json:"execution_client"`
}
