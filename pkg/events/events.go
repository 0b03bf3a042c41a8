// Package events defines the typed event contracts emitted by the execution
// client. Every event flowing through the bus and out to WebSocket clients
// uses one of these types.
package events

import "time"

// --- Event Envelope ---

// Event is the universal envelope for all system events.
type Event struct {
	// Type identifies the event (e.g., "tick.started", "message.processed")
	Type string `json:"type"`

	// Source identifies who emitted the event
	Source string `json:"source"`

	// Timestamp is when the event was emitted
	Timestamp time.Time `json:"timestamp"`

	// Data is the typed payload
	Data interface{} `json:"data"`
}

// New creates a timestamped event.
func New(eventType, source string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// --- Event Type Constants ---

const (
	// Polling loop
	TickStarted   = "tick.started"
	TickCompleted = "tick.completed"

	// Per-message pipeline
	MessageReceived     = "message.received"
	MessageProcessed    = "message.processed"
	MessageCommitFailed = "message.commit_failed"

	// Plugin registry
	PluginRegistered   = "plugin.registered"
	PluginUnregistered = "plugin.unregistered"

	// Service lifecycle
	ServiceState = "service.state"
)

// --- Typed Payloads ---

// TickEventData is the payload for tick events.
type TickEventData struct {
	Tick       int64  `json:"tick"`
	Messages   int    `json:"messages"`
	Committed  int    `json:"committed,omitempty"`
	Failed     int    `json:"failed,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Source     string `json:"source,omitempty"`
}

// MessageEventData is the payload for per-message pipeline events.
type MessageEventData struct {
	MessageID   string `json:"message_id"`
	CharacterID string `json:"character_id,omitempty"`
	Origin      string `json:"origin"`
	Preview     string `json:"preview,omitempty"` // truncated response
	Fallback    bool   `json:"fallback,omitempty"`
	TxID        string `json:"tx_id,omitempty"`
	Error       string `json:"error,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
}

// PluginEventData is the payload for registry events.
type PluginEventData struct {
	PluginID     string   `json:"plugin_id"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ServiceEventData is the payload for service state transitions.
type ServiceEventData struct {
	From string `json:"from"`
	To   string `json:"to"`
}
