package domain

import "fmt"

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

type DomainError string

func (e DomainError) Error() string { return string(e) }

// With wraps the sentinel with detail while keeping it matchable by errors.Is.
func (e DomainError) With(detail string) error {
	return fmt.Errorf("%w: %s", e, detail)
}

const (
	ErrNotFound          DomainError = "not found"
	ErrAlreadyAnswered   DomainError = "message already answered"
	ErrInvalidMessage    DomainError = "invalid message"
	ErrPluginClosed      DomainError = "plugin has been cleaned up"
	ErrPluginInitialized DomainError = "plugin already initialized"
	ErrPluginNotReady    DomainError = "plugin not initialized"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// RegistrationError reports a plugin that could not be registered: an id
// collision or a failed initialize hook.
type RegistrationError struct {
	PluginID     string
	CapabilityID string
	Err          error
}

func (e *RegistrationError) Error() string {
	if e.CapabilityID != "" {
		return fmt.Sprintf("register plugin %s: capability %s: %v", e.PluginID, e.CapabilityID, e.Err)
	}
	return fmt.Sprintf("register plugin %s: %v", e.PluginID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// SourceFetchError reports a failed read from one message backend.
type SourceFetchError struct {
	Source MessageOrigin
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch from %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// CapabilityError reports a capability hook that failed during a pipeline
// stage.
type CapabilityError struct {
	CapabilityID string
	Kind         string
	Err          error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.CapabilityID, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// CommitError reports a failed response write-back. Retryable is false when
// the backend rejected the write for good, e.g. the message was answered by
// someone else.
type CommitError struct {
	MessageID EntityID
	Source    MessageOrigin
	Retryable bool
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s message %s: %v", e.Source, e.MessageID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// GenerationError reports a completion provider failure.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate with %s: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
