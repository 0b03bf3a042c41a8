package domain

// ---------------------------------------------------------------------------
// Shared value objects
// ---------------------------------------------------------------------------

// MessageOrigin identifies which backend a message was read from, and
// therefore which backend its response must be committed to.
type MessageOrigin string

const (
	OriginLedger MessageOrigin = "ledger"
	OriginStore  MessageOrigin = "store"
)

func (o MessageOrigin) String() string { return string(o) }

// ---------------------------------------------------------------------------

// ProviderType represents the kind of completion backend.
type ProviderType string

const (
	ProviderOpenAI           ProviderType = "openai"
	ProviderOpenAICompletion ProviderType = "openai-completion"
	ProviderAnthropic        ProviderType = "anthropic"
	ProviderMoonshot         ProviderType = "moonshot"
	ProviderHyperbolic       ProviderType = "hyperbolic"
)

func (pt ProviderType) String() string { return string(pt) }

// AllProviderTypes returns all known provider selectors.
func AllProviderTypes() []ProviderType {
	return []ProviderType{
		ProviderOpenAI, ProviderOpenAICompletion, ProviderAnthropic,
		ProviderMoonshot, ProviderHyperbolic,
	}
}

// Valid returns true if the provider type is recognized.
func (pt ProviderType) Valid() bool {
	for _, t := range AllProviderTypes() {
		if t == pt {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------

// MessageType tags the kinds of requests an execution client accepts.
type MessageType string

const (
	MessageTypeChat MessageType = "chat"
)

// ---------------------------------------------------------------------------

// Metadata is a generic key-value map for extensible properties.
type Metadata map[string]string

// Get returns a metadata value, or empty string if not present.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Set writes a metadata key-value pair. Initializes the map if nil.
func (m *Metadata) Set(key, value string) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}
