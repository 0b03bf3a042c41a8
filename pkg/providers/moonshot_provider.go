package providers

// MoonshotProvider is a provider for Moonshot AI API
// (Chinese LLM provider: https://www.moonshot.cn/)
// Moonshot uses OpenAI-compatible API format
type MoonshotProvider struct {
	*OpenAIChatProvider
}

// NewMoonshotProvider creates a new Moonshot provider
func NewMoonshotProvider(apiKey string, settings Settings) *MoonshotProvider {
	return NewMoonshotProviderWithBase(apiKey, moonshotAPIBase, settings)
}

// NewMoonshotProviderWithBase creates a new Moonshot provider with custom API base
func NewMoonshotProviderWithBase(apiKey, apiBase string, settings Settings) *MoonshotProvider {
	chat := NewOpenAIChatProvider(apiKey, apiBase, settings)
	chat.name = "moonshot"
	chat.defaultModel = "moonshot-v1-32k"
	return &MoonshotProvider{OpenAIChatProvider: chat}
}

// Ensure MoonshotProvider implements CompletionProvider interface
var _ CompletionProvider = (*MoonshotProvider)(nil)
