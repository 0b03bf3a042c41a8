// Package providers adapts completion backends to a single
// prompt-in, text-out call.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/domain"
)

// CompletionProvider generates a completion for a prompt.
type CompletionProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
	GetDefaultModel() string
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

type ProviderError string

func (e ProviderError) Error() string { return string(e) }

const (
	ErrEmptyCompletion ProviderError = "provider returned no completion"
	ErrMissingAPIKey   ProviderError = "api key is required"
)

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// Settings are the per-request sampling settings shared by every provider.
// Zero values are left to the backend's defaults.
type Settings struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	SystemPrompt     string
	Timeout          time.Duration
	MaxRetries       int
}

// SettingsFrom copies the sampling settings out of cfg.
func SettingsFrom(cfg config.CompletionConfig) Settings {
	return Settings{
		Model:            cfg.Model,
		MaxTokens:        cfg.MaxTokens,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		PresencePenalty:  cfg.PresencePenalty,
		FrequencyPenalty: cfg.FrequencyPenalty,
		SystemPrompt:     cfg.SystemPrompt,
		Timeout:          cfg.Timeout,
		MaxRetries:       2,
	}
}

func (s Settings) model(fallback string) string {
	if s.Model != "" {
		return s.Model
	}
	return fallback
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

const (
	hyperbolicAPIBase = "https://api.hyperbolic.xyz/v1"
	moonshotAPIBase   = "https://api.moonshot.cn/v1"
)

// CreateProvider builds the provider selected by cfg.Provider.
func CreateProvider(cfg config.CompletionConfig) (CompletionProvider, error) {
	settings := SettingsFrom(cfg)
	switch domain.ProviderType(cfg.Provider) {
	case domain.ProviderOpenAI:
		return NewOpenAIChatProvider(cfg.APIKey, cfg.APIBase, settings), nil
	case domain.ProviderOpenAICompletion:
		return NewOpenAICompletionProvider(cfg.APIKey, cfg.APIBase, settings), nil
	case domain.ProviderHyperbolic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("hyperbolic: %w", ErrMissingAPIKey)
		}
		base := cfg.APIBase
		if base == "" {
			base = hyperbolicAPIBase
		}
		p := NewOpenAICompletionProvider(cfg.APIKey, base, settings)
		p.name = string(domain.ProviderHyperbolic)
		p.defaultModel = "meta-llama/Meta-Llama-3.1-405B"
		return p, nil
	case domain.ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.APIBase, settings), nil
	case domain.ProviderMoonshot:
		if cfg.APIBase != "" {
			return NewMoonshotProviderWithBase(cfg.APIKey, cfg.APIBase, settings), nil
		}
		return NewMoonshotProvider(cfg.APIKey, settings), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}
