package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider uses the Anthropic messages API. Penalties are not
// supported there and are ignored.
type AnthropicProvider struct {
	client   anthropic.Client
	settings Settings
}

func NewAnthropicProvider(apiKey, apiBase string, settings Settings) *AnthropicProvider {
	opts := []option.RequestOption{option.WithMaxRetries(settings.MaxRetries)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	if settings.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(settings.Timeout))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), settings: settings}
}

func (p *AnthropicProvider) Name() string            { return "anthropic" }
func (p *AnthropicProvider) GetDefaultModel() string { return "claude-3-5-haiku-latest" }

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	maxTokens := int64(p.settings.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.settings.model(p.GetDefaultModel())),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	}
	if p.settings.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.settings.SystemPrompt}}
	}
	if p.settings.Temperature > 0 {
		params.Temperature = anthropic.Float(p.settings.Temperature)
	}
	if p.settings.TopP > 0 && p.settings.TopP < 1 {
		params.TopP = anthropic.Float(p.settings.TopP)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

var _ CompletionProvider = (*AnthropicProvider)(nil)
