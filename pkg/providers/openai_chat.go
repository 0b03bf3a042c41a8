package providers

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIChatProvider talks to any OpenAI-compatible chat completions
// endpoint.
type OpenAIChatProvider struct {
	client       openai.Client
	settings     Settings
	name         string
	defaultModel string
}

// NewOpenAIChatProvider creates a chat provider. An empty apiBase uses the
// OpenAI endpoint.
func NewOpenAIChatProvider(apiKey, apiBase string, settings Settings) *OpenAIChatProvider {
	return &OpenAIChatProvider{
		client:       openai.NewClient(clientOptions(apiKey, apiBase, settings)...),
		settings:     settings,
		name:         "openai",
		defaultModel: "gpt-4o-mini",
	}
}

func clientOptions(apiKey, apiBase string, settings Settings) []option.RequestOption {
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
	return opts
}

func (p *OpenAIChatProvider) Name() string            { return p.name }
func (p *OpenAIChatProvider) GetDefaultModel() string { return p.defaultModel }

// Generate sends prompt as a single user message, preceded by the system
// prompt when one is configured.
func (p *OpenAIChatProvider) Generate(ctx context.Context, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if p.settings.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(p.settings.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    p.settings.model(p.defaultModel),
		Messages: messages,
	}
	if p.settings.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.settings.MaxTokens))
	}
	if p.settings.Temperature > 0 {
		params.Temperature = openai.Float(p.settings.Temperature)
	}
	if p.settings.TopP > 0 {
		params.TopP = openai.Float(p.settings.TopP)
	}
	if p.settings.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(p.settings.PresencePenalty)
	}
	if p.settings.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(p.settings.FrequencyPenalty)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

var _ CompletionProvider = (*OpenAIChatProvider)(nil)
