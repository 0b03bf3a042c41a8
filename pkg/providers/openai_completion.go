package providers

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
)

// OpenAICompletionProvider uses the raw-prompt completions endpoint. The
// system prompt, if any, is prepended to the prompt text.
type OpenAICompletionProvider struct {
	client       openai.Client
	settings     Settings
	name         string
	defaultModel string
}

func NewOpenAICompletionProvider(apiKey, apiBase string, settings Settings) *OpenAICompletionProvider {
	return &OpenAICompletionProvider{
		client:       openai.NewClient(clientOptions(apiKey, apiBase, settings)...),
		settings:     settings,
		name:         "openai-completion",
		defaultModel: "gpt-3.5-turbo-instruct",
	}
}

func (p *OpenAICompletionProvider) Name() string            { return p.name }
func (p *OpenAICompletionProvider) GetDefaultModel() string { return p.defaultModel }

func (p *OpenAICompletionProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if p.settings.SystemPrompt != "" {
		prompt = p.settings.SystemPrompt + "\n\n" + prompt
	}
	params := openai.CompletionNewParams{
		Model:  openai.CompletionNewParamsModel(p.settings.model(p.defaultModel)),
		Prompt: openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
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

	resp, err := p.client.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

var _ CompletionProvider = (*OpenAICompletionProvider)(nil)
