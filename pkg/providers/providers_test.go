package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/execclient/pkg/config"
)

// recorder is a fake completion backend that remembers the last request.
type recorder struct {
	mu     sync.Mutex
	path   string
	header http.Header
	body   map[string]interface{}
}

func (r *recorder) serve(t *testing.T, status int, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.path = req.URL.Path
		r.header = req.Header.Clone()
		r.body = body
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const chatResponse = `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  Hi there  "}}]}`

const completionResponse = `{"id":"cmpl-1","object":"text_completion","created":1,"model":"m",
"choices":[{"index":0,"finish_reason":"stop","logprobs":null,"text":"\nHi there"}]}`

const anthropicResponse = `{"id":"msg_1","type":"message","role":"assistant","model":"claude",
"content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],
"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":2}}`

func testSettings() Settings {
	return Settings{
		Model:            "test-model",
		MaxTokens:        64,
		Temperature:      0.5,
		TopP:             0.9,
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.2,
		SystemPrompt:     "You are Ada.",
	}
}

func TestOpenAIChatProvider(t *testing.T) {
	rec := &recorder{}
	srv := rec.serve(t, http.StatusOK, chatResponse)

	p := NewOpenAIChatProvider("sk-test", srv.URL, testSettings())
	out, err := p.Generate(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)

	assert.True(t, strings.HasSuffix(rec.path, "/chat/completions"), rec.path)
	assert.Equal(t, "Bearer sk-test", rec.header.Get("Authorization"))
	assert.Equal(t, "test-model", rec.body["model"])
	assert.EqualValues(t, 64, rec.body["max_tokens"])
	assert.EqualValues(t, 0.5, rec.body["temperature"])
	assert.EqualValues(t, 0.9, rec.body["top_p"])
	assert.EqualValues(t, 0.1, rec.body["presence_penalty"])
	assert.EqualValues(t, 0.2, rec.body["frequency_penalty"])

	msgs, ok := rec.body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "Hello", msgs[1].(map[string]interface{})["content"])
}

func TestOpenAIChatProviderDefaultsModel(t *testing.T) {
	rec := &recorder{}
	srv := rec.serve(t, http.StatusOK, chatResponse)

	p := NewOpenAIChatProvider("sk-test", srv.URL, Settings{})
	_, err := p.Generate(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, p.GetDefaultModel(), rec.body["model"])
	_, hasTemp := rec.body["temperature"]
	assert.False(t, hasTemp)
	msgs := rec.body["messages"].([]interface{})
	assert.Len(t, msgs, 1)
}

func TestOpenAIChatProviderErrors(t *testing.T) {
	rec := &recorder{}
	srv := rec.serve(t, http.StatusBadRequest, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	p := NewOpenAIChatProvider("sk-test", srv.URL, testSettings())
	_, err := p.Generate(context.Background(), "Hello")
	assert.Error(t, err)

	empty := (&recorder{}).serve(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	p = NewOpenAIChatProvider("sk-test", empty.URL, testSettings())
	_, err = p.Generate(context.Background(), "Hello")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAICompletionProvider(t *testing.T) {
	rec := &recorder{}
	srv := rec.serve(t, http.StatusOK, completionResponse)

	p := NewOpenAICompletionProvider("sk-test", srv.URL, testSettings())
	out, err := p.Generate(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)

	assert.True(t, strings.HasSuffix(rec.path, "/completions"), rec.path)
	assert.False(t, strings.HasSuffix(rec.path, "/chat/completions"), rec.path)
	assert.Equal(t, "You are Ada.\n\nHello", rec.body["prompt"])
	assert.EqualValues(t, 64, rec.body["max_tokens"])
}

func TestAnthropicProvider(t *testing.T) {
	rec := &recorder{}
	srv := rec.serve(t, http.StatusOK, anthropicResponse)

	p := NewAnthropicProvider("sk-ant", srv.URL, testSettings())
	out, err := p.Generate(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)

	assert.True(t, strings.HasSuffix(rec.path, "/v1/messages"), rec.path)
	assert.Equal(t, "sk-ant", rec.header.Get("X-Api-Key"))
	assert.Equal(t, "test-model", rec.body["model"])
	assert.EqualValues(t, 64, rec.body["max_tokens"])
	_, hasPenalty := rec.body["presence_penalty"]
	assert.False(t, hasPenalty)
}

func TestCreateProvider(t *testing.T) {
	tests := []struct {
		provider string
		apiKey   string
		wantName string
		wantErr  bool
	}{
		{provider: "openai", wantName: "openai"},
		{provider: "openai-completion", wantName: "openai-completion"},
		{provider: "anthropic", wantName: "anthropic"},
		{provider: "moonshot", wantName: "moonshot"},
		{provider: "hyperbolic", apiKey: "hb-key", wantName: "hyperbolic"},
		{provider: "hyperbolic", wantErr: true},
		{provider: "llama-local", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.wantName, func(t *testing.T) {
			cfg := config.DefaultConfig().Completion
			cfg.Provider = tt.provider
			cfg.APIKey = tt.apiKey
			p, err := CreateProvider(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
			assert.NotEmpty(t, p.GetDefaultModel())
		})
	}
}

func TestHyperbolicUsesRawCompletions(t *testing.T) {
	rec := &recorder{}
	srv := rec.serve(t, http.StatusOK, completionResponse)

	cfg := config.DefaultConfig().Completion
	cfg.Provider = "hyperbolic"
	cfg.APIKey = "hb-key"
	cfg.APIBase = srv.URL
	cfg.Model = ""
	p, err := CreateProvider(cfg)
	require.NoError(t, err)

	out, err := p.Generate(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)
	assert.Equal(t, "meta-llama/Meta-Llama-3.1-405B", rec.body["model"])
	assert.Equal(t, "Bearer hb-key", rec.header.Get("Authorization"))
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.DefaultConfig().Completion
	s := SettingsFrom(cfg)
	assert.Equal(t, cfg.Model, s.Model)
	assert.Equal(t, cfg.MaxTokens, s.MaxTokens)
	assert.Equal(t, cfg.Temperature, s.Temperature)
	assert.Equal(t, cfg.Timeout, s.Timeout)
	assert.Equal(t, "fallback", Settings{}.model("fallback"))
}
