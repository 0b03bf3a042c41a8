package providers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMoonshotProviderCreation verifies Moonshot provider can be created
func TestMoonshotProviderCreation(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
	}{
		{name: "valid API key", apiKey: "sk-test-key-12345"},
		{name: "empty API key", apiKey: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewMoonshotProvider(tt.apiKey, Settings{})
			require.NotNil(t, provider)
			assert.Equal(t, "moonshot-v1-32k", provider.GetDefaultModel())
			assert.Equal(t, "moonshot", provider.Name())
		})
	}
}

// TestMoonshotProviderWithCustomBase verifies custom API base is used
func TestMoonshotProviderWithCustomBase(t *testing.T) {
	rec := &recorder{}
	srv := rec.serve(t, http.StatusOK, chatResponse)

	provider := NewMoonshotProviderWithBase("sk-test", srv.URL, Settings{})
	out, err := provider.Generate(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)
	assert.True(t, strings.HasSuffix(rec.path, "/chat/completions"))
	assert.Equal(t, "moonshot-v1-32k", rec.body["model"])
}
