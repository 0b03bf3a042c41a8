package capability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/execclient/pkg/domain"
)

func upper(_ context.Context, s string, _ Input) (string, error) { return strings.ToUpper(s), nil }

func TestDescriptorConstructorsValidate(t *testing.T) {
	descs := []Descriptor{
		ContextCollector("c", "Collector", func(context.Context, []string, Input) (interface{}, error) { return 1, nil }),
		PromptEnhancer("e", "Enhancer", upper),
		ResponseProcessor("p", "Processor", upper),
	}
	for i, d := range descs {
		require.NoError(t, d.Validate())
		assert.Equal(t, Kinds()[i], d.Kind)
	}
}

func TestDescriptorValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{"no id", PromptEnhancer("", "x", upper)},
		{"no operation", Descriptor{ID: "x", Kind: KindPromptEnhancer}},
		{"kind mismatch", Descriptor{ID: "x", Kind: KindContextCollector, enhance: upper}},
		{"unknown kind", Descriptor{ID: "x", Kind: "summarizer", enhance: upper}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.d.Validate())
		})
	}
}

func TestDescriptorWrongOperation(t *testing.T) {
	d := PromptEnhancer("e", "Enhancer", upper)

	_, err := d.Process(context.Background(), "x", Input{})
	var capErr *domain.CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "e", capErr.CapabilityID)

	out, err := d.Enhance(context.Background(), "abc", Input{})
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)
}

func TestDescriptorRecoversPanics(t *testing.T) {
	d := ResponseProcessor("p", "Panicky", func(context.Context, string, Input) (string, error) {
		panic("nil map")
	})
	out, err := d.Process(context.Background(), "x", Input{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Empty(t, out)
}

func TestGuardBlocksOperation(t *testing.T) {
	var lc Lifecycle
	d := PromptEnhancer("e", "Enhancer", upper).Guard(lc.Ready)

	_, err := d.Enhance(context.Background(), "a", Input{})
	assert.ErrorIs(t, err, domain.ErrPluginNotReady)

	require.NoError(t, lc.BeginInit())
	lc.EndInit(true)
	out, err := d.Enhance(context.Background(), "a", Input{})
	require.NoError(t, err)
	assert.Equal(t, "A", out)

	require.True(t, lc.Close())
	_, err = d.Enhance(context.Background(), "a", Input{})
	assert.ErrorIs(t, err, domain.ErrPluginClosed)
}

func TestLifecycleTransitions(t *testing.T) {
	var lc Lifecycle
	assert.Equal(t, StateNew, lc.State())
	assert.False(t, lc.Close(), "cannot close before init")

	require.NoError(t, lc.BeginInit())
	assert.ErrorIs(t, lc.BeginInit(), domain.ErrPluginInitialized)
	lc.EndInit(false)
	assert.Equal(t, StateNew, lc.State())

	require.NoError(t, lc.BeginInit())
	lc.EndInit(true)
	assert.ErrorIs(t, lc.BeginInit(), domain.ErrPluginInitialized)
	assert.NoError(t, lc.Ready())

	assert.True(t, lc.Close())
	assert.False(t, lc.Close(), "cleanup runs once")
	assert.True(t, errors.Is(lc.BeginInit(), domain.ErrPluginClosed))
	assert.Equal(t, "closed", lc.State().String())
}
