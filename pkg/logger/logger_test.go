package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(newDefault()) })
	return logs
}

func TestComponentFieldIsAttached(t *testing.T) {
	logs := observe(t)

	InfoCF("registry", "Registered plugin", map[string]interface{}{"plugin": "attribution"})

	entries := logs.FilterMessage("Registered plugin").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "registry", ctx["component"])
	assert.Equal(t, "attribution", ctx["plugin"])
}

func TestErrorValuesAreNamedErrors(t *testing.T) {
	logs := observe(t)

	ErrorCF("source", "Ledger fetch failed", map[string]interface{}{"error": errors.New("rpc down")})

	entries := logs.FilterMessage("Ledger fetch failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "rpc down", entries[0].ContextMap()["error"])
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestComponentHandle(t *testing.T) {
	logs := observe(t)

	h := Component("plugin.attribution")
	h.Warn("slow capability", map[string]interface{}{"ms": 1200})

	assert.Equal(t, "plugin.attribution", h.Name())
	entries := logs.FilterField(zap.String("component", "plugin.attribution")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}
