// Package builtin holds the plugins compiled into the execution client.
// Importing it registers their factories with the plugins package.
package builtin

import (
	"context"
	"fmt"

	"github.com/sipeed/execclient/pkg/capability"
	"github.com/sipeed/execclient/pkg/logger"
	"github.com/sipeed/execclient/pkg/plugins"
)

func init() {
	plugins.RegisterFactory(ContextEnrichmentName, plugins.Factory{
		APIVersion: capability.APIVersion,
		New: func(map[string]interface{}) (capability.Plugin, error) {
			return NewContextEnrichment(), nil
		},
	})
	plugins.RegisterFactory(LedgerContextName, plugins.Factory{
		APIVersion: capability.APIVersion,
		New: func(map[string]interface{}) (capability.Plugin, error) {
			return NewLedgerContext(), nil
		},
	})
	plugins.RegisterFactory(ResponseGuardName, plugins.Factory{
		APIVersion: capability.APIVersion,
		New: func(settings map[string]interface{}) (capability.Plugin, error) {
			limit, err := intSetting(settings, "max_length", DefaultMaxLength)
			if err != nil {
				return nil, err
			}
			return NewResponseGuard(limit), nil
		},
	})
	plugins.RegisterFactory(AttributionName, plugins.Factory{
		APIVersion: capability.APIVersion,
		New: func(map[string]interface{}) (capability.Plugin, error) {
			return NewAttribution(), nil
		},
	})
}

// ---------------------------------------------------------------------------
// Shared plugin scaffolding
// ---------------------------------------------------------------------------

// base carries the metadata and logger every builtin plugin needs.
type base struct {
	id, name, version string
	log               *logger.ComponentLogger
}

func (b *base) ID() string      { return b.id }
func (b *base) Name() string    { return b.name }
func (b *base) Version() string { return b.version }

func (b *base) Initialize(_ context.Context, pc capability.PluginContext) error {
	b.log = pc.Logger
	if b.log == nil {
		b.log = logger.Component("plugin." + b.id)
	}
	return nil
}

func (b *base) Cleanup(context.Context) error { return nil }

func intSetting(settings map[string]interface{}, key string, def int) (int, error) {
	raw, ok := settings[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("setting %s: expected a number, got %T", key, raw)
	}
}
