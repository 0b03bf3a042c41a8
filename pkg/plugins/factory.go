package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sipeed/execclient/pkg/capability"
	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/logger"
)

// Factory builds a plugin from its configured settings. APIVersion must equal
// capability.APIVersion for the factory to be used.
type Factory struct {
	APIVersion int
	New        func(settings map[string]interface{}) (capability.Plugin, error)
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a plugin available by name. Built-in plugins call it
// from init(). Registering the same name twice panics.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("plugins: factory %q registered twice", name))
	}
	if f.New == nil {
		panic(fmt.Sprintf("plugins: factory %q has no constructor", name))
	}
	factories[name] = f
}

// Factories returns the names of every registered factory, sorted.
func Factories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupFactory(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// LoadConfigured instantiates every enabled plugin entry in configuration
// order and registers it. The first failure aborts loading and is returned as
// a RegistrationError; plugins registered before it stay registered so the
// caller's cleanup can release them.
func LoadConfigured(ctx context.Context, r *Registry, entries []config.PluginConfig) error {
	for _, pc := range entries {
		if !pc.Enabled {
			continue
		}
		f, ok := lookupFactory(pc.Name)
		if !ok {
			return &domain.RegistrationError{PluginID: pc.Name, Err: fmt.Errorf("no plugin factory named %q", pc.Name)}
		}
		if f.APIVersion != capability.APIVersion {
			return &domain.RegistrationError{
				PluginID: pc.Name,
				Err:      fmt.Errorf("plugin built for API version %d, host supports %d", f.APIVersion, capability.APIVersion),
			}
		}
		p, err := f.New(pc.Settings)
		if err != nil {
			return &domain.RegistrationError{PluginID: pc.Name, Err: fmt.Errorf("construct: %w", err)}
		}
		if err := r.RegisterWithSettings(ctx, p, pc.Settings); err != nil {
			return err
		}
	}
	logger.InfoCF("registry", "Plugins loaded", map[string]interface{}{
		"count": len(r.List()),
	})
	return nil
}
