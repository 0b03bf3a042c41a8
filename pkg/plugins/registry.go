// Package plugins provides the capability registry for the execution
// client's processing pipeline.
//
// To add a plugin:
//  1. Implement capability.Plugin
//  2. Register a Factory for it from init() via RegisterFactory()
//  3. Enable it by name in the configuration's plugins list
//
// The registry initializes each plugin, indexes its capabilities by id and by
// kind, and cleans everything up on shutdown.
package plugins

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/sipeed/execclient/pkg/bus"
	"github.com/sipeed/execclient/pkg/capability"
	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/events"
	"github.com/sipeed/execclient/pkg/logger"
)

// entry is the registry's handle on one registered plugin.
type entry struct {
	plugin    capability.Plugin
	lifecycle *capability.Lifecycle
	capIDs    []string
}

// Registry indexes registered plugins and their capabilities. Lookups return
// capabilities in registration order.
type Registry struct {
	mu       sync.RWMutex
	plugins  []*entry
	byPlugin map[string]*entry
	byID     map[string]capability.Descriptor
	byKind   map[capability.Kind][]capability.Descriptor

	// lifecycles outlive UnregisterAll so a cleaned-up plugin instance
	// cannot be initialized again.
	lifecycles map[capability.Plugin]*capability.Lifecycle

	ledger capability.LedgerReader
	bus    *bus.MessageBus
}

// Option configures a Registry.
type Option func(*Registry)

// WithLedger hands a ledger reader to every plugin's initialize context.
func WithLedger(l capability.LedgerReader) Option {
	return func(r *Registry) { r.ledger = l }
}

// WithBus publishes plugin.registered and plugin.unregistered events.
func WithBus(mb *bus.MessageBus) Option {
	return func(r *Registry) { r.bus = mb }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byPlugin: make(map[string]*entry),
		byID:     make(map[string]capability.Descriptor),
		byKind:   make(map[capability.Kind][]capability.Descriptor),

		lifecycles: make(map[capability.Plugin]*capability.Lifecycle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register initializes p with empty settings and indexes its capabilities.
func (r *Registry) Register(ctx context.Context, p capability.Plugin) error {
	return r.RegisterWithSettings(ctx, p, nil)
}

// RegisterWithSettings invokes p's initialize hook and then indexes every
// capability it reports. On any failure the plugin is not indexed and none of
// its capabilities are retained; a plugin that initialized successfully but
// was then rejected is cleaned up again.
func (r *Registry) RegisterWithSettings(ctx context.Context, p capability.Plugin, settings map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if id == "" {
		return &domain.RegistrationError{PluginID: "<empty>", Err: fmt.Errorf("plugin id is empty")}
	}
	if _, exists := r.byPlugin[id]; exists {
		return &domain.RegistrationError{PluginID: id, Err: fmt.Errorf("plugin id already registered")}
	}
	if _, exists := r.byID[id]; exists {
		return &domain.RegistrationError{PluginID: id, Err: fmt.Errorf("plugin id already registered as a capability")}
	}

	lc := r.lifecycleFor(p)
	if err := lc.BeginInit(); err != nil {
		return &domain.RegistrationError{PluginID: id, Err: err}
	}
	if settings == nil {
		settings = map[string]interface{}{}
	}
	err := safeInitialize(ctx, p, capability.PluginContext{
		Logger:   logger.Component("plugin." + id),
		Settings: settings,
		Ledger:   r.ledger,
	})
	lc.EndInit(err == nil)
	if err != nil {
		logger.ErrorCF("registry", "Plugin initialize failed", map[string]interface{}{
			"plugin": id,
			"error":  err.Error(),
		})
		return &domain.RegistrationError{PluginID: id, Err: err}
	}

	caps := p.Capabilities()
	if capID, err := r.checkCapabilities(id, caps); err != nil {
		r.cleanupRejected(ctx, p, lc)
		return &domain.RegistrationError{PluginID: id, CapabilityID: capID, Err: err}
	}

	e := &entry{plugin: p, lifecycle: lc, capIDs: make([]string, 0, len(caps))}
	for _, c := range caps {
		guarded := c.Guard(lc.Ready)
		r.byID[c.ID] = guarded
		r.byKind[c.Kind] = append(r.byKind[c.Kind], guarded)
		e.capIDs = append(e.capIDs, c.ID)
	}
	r.plugins = append(r.plugins, e)
	r.byPlugin[id] = e

	logger.InfoCF("registry", "Registered plugin", map[string]interface{}{
		"plugin":       id,
		"version":      p.Version(),
		"capabilities": len(caps),
	})
	r.bus.Publish(events.PluginRegistered, "registry", events.PluginEventData{
		PluginID:     id,
		Version:      p.Version(),
		Capabilities: e.capIDs,
	})
	return nil
}

// lifecycleFor returns the lifecycle tracked for the plugin instance p.
// Plugins of non-comparable types cannot be tracked and get a fresh one.
func (r *Registry) lifecycleFor(p capability.Plugin) *capability.Lifecycle {
	if !reflect.TypeOf(p).Comparable() {
		return &capability.Lifecycle{}
	}
	lc, ok := r.lifecycles[p]
	if !ok {
		lc = &capability.Lifecycle{}
		r.lifecycles[p] = lc
	}
	return lc
}

// checkCapabilities validates caps against each other and the current
// indices, returning the offending capability id on failure. Plugin and
// capability ids share one namespace; a capability may reuse its own
// plugin's id.
func (r *Registry) checkCapabilities(pluginID string, caps []capability.Descriptor) (string, error) {
	seen := make(map[string]bool, len(caps))
	for _, c := range caps {
		if err := c.Validate(); err != nil {
			return c.ID, err
		}
		if _, exists := r.byID[c.ID]; exists || seen[c.ID] {
			return c.ID, fmt.Errorf("capability id already registered")
		}
		if _, exists := r.byPlugin[c.ID]; exists && c.ID != pluginID {
			return c.ID, fmt.Errorf("capability id already registered as a plugin")
		}
		seen[c.ID] = true
	}
	return "", nil
}

func (r *Registry) cleanupRejected(ctx context.Context, p capability.Plugin, lc *capability.Lifecycle) {
	if !lc.Close() {
		return
	}
	if err := p.Cleanup(ctx); err != nil {
		logger.WarnCF("registry", "Cleanup of rejected plugin failed", map[string]interface{}{
			"plugin": p.ID(),
			"error":  err.Error(),
		})
	}
}

// LookupByKind returns every registered capability of kind in registration
// order. An empty result is not an error.
func (r *Registry) LookupByKind(kind capability.Kind) []capability.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byKind[kind]
	out := make([]capability.Descriptor, len(list))
	copy(out, list)
	return out
}

// LookupByID returns the capability registered under id.
func (r *Registry) LookupByID(id string) (capability.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return capability.Descriptor{}, domain.ErrNotFound.With("capability " + id)
	}
	return c, nil
}

// UnregisterAll runs every plugin's cleanup hook, in registration order, and
// clears all indices. A failing cleanup is logged and does not stop the
// remaining plugins from being cleaned up.
func (r *Registry) UnregisterAll(ctx context.Context) {
	r.mu.Lock()
	plugins := r.plugins
	r.plugins = nil
	r.byPlugin = make(map[string]*entry)
	r.byID = make(map[string]capability.Descriptor)
	r.byKind = make(map[capability.Kind][]capability.Descriptor)
	r.mu.Unlock()

	for _, e := range plugins {
		id := e.plugin.ID()
		if !e.lifecycle.Close() {
			continue
		}
		if err := safeCleanup(ctx, e.plugin); err != nil {
			logger.ErrorCF("registry", "Plugin cleanup failed", map[string]interface{}{
				"plugin": id,
				"error":  err.Error(),
			})
			continue
		}
		logger.InfoCF("registry", "Unregistered plugin", map[string]interface{}{
			"plugin": id,
		})
		r.bus.Publish(events.PluginUnregistered, "registry", events.PluginEventData{PluginID: id})
	}
}

func safeInitialize(ctx context.Context, p capability.Plugin, pc capability.PluginContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("initialize panicked: %v", rec)
		}
	}()
	return p.Initialize(ctx, pc)
}

func safeCleanup(ctx context.Context, p capability.Plugin) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cleanup panicked: %v", rec)
		}
	}()
	return p.Cleanup(ctx)
}

// PluginInfo describes one registered plugin for status reporting.
type PluginInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	State        string   `json:"state"`
	Capabilities []string `json:"capabilities"`
}

// List returns the registered plugins in registration order.
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PluginInfo, 0, len(r.plugins))
	for _, e := range r.plugins {
		out = append(out, PluginInfo{
			ID:           e.plugin.ID(),
			Name:         e.plugin.Name(),
			Version:      e.plugin.Version(),
			State:        e.lifecycle.State().String(),
			Capabilities: append([]string(nil), e.capIDs...),
		})
	}
	return out
}

// CapabilityCounts returns kind → number of registered capabilities.
func (r *Registry) CapabilityCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int, len(r.byKind))
	for _, k := range capability.Kinds() {
		counts[string(k)] = len(r.byKind[k])
	}
	return counts
}

// CapabilityIDs returns every registered capability id, sorted.
func (r *Registry) CapabilityIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
