// Package capability defines the contract between the execution client and
// its plugins: the three capability kinds, the descriptor that carries one
// capability's operation, and the plugin bundle interface with its lifecycle
// hooks.
//
// A plugin contributes capabilities of any mix of kinds:
//
//	context-collector   gathers named context for a message before prompting
//	prompt-enhancer     rewrites the prompt text, one after another
//	response-processor  rewrites the completion text, one after another
package capability

import (
	"context"
	"fmt"

	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/logger"
)

// APIVersion is the plugin contract version. Factories built against a
// different version are refused at load time.
const APIVersion = 1

// Kind is one of the three pluggable capability kinds.
type Kind string

const (
	KindContextCollector  Kind = "context-collector"
	KindPromptEnhancer    Kind = "prompt-enhancer"
	KindResponseProcessor Kind = "response-processor"
)

// Kinds returns every kind in pipeline order.
func Kinds() []Kind {
	return []Kind{KindContextCollector, KindPromptEnhancer, KindResponseProcessor}
}

func (k Kind) Valid() bool {
	switch k {
	case KindContextCollector, KindPromptEnhancer, KindResponseProcessor:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Input describes the message a capability is invoked for. Context holds the
// results of the collectors that ran before enhancement, keyed by collector
// id; it is nil while collectors themselves run.
type Input struct {
	MessageID   domain.EntityID
	CharacterID string
	Origin      domain.MessageOrigin
	Context     map[string]interface{}
}

type (
	CollectFunc func(ctx context.Context, topics []string, in Input) (interface{}, error)
	EnhanceFunc func(ctx context.Context, prompt string, in Input) (string, error)
	ProcessFunc func(ctx context.Context, response string, in Input) (string, error)
)

// Descriptor is a registered unit of pluggable behavior. Exactly one of the
// operations is set, matching Kind. Build descriptors with ContextCollector,
// PromptEnhancer or ResponseProcessor.
type Descriptor struct {
	ID   string
	Name string
	Kind Kind

	collect CollectFunc
	enhance EnhanceFunc
	process ProcessFunc
}

func ContextCollector(id, name string, fn CollectFunc) Descriptor {
	return Descriptor{ID: id, Name: name, Kind: KindContextCollector, collect: fn}
}

func PromptEnhancer(id, name string, fn EnhanceFunc) Descriptor {
	return Descriptor{ID: id, Name: name, Kind: KindPromptEnhancer, enhance: fn}
}

func ResponseProcessor(id, name string, fn ProcessFunc) Descriptor {
	return Descriptor{ID: id, Name: name, Kind: KindResponseProcessor, process: fn}
}

// Validate checks that the descriptor has an id and exactly the operation its
// kind requires.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("capability without id")
	}
	set := 0
	for _, ok := range []bool{d.collect != nil, d.enhance != nil, d.process != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("capability %s: expected exactly one operation, got %d", d.ID, set)
	}
	switch d.Kind {
	case KindContextCollector:
		if d.collect == nil {
			return fmt.Errorf("capability %s: %s without collect operation", d.ID, d.Kind)
		}
	case KindPromptEnhancer:
		if d.enhance == nil {
			return fmt.Errorf("capability %s: %s without enhance operation", d.ID, d.Kind)
		}
	case KindResponseProcessor:
		if d.process == nil {
			return fmt.Errorf("capability %s: %s without process operation", d.ID, d.Kind)
		}
	default:
		return fmt.Errorf("capability %s: unknown kind %q", d.ID, d.Kind)
	}
	return nil
}

// Collect runs a context-collector. Panics inside the operation are returned
// as errors.
func (d Descriptor) Collect(ctx context.Context, topics []string, in Input) (out interface{}, err error) {
	if d.collect == nil {
		return nil, d.mismatch(KindContextCollector)
	}
	defer recoverInto(d, &err)
	return d.collect(ctx, topics, in)
}

// Enhance runs a prompt-enhancer.
func (d Descriptor) Enhance(ctx context.Context, prompt string, in Input) (out string, err error) {
	if d.enhance == nil {
		return "", d.mismatch(KindPromptEnhancer)
	}
	defer recoverInto(d, &err)
	return d.enhance(ctx, prompt, in)
}

// Process runs a response-processor.
func (d Descriptor) Process(ctx context.Context, response string, in Input) (out string, err error) {
	if d.process == nil {
		return "", d.mismatch(KindResponseProcessor)
	}
	defer recoverInto(d, &err)
	return d.process(ctx, response, in)
}

// Guard returns a copy of d whose operation first calls check and fails with
// its error instead of running.
func (d Descriptor) Guard(check func() error) Descriptor {
	g := d
	if d.collect != nil {
		g.collect = func(ctx context.Context, topics []string, in Input) (interface{}, error) {
			if err := check(); err != nil {
				return nil, err
			}
			return d.collect(ctx, topics, in)
		}
	}
	if d.enhance != nil {
		g.enhance = func(ctx context.Context, prompt string, in Input) (string, error) {
			if err := check(); err != nil {
				return "", err
			}
			return d.enhance(ctx, prompt, in)
		}
	}
	if d.process != nil {
		g.process = func(ctx context.Context, response string, in Input) (string, error) {
			if err := check(); err != nil {
				return "", err
			}
			return d.process(ctx, response, in)
		}
	}
	return g
}

func (d Descriptor) mismatch(want Kind) error {
	return &domain.CapabilityError{
		CapabilityID: d.ID,
		Kind:         string(d.Kind),
		Err:          fmt.Errorf("not a %s", want),
	}
}

func recoverInto(d Descriptor, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("capability %s panicked: %v", d.ID, r)
	}
}

// ---------------------------------------------------------------------------
// Plugin bundle
// ---------------------------------------------------------------------------

// LedgerReader is the read-only ledger surface handed to plugins.
type LedgerReader interface {
	CharacterForMessage(ctx context.Context, messageAddress string) (*domain.CharacterProfile, error)
}

// PluginContext is passed to Plugin.Initialize. Ledger is nil when the
// ledger backend is disabled.
type PluginContext struct {
	Logger   *logger.ComponentLogger
	Settings map[string]interface{}
	Ledger   LedgerReader
}

// Plugin is a bundle of capabilities with lifecycle hooks. Initialize runs
// once before any capability is indexed; Cleanup runs once when the plugin
// is unregistered.
type Plugin interface {
	ID() string
	Name() string
	Version() string
	Initialize(ctx context.Context, pc PluginContext) error
	Cleanup(ctx context.Context) error
	Capabilities() []Descriptor
}
