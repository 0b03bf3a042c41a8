package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sipeed/execclient/pkg/capability"
	"github.com/sipeed/execclient/pkg/domain"
)

const (
	ContextEnrichmentName = "context-enrichment"
	TopicContextID        = "topic-context"
	ContextInjectorID     = "context-injector"

	LedgerContextName  = "ledger-context"
	CharacterProfileID = "character-profile"
)

// ---------------------------------------------------------------------------
// context-enrichment
// ---------------------------------------------------------------------------

// ContextEnrichment records what each message was asked about and appends
// the collected context to the prompt.
type ContextEnrichment struct {
	base
}

func NewContextEnrichment() *ContextEnrichment {
	return &ContextEnrichment{base: base{
		id:      ContextEnrichmentName,
		name:    "Context Enrichment",
		version: "1.0.0",
	}}
}

func (p *ContextEnrichment) Capabilities() []capability.Descriptor {
	return []capability.Descriptor{
		capability.ContextCollector(TopicContextID, "Topic Context", p.collect),
		capability.PromptEnhancer(ContextInjectorID, "Context Injector", p.inject),
	}
}

func (p *ContextEnrichment) collect(_ context.Context, topics []string, in capability.Input) (interface{}, error) {
	return map[string]interface{}{
		"topics":     append([]string(nil), topics...),
		"message_id": in.MessageID.String(),
	}, nil
}

// inject appends a "Context:" block with one line per collector, sorted by
// collector id. With nothing collected the prompt is returned unchanged.
func (p *ContextEnrichment) inject(_ context.Context, prompt string, in capability.Input) (string, error) {
	if len(in.Context) == 0 {
		return prompt, nil
	}
	keys := make([]string, 0, len(in.Context))
	for k := range in.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nContext:")
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n- %s: %s", k, describe(in.Context[k]))
	}
	return sb.String(), nil
}

func describe(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case *domain.CharacterProfile:
		return fmt.Sprintf("character %s owned by %s", t.Name, t.Owner)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ---------------------------------------------------------------------------
// ledger-context
// ---------------------------------------------------------------------------

// LedgerContext looks up the character a ledger message is addressed to.
type LedgerContext struct {
	base
	ledger capability.LedgerReader
}

func NewLedgerContext() *LedgerContext {
	return &LedgerContext{base: base{
		id:      LedgerContextName,
		name:    "Ledger Context",
		version: "1.0.0",
	}}
}

func (p *LedgerContext) Initialize(ctx context.Context, pc capability.PluginContext) error {
	if err := p.base.Initialize(ctx, pc); err != nil {
		return err
	}
	p.ledger = pc.Ledger
	if p.ledger == nil {
		p.log.Info("No ledger configured, character profiles disabled", nil)
	}
	return nil
}

func (p *LedgerContext) Capabilities() []capability.Descriptor {
	return []capability.Descriptor{
		capability.ContextCollector(CharacterProfileID, "Character Profile", p.collect),
	}
}

// collect contributes nothing for store messages or without a ledger.
func (p *LedgerContext) collect(ctx context.Context, _ []string, in capability.Input) (interface{}, error) {
	if p.ledger == nil || in.Origin != domain.OriginLedger {
		return nil, nil
	}
	profile, err := p.ledger.CharacterForMessage(ctx, in.MessageID.String())
	if err != nil {
		return nil, err
	}
	return profile, nil
}
