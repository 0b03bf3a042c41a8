package builtin

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sipeed/execclient/pkg/capability"
)

const (
	ResponseGuardName = "response-guard"
	SanitizerID       = "sanitizer"
	DefaultMaxLength  = 1000

	AttributionName = "attribution"
	AttributionID   = "attribution"
)

// ---------------------------------------------------------------------------
// response-guard
// ---------------------------------------------------------------------------

// ResponseGuard trims completions and caps their length in runes.
type ResponseGuard struct {
	base
	maxLength int
}

func NewResponseGuard(maxLength int) *ResponseGuard {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &ResponseGuard{
		base: base{
			id:      ResponseGuardName,
			name:    "Response Guard",
			version: "1.0.0",
		},
		maxLength: maxLength,
	}
}

func (p *ResponseGuard) Capabilities() []capability.Descriptor {
	return []capability.Descriptor{
		capability.ResponseProcessor(SanitizerID, "Sanitizer", p.sanitize),
	}
}

func (p *ResponseGuard) sanitize(_ context.Context, response string, _ capability.Input) (string, error) {
	out := strings.TrimSpace(response)
	if out == "" {
		return "", fmt.Errorf("empty response")
	}
	if utf8.RuneCountInString(out) > p.maxLength {
		r := []rune(out)
		out = strings.TrimSpace(string(r[:p.maxLength]))
		if p.log != nil {
			p.log.Debug("Truncated response", map[string]interface{}{"max_length": p.maxLength})
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// attribution
// ---------------------------------------------------------------------------

// Attribution tags every response with the processor that handled it.
type Attribution struct {
	base
}

func NewAttribution() *Attribution {
	return &Attribution{base: base{
		id:      AttributionName,
		name:    "Attribution",
		version: "1.0.0",
	}}
}

func (p *Attribution) Capabilities() []capability.Descriptor {
	return []capability.Descriptor{
		capability.ResponseProcessor(AttributionID, "Attribution", p.attribute),
	}
}

func (p *Attribution) attribute(_ context.Context, response string, _ capability.Input) (string, error) {
	return fmt.Sprintf("%s\n\n[Processed by %s]", response, AttributionID), nil
}
