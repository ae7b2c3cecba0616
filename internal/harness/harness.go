package harness

import (
	"encoding/json"
	"fmt"

	"github.com/eqtylab/cupcake-go/internal/synthesis"
)

// Translator is a pure bridge between one agent's wire schema and the
// engine's FinalDecision. It performs no policy logic: ParseEvent only
// reads what routing and preprocessing need, and FormatResponse only
// maps decision verbs to wire fields.
type Translator interface {
	// ParseEvent reads a raw hook event payload off the wire.
	ParseEvent(input []byte) (Event, error)
	// FormatResponse renders the response this harness's caller
	// expects for the given decision, in the context of the event
	// that produced it.
	FormatResponse(event Event, decision synthesis.FinalDecision) (json.RawMessage, error)
}

// RichHarness supports the full response vocabulary: deny with a
// user-facing reason, ask for confirmation, and allow with optional
// injected context for the agent's next turn.
type RichHarness struct{}

func (RichHarness) ParseEvent(input []byte) (Event, error) {
	return ParseEvent(input)
}

func (RichHarness) FormatResponse(event Event, decision synthesis.FinalDecision) (json.RawMessage, error) {
	d := adaptDecision(decision)
	context := extractContext(decision)
	return buildRichResponse(event, d, context), nil
}

// RestrictedHarness speaks a narrower schema for some events
// (continue-only, or allow/deny-only with no context-injection
// channel) and otherwise splits feedback into separate userMessage and
// agentMessage fields.
type RestrictedHarness struct{}

func (RestrictedHarness) ParseEvent(input []byte) (Event, error) {
	return ParseEvent(input)
}

func (RestrictedHarness) FormatResponse(event Event, decision synthesis.FinalDecision) (json.RawMessage, error) {
	d := adaptDecision(decision)
	agentMessages := extractAgentMessages(decision)
	return buildRestrictedResponse(event, d, agentMessages), nil
}

// ForName resolves a harness identifier (as configured per-project, or
// passed on the CLI) to its Translator. Unknown names are a caller
// configuration error, not something the engine should guess at.
func ForName(name string) (Translator, error) {
	switch name {
	case "rich", "claude-code", "":
		return RichHarness{}, nil
	case "restricted", "cursor":
		return RestrictedHarness{}, nil
	default:
		return nil, fmt.Errorf("unknown harness %q", name)
	}
}
