// Package harness translates between the raw wire schema of a specific
// AI coding agent and the engine's internal FinalDecision, and back
// into that agent's response schema. Translators are pure marshaling:
// no policy logic lives here.
package harness

import "github.com/eqtylab/cupcake-go/internal/synthesis"

// engineDecision is the intermediate shape both the rich and
// restricted response builders translate FinalDecision into, kept
// distinct from synthesis.FinalDecision so wire-schema concerns never
// leak back into the synthesis package.
type engineDecision struct {
	kind     engineDecisionKind
	feedback string // deny/block/ask reason, or allow's optional context string
}

type engineDecisionKind int

const (
	kindAllow engineDecisionKind = iota
	kindAsk
	kindDeny
)

func adaptDecision(d synthesis.FinalDecision) engineDecision {
	switch d.Verb {
	case synthesis.VerbHalt, synthesis.VerbDeny, synthesis.VerbBlock:
		return engineDecision{kind: kindDeny, feedback: d.Reason}
	case synthesis.VerbAsk:
		return engineDecision{kind: kindAsk, feedback: d.Reason}
	case synthesis.VerbAllowOverride:
		return engineDecision{kind: kindAllow, feedback: d.Reason}
	default: // VerbAllow
		return engineDecision{kind: kindAllow, feedback: joinContext(d.Context)}
	}
}

func joinContext(context []string) string {
	if len(context) == 0 {
		return ""
	}
	out := context[0]
	for _, c := range context[1:] {
		out += "\n" + c
	}
	return out
}

// extractContext returns the additional context an Allow decision
// carries, or nil if there is none. Only Allow carries free-form
// context; every other verb's explanation is already the decision
// reason itself.
func extractContext(d synthesis.FinalDecision) []string {
	if d.Verb != synthesis.VerbAllow || len(d.Context) == 0 {
		return nil
	}
	return d.Context
}

// extractAgentMessages returns the agent-directed messages a decision
// carries, distinct from the human-directed reason string. Allow never
// carries agent messages.
func extractAgentMessages(d synthesis.FinalDecision) []string {
	if d.Verb == synthesis.VerbAllow || len(d.AgentMessages) == 0 {
		return nil
	}
	return d.AgentMessages
}
