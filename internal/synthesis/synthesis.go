package synthesis

import (
	"fmt"
	"strings"
)

// Synthesize reduces a DecisionSet to a single FinalDecision by
// applying the strict priority hierarchy: Halt beats Deny/Block beats
// Ask beats AllowOverride beats the default Allow. Within a priority
// tier, reasons from every matching policy are aggregated into one
// coherent message rather than reporting only the first match.
func Synthesize(ds DecisionSet) FinalDecision {
	switch {
	case ds.HasHalts():
		return FinalDecision{
			Verb:          VerbHalt,
			Reason:        aggregateReasons(ds.Halts),
			AgentMessages: collectAgentMessages(ds.Halts),
		}
	case ds.HasDenials():
		return FinalDecision{
			Verb:          VerbDeny,
			Reason:        aggregateReasons(ds.Denials),
			AgentMessages: collectAgentMessages(ds.Denials),
		}
	case ds.HasBlocks():
		return FinalDecision{
			Verb:          VerbBlock,
			Reason:        aggregateReasons(ds.Blocks),
			AgentMessages: collectAgentMessages(ds.Blocks),
		}
	case ds.HasAsks():
		return FinalDecision{
			Verb:          VerbAsk,
			Reason:        aggregateReasons(ds.Asks),
			AgentMessages: collectAgentMessages(ds.Asks),
		}
	case ds.HasAllowOverrides():
		return FinalDecision{
			Verb:          VerbAllowOverride,
			Reason:        aggregateReasons(ds.AllowOverrides),
			AgentMessages: collectAgentMessages(ds.AllowOverrides),
		}
	default:
		return FinalDecision{
			Verb:    VerbAllow,
			Context: ds.AddContext,
		}
	}
}

// collectAgentMessages extracts every non-nil AgentContext from the
// given decisions, for harnesses that separate a user-facing reason
// from a richer agent-facing explanation.
func collectAgentMessages(decisions []DecisionObject) []string {
	var messages []string
	for _, d := range decisions {
		if d.AgentContext != nil {
			messages = append(messages, *d.AgentContext)
		}
	}
	return messages
}

// aggregateReasons combines the reasons of one or more decisions in
// the same priority tier into a single human-readable message,
// grouping by severity and reporting only the highest severity present
// when more than one tier of severity fired at once.
func aggregateReasons(decisions []DecisionObject) string {
	if len(decisions) == 0 {
		return "Policy evaluation completed"
	}
	if len(decisions) == 1 {
		return decisions[0].Reason
	}

	var high, medium, low []DecisionObject
	for _, d := range decisions {
		switch strings.ToUpper(d.Severity) {
		case "HIGH", "CRITICAL":
			high = append(high, d)
		case "MEDIUM", "MODERATE":
			medium = append(medium, d)
		default:
			low = append(low, d)
		}
	}

	var parts []string

	if len(high) > 0 {
		if len(high) == 1 {
			parts = append(parts, high[0].Reason)
		} else {
			parts = append(parts, fmt.Sprintf(
				"Multiple high-severity policy violations detected: %s",
				joinRuleReasons(high),
			))
		}
	}

	if len(high) == 0 && len(medium) > 0 {
		if len(medium) == 1 {
			parts = append(parts, medium[0].Reason)
		} else {
			parts = append(parts, fmt.Sprintf(
				"Multiple policy violations detected: %s",
				joinRuleReasons(medium),
			))
		}
	}

	if len(high) == 0 && len(medium) == 0 && len(low) > 0 {
		if len(low) == 1 {
			parts = append(parts, low[0].Reason)
		} else {
			reasons := make([]string, len(low))
			for i, d := range low {
				reasons[i] = d.Reason
			}
			parts = append(parts, fmt.Sprintf("Policy guidelines: %s", strings.Join(reasons, "; ")))
		}
	}

	if len(parts) == 0 {
		return fmt.Sprintf("Multiple policies triggered (%d)", len(decisions))
	}
	return strings.Join(parts, " ")
}

func joinRuleReasons(decisions []DecisionObject) string {
	parts := make([]string, len(decisions))
	for i, d := range decisions {
		parts[i] = fmt.Sprintf("[%s] %s", d.RuleID, d.Reason)
	}
	return strings.Join(parts, "; ")
}

// Summarize returns a short, log-friendly count of every decision verb
// present in the set.
func Summarize(ds DecisionSet) string {
	var parts []string
	if n := len(ds.Halts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d halt(s)", n))
	}
	if n := len(ds.Denials); n > 0 {
		parts = append(parts, fmt.Sprintf("%d denial(s)", n))
	}
	if n := len(ds.Blocks); n > 0 {
		parts = append(parts, fmt.Sprintf("%d block(s)", n))
	}
	if n := len(ds.Asks); n > 0 {
		parts = append(parts, fmt.Sprintf("%d ask(s)", n))
	}
	if n := len(ds.AllowOverrides); n > 0 {
		parts = append(parts, fmt.Sprintf("%d override(s)", n))
	}
	if n := len(ds.AddContext); n > 0 {
		parts = append(parts, fmt.Sprintf("%d context item(s)", n))
	}
	if len(parts) == 0 {
		return "No decisions"
	}
	return strings.Join(parts, ", ")
}
