package harness

import "encoding/json"

// buildRichResponse renders the full-feedback response schema: decision
// verb, a human-readable reason, and (Allow only) additional context
// the agent should fold into its next turn.
func buildRichResponse(event Event, d engineDecision, context []string) json.RawMessage {
	resp := map[string]interface{}{
		"continue": d.kind != kindDeny,
	}
	switch d.kind {
	case kindDeny:
		resp["decision"] = "block"
		resp["reason"] = d.feedback
	case kindAsk:
		resp["decision"] = "ask"
		resp["reason"] = d.feedback
	default:
		resp["decision"] = "approve"
		if len(context) > 0 {
			resp["hookSpecificOutput"] = map[string]interface{}{
				"hookEventName":     event.Name,
				"additionalContext": joinContext(context),
			}
		} else if d.feedback != "" {
			resp["reason"] = d.feedback
		}
	}
	return mustMarshal(resp)
}

// buildRestrictedResponse renders one of the three progressively
// narrower restricted-harness response shapes, chosen by the event
// name: continue-only, permission-only, or (for every other event)
// the full permission model with separate user/agent message fields.
func buildRestrictedResponse(event Event, d engineDecision, agentMessages []string) json.RawMessage {
	mode := restrictedModeByEvent[event.Name]

	switch mode {
	case modeContinueOnly:
		return mustMarshal(map[string]interface{}{
			"continue": d.kind != kindDeny,
		})
	case modePermissionOnly:
		permission := "allow"
		if d.kind == kindDeny {
			permission = "deny"
		}
		return mustMarshal(map[string]interface{}{
			"permission": permission,
		})
	default:
		resp := map[string]interface{}{
			"permission": permissionFor(d.kind),
		}
		if d.feedback != "" {
			resp["userMessage"] = d.feedback
		}
		if len(agentMessages) > 0 {
			resp["agentMessage"] = joinContext(agentMessages)
		}
		return mustMarshal(resp)
	}
}

func permissionFor(kind engineDecisionKind) string {
	switch kind {
	case kindDeny:
		return "deny"
	case kindAsk:
		return "ask"
	default:
		return "allow"
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Every value passed here is a map of strings/bools/slices we
		// constructed ourselves; a marshal failure would mean a
		// programming error, not a runtime condition to recover from.
		panic(err)
	}
	return data
}
