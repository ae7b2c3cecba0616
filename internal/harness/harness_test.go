package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/eqtylab/cupcake-go/internal/synthesis"
)

func TestParseEvent_CamelCaseName(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"hookEventName":"PreToolUse","tool_name":"Bash"}`))
	if err != nil {
		t.Fatalf("ParseEvent() error: %v", err)
	}
	if ev.Name != "PreToolUse" || ev.ToolName != "Bash" {
		t.Errorf("ParseEvent() = %+v", ev)
	}
}

func TestParseEvent_SnakeCaseName(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"hook_event_name":"Stop"}`))
	if err != nil {
		t.Fatalf("ParseEvent() error: %v", err)
	}
	if ev.Name != "Stop" {
		t.Errorf("ParseEvent().Name = %q, want Stop", ev.Name)
	}
}

func TestParseEvent_MissingName_Errors(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"tool_name":"Bash"}`)); err == nil {
		t.Error("ParseEvent() expected error for missing hook_event_name")
	}
}

func TestParseEvent_InvalidJSON_Errors(t *testing.T) {
	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Error("ParseEvent() expected error for invalid JSON")
	}
}

func TestRichHarness_Deny_SetsContinueFalse(t *testing.T) {
	h := RichHarness{}
	event := Event{Name: "PreToolUse"}
	decision := synthesis.FinalDecision{Verb: synthesis.VerbDeny, Reason: "no rm -rf"}

	raw, err := h.FormatResponse(event, decision)
	if err != nil {
		t.Fatalf("FormatResponse() error: %v", err)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["continue"] != false {
		t.Errorf("continue = %v, want false", resp["continue"])
	}
	if resp["decision"] != "block" {
		t.Errorf("decision = %v, want block", resp["decision"])
	}
	if resp["reason"] != "no rm -rf" {
		t.Errorf("reason = %v", resp["reason"])
	}
}

func TestRichHarness_AllowWithContext_InjectsHookSpecificOutput(t *testing.T) {
	h := RichHarness{}
	event := Event{Name: "UserPromptSubmit"}
	decision := synthesis.FinalDecision{Verb: synthesis.VerbAllow, Context: []string{"branch: main", "ci: green"}}

	raw, err := h.FormatResponse(event, decision)
	if err != nil {
		t.Fatalf("FormatResponse() error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(raw, &resp)
	hso, ok := resp["hookSpecificOutput"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected hookSpecificOutput, got %+v", resp)
	}
	if hso["additionalContext"] != "branch: main\nci: green" {
		t.Errorf("additionalContext = %v", hso["additionalContext"])
	}
}

func TestRichHarness_PlainAllow_NoExtraFields(t *testing.T) {
	h := RichHarness{}
	decision := synthesis.FinalDecision{Verb: synthesis.VerbAllow}
	raw, err := h.FormatResponse(Event{Name: "Stop"}, decision)
	if err != nil {
		t.Fatalf("FormatResponse() error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(raw, &resp)
	if resp["continue"] != true {
		t.Errorf("continue = %v, want true", resp["continue"])
	}
	if _, ok := resp["hookSpecificOutput"]; ok {
		t.Error("expected no hookSpecificOutput for context-free allow")
	}
}

func TestRestrictedHarness_ContinueOnlyEvent(t *testing.T) {
	h := RestrictedHarness{}
	event := Event{Name: "beforeSubmitPrompt"}
	decision := synthesis.FinalDecision{Verb: synthesis.VerbDeny, Reason: "blocked"}

	raw, err := h.FormatResponse(event, decision)
	if err != nil {
		t.Fatalf("FormatResponse() error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(raw, &resp)
	if len(resp) != 1 {
		t.Fatalf("resp = %+v, want exactly the continue field", resp)
	}
	if resp["continue"] != false {
		t.Errorf("continue = %v, want false", resp["continue"])
	}
}

func TestRestrictedHarness_PermissionOnlyEvent(t *testing.T) {
	h := RestrictedHarness{}
	event := Event{Name: "beforeReadFile"}
	decision := synthesis.FinalDecision{Verb: synthesis.VerbAllow}

	raw, err := h.FormatResponse(event, decision)
	if err != nil {
		t.Fatalf("FormatResponse() error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(raw, &resp)
	if len(resp) != 1 || resp["permission"] != "allow" {
		t.Errorf("resp = %+v, want only permission=allow", resp)
	}
}

func TestRestrictedHarness_FullEvent_SplitsUserAndAgentMessages(t *testing.T) {
	h := RestrictedHarness{}
	event := Event{Name: "PreToolUse"}
	decision := synthesis.FinalDecision{
		Verb:          synthesis.VerbAsk,
		Reason:        "confirm deletion",
		AgentMessages: []string{"explain risk to user"},
	}

	raw, err := h.FormatResponse(event, decision)
	if err != nil {
		t.Fatalf("FormatResponse() error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(raw, &resp)
	if resp["permission"] != "ask" {
		t.Errorf("permission = %v, want ask", resp["permission"])
	}
	if resp["userMessage"] != "confirm deletion" {
		t.Errorf("userMessage = %v", resp["userMessage"])
	}
	if resp["agentMessage"] != "explain risk to user" {
		t.Errorf("agentMessage = %v", resp["agentMessage"])
	}
}

func TestForName_ResolvesKnownAliases(t *testing.T) {
	cases := map[string]string{
		"rich": "harness.RichHarness", "claude-code": "harness.RichHarness", "": "harness.RichHarness",
		"restricted": "harness.RestrictedHarness", "cursor": "harness.RestrictedHarness",
	}
	for name, want := range cases {
		tr, err := ForName(name)
		if err != nil {
			t.Errorf("ForName(%q) error: %v", name, err)
			continue
		}
		if got := fmt.Sprintf("%T", tr); got != want {
			t.Errorf("ForName(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestForName_UnknownName_Errors(t *testing.T) {
	if _, err := ForName("nonexistent"); err == nil {
		t.Error("ForName() expected error for unknown harness name")
	}
}
