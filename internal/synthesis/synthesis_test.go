package synthesis

import (
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestSynthesize_PriorityHierarchy(t *testing.T) {
	ds := DecisionSet{
		Halts: []DecisionObject{
			{Reason: "Emergency stop", Severity: "CRITICAL", RuleID: "HALT-001"},
		},
		Denials: []DecisionObject{
			{Reason: "Denied", Severity: "HIGH", RuleID: "DENY-001"},
		},
	}

	result := Synthesize(ds)
	if !result.IsHalt() {
		t.Fatalf("Verb = %v, want Halt", result.Verb)
	}
	if result.Reason != "Emergency stop" {
		t.Errorf("Reason = %q", result.Reason)
	}

	ds.Halts = nil
	result = Synthesize(ds)
	if !result.IsBlocking() {
		t.Fatalf("Verb = %v, want blocking", result.Verb)
	}
	if result.Reason != "Denied" {
		t.Errorf("Reason = %q", result.Reason)
	}
}

func TestSynthesize_EmptyDecisionSet_ReturnsAllow(t *testing.T) {
	result := Synthesize(DecisionSet{})
	if result.Verb != VerbAllow {
		t.Fatalf("Verb = %v, want Allow", result.Verb)
	}
	if len(result.Context) != 0 {
		t.Errorf("Context = %v, want empty", result.Context)
	}
}

func TestSynthesize_AllowWithContext(t *testing.T) {
	ds := DecisionSet{
		AddContext: []string{"Reminder: You're on main branch", "Tests are failing"},
	}
	result := Synthesize(ds)
	if result.Verb != VerbAllow {
		t.Fatalf("Verb = %v, want Allow", result.Verb)
	}
	if len(result.Context) != 2 {
		t.Fatalf("Context = %v, want 2 items", result.Context)
	}
}

func TestAggregateReasons_Single(t *testing.T) {
	decisions := []DecisionObject{{Reason: "Single reason", Severity: "HIGH", RuleID: "TEST-001"}}
	if got := aggregateReasons(decisions); got != "Single reason" {
		t.Errorf("aggregateReasons() = %q", got)
	}
}

func TestAggregateReasons_MultipleHighSeverity(t *testing.T) {
	decisions := []DecisionObject{
		{Reason: "First violation", Severity: "HIGH", RuleID: "TEST-001"},
		{Reason: "Second violation", Severity: "HIGH", RuleID: "TEST-002"},
	}
	got := aggregateReasons(decisions)
	if !strings.Contains(got, "Multiple high-severity policy violations") {
		t.Errorf("aggregateReasons() = %q, missing summary prefix", got)
	}
	if !strings.Contains(got, "[TEST-001]") || !strings.Contains(got, "[TEST-002]") {
		t.Errorf("aggregateReasons() = %q, missing rule ids", got)
	}
}

func TestCollectAgentMessages(t *testing.T) {
	decisions := []DecisionObject{
		{Reason: "User message", Severity: "HIGH", RuleID: "TEST-001", AgentContext: strPtr("Technical details for agent")},
		{Reason: "Another message", Severity: "HIGH", RuleID: "TEST-002"},
	}
	got := collectAgentMessages(decisions)
	if len(got) != 1 || got[0] != "Technical details for agent" {
		t.Errorf("collectAgentMessages() = %v", got)
	}
}

func TestSynthesize_BlockBeatsAskBeatsAllowOverride(t *testing.T) {
	ds := DecisionSet{
		Blocks:         []DecisionObject{{Reason: "Blocked", Severity: "HIGH", RuleID: "B-1"}},
		Asks:           []DecisionObject{{Reason: "Confirm?", Severity: "MEDIUM", RuleID: "A-1"}},
		AllowOverrides: []DecisionObject{{Reason: "Override", Severity: "LOW", RuleID: "O-1"}},
	}
	if got := Synthesize(ds).Verb; got != VerbBlock {
		t.Fatalf("Verb = %v, want Block", got)
	}

	ds.Blocks = nil
	if got := Synthesize(ds).Verb; got != VerbAsk {
		t.Fatalf("Verb = %v, want Ask", got)
	}

	ds.Asks = nil
	if got := Synthesize(ds).Verb; got != VerbAllowOverride {
		t.Fatalf("Verb = %v, want AllowOverride", got)
	}
}

func TestSummarize_EmptySet(t *testing.T) {
	if got := Summarize(DecisionSet{}); got != "No decisions" {
		t.Errorf("Summarize() = %q, want %q", got, "No decisions")
	}
}

func TestSummarize_CountsEachVerb(t *testing.T) {
	ds := DecisionSet{
		Halts:   []DecisionObject{{}},
		Denials: []DecisionObject{{}, {}},
	}
	got := Summarize(ds)
	if !strings.Contains(got, "1 halt(s)") || !strings.Contains(got, "2 denial(s)") {
		t.Errorf("Summarize() = %q", got)
	}
}
