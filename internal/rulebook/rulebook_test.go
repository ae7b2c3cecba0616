package rulebook

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleGuidebook = `
signals:
  git.current_branch:
    command: "git rev-parse --abbrev-ref HEAD"
    timeout_seconds: 2

actions:
  on_any_denial:
    - command: "logger 'Cupcake policy violation occurred.'"
  by_rule_id:
    BASH001:
      - command: "notify-slack --channel dev-guidance --message 'grep usage detected'"
`

func TestLoad_ParsesGuidebook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guidebook.yml")
	if err := os.WriteFile(path, []byte(sampleGuidebook), 0o644); err != nil {
		t.Fatal(err)
	}

	gb, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	sig, ok := gb.Signal("git.current_branch")
	if !ok {
		t.Fatal("signal git.current_branch not found")
	}
	if sig.Command != "git rev-parse --abbrev-ref HEAD" {
		t.Errorf("Command = %q", sig.Command)
	}
	if sig.EffectiveTimeoutSeconds() != 2 {
		t.Errorf("EffectiveTimeoutSeconds() = %d, want 2", sig.EffectiveTimeoutSeconds())
	}

	actions := gb.ActionsForRule("BASH001")
	if len(actions) != 2 {
		t.Fatalf("ActionsForRule(BASH001) = %d actions, want 2", len(actions))
	}
}

func TestLoad_MissingFile_ReturnsEmptyGuidebook(t *testing.T) {
	gb, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(gb.Signals) != 0 {
		t.Errorf("Signals = %v, want empty", gb.Signals)
	}
}

func TestSignalConfig_DefaultTimeout(t *testing.T) {
	s := SignalConfig{Command: "echo hi"}
	if s.EffectiveTimeoutSeconds() != 5 {
		t.Errorf("EffectiveTimeoutSeconds() = %d, want 5", s.EffectiveTimeoutSeconds())
	}
}

func TestActionsForRule_OnAnyDenialAlwaysIncluded(t *testing.T) {
	gb := Guidebook{
		Actions: ActionSection{
			OnAnyDenial: []ActionConfig{{Command: "log"}},
		},
	}
	actions := gb.ActionsForRule("UNKNOWN-RULE")
	if len(actions) != 1 || actions[0].Command != "log" {
		t.Errorf("ActionsForRule() = %v", actions)
	}
}

func TestDiscoverSignals_FindsScriptsByExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"check.sh", "validate.py", "notify.js", "ignore.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	gb, err := DiscoverSignals(dir, Guidebook{})
	if err != nil {
		t.Fatalf("DiscoverSignals() error: %v", err)
	}
	if len(gb.Signals) != 3 {
		t.Fatalf("got %d discovered signals, want 3: %v", len(gb.Signals), gb.Signals)
	}
	if _, ok := gb.Signal("check"); !ok {
		t.Error("expected signal 'check' from check.sh")
	}
	if _, ok := gb.Signal("ignore"); ok {
		t.Error("ignore.txt should not have been discovered as a signal")
	}
}

func TestDiscoverSignals_GuidebookOverridesDiscovered(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "check.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	gb := Guidebook{Signals: map[string]SignalConfig{
		"check": {Command: "explicit-override-command"},
	}}

	gb, err := DiscoverSignals(dir, gb)
	if err != nil {
		t.Fatalf("DiscoverSignals() error: %v", err)
	}
	if gb.Signals["check"].Command != "explicit-override-command" {
		t.Errorf("Command = %q, want explicit override preserved", gb.Signals["check"].Command)
	}
}

func TestDiscoverActions_FindsScriptsByRuleIDDirectory(t *testing.T) {
	dir := t.TempDir()
	ruleDir := filepath.Join(dir, "BASH001")
	if err := os.MkdirAll(ruleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ruleDir, "notify.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	gb, err := DiscoverActions(dir, Guidebook{})
	if err != nil {
		t.Fatalf("DiscoverActions() error: %v", err)
	}
	actions := gb.ActionsForRule("BASH001")
	if len(actions) != 1 {
		t.Fatalf("ActionsForRule(BASH001) = %d, want 1", len(actions))
	}
}

func TestDiscoverActions_MissingDir_ReturnsUnchanged(t *testing.T) {
	gb, err := DiscoverActions(filepath.Join(t.TempDir(), "missing"), Guidebook{})
	if err != nil {
		t.Fatalf("DiscoverActions() error: %v", err)
	}
	if len(gb.Actions.ByRuleID) != 0 {
		t.Errorf("ByRuleID = %v, want empty", gb.Actions.ByRuleID)
	}
}
