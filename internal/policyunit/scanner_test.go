package policyunit

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validPolicy = `# METADATA
# title: post edit check
# custom:
#   routing:
#     required_events: ["PreToolUse"]
#     required_tools: ["Bash"]
package org.policies.post_edit_check

deny[msg] { false }
`

func TestScanner_ParsesValidPolicy(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "a.rego", validPolicy)

	s := NewScanner(nil, nil)
	units, err := s.Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]
	if u.PackageName != "org.policies.post_edit_check" {
		t.Errorf("PackageName = %q", u.PackageName)
	}
	if len(u.Routing.Events) != 1 || u.Routing.Events[0] != "PreToolUse" {
		t.Errorf("Routing.Events = %v", u.Routing.Events)
	}
	if len(u.Routing.Tools) != 1 || u.Routing.Tools[0] != "Bash" {
		t.Errorf("Routing.Tools = %v", u.Routing.Tools)
	}
}

func TestScanner_MissingRoutingDirectiveIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "bad.rego", "package org.policies.no_routing\n")

	s := NewScanner(nil, nil)
	units, err := s.Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("got %d units, want 0 (policy should be skipped, not crash)", len(units))
	}
}

func TestScanner_SystemPolicyNeedsNoRouting(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "sys.rego", "package cupcake.system\n\nevaluate := {}\n")

	s := NewScanner(nil, nil)
	units, err := s.Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if !units[0].IsSystem() {
		t.Error("IsSystem() = false, want true")
	}
}

func TestScanner_BuiltinFilteredWhenNotEnabled(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "builtin.rego", `# METADATA
# custom:
#   routing:
#     required_events: ["PreToolUse"]
package org.policies.builtins.protected_paths
`)

	s := NewScanner(nil, nil) // no builtins enabled
	units, err := s.Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("got %d units, want 0 (builtin not enabled)", len(units))
	}

	s2 := NewScanner([]string{"protected_paths"}, nil)
	units2, err := s2.Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(units2) != 1 {
		t.Fatalf("got %d units, want 1 (builtin enabled)", len(units2))
	}
}

func TestScanner_MissingRootYieldsNoUnitsNoError(t *testing.T) {
	s := NewScanner(nil, nil)
	units, err := s.Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if units != nil {
		t.Errorf("units = %v, want nil", units)
	}
}
