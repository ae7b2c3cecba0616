package engine

import (
	"reflect"
	"sort"
	"testing"

	"github.com/eqtylab/cupcake-go/internal/policyunit"
	"github.com/eqtylab/cupcake-go/internal/rulebook"
)

func sortedStrings(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestBuiltinNameOf(t *testing.T) {
	cases := []struct {
		pkg      string
		wantName string
		wantOK   bool
	}{
		{"org.policies.builtins.post_edit_check", "post_edit_check", true},
		{"cupcake.global.policies.builtins.system_protection", "system_protection", true},
		{"org.policies.custom_rule", "", false},
		{"org.policies.builtins.", "", false},
	}
	for _, c := range cases {
		name, ok := builtinNameOf(c.pkg)
		if name != c.wantName || ok != c.wantOK {
			t.Errorf("builtinNameOf(%q) = (%q, %v), want (%q, %v)", c.pkg, name, ok, c.wantName, c.wantOK)
		}
	}
}

func TestRequiredSignalNames_StaticallyDeclared(t *testing.T) {
	matched := []policyunit.Unit{
		{PackageName: "org.policies.custom", Routing: policyunit.RoutingDirective{RequiredSignals: []string{"sig_a", "sig_b"}}},
		{PackageName: "org.policies.other", Routing: policyunit.RoutingDirective{RequiredSignals: []string{"sig_b"}}},
	}
	got := requiredSignalNames(matched, rulebook.Guidebook{}, nil)
	if want := []string{"sig_a", "sig_b"}; !reflect.DeepEqual(sortedStrings(got), want) {
		t.Errorf("requiredSignalNames() = %v, want %v", sortedStrings(got), want)
	}
}

func TestRequiredSignalNames_BuiltinAutoInclusion(t *testing.T) {
	matched := []policyunit.Unit{
		{PackageName: "org.policies.builtins.system_protection"},
	}
	gb := rulebook.Guidebook{Signals: map[string]rulebook.SignalConfig{
		"__builtin_system_protection_paths": {Command: "echo paths"},
		"__builtin_other_thing":             {Command: "echo other"},
	}}
	got := requiredSignalNames(matched, gb, nil)
	if want := []string{"__builtin_system_protection_paths"}; !reflect.DeepEqual(got, want) {
		t.Errorf("requiredSignalNames() = %v, want %v", got, want)
	}
}

func TestRequiredSignalNames_PostEditCheck_OnlyExtensionVariant(t *testing.T) {
	matched := []policyunit.Unit{
		{PackageName: "org.policies.builtins.post_edit_check"},
	}
	gb := rulebook.Guidebook{Signals: map[string]rulebook.SignalConfig{
		"__builtin_post_edit_check_py": {Command: "pylint"},
		"__builtin_post_edit_check_js": {Command: "eslint"},
	}}
	event := map[string]interface{}{
		"tool_input": map[string]interface{}{"file_path": "/repo/app/main.py"},
	}
	got := requiredSignalNames(matched, gb, event)
	if want := []string{"__builtin_post_edit_check_py"}; !reflect.DeepEqual(got, want) {
		t.Errorf("requiredSignalNames() = %v, want %v", got, want)
	}
}

func TestRequiredSignalNames_PostEditCheck_NoFilePath_AddsNothing(t *testing.T) {
	matched := []policyunit.Unit{
		{PackageName: "org.policies.builtins.post_edit_check"},
	}
	gb := rulebook.Guidebook{Signals: map[string]rulebook.SignalConfig{
		"__builtin_post_edit_check_py": {Command: "pylint"},
	}}
	got := requiredSignalNames(matched, gb, map[string]interface{}{})
	if len(got) != 0 {
		t.Errorf("requiredSignalNames() = %v, want empty", got)
	}
}

func TestRequiredSignalNames_PostEditCheck_UnknownExtension_SignalOmitted(t *testing.T) {
	matched := []policyunit.Unit{
		{PackageName: "org.policies.builtins.post_edit_check"},
	}
	gb := rulebook.Guidebook{Signals: map[string]rulebook.SignalConfig{
		"__builtin_post_edit_check_py": {Command: "pylint"},
	}}
	event := map[string]interface{}{
		"tool_input": map[string]interface{}{"file_path": "/repo/app/main.rb"},
	}
	got := requiredSignalNames(matched, gb, event)
	if len(got) != 0 {
		t.Errorf("requiredSignalNames() = %v, want empty (no ruby signal configured)", got)
	}
}

func TestWithBuiltinConfig_GlobalOverridesProject(t *testing.T) {
	project := rulebook.Guidebook{Builtins: rulebook.BuiltinsConfig{
		"system_protection": {"enabled": true, "level": "low"},
	}}
	global := rulebook.Guidebook{Builtins: rulebook.BuiltinsConfig{
		"system_protection": {"enabled": true, "level": "high"},
	}}

	input := withBuiltinConfig(map[string]interface{}{"hook_event_name": "PreToolUse"}, project, &global)

	cfg, ok := input["builtin_config"].(map[string]interface{})
	if !ok {
		t.Fatalf("builtin_config missing or wrong type: %#v", input["builtin_config"])
	}
	sp, ok := cfg["system_protection"].(map[string]interface{})
	if !ok {
		t.Fatalf("system_protection config missing or wrong type: %#v", cfg["system_protection"])
	}
	if sp["level"] != "high" {
		t.Errorf("system_protection.level = %v, want high (global override)", sp["level"])
	}
}

func TestWithBuiltinConfig_NoOverride_UsesScopeOwnConfig(t *testing.T) {
	gb := rulebook.Guidebook{Builtins: rulebook.BuiltinsConfig{
		"post_edit_check": {"strict": true},
	}}
	input := withBuiltinConfig(map[string]interface{}{}, gb, nil)
	cfg, ok := input["builtin_config"].(map[string]interface{})
	if !ok {
		t.Fatalf("builtin_config missing: %#v", input)
	}
	if _, ok := cfg["post_edit_check"]; !ok {
		t.Errorf("expected post_edit_check in builtin_config, got %#v", cfg)
	}
}

func TestWithBuiltinConfig_EmptyBuiltins_NoKeyAdded(t *testing.T) {
	input := withBuiltinConfig(map[string]interface{}{"a": 1}, rulebook.Guidebook{}, nil)
	if _, ok := input["builtin_config"]; ok {
		t.Errorf("expected no builtin_config key when no builtins are configured, got %#v", input)
	}
	if input["a"] != 1 {
		t.Errorf("expected original fields preserved, got %#v", input)
	}
}

func TestExtensionOf(t *testing.T) {
	cases := map[string]string{
		"/repo/app/main.py":  "py",
		"/repo/app/main.tar.gz": "gz",
		"/repo/app/Makefile": "",
		"":                   "",
	}
	for path, want := range cases {
		if got := extensionOf(path); got != want {
			t.Errorf("extensionOf(%q) = %q, want %q", path, got, want)
		}
	}
}
