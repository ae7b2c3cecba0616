package engine

import (
	"path/filepath"
	"strings"

	"github.com/eqtylab/cupcake-go/internal/policyunit"
	"github.com/eqtylab/cupcake-go/internal/rulebook"
)

// builtinSegment is the package-name marker that precedes a built-in
// policy's feature name, e.g. "org.policies.builtins.post_edit_check".
const builtinSegment = "builtins."

// requiredSignalNames returns every signal name needed to evaluate
// matched against gb: each policy's statically declared
// required_signals, plus whatever a matched built-in policy
// dynamically pulls in via its "__builtin_<name>" signal convention.
// Built-in policies can't declare these statically because which
// signal applies depends on the event itself (e.g. which file
// extension is being edited).
func requiredSignalNames(matched []policyunit.Unit, gb rulebook.Guidebook, event map[string]interface{}) []string {
	names := make(map[string]bool)
	for _, u := range matched {
		for _, s := range u.Routing.RequiredSignals {
			names[s] = true
		}
	}
	for _, u := range matched {
		builtinName, ok := builtinNameOf(u.PackageName)
		if !ok {
			continue
		}
		for _, name := range builtinSignalNames(builtinName, gb, event) {
			names[name] = true
		}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	return out
}

// builtinNameOf extracts <name> from a package ending in
// "...builtins.<name>".
func builtinNameOf(pkg string) (string, bool) {
	idx := strings.LastIndex(pkg, builtinSegment)
	if idx < 0 {
		return "", false
	}
	name := pkg[idx+len(builtinSegment):]
	if name == "" {
		return "", false
	}
	return name, true
}

// builtinSignalNames returns the rulebook signal names a matched
// built-in policy auto-requires. post_edit_check is special-cased to
// the single signal matching the edited file's extension — without
// this, editing one file would run every language's validation
// command. Every other built-in pulls in every signal beginning with
// its "__builtin_<name>" prefix.
func builtinSignalNames(builtinName string, gb rulebook.Guidebook, event map[string]interface{}) []string {
	if builtinName == "post_edit_check" {
		name, ok := postEditSignalName(event)
		if !ok {
			return nil
		}
		if _, exists := gb.Signal(name); !exists {
			return nil
		}
		return []string{name}
	}

	prefix := "__builtin_" + builtinName
	var out []string
	for name := range gb.Signals {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}

// postEditFileFields lists the tool_input keys (mirroring
// internal/preprocess's pathFields) that carry the path of the file an
// edit-like tool just wrote, in priority order.
var postEditFileFields = []string{"file_path", "path", "notebook_path"}

// postEditSignalName derives the extension-specific post_edit_check
// signal name from the edited file's path, e.g.
// "__builtin_post_edit_check_py" for a path ending in ".py". Returns
// false if the event carries no recognizable file path or the path has
// no extension.
func postEditSignalName(event map[string]interface{}) (string, bool) {
	toolInput, _ := event["tool_input"].(map[string]interface{})
	for _, key := range postEditFileFields {
		if toolInput != nil {
			if path, ok := toolInput[key].(string); ok && path != "" {
				if ext := extensionOf(path); ext != "" {
					return "__builtin_post_edit_check_" + ext, true
				}
			}
		}
	}
	return "", false
}

func extensionOf(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

// withBuiltinConfig returns a copy of enriched with a "builtin_config"
// key populated from gb's builtins section. When override is non-nil
// (the project phase, with the global scope's guidebook as override),
// its entries take precedence over gb's — global enforcement always
// wins over project-level configuration of the same built-in.
func withBuiltinConfig(enriched map[string]interface{}, gb rulebook.Guidebook, override *rulebook.Guidebook) map[string]interface{} {
	input := make(map[string]interface{}, len(enriched)+1)
	for k, v := range enriched {
		input[k] = v
	}

	merged := gb.Builtins.ToJSONConfigs()
	if override != nil {
		for name, cfg := range override.Builtins.ToJSONConfigs() {
			merged[name] = cfg
		}
	}
	if len(merged) > 0 {
		input["builtin_config"] = merged
	}
	return input
}
