// Package preprocess normalizes a raw hook event before it reaches
// routing or policy evaluation: shell-command fields are whitespace
// normalized and filesystem-path fields are canonicalized, defending
// against adversarial inputs that try to slip a denied pattern past a
// pattern-matching policy via extra whitespace or symlink indirection.
// Preprocessing is mandatory on every evaluation path; the raw input
// is never exposed to policies.
package preprocess

import (
	"path/filepath"
	"regexp"
	"strings"
)

// commandFields lists the tool_input keys whose value is a shell
// command string, per the tool schemas the rich and restricted
// harnesses both forward (Bash's "command").
var commandFields = map[string]bool{
	"command": true,
}

// pathFields lists the tool_input keys whose value is a filesystem
// path, across the file-editing tools both harnesses expose (Read,
// Edit, Write, NotebookEdit).
var pathFields = map[string]bool{
	"file_path":     true,
	"path":          true,
	"notebook_path": true,
	"directory":     true,
}

var innerWhitespace = regexp.MustCompile(`[ \t]+`)

// Event preprocesses a raw event in place on a shallow copy: every
// top-level and tool_input field is processed by name. The original
// map is never mutated; callers get back a new map safe to hand to the
// sandbox.
func Event(raw map[string]interface{}) map[string]interface{} {
	out := shallowCopy(raw)
	applyFields(out)

	if toolInput, ok := out["tool_input"].(map[string]interface{}); ok {
		toolInputCopy := shallowCopy(toolInput)
		applyFields(toolInputCopy)
		out["tool_input"] = toolInputCopy
	}
	return out
}

func applyFields(fields map[string]interface{}) {
	// additions are collected separately and merged after the range
	// below completes: adding resolved_file_path/is_symlink directly to
	// fields while ranging over it is undefined behavior per the Go
	// spec (a key added during a range may or may not be produced).
	var additions map[string]interface{}

	for key, value := range fields {
		str, ok := value.(string)
		if !ok {
			continue
		}
		switch {
		case commandFields[key]:
			fields[key] = NormalizeCommand(str)
		case pathFields[key]:
			// spec.md names the sibling fields resolved_file_path/
			// is_symlink singular; every path-bearing key gets them
			// under that fixed pair of names rather than one pair per
			// key, since a given event carries at most one path field
			// in practice.
			resolved, isSymlink := ResolvePath(str)
			if additions == nil {
				additions = make(map[string]interface{}, 2)
			}
			additions["resolved_file_path"] = resolved
			additions["is_symlink"] = isSymlink
		}
	}

	for key, value := range additions {
		fields[key] = value
	}
}

// NormalizeCommand collapses runs of inline (space/tab) whitespace to
// a single space and trims the edges, while preserving newlines and
// shell operators (&&, ||, ;, |, etc. are untouched since they are not
// whitespace themselves).
func NormalizeCommand(command string) string {
	lines := strings.Split(command, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(innerWhitespace.ReplaceAllString(line, " "))
	}
	return strings.Join(lines, "\n")
}

// ResolvePath canonicalizes path to its real, absolute form and
// reports whether any component along it is a symlink. A path whose
// final component does not exist yet (e.g. a file a Write tool is
// about to create) can't be resolved directly by EvalSymlinks; its
// deepest existing ancestor is resolved instead and the not-yet-created
// tail rejoined onto it, since that ancestor can itself be a symlink
// escaping the intended tree even though the leaf can't be.
func ResolvePath(path string) (resolved string, isSymlink bool) {
	abs := path
	if !filepath.IsAbs(abs) {
		if a, err := filepath.Abs(abs); err == nil {
			abs = a
		}
	}
	abs = filepath.Clean(abs)

	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, real != abs
	}

	var tail []string
	dir := abs
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{real}, tail...)...), real != dir
		}
	}
	return abs, false
}

func shallowCopy(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
