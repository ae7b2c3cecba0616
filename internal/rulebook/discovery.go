package rulebook

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// scriptExtensions lists the interpreters a discovered signal or action
// script may be written in, and the interpreter used to run each.
var scriptExtensions = map[string]string{
	".sh":  "sh",
	".py":  "python3",
	".js":  "node",
}

// DiscoverSignals scans dir for files named "<signal-name>.<ext>" where
// ext is one of the supported script extensions, and merges them into
// an already-loaded Guidebook as additional signals. Guidebook-declared
// signals take precedence over a discovered file of the same name,
// letting a project override the convention-based command explicitly.
func DiscoverSignals(dir string, gb Guidebook) (Guidebook, error) {
	entries, err := discoverScripts(dir)
	if err != nil {
		return gb, err
	}

	if gb.Signals == nil {
		gb.Signals = make(map[string]SignalConfig, len(entries))
	}
	for name, command := range entries {
		if _, exists := gb.Signals[name]; exists {
			continue
		}
		gb.Signals[name] = SignalConfig{Command: command}
	}
	return gb, nil
}

// DiscoverActions scans dir for subdirectories named after a rule ID,
// each containing one or more scripts to run when that rule ID
// triggers a denial. Discovered actions are appended after any
// guidebook-declared actions for the same rule ID.
func DiscoverActions(dir string, gb Guidebook) (Guidebook, error) {
	ruleDirs, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return gb, nil
		}
		return gb, err
	}

	if gb.Actions.ByRuleID == nil {
		gb.Actions.ByRuleID = make(map[string][]ActionConfig)
	}

	for _, ruleDir := range ruleDirs {
		if !ruleDir.IsDir() {
			continue
		}
		ruleID := ruleDir.Name()
		scripts, err := discoverScripts(filepath.Join(dir, ruleID))
		if err != nil {
			return gb, err
		}

		names := make([]string, 0, len(scripts))
		for name := range scripts {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			gb.Actions.ByRuleID[ruleID] = append(gb.Actions.ByRuleID[ruleID], ActionConfig{
				Command: scripts[name],
			})
		}
	}
	return gb, nil
}

// discoverScripts returns a map of script base name (without extension)
// to the interpreter command line that runs it, for every recognized
// script file directly inside dir. A missing dir yields an empty map,
// not an error.
func discoverScripts(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	found := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		interpreter, ok := scriptExtensions[ext]
		if !ok {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		path := filepath.Join(dir, entry.Name())
		found[name] = interpreter + " " + path
	}
	return found, nil
}
