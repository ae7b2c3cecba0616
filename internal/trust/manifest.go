// Package trust implements script-trust integrity: every signal and
// action command configured in a project's guidebook is content-hash
// bound to a signed manifest, so an attacker who edits a script on
// disk (or swaps which script a guidebook entry points at) cannot get
// it executed silently. Operators explicitly approve changes with
// `trust update`.
package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrManifestTampered is returned by LoadManifest when a `.trust`
// file's stored digest doesn't match its own content — either the file
// was hand-edited outside of Save, or corrupted. Recovery is
// `cupcake trust reset --force` followed by `cupcake trust init`; there
// is no way to repair a tampered manifest in place, since doing so
// would mean trusting the very edit the digest exists to catch.
var ErrManifestTampered = errors.New("trust manifest failed integrity check (run 'cupcake trust reset --force' then 'cupcake trust init')")

// Mode is whether trust verification is actively enforced.
type Mode string

const (
	ModeEnabled  Mode = "enabled"
	ModeDisabled Mode = "disabled"
)

// ScriptEntry binds a configured command to the content hash of the
// script file it ultimately invokes.
type ScriptEntry struct {
	Command string `json:"command"`
	Hash    string `json:"hash"`
}

// Manifest is the full `.trust` file: every known script's entry,
// grouped by category ("signals" or "actions"), plus the enforcement
// mode and creation time. A Manifest is safe for concurrent use.
type Manifest struct {
	mu        sync.RWMutex
	CreatedAt time.Time                          `json:"created_at"`
	Revision  string                             `json:"revision"`
	ModeField Mode                               `json:"mode"`
	Scripts   map[string]map[string]ScriptEntry  `json:"scripts"`
}

// New creates an empty, enabled Manifest. Revision is a ULID so
// manifests saved within the same second still sort and compare
// unambiguously, unlike a plain timestamp.
func New() *Manifest {
	return &Manifest{
		CreatedAt: time.Now(),
		Revision:  ulid.Make().String(),
		ModeField: ModeEnabled,
		Scripts:   make(map[string]map[string]ScriptEntry),
	}
}

// IsEnabled reports whether trust verification is currently enforced.
func (m *Manifest) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ModeField == ModeEnabled
}

// SetMode changes the enforcement mode.
func (m *Manifest) SetMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModeField = mode
}

// AddScript registers or overwrites a script entry in the given
// category.
func (m *Manifest) AddScript(category, name string, entry ScriptEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Scripts[category] == nil {
		m.Scripts[category] = make(map[string]ScriptEntry)
	}
	m.Scripts[category][name] = entry
}

// GetScript looks up a script entry by category and name.
func (m *Manifest) GetScript(category, name string) (ScriptEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.Scripts[category][name]
	return entry, ok
}

// Categories returns every category name in the manifest, sorted for
// deterministic iteration order.
func (m *Manifest) Categories() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.Scripts))
	for c := range m.Scripts {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

// ScriptsIn returns the scripts registered under a category, sorted by
// name.
func (m *Manifest) ScriptsIn(category string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.Scripts[category]))
	for name := range m.Scripts[category] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalScripts returns the number of script entries across every
// category.
func (m *Manifest) TotalScripts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, scripts := range m.Scripts {
		total += len(scripts)
	}
	return total
}

// manifestPayload is every field a `.trust` file's tamper-evident
// digest is computed over. encoding/json marshals map keys in sorted
// order, so this serialization is deterministic regardless of Go map
// iteration order — the same Manifest content always digests to the
// same bytes.
type manifestPayload struct {
	CreatedAt time.Time                         `json:"created_at"`
	Revision  string                            `json:"revision"`
	Mode      Mode                              `json:"mode"`
	Scripts   map[string]map[string]ScriptEntry `json:"scripts"`
}

// manifestJSON is the on-disk representation: the digested payload
// plus the digest itself, which guards the payload as a whole against
// any edit made outside of Save — per spec.md's "persisted... with a
// tamper-evident digest over its contents", this is the outer integrity
// check that per-script content hashes alone don't provide (those only
// protect each script file, not the manifest binding them together).
type manifestJSON struct {
	manifestPayload
	Digest string `json:"digest"`
}

// digestPayload computes the hex-encoded SHA-256 digest of payload's
// canonical JSON encoding.
func digestPayload(payload manifestPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling trust manifest for digest: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Save writes the manifest to path as JSON, stamping a fresh revision
// ULID and a fresh content digest on every write so concurrent readers
// can detect that the file changed underneath them and LoadManifest can
// detect tampering.
func (m *Manifest) Save(path string) error {
	m.mu.Lock()
	m.Revision = ulid.Make().String()
	scripts := make(map[string]map[string]ScriptEntry, len(m.Scripts))
	for category, entries := range m.Scripts {
		copied := make(map[string]ScriptEntry, len(entries))
		for name, entry := range entries {
			copied[name] = entry
		}
		scripts[category] = copied
	}
	payload := manifestPayload{CreatedAt: m.CreatedAt, Revision: m.Revision, Mode: m.ModeField, Scripts: scripts}
	m.mu.Unlock()

	digest, err := digestPayload(payload)
	if err != nil {
		return err
	}
	snapshot := manifestJSON{manifestPayload: payload, Digest: digest}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling trust manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating trust manifest directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadManifest reads and parses a `.trust` file, recomputing its
// content digest and returning ErrManifestTampered if it doesn't match
// the stored one.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust manifest %q: %w", path, err)
	}

	var snapshot manifestJSON
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parsing trust manifest %q: %w", path, err)
	}

	if snapshot.Scripts == nil {
		snapshot.Scripts = make(map[string]map[string]ScriptEntry)
	}

	wantDigest, err := digestPayload(snapshot.manifestPayload)
	if err != nil {
		return nil, err
	}
	if snapshot.Digest != wantDigest {
		return nil, ErrManifestTampered
	}

	return &Manifest{
		CreatedAt: snapshot.CreatedAt,
		Revision:  snapshot.Revision,
		ModeField: snapshot.Mode,
		Scripts:   snapshot.Scripts,
	}, nil
}

// hashFile computes the hex-encoded SHA-256 digest of a file's
// contents.
func hashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}
