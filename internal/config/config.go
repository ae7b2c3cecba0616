// Package config resolves the project and global paths that every other
// Cupcake package is built around, and loads the small amount of
// top-level settings that aren't part of the rulebook.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProjectPaths is resolved from a user-provided input path, which may be
// either a project root or the project's .cupcake/ directory directly.
// Resolution follows convention over configuration: the caller never
// configures these paths individually.
type ProjectPaths struct {
	Root       string // project root (contains .cupcake/)
	CupcakeDir string // .cupcake/
	Policies   string // .cupcake/policies/
	Signals    string // .cupcake/signals/
	Actions    string // .cupcake/actions/
	Rulebook   string // .cupcake/guidebook.yml
	Trust      string // .cupcake/.trust
}

// ResolveProjectPaths accepts either a project root or a .cupcake/
// directory and returns the fully populated path set. It does not
// require any of the paths to exist yet (a fresh project has an empty
// .cupcake/ until `cupcake init` or a policy file is added).
func ResolveProjectPaths(input string) (ProjectPaths, error) {
	abs, err := filepath.Abs(input)
	if err != nil {
		return ProjectPaths{}, fmt.Errorf("resolving project path: %w", err)
	}

	var root, cupcakeDir string
	switch {
	case filepath.Base(abs) == ".cupcake":
		cupcakeDir = abs
		root = filepath.Dir(abs)
	default:
		candidate := filepath.Join(abs, ".cupcake")
		if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() {
			root = abs
			cupcakeDir = candidate
		} else {
			// Legacy: treat input as a direct policies directory whose
			// parent becomes the project root.
			root = filepath.Dir(abs)
			cupcakeDir = filepath.Join(root, ".cupcake")
		}
	}

	return ProjectPaths{
		Root:       root,
		CupcakeDir: cupcakeDir,
		Policies:   filepath.Join(cupcakeDir, "policies"),
		Signals:    filepath.Join(cupcakeDir, "signals"),
		Actions:    filepath.Join(cupcakeDir, "actions"),
		Rulebook:   filepath.Join(cupcakeDir, "guidebook.yml"),
		Trust:      filepath.Join(cupcakeDir, ".trust"),
	}, nil
}

// GlobalPaths mirrors ProjectPaths but for the per-user configuration
// directory. Global paths are optional: their absence simply means no
// global scope is evaluated.
type GlobalPaths struct {
	Root     string
	Policies string
	Signals  string
	Actions  string
	Rulebook string
}

// ResolveGlobalPaths discovers the per-user Cupcake configuration
// directory via $CUPCAKE_GLOBAL_DIR, falling back to
// os.UserConfigDir()/cupcake. It never errors; a missing directory is a
// legitimate "no global scope" state, checked by the caller via Exists.
func ResolveGlobalPaths() GlobalPaths {
	root := os.Getenv("CUPCAKE_GLOBAL_DIR")
	if root == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			root = filepath.Join(dir, "cupcake")
		}
	}
	if root == "" {
		return GlobalPaths{}
	}
	return GlobalPaths{
		Root:     root,
		Policies: filepath.Join(root, "policies"),
		Signals:  filepath.Join(root, "signals"),
		Actions:  filepath.Join(root, "actions"),
		Rulebook: filepath.Join(root, "guidebook.yml"),
	}
}

// Exists reports whether this global scope has anything to evaluate.
func (g GlobalPaths) Exists() bool {
	if g.Root == "" {
		return false
	}
	info, err := os.Stat(g.Root)
	return err == nil && info.IsDir()
}

// Settings holds process-wide knobs that aren't part of a project's
// rulebook: logging format and the WASM sandbox memory override.
type Settings struct {
	LogFormat     string `yaml:"log_format"`
	WASMMaxMemory string `yaml:"wasm_max_memory"`
}

// DefaultSettings returns Settings with the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		LogFormat: "text",
	}
}
