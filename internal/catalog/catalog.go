// Package catalog defines the engine's contract with the catalog
// subsystem — download/install/lint/package of third-party rulebook
// bundles is out of core scope; only the shape the engine consumes is
// defined here, so a project that mounts catalog bundles can be wired
// in without the evaluation pipeline knowing anything about catalog
// repositories, registries, or lock files.
package catalog

import "github.com/eqtylab/cupcake-go/internal/rulebook"

// Bundle is what a catalog loader hands back for the engine to mount
// alongside a project's own policy scope: the compiled policy bytes,
// the signal/action sources its manifest declares, and the on-disk
// path it was unpacked to (so the engine can resolve the working
// directory actions/signals run from).
type Bundle struct {
	WASM    []byte
	Signals map[string]rulebook.SignalConfig
	Actions map[string]rulebook.ActionConfig
	OnDisk  string
}

// Loader mounts a catalog bundle by name (as pinned in a catalog lock
// file) and returns its contents. Implementations live outside this
// module — install, upgrade, lint, and package are CLI-surface
// concerns with no bearing on evaluation.
type Loader interface {
	Load(name string) (Bundle, error)
}
