// Package policyunit discovers Rego policy files under a policies root
// and extracts the routing metadata each one declares. A Unit is
// the atomic thing the router, compiler, and signal gatherer all index
// by.
package policyunit

// RoutingDirective describes which hook events (and optionally which
// tools) a policy applies to, and which signals it needs gathered
// before evaluation.
//
// An empty Tools set means "event-only" (applies to every invocation of
// the event regardless of tool). A Tools set containing "*" means
// "wildcard" and is additively merged into every concrete event:tool
// sibling at routing-map build time.
type RoutingDirective struct {
	Events          []string `yaml:"required_events"`
	Tools           []string `yaml:"required_tools,omitempty"`
	RequiredSignals []string `yaml:"required_signals,omitempty"`
}

// IsEmpty reports whether this directive declares no events at all,
// which is only valid for system aggregation policies.
func (r RoutingDirective) IsEmpty() bool {
	return len(r.Events) == 0
}

// Metadata is the full set of fields Cupcake reads out of a policy's
// leading metadata comment block. Only Custom.Routing is mandatory for
// non-system policies; the rest are free-form annotation fields carried
// through for tooling (catalog, lint) that lives outside this module.
type Metadata struct {
	Title       string          `yaml:"title,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Custom      MetadataCustom  `yaml:"custom"`
}

// MetadataCustom holds the routing directive nested the way OPA
// metadata annotations nest custom fields under `custom:`.
type MetadataCustom struct {
	Routing *RoutingDirective `yaml:"routing,omitempty"`
}

// Unit is a discovered policy source file together with the metadata
// extracted from it. Units are built once at engine initialization and
// are immutable thereafter.
type Unit struct {
	Path        string
	PackageName string
	Routing     RoutingDirective
	Metadata    *Metadata
}

// IsSystem reports whether this unit's package is a system aggregation
// endpoint (package name ends in ".system"), which needs no routing
// directive because it is never looked up by event — it is always the
// compiler's configured entry point.
func (u Unit) IsSystem() bool {
	return isSystemPackage(u.PackageName)
}

func isSystemPackage(pkg string) bool {
	const suffix = ".system"
	return len(pkg) >= len(suffix) && pkg[len(pkg)-len(suffix):] == suffix
}
