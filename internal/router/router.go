// Package router builds and queries the O(1) event:tool -> policy-unit
// index described in the routing map data model. The map is built once
// at engine initialization from the set of scanned policy units and is
// immutable thereafter; lookups are pure index reads, never scans.
package router

import (
	"fmt"
	"strings"

	"github.com/eqtylab/cupcake-go/internal/policyunit"
)

// Router is an immutable O(1) index from "event" or "event:tool" to the
// ordered list of policy units that should be evaluated for that
// criteria.
type Router struct {
	byKey map[string][]policyunit.Unit
}

// Build constructs a Router from the given policy units. It computes the
// primary keys for every unit, then performs the two post-build
// expansions required by the data model: merging every wildcard bucket
// ("event:*") into its concrete "event:tool" siblings, and merging
// every event-only bucket into concrete siblings of tool-bearing
// events.
func Build(units []policyunit.Unit, toolBearingEvents []string) *Router {
	byKey := make(map[string][]policyunit.Unit)

	for _, u := range units {
		for _, key := range routingKeys(u.Routing) {
			byKey[key] = append(byKey[key], u)
		}
	}

	mergeWildcards(byKey)
	mergeEventOnlyIntoToolBearing(byKey, toolBearingEvents)

	return &Router{byKey: byKey}
}

// routingKeys returns every primary routing key a directive generates:
// the bare event name if it has no tool constraint, else one
// "event:tool" key per declared tool (including "event:*" for a
// wildcard tool entry).
func routingKeys(d policyunit.RoutingDirective) []string {
	var keys []string
	for _, event := range d.Events {
		if len(d.Tools) == 0 {
			keys = append(keys, event)
			continue
		}
		for _, tool := range d.Tools {
			keys = append(keys, eventKey(event, tool))
		}
	}
	return keys
}

func eventKey(event, tool string) string {
	return fmt.Sprintf("%s:%s", event, tool)
}

// mergeWildcards additively merges every "event:*" bucket into every
// concrete "event:tool" sibling already present in the map, deduped by
// package name.
func mergeWildcards(byKey map[string][]policyunit.Unit) {
	var wildcardKeys []string
	for key := range byKey {
		if strings.HasSuffix(key, ":*") {
			wildcardKeys = append(wildcardKeys, key)
		}
	}

	for _, wildcardKey := range wildcardKeys {
		eventPrefix := strings.TrimSuffix(wildcardKey, ":*")
		wildcardUnits := byKey[wildcardKey]

		prefix := eventPrefix + ":"
		for key := range byKey {
			if key == wildcardKey || !strings.HasPrefix(key, prefix) {
				continue
			}
			byKey[key] = mergeUnique(byKey[key], wildcardUnits)
		}
	}
}

// mergeEventOnlyIntoToolBearing merges an event-only bucket (e.g. the
// key "PreToolUse") into every concrete "PreToolUse:<tool>" sibling, but
// only for events the caller has declared as always carrying a tool.
// This lets a policy with no tool constraint on a tool-bearing event
// still be found by a tool-qualified lookup.
func mergeEventOnlyIntoToolBearing(byKey map[string][]policyunit.Unit, toolBearingEvents []string) {
	for _, event := range toolBearingEvents {
		eventOnly, ok := byKey[event]
		if !ok {
			continue
		}
		prefix := event + ":"
		for key := range byKey {
			if key == event || !strings.HasPrefix(key, prefix) {
				continue
			}
			byKey[key] = mergeUnique(byKey[key], eventOnly)
		}
	}
}

// mergeUnique appends src units into dst, skipping any unit whose
// package name is already present in dst.
func mergeUnique(dst, src []policyunit.Unit) []policyunit.Unit {
	seen := make(map[string]bool, len(dst))
	for _, u := range dst {
		seen[u.PackageName] = true
	}
	for _, u := range src {
		if seen[u.PackageName] {
			continue
		}
		seen[u.PackageName] = true
		dst = append(dst, u)
	}
	return dst
}

// Route returns every policy unit matching the given event and optional
// tool name. The concrete "event:tool" key is tried first — build time
// already folded wildcard and event-only policies into every concrete
// key that existed when some other policy declared it. A tool name no
// concrete policy ever mentions has no such key, so on a miss Route
// falls back to the event's wildcard key and then its bare event-only
// key directly, the same two buckets the build-time merge draws from.
func (r *Router) Route(event string, tool string) []policyunit.Unit {
	if tool == "" {
		return r.byKey[event]
	}

	key := eventKey(event, tool)
	if units, ok := r.byKey[key]; ok {
		return units
	}

	var out []policyunit.Unit
	if wildcard, ok := r.byKey[eventKey(event, "*")]; ok {
		out = mergeUnique(out, wildcard)
	}
	if eventOnly, ok := r.byKey[event]; ok {
		out = mergeUnique(out, eventOnly)
	}
	return out
}

// Len returns the number of distinct routing keys in the map, for
// diagnostics and tests.
func (r *Router) Len() int {
	return len(r.byKey)
}
