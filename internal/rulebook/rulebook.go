// Package rulebook loads the guidebook.yml phonebook (signal and action
// command mappings), discovers signals and actions placed by
// convention under signals/ and actions/<rule_id>/, and evaluates the
// optional CEL condition that gates whether a signal or action runs at
// all for a given event.
package rulebook

// SignalConfig is a named signal's command and execution timeout.
type SignalConfig struct {
	Command        string `yaml:"command"`
	TimeoutSeconds uint64 `yaml:"timeout_seconds,omitempty"`
	// Condition is an optional CEL expression; when present, the signal
	// is only executed if it evaluates to true against the event being
	// processed. An absent condition always runs.
	Condition string `yaml:"condition,omitempty"`
}

// EffectiveTimeoutSeconds returns the configured timeout, defaulting to
// 5 seconds when unset.
func (s SignalConfig) EffectiveTimeoutSeconds() uint64 {
	if s.TimeoutSeconds == 0 {
		return 5
	}
	return s.TimeoutSeconds
}

// ActionConfig is a single action's command, optionally gated by a CEL
// condition the same way a signal is.
type ActionConfig struct {
	Command   string `yaml:"command"`
	Condition string `yaml:"condition,omitempty"`
}

// ActionSection separates actions that fire on any denial from actions
// scoped to a specific rule ID.
type ActionSection struct {
	OnAnyDenial []ActionConfig            `yaml:"on_any_denial,omitempty"`
	ByRuleID    map[string][]ActionConfig `yaml:"by_rule_id,omitempty"`
}

// Guidebook is the full phonebook: signal name -> command, and action
// rule ID -> command(s). It holds no orchestration logic of its own;
// internal/signal and internal/action do the dispatching.
type Guidebook struct {
	Signals   map[string]SignalConfig `yaml:"signals,omitempty"`
	Actions   ActionSection           `yaml:"actions,omitempty"`
	Builtins  BuiltinsConfig          `yaml:"builtins,omitempty"`
	Telemetry TelemetryConfig         `yaml:"telemetry,omitempty"`
	// Watchdog is the rulebook's watchdog block (enabled flag plus
	// settings), decoded as-is; nothing in this module acts on it.
	Watchdog map[string]any `yaml:"watchdog,omitempty"`
}

// Signal looks up a signal by name.
func (g Guidebook) Signal(name string) (SignalConfig, bool) {
	s, ok := g.Signals[name]
	return s, ok
}

// ActionsForRule returns every action that should run for a violation
// of the given rule ID: the always-run on_any_denial actions followed
// by any actions registered specifically for that rule ID.
func (g Guidebook) ActionsForRule(ruleID string) []ActionConfig {
	actions := make([]ActionConfig, 0, len(g.Actions.OnAnyDenial))
	actions = append(actions, g.Actions.OnAnyDenial...)
	actions = append(actions, g.Actions.ByRuleID[ruleID]...)
	return actions
}
