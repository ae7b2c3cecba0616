package harness

import (
	"encoding/json"
	"fmt"
)

// Event is the harness-agnostic parsed shape of a raw hook event. Both
// concrete harnesses parse into this same struct; only the response
// side of the translation differs between them. Fields beyond the
// ones the engine routes and preprocesses on are preserved verbatim in
// Raw so policies can inspect them as `input.<field>`.
type Event struct {
	Name     string                 `json:"hook_event_name"`
	ToolName string                 `json:"tool_name,omitempty"`
	CWD      string                 `json:"cwd,omitempty"`
	Raw      map[string]interface{} `json:"-"`
}

// hookEventNameKeys lists the wire keys that carry the event name,
// camelCase first since that is what the rich harness actually emits;
// the snake_case form exists for callers (tests, the restricted
// harness) that prefer it.
var hookEventNameKeys = []string{"hookEventName", "hook_event_name"}

// ParseEvent parses a raw hook event payload into Event. It is shared
// by both concrete harnesses: they differ in response shape, not in
// how the incoming event is read.
func ParseEvent(input []byte) (Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(input, &raw); err != nil {
		return Event{}, fmt.Errorf("parsing hook event: %w", err)
	}

	ev := Event{Raw: raw}
	for _, key := range hookEventNameKeys {
		if name, ok := raw[key].(string); ok && name != "" {
			ev.Name = name
			break
		}
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("hook event missing required field hook_event_name")
	}
	if tool, ok := raw["tool_name"].(string); ok {
		ev.ToolName = tool
	} else if tool, ok := raw["toolName"].(string); ok {
		ev.ToolName = tool
	}
	if cwd, ok := raw["cwd"].(string); ok {
		ev.CWD = cwd
	}
	return ev, nil
}

// restrictedResponseMode classifies how little a restricted harness
// event schema can express, so FormatResponse knows which wire shape
// to emit for it. Events not listed here get the full permission
// model the restricted harness otherwise supports.
type restrictedResponseMode int

const (
	modeFullPermission restrictedResponseMode = iota
	modeContinueOnly
	modePermissionOnly
)

// restrictedModeByEvent hardcodes the handful of restricted-harness
// event names with a narrower response schema than the rest; every
// other event name falls through to modeFullPermission.
var restrictedModeByEvent = map[string]restrictedResponseMode{
	"beforeSubmitPrompt": modeContinueOnly,
	"beforeReadFile":     modePermissionOnly,
}
