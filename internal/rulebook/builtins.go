package rulebook

// BuiltinsConfig maps a shipped built-in policy's feature name to its
// YAML-native configuration block. Its serialized form is injected
// into every evaluation input under "builtin_config" so a built-in
// Rego policy can read its own settings the same way a custom policy
// reads "signals".
type BuiltinsConfig map[string]map[string]interface{}

// Enabled returns the set of built-in feature names present in the
// config, regardless of their individual settings — presence alone
// enables a built-in, per the routing-time filter in policyunit.Scanner.
func (b BuiltinsConfig) Enabled() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	return names
}

// ToJSONConfigs returns the config block exactly as loaded, ready to be
// marshaled under the evaluation input's "builtin_config" key.
func (b BuiltinsConfig) ToJSONConfigs() map[string]interface{} {
	out := make(map[string]interface{}, len(b))
	for name, cfg := range b {
		out[name] = cfg
	}
	return out
}
