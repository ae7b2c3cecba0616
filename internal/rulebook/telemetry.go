package rulebook

// TelemetryFormat selects how a telemetry record is serialized on disk.
type TelemetryFormat string

const (
	TelemetryFormatJSON   TelemetryFormat = "json"
	TelemetryFormatText   TelemetryFormat = "text"
	TelemetryFormatSQLite TelemetryFormat = "sqlite"
)

// TelemetryConfig controls whether evaluation telemetry is written, and
// where. It is optional in guidebook.yml; a zero value disables
// telemetry entirely.
type TelemetryConfig struct {
	Enabled     bool            `yaml:"enabled"`
	Format      TelemetryFormat `yaml:"format,omitempty"`
	Destination string          `yaml:"destination,omitempty"`
}

// EffectiveFormat defaults an unset format to JSON.
func (c TelemetryConfig) EffectiveFormat() TelemetryFormat {
	if c.Format == "" {
		return TelemetryFormatJSON
	}
	return c.Format
}

// EffectiveDestination defaults an unset destination to .cupcake/telemetry.
func (c TelemetryConfig) EffectiveDestination() string {
	if c.Destination == "" {
		return ".cupcake/telemetry"
	}
	return c.Destination
}
