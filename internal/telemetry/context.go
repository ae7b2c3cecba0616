package telemetry

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eqtylab/cupcake-go/internal/rulebook"
)

// NewTraceID mints a new trace identifier. Evaluation call sites mint
// one at the very start of a request, before any parsing, so the raw
// event can be captured under it even if parsing later fails.
func NewTraceID() string {
	return ulid.Make().String()
}

// Context is the central telemetry record that flows through one
// evaluation end to end: the raw ingest, the preprocessing enrichment,
// and one evaluate span per routing phase. It is created immediately
// after the raw event is parsed and finalized exactly once, whether
// evaluation completes normally or exits early.
type Context struct {
	mu sync.Mutex

	Ingest      IngestSpan      `json:"ingest"`
	Enrich      *EnrichSpan     `json:"enrich,omitempty"`
	Evaluations []*EvaluateSpan `json:"evaluations"`

	ResponseToAgent json.RawMessage `json:"response_to_agent,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
	TotalDurationMs int64           `json:"total_duration_ms"`

	debugFilesEnabled bool
	debugDir          string
	telemetryConfig   *rulebook.TelemetryConfig
	sqliteWriter      *SQLiteWriter

	finalized    bool
	startInstant time.Time

	logger *slog.Logger
}

// New creates a Context capturing rawEvent under a freshly assigned
// span, before any preprocessing has touched it.
func New(rawEvent map[string]interface{}, harness, traceID string, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Ingest:       newIngestSpan(rawEvent, traceID, harness),
		Evaluations:  []*EvaluateSpan{},
		startInstant: time.Now(),
		logger:       logger.With("component", "telemetry.Context"),
	}
}

// Configure sets the debug-file and telemetry-file output destinations.
// Called once engine configuration (parsed from guidebook.yml) is
// available, which is after New since the trace ID must be assigned
// before any YAML is even read.
func (c *Context) Configure(debugFilesEnabled bool, debugDir string, telemetryConfig *rulebook.TelemetryConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debugFilesEnabled = debugFilesEnabled
	c.debugDir = debugDir
	c.telemetryConfig = telemetryConfig
}

// SetSQLiteWriter attaches a long-lived sqlite destination, shared
// across every Context a long-running process (the daemon) creates, so
// the database is opened once rather than per evaluation. One-shot CLI
// invocations that never call this still get a sqlite destination:
// Finalize opens and closes one for the single write.
func (c *Context) SetSQLiteWriter(w *SQLiteWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sqliteWriter = w
}

// RecordEnrichment records the preprocessing stage's output event, the
// operations it applied, and how long it took.
func (c *Context) RecordEnrichment(enrichedEvent map[string]interface{}, operations []string, durationUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	enrich := newEnrichSpan(enrichedEvent, operations, durationUs, c.Ingest.SpanID, c.Ingest.StartTimeUnixNano)
	c.Enrich = &enrich
}

// StartEvaluation opens a new evaluate span for phase ("global",
// "project", or "catalog:<name>") and returns it for the caller to
// record routing, decisions, and signal results onto as the phase
// proceeds.
func (c *Context) StartEvaluation(phase string) *EvaluateSpan {
	c.mu.Lock()
	defer c.mu.Unlock()
	span := newEvaluateSpan(phase, c.Ingest.SpanID)
	c.Evaluations = append(c.Evaluations, span)
	return span
}

// SetResponse records the response about to be sent back to the agent.
func (c *Context) SetResponse(response json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResponseToAgent = response
}

// AddError appends an error encountered during processing; it does not
// abort evaluation.
func (c *Context) AddError(err string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errors = append(c.Errors, err)
}

// TraceID returns the trace identifier assigned at creation.
func (c *Context) TraceID() string {
	return c.Ingest.TraceID
}

// HasOutputConfigured reports whether any destination (debug files or
// configured telemetry) would make Finalize do any writing.
func (c *Context) HasOutputConfigured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debugFilesEnabled || (c.telemetryConfig != nil && c.telemetryConfig.Enabled)
}

// Finalize closes every open span, computes the total duration, and
// writes the record to every configured destination. It is idempotent:
// only the first call does any work, so deferring it unconditionally
// at the top of the call stack (the engine's panic/early-return guard)
// is always safe even if a normal path already finalized.
func (c *Context) Finalize(response json.RawMessage) {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	if response != nil {
		c.ResponseToAgent = response
	}
	for _, eval := range c.Evaluations {
		eval.finalize()
	}
	c.Ingest.finalize()
	c.TotalDurationMs = time.Since(c.startInstant).Milliseconds()
	c.finalized = true
	debugFilesEnabled, debugDir, telemetryConfig, sqliteWriter := c.debugFilesEnabled, c.debugDir, c.telemetryConfig, c.sqliteWriter
	c.mu.Unlock()

	c.writeAll(debugFilesEnabled, debugDir, telemetryConfig, sqliteWriter)
}

// FinalizeOnPanic is called via defer at the top of request handling.
// If a panic is unwinding the stack and Finalize has not run yet, it
// records the panic and performs a best-effort write. In every panic
// case it then re-panics with the recovered value.
func (c *Context) FinalizeOnPanic() {
	if r := recover(); r != nil {
		c.mu.Lock()
		already := c.finalized
		c.mu.Unlock()
		if !already {
			c.AddError("process panicked unexpectedly")
			c.Finalize(nil)
		}
		panic(r)
	}
}

func (c *Context) writeAll(debugFilesEnabled bool, debugDir string, telemetryConfig *rulebook.TelemetryConfig, sqliteWriter *SQLiteWriter) {
	if debugFilesEnabled {
		dir := debugDir
		if dir == "" {
			dir = ".cupcake/debug"
		}
		if err := WriteDebugFile(c, dir); err != nil {
			c.logger.Warn("failed to write telemetry debug file", "error", err)
		} else {
			c.logger.Debug("wrote telemetry debug file", "dir", dir)
		}
	}

	if telemetryConfig == nil || !telemetryConfig.Enabled {
		return
	}

	destination := telemetryConfig.EffectiveDestination()
	format := telemetryConfig.EffectiveFormat()

	if format != rulebook.TelemetryFormatSQLite {
		if err := WriteTelemetry(c, format, destination); err != nil {
			c.logger.Warn("failed to write telemetry", "error", err)
		} else {
			c.logger.Debug("wrote telemetry", "destination", destination)
		}
		return
	}

	writer := sqliteWriter
	if writer == nil {
		opened, err := NewSQLiteWriter(destination)
		if err != nil {
			c.logger.Warn("failed to open sqlite telemetry destination", "error", err)
			return
		}
		defer opened.Close()
		writer = opened
	}
	if err := writer.Write(c); err != nil {
		c.logger.Warn("failed to write telemetry to sqlite", "error", err)
		return
	}
	c.logger.Debug("wrote telemetry to sqlite", "destination", destination)
}
