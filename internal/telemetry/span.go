// Package telemetry records an OTLP-shaped trace of one evaluation: a
// root ingest span, an optional enrich span, and one evaluate span per
// routing phase (global, project, or a named catalog bundle).
package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/eqtylab/cupcake-go/internal/synthesis"
)

// newSpanID returns a 16-hex-character (8 byte) span identifier. OTLP
// span IDs have no semantic content beyond uniqueness within a trace,
// so raw random bytes serve as well as deriving them from a trace ID's
// tail, and crypto/rand needs no library the rest of the stack doesn't
// already assume.
func newSpanID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// IngestSpan is the root span of an evaluation trace, capturing the
// event exactly as received before any preprocessing.
type IngestSpan struct {
	SpanID            string                 `json:"span_id"`
	ParentSpanID      string                 `json:"parent_span_id"`
	TraceID           string                 `json:"trace_id"`
	Timestamp         time.Time              `json:"timestamp"`
	StartTimeUnixNano int64                  `json:"start_time_unix_nano"`
	EndTimeUnixNano   int64                  `json:"end_time_unix_nano,omitempty"`
	RawEvent          map[string]interface{} `json:"raw_event"`
	Harness           string                 `json:"harness"`
}

func newIngestSpan(rawEvent map[string]interface{}, traceID, harness string) IngestSpan {
	now := time.Now()
	return IngestSpan{
		SpanID:            newSpanID(),
		ParentSpanID:      "",
		TraceID:           traceID,
		Timestamp:         now,
		StartTimeUnixNano: now.UnixNano(),
		RawEvent:          rawEvent,
		Harness:           harness,
	}
}

func (s *IngestSpan) finalize() {
	s.EndTimeUnixNano = time.Now().UnixNano()
}

// EnrichSpan is the preprocessing child span: what the event looked
// like after whitespace normalization and path canonicalization, and
// which operations were applied.
type EnrichSpan struct {
	SpanID                  string                 `json:"span_id"`
	ParentSpanID            string                 `json:"parent_span_id"`
	StartTimeUnixNano       int64                  `json:"start_time_unix_nano"`
	EndTimeUnixNano         int64                  `json:"end_time_unix_nano"`
	EnrichedEvent           map[string]interface{} `json:"enriched_event"`
	PreprocessingOperations []string               `json:"preprocessing_operations"`
	DurationUs              int64                  `json:"duration_us"`
}

func newEnrichSpan(enrichedEvent map[string]interface{}, operations []string, durationUs int64, parentSpanID string, parentStart int64) EnrichSpan {
	return EnrichSpan{
		SpanID:                  newSpanID(),
		ParentSpanID:            parentSpanID,
		StartTimeUnixNano:       parentStart,
		EndTimeUnixNano:         parentStart + durationUs*1000,
		EnrichedEvent:           enrichedEvent,
		PreprocessingOperations: operations,
		DurationUs:              durationUs,
	}
}

// SignalExecution records one signal command run during a phase.
type SignalExecution struct {
	Name       string `json:"name"`
	Command    string `json:"command"`
	Result     string `json:"result"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
}

// EvaluateSpan is one routing+evaluation phase: "global", "project", or
// "catalog:<name>".
type EvaluateSpan struct {
	SpanID            string                    `json:"span_id"`
	ParentSpanID      string                    `json:"parent_span_id"`
	Phase             string                    `json:"phase"`
	StartTimeUnixNano int64                     `json:"start_time_unix_nano"`
	EndTimeUnixNano   int64                     `json:"end_time_unix_nano,omitempty"`
	Routed            bool                      `json:"routed"`
	MatchedPolicies   []string                  `json:"matched_policies,omitempty"`
	WasmDecisionSet   *synthesis.DecisionSet    `json:"wasm_decision_set,omitempty"`
	FinalDecision     *synthesis.FinalDecision  `json:"final_decision,omitempty"`
	ExitReason        *string                   `json:"exit_reason,omitempty"`
	SignalsExecuted   []SignalExecution         `json:"signals_executed,omitempty"`
	DurationMs        int64                     `json:"duration_ms"`

	startInstant time.Time
}

func newEvaluateSpan(phase, parentSpanID string) *EvaluateSpan {
	now := time.Now()
	return &EvaluateSpan{
		SpanID:            newSpanID(),
		ParentSpanID:      parentSpanID,
		Phase:             phase,
		StartTimeUnixNano: now.UnixNano(),
		startInstant:      now,
	}
}

// RecordRouting records whether this phase's policies matched the
// event and, if so, which ones.
func (e *EvaluateSpan) RecordRouting(routed bool, matchedPolicies []string) {
	e.Routed = routed
	e.MatchedPolicies = matchedPolicies
}

// RecordDecisionSet attaches the raw decision set the policy WASM
// module produced for this phase.
func (e *EvaluateSpan) RecordDecisionSet(ds synthesis.DecisionSet) {
	e.WasmDecisionSet = &ds
}

// RecordFinalDecision attaches the synthesized final decision for this
// phase.
func (e *EvaluateSpan) RecordFinalDecision(fd synthesis.FinalDecision) {
	e.FinalDecision = &fd
}

// RecordExit records why evaluation stopped at this phase without
// producing a decision (e.g. "no policies matched").
func (e *EvaluateSpan) RecordExit(reason string) {
	e.ExitReason = &reason
}

// RecordSignals attaches the signals gathered during this phase.
func (e *EvaluateSpan) RecordSignals(signals []SignalExecution) {
	e.SignalsExecuted = signals
}

func (e *EvaluateSpan) finalize() {
	e.EndTimeUnixNano = time.Now().UnixNano()
	e.DurationMs = time.Since(e.startInstant).Milliseconds()
}
