package telemetry

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/eqtylab/cupcake-go/internal/synthesis"
)

func TestNew_CapturesRawEventUnderIngestSpan(t *testing.T) {
	raw := map[string]interface{}{"hook_event_name": "PreToolUse"}
	ctx := New(raw, "rich", "trace-123", nil)

	if ctx.TraceID() != "trace-123" {
		t.Errorf("TraceID() = %q", ctx.TraceID())
	}
	if ctx.Enrich != nil {
		t.Error("expected Enrich to be nil before RecordEnrichment")
	}
	if len(ctx.Evaluations) != 0 {
		t.Error("expected no evaluations yet")
	}
	if len(ctx.Ingest.SpanID) != 16 {
		t.Errorf("Ingest.SpanID = %q, want 16 hex chars", ctx.Ingest.SpanID)
	}
	if ctx.Ingest.ParentSpanID != "" {
		t.Error("expected ingest span to have no parent")
	}
}

func TestRecordEnrichment_ParentsOnIngestSpan(t *testing.T) {
	ctx := New(map[string]interface{}{}, "rich", "trace-1", nil)
	ctx.RecordEnrichment(map[string]interface{}{"resolved": true}, []string{"symlink_resolution"}, 100)

	if ctx.Enrich == nil {
		t.Fatal("expected Enrich to be set")
	}
	if ctx.Enrich.ParentSpanID != ctx.Ingest.SpanID {
		t.Errorf("Enrich.ParentSpanID = %q, want %q", ctx.Enrich.ParentSpanID, ctx.Ingest.SpanID)
	}
	if ctx.Enrich.DurationUs != 100 {
		t.Errorf("DurationUs = %d, want 100", ctx.Enrich.DurationUs)
	}
}

func TestStartEvaluation_ParentsOnIngestSpanAndAccumulates(t *testing.T) {
	ctx := New(map[string]interface{}{}, "rich", "trace-1", nil)

	global := ctx.StartEvaluation("global")
	global.RecordRouting(true, []string{"global.policy"})

	project := ctx.StartEvaluation("project")
	project.RecordRouting(false, nil)
	project.RecordExit("no policies matched")

	if len(ctx.Evaluations) != 2 {
		t.Fatalf("len(Evaluations) = %d, want 2", len(ctx.Evaluations))
	}
	if ctx.Evaluations[0].ParentSpanID != ctx.Ingest.SpanID {
		t.Error("expected evaluate span to parent on ingest span")
	}
	if ctx.Evaluations[0].Phase != "global" || !ctx.Evaluations[0].Routed {
		t.Error("expected global phase recorded as routed")
	}
	if ctx.Evaluations[1].Phase != "project" || ctx.Evaluations[1].Routed {
		t.Error("expected project phase recorded as not routed")
	}
	if *ctx.Evaluations[1].ExitReason != "no policies matched" {
		t.Errorf("ExitReason = %v", ctx.Evaluations[1].ExitReason)
	}
}

func TestFinalize_IsIdempotent(t *testing.T) {
	ctx := New(map[string]interface{}{}, "rich", "trace-1", nil)
	ctx.Finalize(nil)
	if !ctx.finalized {
		t.Fatal("expected finalized = true")
	}
	firstEnd := ctx.Ingest.EndTimeUnixNano

	ctx.Finalize(nil)
	if ctx.Ingest.EndTimeUnixNano != firstEnd {
		t.Error("expected second Finalize to be a no-op")
	}
}

func TestFinalize_RecordsResponseAndFinalizesSpans(t *testing.T) {
	ctx := New(map[string]interface{}{}, "rich", "trace-1", nil)
	eval := ctx.StartEvaluation("project")
	eval.RecordFinalDecision(synthesis.FinalDecision{Verb: synthesis.VerbAllow})

	resp := json.RawMessage(`{"continue":true}`)
	ctx.Finalize(resp)

	if string(ctx.ResponseToAgent) != `{"continue":true}` {
		t.Errorf("ResponseToAgent = %s", ctx.ResponseToAgent)
	}
	if ctx.Evaluations[0].EndTimeUnixNano == 0 {
		t.Error("expected evaluate span to be finalized")
	}
	if ctx.Ingest.EndTimeUnixNano == 0 {
		t.Error("expected ingest span to be finalized")
	}
}

func TestHasOutputConfigured(t *testing.T) {
	ctx := New(map[string]interface{}{}, "rich", "trace-1", nil)
	if ctx.HasOutputConfigured() {
		t.Error("expected no output configured by default")
	}

	ctx.Configure(true, "", nil)
	if !ctx.HasOutputConfigured() {
		t.Error("expected debug files to count as configured output")
	}
}

func TestSerialization_IncludesOTLPFields(t *testing.T) {
	ctx := New(map[string]interface{}{"test": true}, "rich", "trace-1", nil)
	ctx.RecordEnrichment(map[string]interface{}{"enriched": true}, []string{"op1"}, 50)

	b, err := json.Marshal(ctx)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"ingest"`, `"enrich"`, `"span_id"`, `"parent_span_id"`, `"start_time_unix_nano"`, `"preprocessing_operations"`} {
		if !strings.Contains(s, want) {
			t.Errorf("serialized context missing %s", want)
		}
	}
}
