package telemetry

import (
	"path/filepath"
	"testing"
)

func TestSQLiteWriter_WriteAndReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")

	w, err := NewSQLiteWriter(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx := New(map[string]interface{}{"hook_event_name": "PreToolUse"}, "rich", "sqlite-trace", nil)
	ctx.Finalize(nil)

	if err := w.Write(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteWriter(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	var traceID string
	row := reopened.db.QueryRow(`SELECT trace_id FROM evaluations WHERE trace_id = ?`, "sqlite-trace")
	if err := row.Scan(&traceID); err != nil {
		t.Fatalf("expected row for sqlite-trace: %v", err)
	}
	if traceID != "sqlite-trace" {
		t.Errorf("traceID = %q", traceID)
	}
}

func TestSQLiteWriter_WriteSameTraceIDTwice_Replaces(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	w, err := NewSQLiteWriter(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx := New(map[string]interface{}{}, "rich", "dup-trace", nil)
	ctx.Finalize(nil)

	if err := w.Write(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(ctx); err != nil {
		t.Fatal(err)
	}

	var count int
	row := w.db.QueryRow(`SELECT COUNT(*) FROM evaluations WHERE trace_id = ?`, "dup-trace")
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
