package binding

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noGlobalScope(t *testing.T) {
	t.Helper()
	t.Setenv("CUPCAKE_GLOBAL_DIR", filepath.Join(t.TempDir(), "does-not-exist"))
}

func TestNew_FreshProject_Succeeds(t *testing.T) {
	noGlobalScope(t)
	dir := t.TempDir()

	s, err := New(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close(context.Background())

	if !s.IsReady() {
		t.Error("expected a freshly constructed Surface to be ready")
	}
}

func TestEvaluateSync_NoPoliciesLoaded_AllowsByDefault(t *testing.T) {
	noGlobalScope(t)
	dir := t.TempDir()

	s, err := New(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close(context.Background())

	event := []byte(`{"hook_event_name": "PreToolUse", "tool_name": "Bash", "tool_input": {"command": "ls"}}`)
	resp, err := s.EvaluateSync(event)
	if err != nil {
		t.Fatalf("EvaluateSync() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(resp, &decoded); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if decoded["decision"] != "approve" {
		t.Errorf("decision = %v, want approve", decoded["decision"])
	}
}

func TestEvaluate_InvalidJSON_ReturnsStringableError(t *testing.T) {
	noGlobalScope(t)
	dir := t.TempDir()

	s, err := New(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close(context.Background())

	if _, err := s.Evaluate(context.Background(), []byte("not json")); err == nil {
		t.Error("expected an error for invalid JSON input")
	}
}

func TestVersion_NonEmpty(t *testing.T) {
	noGlobalScope(t)
	dir := t.TempDir()

	s, err := New(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close(context.Background())

	if s.Version() == "" {
		t.Error("expected a non-empty version string")
	}
}
