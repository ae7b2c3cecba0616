// Package binding provides a thread-safe, FFI-friendly surface over one
// shared engine.Engine: JSON in, JSON out, string errors, both a
// blocking call for synchronous callers (CLI, a Python ctypes bridge)
// and a context-aware one for callers already inside an event loop
// (the daemon's websocket handler). Every exported method is safe for
// concurrent use by multiple goroutines, since engine.Engine's own
// mutable state already lives behind its Scope-level sync.RWMutex.
package binding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eqtylab/cupcake-go/internal/engine"
)

// Surface wraps one engine.Engine for consumption from outside this
// module's own Go callers: every method takes and returns plain values
// (strings/bytes), never engine-internal types, so it can sit directly
// behind a cgo, WASM, or RPC boundary without translation.
type Surface struct {
	eng *engine.Engine
}

// New builds a Surface over a freshly constructed Engine for path (a
// project directory, or its .cupcake subdirectory).
func New(ctx context.Context, path string, logger *slog.Logger, opts ...engine.Option) (*Surface, error) {
	eng, err := engine.New(ctx, path, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing engine: %w", err)
	}
	return &Surface{eng: eng}, nil
}

// Evaluate runs one hook event through the wrapped engine and returns
// its JSON response. It is the single operation every binding (sync or
// async, in-process or over a wire) ultimately calls; ctx carries
// cancellation/deadline for callers that have one (the daemon), and
// context.Background() is the right choice for callers that don't (a
// one-shot CLI invocation).
func (s *Surface) Evaluate(ctx context.Context, inputJSON []byte) ([]byte, error) {
	resp, err := s.eng.Evaluate(ctx, inputJSON)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	return resp, nil
}

// EvaluateSync is Evaluate with an implicit background context, for
// callers on the other side of a boundary that has no notion of
// cancellation to thread through (a synchronous FFI call).
func (s *Surface) EvaluateSync(inputJSON []byte) ([]byte, error) {
	return s.Evaluate(context.Background(), inputJSON)
}

// Watch starts hot-reload watchers on the wrapped engine. Callers that
// only ever do one-shot evaluation (a CLI subcommand) can skip calling
// this entirely.
func (s *Surface) Watch(ctx context.Context) error {
	return s.eng.Watch(ctx)
}

// WaitForActions blocks, up to timeout, until every fire-and-forget
// action launched by the wrapped engine has finished. A one-shot
// caller that evaluates a single event and then exits (cmd/cupcake
// eval) calls this after Evaluate and before Close, so actions
// triggered by the decision get a chance to run instead of being
// killed by process exit.
func (s *Surface) WaitForActions(timeout time.Duration) {
	s.eng.WaitForActions(timeout)
}

// Close releases the wrapped engine's sandboxes, watchers, and
// telemetry destinations.
func (s *Surface) Close(ctx context.Context) error {
	return s.eng.Close(ctx)
}

// version is reported by Version for health checks and compatibility
// negotiation from the other side of a binding boundary.
const version = "cupcake-go 0.1.0"

// Version reports the binding surface's version string.
func (s *Surface) Version() string {
	return version
}

// IsReady reports whether the wrapped engine is available for
// evaluation. Always true once a Surface is constructed: New already
// fails fast if the engine could not be initialized.
func (s *Surface) IsReady() bool {
	return s.eng != nil
}
