// Package engine orchestrates one project's (and, if configured, one
// user's global) policy evaluation: discovering policy units, building
// the routing map, compiling and sandboxing the WASM bundle, gathering
// signals, and synthesizing a final decision for an incoming hook
// event. It is the thing every entry point (CLI, daemon, binding
// surface) drives.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eqtylab/cupcake-go/internal/action"
	"github.com/eqtylab/cupcake-go/internal/compiler"
	"github.com/eqtylab/cupcake-go/internal/config"
	"github.com/eqtylab/cupcake-go/internal/harness"
	"github.com/eqtylab/cupcake-go/internal/policyunit"
	"github.com/eqtylab/cupcake-go/internal/rulebook"
	"github.com/eqtylab/cupcake-go/internal/router"
	"github.com/eqtylab/cupcake-go/internal/sandbox"
	"github.com/eqtylab/cupcake-go/internal/signal"
	"github.com/eqtylab/cupcake-go/internal/telemetry"
	"github.com/eqtylab/cupcake-go/internal/trust"
)

// toolBearingEvents lists the hook events that always carry a tool
// name, so an event-only routing entry for one of them is merged into
// every concrete "event:tool" sibling at routing-map build time.
var toolBearingEvents = []string{"PreToolUse", "PostToolUse"}

// Scope holds everything one evaluation phase (global or project)
// needs: the loaded rulebook, the compiled routing map and WASM
// sandbox, and the dispatchers built on top of them. Every field below
// mu is swapped as a unit on hot reload; readers take RLock for the
// duration of one evaluation.
type Scope struct {
	name       string // "global" or "project"
	workingDir string // root actions/signals are executed from
	paths      scopePaths

	mu        sync.RWMutex
	guidebook rulebook.Guidebook
	units     []policyunit.Unit
	router    *router.Router
	sandbox   *sandbox.Sandbox
	trust     *trust.Manifest
	evaluator *rulebook.ConditionEvaluator
	signals   *signal.Gatherer
	actions   *action.Dispatcher

	rulebookWatcher *rulebook.Watcher
	policiesWatcher *policiesWatcher
}

// scopePaths is the subset of config.ProjectPaths/config.GlobalPaths a
// Scope needs to rebuild itself; both path types are adapted into this
// common shape so Scope doesn't need two construction code paths.
type scopePaths struct {
	root     string
	policies string
	signals  string
	actions  string
	rulebook string
	trust    string // empty disables trust verification for this scope
}

func (s *Scope) snapshot() (rulebook.Guidebook, *router.Router, *sandbox.Sandbox, *signal.Gatherer, *action.Dispatcher) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guidebook, s.router, s.sandbox, s.signals, s.actions
}

// Engine evaluates hook events against a project's policies and,
// optionally, a global policy scope that is always evaluated first and
// can short-circuit project evaluation entirely.
type Engine struct {
	global  *Scope // nil if no global scope is configured
	project *Scope

	translator  harness.Translator
	harnessName string

	debugFilesEnabled bool
	debugDir          string
	sqliteWriter      *telemetry.SQLiteWriter

	compiler *compiler.Compiler
	logger   *slog.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithHarness overrides the harness translator selected for the
// project (default: rich).
func WithHarness(name string) Option {
	return func(e *Engine) { e.harnessName = name }
}

// WithDebugFiles enables always-on human-readable debug telemetry
// files under dir (default ".cupcake/debug" when dir is empty).
func WithDebugFiles(dir string) Option {
	return func(e *Engine) {
		e.debugFilesEnabled = true
		e.debugDir = dir
	}
}

// New resolves project (and, if present, global) paths, loads both
// rulebooks, scans and compiles both policy sets, and constructs the
// sandboxes and dispatchers evaluation needs. A project with no
// policies yet is not an error: its scope is built with a nil sandbox
// and every event allows by default until policies are added.
func New(ctx context.Context, projectInput string, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine.Engine")

	e := &Engine{
		compiler: compiler.New(logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	translator, err := harness.ForName(e.harnessName)
	if err != nil {
		return nil, fmt.Errorf("resolving harness: %w", err)
	}
	e.translator = translator
	if e.harnessName == "" {
		e.harnessName = "rich"
	}

	globalPaths := config.ResolveGlobalPaths()
	if globalPaths.Exists() {
		scope, err := buildScope(ctx, "global", scopePaths{
			root:     globalPaths.Root,
			policies: globalPaths.Policies,
			signals:  globalPaths.Signals,
			actions:  globalPaths.Actions,
			rulebook: globalPaths.Rulebook,
		}, e.compiler, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing global scope: %w", err)
		}
		e.global = scope
	}

	projectPaths, err := config.ResolveProjectPaths(projectInput)
	if err != nil {
		return nil, fmt.Errorf("resolving project paths: %w", err)
	}
	project, err := buildScope(ctx, "project", scopePaths{
		root:     projectPaths.Root,
		policies: projectPaths.Policies,
		signals:  projectPaths.Signals,
		actions:  projectPaths.Actions,
		rulebook: projectPaths.Rulebook,
		trust:    projectPaths.Trust,
	}, e.compiler, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing project scope: %w", err)
	}
	e.project = project

	if project.guidebook.Telemetry.EffectiveFormat() == rulebook.TelemetryFormatSQLite && project.guidebook.Telemetry.Enabled {
		writer, err := telemetry.NewSQLiteWriter(project.guidebook.Telemetry.EffectiveDestination())
		if err != nil {
			logger.Warn("failed to open sqlite telemetry destination, falling back to per-evaluation open", "error", err)
		} else {
			e.sqliteWriter = writer
		}
	}

	return e, nil
}

// buildScope loads paths.rulebook (merging in convention-discovered
// signals/actions), scans paths.policies for policy units, and — if any
// were found — compiles and sandboxes them. A policies directory that
// doesn't exist yet, or contains nothing, yields a Scope with a nil
// sandbox: routing and evaluation simply never fire for it.
func buildScope(ctx context.Context, name string, paths scopePaths, comp *compiler.Compiler, logger *slog.Logger) (*Scope, error) {
	gb, err := rulebook.Load(paths.rulebook)
	if err != nil {
		return nil, fmt.Errorf("loading %s rulebook: %w", name, err)
	}
	gb, err = rulebook.DiscoverSignals(paths.signals, gb)
	if err != nil {
		return nil, fmt.Errorf("discovering %s signals: %w", name, err)
	}
	gb, err = rulebook.DiscoverActions(paths.actions, gb)
	if err != nil {
		return nil, fmt.Errorf("discovering %s actions: %w", name, err)
	}

	scanner := policyunit.NewScanner(gb.Builtins.Enabled(), logger)
	units, err := scanner.Scan(paths.policies)
	if err != nil {
		return nil, fmt.Errorf("scanning %s policies: %w", name, err)
	}

	evaluator, err := rulebook.NewConditionEvaluator(logger)
	if err != nil {
		return nil, fmt.Errorf("building %s condition evaluator: %w", name, err)
	}

	var trustManifest *trust.Manifest
	if paths.trust != "" {
		trustManifest, err = trust.LoadOrNil(paths.root)
		if err != nil {
			return nil, fmt.Errorf("loading %s trust manifest: %w", name, err)
		}
	}

	scope := &Scope{
		name:       name,
		workingDir: paths.root,
		paths:      paths,
		guidebook:  gb,
		units:      units,
		trust:      trustManifest,
		evaluator:  evaluator,
		signals:    signal.NewGatherer(gb, trustManifest, evaluator, logger),
		actions:    action.New(gb, trustManifest, evaluator, logger),
	}

	if len(units) > 0 {
		if err := comp.ValidateSyntax(ctx, units); err != nil {
			return nil, fmt.Errorf("validating %s policies: %w", name, err)
		}
		wasmBytes, err := comp.Compile(ctx, units)
		if err != nil {
			return nil, fmt.Errorf("compiling %s policies: %w", name, err)
		}
		sb, err := sandbox.New(ctx, wasmBytes, logger)
		if err != nil {
			return nil, fmt.Errorf("sandboxing %s policies: %w", name, err)
		}
		scope.sandbox = sb
		scope.router = router.Build(units, toolBearingEvents)
	}

	return scope, nil
}

// WaitForActions blocks until every action goroutine dispatched by
// either scope has finished, or until timeout elapses, whichever comes
// first. A one-shot caller (cmd/cupcake eval) calls this right before
// exiting so fire-and-forget actions (on_any_denial hooks, rule-
// specific commands) get a chance to actually run: without it, the
// process can exit and be reaped before the goroutines spawned by
// action.Dispatcher.Dispatch ever get scheduled.
func (e *Engine) WaitForActions(timeout time.Duration) {
	var dispatchers []*action.Dispatcher
	for _, s := range []*Scope{e.global, e.project} {
		if s == nil {
			continue
		}
		s.mu.RLock()
		if s.actions != nil {
			dispatchers = append(dispatchers, s.actions)
		}
		s.mu.RUnlock()
	}
	if len(dispatchers) == 0 {
		return
	}

	// If timeout fires first, this goroutine is left running until the
	// slow action(s) actually finish; it is never abandoned forever (it
	// always exits once every Dispatcher.Wait returns), just outlives
	// this call. Acceptable for WaitForActions' one real caller, the
	// one-shot eval command, whose process exits right after this
	// function returns and takes the goroutine down with it either way.
	done := make(chan struct{})
	go func() {
		for _, d := range dispatchers {
			d.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Close releases both scopes' WASM sandboxes and any hot-reload
// watchers, and closes the shared sqlite telemetry writer if one is
// open. Safe to call on a partially initialized Engine.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for _, s := range []*Scope{e.global, e.project} {
		if s == nil {
			continue
		}
		if err := s.stopWatchers(); err != nil {
			errs = append(errs, err)
		}
		s.mu.RLock()
		sb := s.sandbox
		s.mu.RUnlock()
		if sb != nil {
			if err := sb.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if e.sqliteWriter != nil {
		if err := e.sqliteWriter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing engine: %v", errs)
	}
	return nil
}
