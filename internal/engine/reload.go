package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/eqtylab/cupcake-go/internal/action"
	"github.com/eqtylab/cupcake-go/internal/compiler"
	"github.com/eqtylab/cupcake-go/internal/policyunit"
	"github.com/eqtylab/cupcake-go/internal/router"
	"github.com/eqtylab/cupcake-go/internal/rulebook"
	"github.com/eqtylab/cupcake-go/internal/sandbox"
	"github.com/eqtylab/cupcake-go/internal/signal"
)

// Watch starts hot-reload watchers for both scopes: a rulebook.Watcher
// over each scope's guidebook/signals/actions, and a policies-directory
// watcher that recompiles and re-sandboxes on any .rego change. Either
// kind of change is picked up without a process restart, for a daemon
// running against a project whose author is actively iterating on
// policies.
func (e *Engine) Watch(ctx context.Context) error {
	for _, s := range []*Scope{e.global, e.project} {
		if s == nil {
			continue
		}
		if err := s.startRulebookWatcher(e.logger); err != nil {
			return fmt.Errorf("starting %s rulebook watcher: %w", s.name, err)
		}
		if err := s.startPoliciesWatcher(ctx, e.compiler, e.logger); err != nil {
			return fmt.Errorf("starting %s policies watcher: %w", s.name, err)
		}
	}
	return nil
}

// startRulebookWatcher watches the scope's guidebook file and its
// signals/actions directories, swapping in a freshly reloaded Guidebook
// (and the signal.Gatherer/action.Dispatcher built on it) whenever one
// changes.
func (s *Scope) startRulebookWatcher(logger *slog.Logger) error {
	w, err := rulebook.NewWatcher(s.paths.rulebook, s.paths.signals, s.paths.actions, logger)
	if err != nil {
		return err
	}
	w.OnChange(func(gb rulebook.Guidebook) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.guidebook = gb
		s.signals = signal.NewGatherer(gb, s.trust, s.evaluator, logger)
		s.actions = action.New(gb, s.trust, s.evaluator, logger)
	})
	w.Start()
	s.rulebookWatcher = w
	return nil
}

// policiesWatcher recursively watches a policies directory and invokes
// a callback for every .rego change event. Bursts of filesystem events
// (a single `git checkout` can touch many files at once) are not
// coalesced: each event triggers its own full recompile, and
// startPoliciesWatcher serializes those recompiles.
type policiesWatcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	logger    *slog.Logger
}

func newPoliciesWatcher(root string, onChange func(), logger *slog.Logger) (*policiesWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	pw := &policiesWatcher{fsWatcher: fsw, done: make(chan struct{}), logger: logger}

	if err := pw.addRecursive(root); err != nil {
		pw.logger.Warn("could not watch policies directory", "dir", root, "error", err)
	}

	go pw.loop(onChange)
	return pw, nil
}

func (w *policiesWatcher) loop(onChange func()) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new policies directory", "path", event.Name, "error", err)
					}
					continue // an empty new directory has nothing to recompile yet
				}
			}
			if filepath.Ext(event.Name) != ".rego" {
				continue
			}
			onChange()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (w *policiesWatcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if addErr := w.fsWatcher.Add(path); addErr != nil {
				w.logger.Warn("failed to add directory to watcher", "path", path, "error", addErr)
			}
		}
		return nil
	})
}

func (w *policiesWatcher) stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// startPoliciesWatcher watches the scope's policies directory and, on
// any .rego change, rescans, recompiles, and re-sandboxes the scope,
// swapping the new router and sandbox in atomically. The old sandbox
// is closed only after the swap, so an evaluation already in flight
// against it keeps running to completion.
func (s *Scope) startPoliciesWatcher(ctx context.Context, comp *compiler.Compiler, logger *slog.Logger) error {
	var reloadMu sync.Mutex
	pw, err := newPoliciesWatcher(s.paths.policies, func() {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		if err := s.recompile(ctx, comp, logger); err != nil {
			logger.Error("hot reload of policies failed, keeping previous sandbox", "scope", s.name, "error", err)
		}
	}, logger)
	if err != nil {
		return err
	}
	s.policiesWatcher = pw
	return nil
}

// recompile rescans the scope's policies directory, recompiles, and
// swaps in a new router and sandbox. It is always called from the
// single-flight goroutine startPoliciesWatcher sets up, so no lock is
// needed around the compile itself — only around the swap.
func (s *Scope) recompile(ctx context.Context, comp *compiler.Compiler, logger *slog.Logger) error {
	s.mu.RLock()
	gb := s.guidebook
	oldSandbox := s.sandbox
	s.mu.RUnlock()

	scanner := policyunit.NewScanner(gb.Builtins.Enabled(), logger)
	units, err := scanner.Scan(s.paths.policies)
	if err != nil {
		return fmt.Errorf("rescanning policies: %w", err)
	}
	if len(units) == 0 {
		s.mu.Lock()
		s.units, s.router, s.sandbox = nil, nil, nil
		s.mu.Unlock()
		if oldSandbox != nil {
			if err := oldSandbox.Close(ctx); err != nil {
				logger.Warn("failed to close previous sandbox", "scope", s.name, "error", err)
			}
		}
		return nil
	}

	if err := comp.ValidateSyntax(ctx, units); err != nil {
		return fmt.Errorf("validating recompiled policies: %w", err)
	}
	wasmBytes, err := comp.Compile(ctx, units)
	if err != nil {
		return fmt.Errorf("recompiling policies: %w", err)
	}
	newSandbox, err := sandbox.New(ctx, wasmBytes, logger)
	if err != nil {
		return fmt.Errorf("re-sandboxing policies: %w", err)
	}
	newRouter := router.Build(units, toolBearingEvents)

	s.mu.Lock()
	s.units = units
	s.router = newRouter
	s.sandbox = newSandbox
	s.mu.Unlock()

	if oldSandbox != nil {
		if err := oldSandbox.Close(ctx); err != nil {
			logger.Warn("failed to close previous sandbox", "scope", s.name, "error", err)
		}
	}
	logger.Info("reloaded policies", "scope", s.name, "unit_count", len(units))
	return nil
}

// stopWatchers shuts down both hot-reload watchers, if started.
func (s *Scope) stopWatchers() error {
	var errs []error
	if s.rulebookWatcher != nil {
		if err := s.rulebookWatcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.policiesWatcher != nil {
		if err := s.policiesWatcher.stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("stopping watchers: %v", errs)
	}
	return nil
}
