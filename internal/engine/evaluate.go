package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eqtylab/cupcake-go/internal/harness"
	"github.com/eqtylab/cupcake-go/internal/preprocess"
	"github.com/eqtylab/cupcake-go/internal/rulebook"
	"github.com/eqtylab/cupcake-go/internal/signal"
	"github.com/eqtylab/cupcake-go/internal/synthesis"
	"github.com/eqtylab/cupcake-go/internal/telemetry"
)

// preprocessingOperations names the steps internal/preprocess always
// applies, recorded verbatim onto the enrich telemetry span since
// preprocess.Event itself reports no per-call operation list.
var preprocessingOperations = []string{"normalize_command", "resolve_path"}

// Evaluate parses rawInput with the configured harness, preprocesses
// it, and runs it through the two-phase evaluation pipeline: global
// policies first (if a global scope is configured) — any Halt, Deny,
// or Block there short-circuits project evaluation entirely — then
// project policies. On success it returns a harness-formatted response;
// a parse, evaluation or formatting failure returns an error instead.
// Telemetry for the event is finalized either way.
func (e *Engine) Evaluate(ctx context.Context, rawInput []byte) (json.RawMessage, error) {
	traceID := telemetry.NewTraceID()
	event, parseErr := e.translator.ParseEvent(rawInput)

	var rawMap map[string]interface{}
	if parseErr == nil {
		rawMap = event.Raw
	}
	e.project.mu.RLock()
	telemetryConfig := e.project.guidebook.Telemetry
	e.project.mu.RUnlock()

	tctx := telemetry.New(rawMap, e.harnessName, traceID, e.logger)
	tctx.Configure(e.debugFilesEnabled, e.debugDir, &telemetryConfig)
	tctx.SetSQLiteWriter(e.sqliteWriter)
	defer tctx.FinalizeOnPanic()

	if parseErr != nil {
		tctx.AddError(fmt.Sprintf("parsing event: %v", parseErr))
		tctx.Finalize(nil)
		return nil, fmt.Errorf("parsing event: %w", parseErr)
	}

	enrichStart := time.Now()
	enriched := preprocess.Event(event.Raw)
	tctx.RecordEnrichment(enriched, preprocessingOperations, time.Since(enrichStart).Microseconds())

	condCtx := rulebook.ConditionContext{EventName: event.Name, ToolName: event.ToolName, CWD: event.CWD}

	if e.global != nil {
		globalFinal, halt, err := e.evaluatePhase(ctx, tctx, e.global, nil, event, enriched, condCtx)
		if err != nil {
			// A sandbox/routing failure is not one of the recoverable
			// local-failure categories (policy-local, signal failure,
			// trust violation) spec.md carves out — it means the engine
			// could not even determine a decision, so it must surface to
			// the caller rather than silently fall through to Allow.
			tctx.AddError(fmt.Sprintf("global evaluation: %v", err))
			tctx.Finalize(nil)
			return nil, fmt.Errorf("global evaluation: %w", err)
		}
		if halt {
			return e.respond(tctx, event, globalFinal)
		}
	}

	var globalGuidebook *rulebook.Guidebook
	if e.global != nil {
		e.global.mu.RLock()
		gb := e.global.guidebook
		e.global.mu.RUnlock()
		globalGuidebook = &gb
	}

	projectFinal, _, err := e.evaluatePhase(ctx, tctx, e.project, globalGuidebook, event, enriched, condCtx)
	if err != nil {
		tctx.AddError(fmt.Sprintf("project evaluation: %v", err))
		tctx.Finalize(nil)
		return nil, fmt.Errorf("project evaluation: %w", err)
	}

	return e.respond(tctx, event, projectFinal)
}

// respond formats final through the configured harness, records and
// finalizes telemetry, and returns the formatted response.
func (e *Engine) respond(tctx *telemetry.Context, event harness.Event, final synthesis.FinalDecision) (json.RawMessage, error) {
	response, err := e.translator.FormatResponse(event, final)
	if err != nil {
		tctx.AddError(fmt.Sprintf("formatting response: %v", err))
		tctx.Finalize(nil)
		return nil, fmt.Errorf("formatting response: %w", err)
	}
	tctx.Finalize(response)
	return response, nil
}

// evaluatePhase routes event against scope, gathers whatever signals
// the matched policies require (statically declared or built-in
// auto-included), queries the WASM sandbox, synthesizes a final
// decision, and dispatches actions for it. overrideGuidebook is the
// global scope's guidebook when evaluating the project phase (its
// builtin_config entries take precedence over the project's own), or
// nil when evaluating the global phase itself. The returned bool
// reports whether this phase's decision should short-circuit the rest
// of the pipeline (only ever true for the global phase).
func (e *Engine) evaluatePhase(
	ctx context.Context,
	tctx *telemetry.Context,
	scope *Scope,
	overrideGuidebook *rulebook.Guidebook,
	event harness.Event,
	enriched map[string]interface{},
	condCtx rulebook.ConditionContext,
) (synthesis.FinalDecision, bool, error) {
	span := tctx.StartEvaluation(scope.name)

	gb, rt, sb, signals, actions := scope.snapshot()
	if sb == nil {
		span.RecordRouting(false, nil)
		span.RecordExit("no compiled policies for this scope")
		return synthesis.FinalDecision{Verb: synthesis.VerbAllow}, false, nil
	}

	matched := rt.Route(event.Name, event.ToolName)
	if len(matched) == 0 {
		span.RecordRouting(false, nil)
		span.RecordExit("no policies matched")
		return synthesis.FinalDecision{Verb: synthesis.VerbAllow}, false, nil
	}

	packageNames := make([]string, len(matched))
	for i, u := range matched {
		packageNames[i] = u.PackageName
	}
	span.RecordRouting(true, packageNames)

	required := requiredSignalNames(matched, gb, enriched)
	signalInput := signal.EventInput{EventName: event.Name, ToolName: event.ToolName, CWD: event.CWD, Raw: enriched}
	results := signals.Gather(ctx, required, signalInput, scope.workingDir)
	span.RecordSignals(signalExecutions(results, gb))

	input := withBuiltinConfig(enriched, gb, overrideGuidebook)
	input["signals"] = results

	ds, err := sb.QueryDecisionSet(ctx, input)
	if err != nil {
		return synthesis.FinalDecision{}, false, fmt.Errorf("querying %s decision set: %w", scope.name, err)
	}
	span.RecordDecisionSet(ds)

	final := synthesis.Synthesize(ds)
	span.RecordFinalDecision(final)

	actions.Dispatch(ctx, final, ds, scope.workingDir, condCtx)

	halt := scope.name == "global" && (final.IsHalt() || final.IsBlocking())
	return final, halt, nil
}

// signalExecutions adapts a gather's decoded results into telemetry
// records, rendering each value back to a string for the record
// regardless of whether it was decoded as JSON or kept as raw text.
// Gather omits failed, timed-out, and condition-gated signals entirely
// rather than reporting per-signal status, so every recorded execution
// here is implicitly a success; duration and exit code are left unset
// since Gather does not surface them per signal.
func signalExecutions(results map[string]any, gb rulebook.Guidebook) []telemetry.SignalExecution {
	if len(results) == 0 {
		return nil
	}
	out := make([]telemetry.SignalExecution, 0, len(results))
	for name, value := range results {
		command := ""
		if cfg, ok := gb.Signal(name); ok {
			command = cfg.Command
		}
		out = append(out, telemetry.SignalExecution{Name: name, Command: command, Result: resultString(value)})
	}
	return out
}

// resultString renders a decoded signal result for the telemetry
// record: strings pass through unchanged, everything else is
// re-marshaled to its JSON text.
func resultString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
