package rulebook

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// ConditionContext is the variable set available to a signal or
// action's CEL condition: the event currently being processed and the
// signal outputs gathered so far.
type ConditionContext struct {
	EventName string
	ToolName  string
	CWD       string
	Signals   map[string]string
}

// CompiledCondition wraps a pre-compiled CEL program for repeated,
// lock-free evaluation.
type CompiledCondition struct {
	expression string
	program    cel.Program
}

// ConditionEvaluator compiles and evaluates the CEL conditions attached
// to signals and actions. Each distinct expression is compiled once, on
// first use by the signal gatherer or action dispatcher, and cached;
// evaluation happens on every routed event so it must stay
// allocation-light.
type ConditionEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewConditionEvaluator builds a ConditionEvaluator with the standard
// variable declarations available to a signal/action condition.
func NewConditionEvaluator(logger *slog.Logger) (*ConditionEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("event.name", cel.StringType),
		cel.Variable("event.tool_name", cel.StringType),
		cel.Variable("event.cwd", cel.StringType),
		cel.Variable("signals", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	return &ConditionEvaluator{
		env:    env,
		logger: logger.With("component", "rulebook.ConditionEvaluator"),
	}, nil
}

// Compile parses and type-checks a CEL condition, returning a
// CompiledCondition ready for repeated evaluation. Callers compile each
// distinct expression once and cache the result.
func (c *ConditionEvaluator) Compile(expr string) (CompiledCondition, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledCondition{}, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return CompiledCondition{}, fmt.Errorf("CEL condition %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return CompiledCondition{}, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}

	c.logger.Debug("compiled CEL condition", "expression", expr)
	return CompiledCondition{expression: expr, program: prg}, nil
}

// Evaluate runs a pre-compiled condition against ctx, returning true
// when the gated signal or action should run.
func (c *ConditionEvaluator) Evaluate(cond CompiledCondition, ctx ConditionContext) (bool, error) {
	signals := ctx.Signals
	if signals == nil {
		signals = map[string]string{}
	}

	vars := map[string]any{
		"event.name":      ctx.EventName,
		"event.tool_name": ctx.ToolName,
		"event.cwd":       ctx.CWD,
		"signals":         signals,
	}

	out, _, err := cond.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", cond.expression, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL condition %q returned non-bool: %T", cond.expression, out.Value())
	}
	return result, nil
}
