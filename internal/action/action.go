// Package action dispatches a rulebook's configured action commands
// once a FinalDecision has been synthesized. Dispatch is fire-and-
// forget: the evaluation that triggered it returns to its caller
// without waiting for any action to finish. Callers that are about to
// exit their process (a one-shot CLI invocation rather than a
// long-running daemon) can call Dispatcher.Wait with a bounded timeout
// first, so actions get a chance to run instead of being killed
// mid-flight.
package action

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/eqtylab/cupcake-go/internal/rulebook"
	"github.com/eqtylab/cupcake-go/internal/synthesis"
	"github.com/eqtylab/cupcake-go/internal/trust"
)

// Dispatcher selects and fires the actions applicable to a synthesized
// decision, trust-gating each command and evaluating its condition (if
// any) before execution.
type Dispatcher struct {
	guidebook rulebook.Guidebook
	trust     *trust.Manifest // nil disables trust verification
	evaluator *rulebook.ConditionEvaluator

	conditionMu sync.Mutex
	compiled    map[string]rulebook.CompiledCondition // condition expression -> compiled form

	// running tracks every action goroutine Dispatch has launched that
	// hasn't finished yet, so a one-shot caller can optionally wait for
	// them (Wait) instead of letting the process exit out from under
	// them before they get to run at all.
	running sync.WaitGroup

	logger *slog.Logger
}

// New creates a Dispatcher. trustManifest may be nil, in which case
// actions execute without content-hash verification.
func New(gb rulebook.Guidebook, trustManifest *trust.Manifest, evaluator *rulebook.ConditionEvaluator, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		guidebook: gb,
		trust:     trustManifest,
		evaluator: evaluator,
		compiled:  make(map[string]rulebook.CompiledCondition),
		logger:    logger.With("component", "action.Dispatcher"),
	}
}

// compile returns the cached CompiledCondition for expr, compiling and
// caching it on first use. Action conditions are dispatched far less
// often than signal conditions (once per matched rule per evaluation,
// not once per event), so compiling lazily keyed by expression text is
// sufficient to avoid recompiling the same condition twice.
func (d *Dispatcher) compile(expr string) (rulebook.CompiledCondition, error) {
	d.conditionMu.Lock()
	defer d.conditionMu.Unlock()

	if cond, ok := d.compiled[expr]; ok {
		return cond, nil
	}
	cond, err := d.evaluator.Compile(expr)
	if err != nil {
		return rulebook.CompiledCondition{}, err
	}
	d.compiled[expr] = cond
	return cond, nil
}

// Dispatch selects which of the guidebook's configured actions apply
// to the given decision and fires each one in its own goroutine,
// rooted at workingDir (the project root for a project-scope decision,
// the global root for a global one). It returns immediately without
// waiting for any action to finish; Wait blocks until they have.
//
// Halt and Block fire only the rule-specific actions of their matched
// decision objects. Deny additionally fires the unconditional
// on_any_denial actions. Ask, Allow, and AllowOverride fire nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, final synthesis.FinalDecision, ds synthesis.DecisionSet, workingDir string, condCtx rulebook.ConditionContext) {
	switch final.Verb {
	case synthesis.VerbHalt:
		d.dispatchRuleSpecific(ctx, ds.Halts, workingDir, condCtx)
	case synthesis.VerbDeny:
		for _, action := range d.guidebook.Actions.OnAnyDenial {
			d.fire(ctx, "on_any_denial", action, workingDir, condCtx)
		}
		d.dispatchRuleSpecific(ctx, ds.Denials, workingDir, condCtx)
	case synthesis.VerbBlock:
		d.dispatchRuleSpecific(ctx, ds.Blocks, workingDir, condCtx)
	default: // Ask, Allow, AllowOverride
	}
}

// dispatchRuleSpecific fires only the actions registered specifically
// for each decision object's rule ID — never the unconditional
// on_any_denial actions, which Dispatch fires separately for Deny so
// they run exactly once regardless of how many denial objects matched.
func (d *Dispatcher) dispatchRuleSpecific(ctx context.Context, decisions []synthesis.DecisionObject, workingDir string, condCtx rulebook.ConditionContext) {
	for _, decision := range decisions {
		for _, action := range d.guidebook.Actions.ByRuleID[decision.RuleID] {
			d.fire(ctx, decision.RuleID, action, workingDir, condCtx)
		}
	}
}

// fire checks an action's condition and trust binding, then launches
// it in a detached goroutine. It never blocks the caller.
func (d *Dispatcher) fire(ctx context.Context, ruleID string, cfg rulebook.ActionConfig, workingDir string, condCtx rulebook.ConditionContext) {
	logger := d.logger.With("rule_id", ruleID, "command", cfg.Command)

	if cfg.Condition != "" {
		if d.evaluator == nil {
			logger.Error("action has a condition but no condition evaluator is configured, skipping")
			return
		}
		cond, err := d.compile(cfg.Condition)
		if err != nil {
			logger.Error("action condition failed to compile, skipping", "error", err)
			return
		}
		matched, err := d.evaluator.Evaluate(cond, condCtx)
		if err != nil {
			logger.Warn("action condition evaluation failed, skipping", "error", err)
			return
		}
		if !matched {
			return
		}
	}

	if d.trust != nil && d.trust.IsEnabled() {
		// Per spec.md §4.9/§4.12, a missing manifest entry is itself a
		// trust violation ("hash mismatch, missing script, manifest
		// unreadable" are the refuse-to-execute cases, listed together)
		// — an action added after trust init/update has nothing to
		// check against and must be refused, not run unverified.
		entry, ok := d.findTrustedEntry(ruleID, cfg.Command)
		if !ok {
			logger.Warn("trust violation: action has no trust manifest entry, refusing to execute")
			return
		}
		// findTrustedEntry's fallback scan already requires an exact
		// entry.Command == cfg.Command match, but the primary
		// GetScript(ruleID) path does not — require it here too.
		// ComputeHash only covers the resolved script file's content,
		// not the interpreter/flags/arguments around it, so a command
		// string edit that leaves the trusted file untouched (shell
		// injection appended to an otherwise-legitimate invocation)
		// would otherwise still hash-match and execute unverified.
		if cfg.Command != entry.Command {
			logger.Warn("trust violation: action command does not match its trust manifest entry, refusing to execute")
			return
		}
		ref := trust.ParseScriptReference(cfg.Command, workingDir)
		hash, err := ref.ComputeHash(cfg.Command)
		if err != nil || hash != entry.Hash {
			logger.Warn("trust violation: action script hash mismatch, refusing to execute", "error", err)
			return
		}
	}

	// Detached from ctx's cancellation (though not its values): an
	// action must keep running after the evaluation that triggered it
	// returns, including past a daemon client disconnecting or a
	// websocket request's context being canceled on server shutdown,
	// per this package's own fire-and-forget guarantee. Using ctx
	// directly here would let a caller's request context
	// (cmd/cupcake/daemon.go's serveConnection uses r.Context()) kill
	// the action subprocess mid-flight the instant the connection closed.
	runCtx := context.WithoutCancel(ctx)

	d.running.Add(1)
	go func() {
		defer d.running.Done()
		d.run(runCtx, logger, cfg.Command, workingDir)
	}()
}

// Wait blocks until every action goroutine launched by Dispatch has
// finished. A one-shot caller (cmd/cupcake eval) calls this with a
// bounded timeout before exiting, so fire-and-forget actions get a
// chance to actually run instead of being killed by process exit.
func (d *Dispatcher) Wait() {
	d.running.Wait()
}

// findTrustedEntry locates the manifest entry for a rule's action
// command. trust.Init disambiguates multiple actions under the same
// rule ID with a numeric suffix (on the manifest's "actions" side), so
// exact-name lookup can miss; falling back to a command-string scan
// over every entry registered for this rule keeps verification correct
// regardless of how many actions share a rule ID.
func (d *Dispatcher) findTrustedEntry(ruleID, command string) (trust.ScriptEntry, bool) {
	if entry, ok := d.trust.GetScript("actions", ruleID); ok {
		return entry, true
	}
	for _, name := range d.trust.ScriptsIn("actions") {
		if !indexedName(name, ruleID) {
			continue
		}
		if entry, ok := d.trust.GetScript("actions", name); ok && entry.Command == command {
			return entry, true
		}
	}
	return trust.ScriptEntry{}, false
}

// indexedName reports whether name is the manifest entry ops.go's
// scripts() would generate for ruleID: either the bare rule ID, or
// "<ruleID>_<index>" for the numeric suffix used when a rule ID has
// more than one action. A plain strings.HasPrefix(name, ruleID) would
// also match an unrelated rule ID that merely starts with this one as
// a substring (e.g. ruleID "deploy" matching another rule's entry
// "deploy_audit"), letting one rule's action verify against a
// different rule's trust entry.
func indexedName(name, ruleID string) bool {
	if name == ruleID {
		return true
	}
	suffix, ok := strings.CutPrefix(name, ruleID+"_")
	if !ok || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// run executes a single action command to completion in the
// background. Its exit status and output are logged, never surfaced
// to the evaluation that triggered it — per spec.md §4.11 actions are
// fire-and-forget.
func (d *Dispatcher) run(ctx context.Context, logger *slog.Logger, command, workingDir string) {
	cmd := buildCommand(ctx, command, workingDir)

	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Warn("action failed", "error", err, "output", strings.TrimSpace(string(output)))
		return
	}
	logger.Debug("action completed")
}

// buildCommand selects how command runs, per spec.md §4.11: on
// non-Windows platforms, a command whose first field names an existing,
// directly-executable script file is run directly, with its working directory inferred from the
// script's own ancestor directory rather than workingDir. Everything
// else falls through to the platform shell: `sh -c` on Unix, Git Bash
// on Windows if present (else bash.exe on PATH). `.sh` scripts that
// don't qualify for direct exec are additionally forced through Git
// Bash with `C:\X` -> `/c/X` path translation so the script's shebang
// survives being invoked from a non-POSIX shell.
func buildCommand(ctx context.Context, command, workingDir string) *exec.Cmd {
	if runtime.GOOS != "windows" {
		if scriptPath, args, ok := directScript(command, workingDir); ok {
			cmd := exec.CommandContext(ctx, scriptPath, args...)
			cmd.Dir = filepath.Dir(scriptPath)
			return cmd
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = workingDir
		return cmd
	}

	shell := windowsShell()
	if fields := strings.Fields(command); len(fields) > 0 && strings.HasSuffix(fields[0], ".sh") {
		command = translateWindowsPath(command)
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = workingDir
	return cmd
}

// shellMetacharacters lists byte sequences that only mean something to
// a shell (chaining, piping, redirection, substitution, quoting). Their
// presence anywhere in a command disqualifies it from direct exec: a
// command like "./deploy.sh && notify.sh" must reach a real shell to be
// interpreted as two commands, not a single script invoked with "&&"
// and "notify.sh" as literal, meaningless arguments.
var shellMetacharacters = []string{"&&", "||", "|", ";", ">", "<", "$(", "`", "\n"}

// directScript reports whether command's first field names an
// existing, directly-executable file (resolved against workingDir when
// not already absolute) and the command contains no shell syntax
// beyond plain space-separated arguments, returning the script's
// absolute path and remaining fields as arguments. Shell builtins,
// pipelines, chains, redirections, and anything else that isn't a
// standalone script invocation fall through to the shell-wrapped
// branch instead.
func directScript(command, workingDir string) (string, []string, bool) {
	for _, meta := range shellMetacharacters {
		if strings.Contains(command, meta) {
			return "", nil, false
		}
	}

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, false
	}

	path := fields[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(workingDir, path)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Mode()&0111 == 0 {
		return "", nil, false
	}
	return path, fields[1:], true
}

// windowsShell locates Git Bash, falling back to whatever bash.exe is
// on PATH.
func windowsShell() string {
	for _, candidate := range []string{
		`C:\Program Files\Git\bin\bash.exe`,
		`C:\Program Files (x86)\Git\bin\bash.exe`,
	} {
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate
		}
	}
	if path, err := exec.LookPath("bash.exe"); err == nil {
		return path
	}
	return "bash.exe"
}

// translateWindowsPath rewrites every `<drive>:\` prefixed token in
// command into Git Bash's `/<drive>/` POSIX-style form.
func translateWindowsPath(command string) string {
	fields := strings.Fields(command)
	for i, f := range fields {
		if len(f) >= 3 && f[1] == ':' && (f[2] == '\\' || f[2] == '/') {
			drive := strings.ToLower(string(f[0]))
			rest := strings.ReplaceAll(f[3:], `\`, "/")
			fields[i] = "/" + drive + "/" + rest
		}
	}
	return strings.Join(fields, " ")
}
