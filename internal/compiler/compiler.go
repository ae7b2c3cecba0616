// Package compiler invokes the external OPA CLI to compile a set of
// discovered policy units into a single unified WASM module exposing
// one aggregation entrypoint, and offers an in-process syntax
// pre-validation step using opa/rego so authoring mistakes surface
// before the (slower, external-process) WASM build is attempted.
package compiler

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/open-policy-agent/opa/rego"

	"github.com/eqtylab/cupcake-go/internal/policyunit"
)

// Entrypoint is the single aggregation entrypoint every compiled bundle
// exposes, regardless of how many individual policy packages it was
// built from.
const Entrypoint = "cupcake/system/evaluate"

// queryPath is the in-process validation query path corresponding to
// Entrypoint.
const queryPath = "data.cupcake.system.evaluate"

// Compiler drives `opa build` out-of-process to produce a WASM module,
// and exposes ValidateSyntax for a fast in-process pre-check.
type Compiler struct {
	logger  *slog.Logger
	opaPath string
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithOPAPath overrides the "opa" binary looked up on PATH.
func WithOPAPath(path string) Option {
	return func(c *Compiler) { c.opaPath = path }
}

// New creates a Compiler.
func New(logger *slog.Logger, opts ...Option) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Compiler{
		logger:  logger.With("component", "compiler.Compiler"),
		opaPath: "opa",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidateSyntax parses and compiles each unit's Rego source in-process
// using opa/rego's PrepareForEval, surfacing syntax and type errors
// without paying the cost of an external `opa build` invocation. It
// does not produce anything usable for evaluation; Compile is still
// required to produce the WASM module actually executed by the
// sandbox.
func (c *Compiler) ValidateSyntax(ctx context.Context, units []policyunit.Unit) error {
	for _, u := range units {
		content, err := os.ReadFile(u.Path)
		if err != nil {
			return fmt.Errorf("reading policy %s for validation: %w", u.PackageName, err)
		}
		r := rego.New(
			rego.Query(queryPath),
			rego.Module(filepath.Base(u.Path), string(content)),
		)
		if _, err := r.PrepareForEval(ctx); err != nil {
			return fmt.Errorf("policy %s failed syntax validation: %w", u.PackageName, err)
		}
	}
	return nil
}

// Compile stages every unit's source into a scratch directory, invokes
// `opa build -t wasm -O 2 -e cupcake/system/evaluate` against it, and
// extracts the resulting policy.wasm from the emitted bundle.tar.gz.
// The staged directory and bundle are cleaned up before returning.
func (c *Compiler) Compile(ctx context.Context, units []policyunit.Unit) ([]byte, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("compiler: no policy units to compile")
	}

	stageDir, err := os.MkdirTemp("", "cupcake-compile-")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(stageDir)

	for i, u := range units {
		src, err := os.Open(u.Path)
		if err != nil {
			return nil, fmt.Errorf("opening policy %s: %w", u.PackageName, err)
		}
		destPath := filepath.Join(stageDir, fmt.Sprintf("policy_%d.rego", i))
		dest, err := os.Create(destPath)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("staging policy %s: %w", u.PackageName, err)
		}
		_, copyErr := io.Copy(dest, src)
		src.Close()
		dest.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("copying policy %s: %w", u.PackageName, copyErr)
		}
	}

	bundlePath := filepath.Join(stageDir, "bundle.tar.gz")
	//nolint:gosec // opaPath and args are fixed/config-controlled, not user input.
	cmd := exec.CommandContext(ctx, c.opaPath,
		"build",
		"-t", "wasm",
		"-O", "2",
		"-e", Entrypoint,
		"-o", bundlePath,
		stageDir,
	)
	c.logger.Debug("invoking opa build", "args", cmd.Args)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("opa build failed: %w\n%s", err, output)
	}

	wasmBytes, err := extractWASM(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("extracting wasm from bundle: %w", err)
	}

	c.logger.Info("compiled policy bundle", "unit_count", len(units), "wasm_bytes", len(wasmBytes))
	return wasmBytes, nil
}

// extractWASM reads policy.wasm out of an OPA-produced bundle.tar.gz
// entirely in memory, using the standard library's archive/tar and
// compress/gzip rather than shelling out to the system tar binary.
func extractWASM(bundlePath string) ([]byte, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("opening bundle: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}
		if filepath.Base(hdr.Name) != "policy.wasm" {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading policy.wasm entry: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("no policy.wasm found in bundle")
}
