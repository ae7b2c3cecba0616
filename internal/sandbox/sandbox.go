// Package sandbox executes a compiled Rego-to-WASM policy bundle
// inside a wazero runtime, implementing the subset of OPA's WASM ABI
// (opa_malloc/opa_heap_ptr_get/opa_eval, plus the opa_abort/opa_println
// host imports every OPA-built module requires) needed to call the
// single aggregation entrypoint and read back a DecisionSet.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/eqtylab/cupcake-go/internal/synthesis"
)

const (
	envMaxMemory      = "CUPCAKE_WASM_MAX_MEMORY"
	defaultMaxMemory  = "10MB"
	absoluteMaxMemory = "100MB"
	wasmPageSize      = 65536
)

// Sandbox holds a compiled wazero module ready to be instantiated and
// queried. A Sandbox is immutable once built; Query instantiates a
// fresh module instance per call so concurrent evaluations never share
// linear memory.
type Sandbox struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	logger   *slog.Logger
	maxPages uint32

	// inFlight tracks QueryDecisionSet calls still running against this
	// Sandbox, so Close can wait for them instead of tearing down the
	// wazero runtime out from under an evaluation already in progress.
	inFlight sync.WaitGroup

	// instanceSeq hands out a unique suffix for each module instance
	// name; wazero requires distinct names for concurrently-instantiated
	// modules sharing a runtime, and a context address is not guaranteed
	// unique across concurrent calls (e.g. two callers both passing
	// context.Background()).
	instanceSeq atomic.Uint64
}

// New compiles wasmBytes into a wazero module and wires the OPA host
// imports. The returned Sandbox must be closed with Close when no
// longer needed.
func New(ctx context.Context, wasmBytes []byte, logger *slog.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sandbox.Sandbox")

	maxPages := memoryConfig(logger)

	runtimeConfig := wazero.NewRuntimeConfig().WithMemoryLimitPages(maxPages)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if err := instantiateHostImports(ctx, runtime, logger); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating host imports: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("compiling wasm module: %w", err)
	}

	return &Sandbox{
		runtime:  runtime,
		compiled: compiled,
		logger:   logger,
		maxPages: maxPages,
	}, nil
}

// Close waits for every in-flight QueryDecisionSet call to finish, then
// releases the underlying wazero runtime and all module instances
// derived from it. A hot reload swaps in a replacement Sandbox before
// calling Close on this one, so no new query can start against it once
// Close is called — only draining the ones already running matters.
func (s *Sandbox) Close(ctx context.Context) error {
	s.inFlight.Wait()
	return s.runtime.Close(ctx)
}

// QueryDecisionSet instantiates a fresh module instance, evaluates the
// aggregation entrypoint against input, and decodes the result into a
// DecisionSet.
func (s *Sandbox) QueryDecisionSet(ctx context.Context, input any) (synthesis.DecisionSet, error) {
	s.inFlight.Add(1)
	defer s.inFlight.Done()

	resultJSON, err := s.evaluateRaw(ctx, input, 0)
	if err != nil {
		return synthesis.DecisionSet{}, err
	}
	return decodeDecisionSet(resultJSON)
}

// evaluateRaw drives the low-level OPA WASM ABI call sequence:
// allocate input JSON into the module's linear memory, capture the
// heap pointer, invoke opa_eval, and read the null-terminated result
// string back out.
func (s *Sandbox) evaluateRaw(ctx context.Context, input any, entrypointID int32) (string, error) {
	cfg := wazero.NewModuleConfig()
	moduleName := fmt.Sprintf("policy-%d", s.instanceSeq.Add(1))
	instance, err := s.runtime.InstantiateModule(ctx, s.compiled, cfg.WithName(moduleName))
	if err != nil {
		return "", fmt.Errorf("instantiating module: %w", err)
	}
	defer instance.Close(ctx)

	memory := instance.Memory()
	if memory == nil {
		return "", fmt.Errorf("wasm module exports no memory")
	}

	opaMalloc := instance.ExportedFunction("opa_malloc")
	opaHeapPtrGet := instance.ExportedFunction("opa_heap_ptr_get")
	opaEval := instance.ExportedFunction("opa_eval")
	if opaMalloc == nil || opaHeapPtrGet == nil || opaEval == nil {
		return "", fmt.Errorf("wasm module missing required opa_* exports")
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshaling input: %w", err)
	}

	allocResult, err := opaMalloc.Call(ctx, uint64(len(inputJSON)))
	if err != nil {
		return "", fmt.Errorf("opa_malloc: %w", err)
	}
	inputPtr := uint32(allocResult[0])

	if !memory.Write(inputPtr, inputJSON) {
		return "", fmt.Errorf("writing input into wasm memory out of bounds")
	}

	heapResult, err := opaHeapPtrGet.Call(ctx)
	if err != nil {
		return "", fmt.Errorf("opa_heap_ptr_get: %w", err)
	}
	heapPtrBefore := heapResult[0]

	evalResult, err := opaEval.Call(ctx,
		0,
		uint64(entrypointID),
		0,
		uint64(inputPtr),
		uint64(len(inputJSON)),
		heapPtrBefore,
		0,
	)
	if err != nil {
		return "", fmt.Errorf("opa_eval: %w", err)
	}

	return readCString(memory, uint32(evalResult[0]))
}

// readCString reads a null-terminated string out of the module's
// linear memory starting at ptr.
func readCString(memory api.Memory, ptr uint32) (string, error) {
	var sb strings.Builder
	for offset := ptr; ; offset++ {
		b, ok := memory.ReadByte(offset)
		if !ok {
			return "", fmt.Errorf("reading wasm memory at offset %d: out of bounds", offset)
		}
		if b == 0 {
			break
		}
		sb.WriteByte(b)
	}
	return sb.String(), nil
}

// decodeDecisionSet parses the OPA eval result, which can either be a
// bare decision set object or an array wrapping it in
// [{"result": <decision set>}], matching both shapes OPA's WASM ABI is
// known to produce depending on build options.
func decodeDecisionSet(resultJSON string) (synthesis.DecisionSet, error) {
	var raw any
	if err := json.Unmarshal([]byte(resultJSON), &raw); err != nil {
		return synthesis.DecisionSet{}, fmt.Errorf("parsing eval result JSON: %w", err)
	}

	var decisionValue any = raw
	if arr, ok := raw.([]any); ok {
		if len(arr) == 0 {
			return synthesis.DecisionSet{}, nil
		}
		if wrapper, ok := arr[0].(map[string]any); ok {
			if result, ok := wrapper["result"]; ok {
				decisionValue = result
			} else {
				decisionValue = arr[0]
			}
		} else {
			decisionValue = arr[0]
		}
	}

	reencoded, err := json.Marshal(decisionValue)
	if err != nil {
		return synthesis.DecisionSet{}, fmt.Errorf("re-encoding decision value: %w", err)
	}

	var ds synthesis.DecisionSet
	if err := json.Unmarshal(reencoded, &ds); err != nil {
		return synthesis.DecisionSet{}, fmt.Errorf("decoding decision set: %w", err)
	}
	return ds, nil
}

// instantiateHostImports wires the "env" module's memory-independent
// host functions every OPA-built WASM module imports:
// opa_abort/opa_println for diagnostics, and opa_builtin0-4 as
// not-implemented stubs (Cupcake's policies use no Rego built-ins
// beyond what the compiler inlines, so these are never called on the
// evaluation hot path but must exist to satisfy the module's import
// table).
func instantiateHostImports(ctx context.Context, runtime wazero.Runtime, logger *slog.Logger) error {
	builder := runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, addr int32) {
			logger.Error("policy wasm module aborted execution", "addr", addr)
		}).
		Export("opa_abort")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, addr int32) {}).
		Export("opa_println")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, a, b int32) int32 { return 0 }).
		Export("opa_builtin0")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, a, b, c int32) int32 { return 0 }).
		Export("opa_builtin1")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, a, b, c, d int32) int32 { return 0 }).
		Export("opa_builtin2")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, a, b, c, d, e int32) int32 { return 0 }).
		Export("opa_builtin3")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, a, b, c, d, e, f int32) int32 { return 0 }).
		Export("opa_builtin4")

	_, err := builder.Instantiate(ctx)
	return err
}

// memoryConfig reads CUPCAKE_WASM_MAX_MEMORY, falling back to
// defaultMaxMemory, and caps the result at absoluteMaxMemory
// regardless of what is configured. Initial memory size is not
// host-configurable: wazero allocates a module instance's starting
// pages from the wasm binary's own memory section, so only the upper
// bound (applied via RuntimeConfig.WithMemoryLimitPages) is ours to
// set.
func memoryConfig(logger *slog.Logger) (maxPages uint32) {
	maxMemoryStr := os.Getenv(envMaxMemory)
	if maxMemoryStr == "" {
		maxMemoryStr = defaultMaxMemory
	}

	maxBytes, err := parseMemoryString(maxMemoryStr)
	if err != nil {
		logger.Warn("invalid CUPCAKE_WASM_MAX_MEMORY value, using default",
			"value", maxMemoryStr, "error", err, "default", defaultMaxMemory)
		maxBytes, _ = parseMemoryString(defaultMaxMemory)
	}

	absoluteMaxBytes, _ := parseMemoryString(absoluteMaxMemory)
	if maxBytes > absoluteMaxBytes {
		logger.Warn("requested max memory exceeds absolute maximum, capping",
			"requested", maxMemoryStr, "cap", absoluteMaxMemory)
		maxBytes = absoluteMaxBytes
	}

	return bytesToPages(maxBytes)
}

// parseMemoryString parses a human-readable memory size like "16MB" or
// "256kb" into a byte count.
func parseMemoryString(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty memory string")
	}

	splitAt := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			splitAt = i
			break
		}
	}
	numStr := strings.TrimSpace(s[:splitAt])
	unit := strings.TrimSpace(s[splitAt:])

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing numeric portion %q: %w", numStr, err)
	}

	var multiplier float64
	switch unit {
	case "kb", "k":
		multiplier = 1024
	case "mb", "m":
		multiplier = 1024 * 1024
	case "gb", "g":
		multiplier = 1024 * 1024 * 1024
	case "b", "":
		multiplier = 1
	default:
		return 0, fmt.Errorf("unknown memory unit %q", unit)
	}

	return uint64(num * multiplier), nil
}

// bytesToPages converts a byte count to the number of 64KB WASM pages
// needed to hold it.
func bytesToPages(b uint64) uint32 {
	return uint32((b + wasmPageSize - 1) / wasmPageSize)
}
