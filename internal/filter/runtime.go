package filter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Runtime wraps a wazero runtime for executing filter modules.
type Runtime struct {
	rt  wazero.Runtime
	log *slog.Logger
}

// NewRuntime creates a wasm runtime with the filter host module
// instantiated. Filters may import "env.host_log" for diagnostics.
func NewRuntime(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	log := logger.With(slog.String("component", "filter"))
	rt := wazero.NewRuntime(ctx)
	if err := instantiateHostModule(ctx, rt, log); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	return &Runtime{rt: rt, log: log}, nil
}

// Close releases resources held by the runtime and all loaded filters.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil || r.rt == nil {
		return nil
	}
	return r.rt.Close(ctx)
}

// Filter is a loaded wasm transcript filter. The module must export its
// entrypoint with signature (ptr, len i32) -> i64 where the result packs
// the output pointer in the high 32 bits and length in the low 32 bits,
// and an "alloc" function (len i32) -> i32 for input placement. A zero
// result length means "unchanged".
type Filter struct {
	Manifest Manifest

	mu        sync.Mutex
	module    api.Module
	alloc     api.Function
	transform api.Function
	compiled  wazero.CompiledModule
}

// Load compiles and instantiates a filter from its manifest.
func (r *Runtime) Load(ctx context.Context, m Manifest) (*Filter, error) {
	if r == nil || r.rt == nil {
		return nil, fmt.Errorf("runtime not initialized")
	}
	if err := ValidateManifest(m); err != nil {
		return nil, fmt.Errorf("manifest invalid: %w", err)
	}
	wasmBytes, err := os.ReadFile(m.Runtime.Module)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	module, err := r.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(m.Metadata.Name))
	if err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	alloc := module.ExportedFunction("alloc")
	if alloc == nil {
		module.Close(ctx)
		compiled.Close(ctx)
		return nil, fmt.Errorf("alloc export not found")
	}
	transform := module.ExportedFunction(m.Runtime.Entrypoint)
	if transform == nil {
		module.Close(ctx)
		compiled.Close(ctx)
		return nil, fmt.Errorf("entrypoint %q not found", m.Runtime.Entrypoint)
	}
	return &Filter{
		Manifest:  m,
		module:    module,
		alloc:     alloc,
		transform: transform,
		compiled:  compiled,
	}, nil
}

// Transform runs the filter over text and returns the rewritten result.
func (f *Filter) Transform(ctx context.Context, text string) (string, error) {
	if f == nil || f.transform == nil {
		return "", fmt.Errorf("filter not loaded")
	}
	if text == "" {
		return "", nil
	}

	// Module memory is per-instance; calls are serialized.
	f.mu.Lock()
	defer f.mu.Unlock()

	input := []byte(text)
	allocRes, err := f.alloc.Call(ctx, uint64(len(input)))
	if err != nil {
		return "", fmt.Errorf("alloc: %w", err)
	}
	ptr := uint32(allocRes[0])
	mem := f.module.Memory()
	if mem == nil {
		return "", fmt.Errorf("module has no memory")
	}
	if !mem.Write(ptr, input) {
		return "", fmt.Errorf("write input at ptr=%d len=%d", ptr, len(input))
	}

	res, err := f.transform.Call(ctx, uint64(ptr), uint64(len(input)))
	if err != nil {
		return "", fmt.Errorf("transform: %w", err)
	}
	packed := res[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed)
	if outLen == 0 {
		return text, nil
	}
	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		return "", fmt.Errorf("read output at ptr=%d len=%d", outPtr, outLen)
	}
	return string(out), nil
}

// Close releases resources for the filter.
func (f *Filter) Close(ctx context.Context) error {
	if f == nil {
		return nil
	}
	if f.module != nil {
		if err := f.module.Close(ctx); err != nil {
			return err
		}
	}
	if f.compiled != nil {
		if err := f.compiled.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

func instantiateHostModule(ctx context.Context, rt wazero.Runtime, logger *slog.Logger) error {
	builder := rt.NewHostModuleBuilder("env")
	hostLogFn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		if len(stack) < 2 {
			return
		}
		ptr := api.DecodeU32(stack[0])
		length := api.DecodeU32(stack[1])
		if length == 0 {
			return
		}
		mem := mod.Memory()
		if mem == nil {
			return
		}
		data, ok := mem.Read(ptr, length)
		if !ok {
			logger.Warn("host_log: unable to read memory", slog.Int("ptr", int(ptr)), slog.Int("len", int(length)))
			return
		}
		logger.Info("filter log", slog.String("message", string(data)))
	})
	builder.NewFunctionBuilder().
		WithGoModuleFunction(hostLogFn, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		WithName("host_log").
		Export("host_log")

	_, err := builder.Instantiate(ctx)
	return err
}
