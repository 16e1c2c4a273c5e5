// Package wasmjit is the embedding API: the Go-idiomatic shape of the abstract store/import/
// instantiate/invoke interface (spec §6), playing the role the original C project's
// wasmjit_store_t and its ioctl-driven character device collaborator play for the CLI and kernel
// binfmt handler.
package wasmjit

import (
	"context"
	"fmt"

	"github.com/kennyngo/wasmjit-go/internal/engine/compiler"
	"github.com/kennyngo/wasmjit-go/internal/trap"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
	"github.com/kennyngo/wasmjit-go/internal/wasm/binary"
)

// Runtime is the entry point for compiling and instantiating WebAssembly 1.0 modules, and for
// registering host functions they can import. One Runtime owns one Store (spec §4.E): every
// module instantiated through it shares the same function/memory/table/global address space, so
// one module's exports are visible to a later module's imports.
type Runtime struct {
	store      *wasm.Store
	engine     wasm.Compiler
	defaultCtx context.Context
}

// NewRuntime returns a Runtime configured with NewRuntimeConfig's default.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	return NewRuntimeWithConfig(ctx, NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a Runtime using the given RuntimeConfig. Fails if this process's
// GOARCH has no compiler engine (spec §1: only x86-64 is in scope, and there is no interpreter
// fallback).
func NewRuntimeWithConfig(ctx context.Context, config RuntimeConfig) (*Runtime, error) {
	if !CompilerSupported {
		return nil, fmt.Errorf("wasmjit: no compiler engine for this architecture")
	}
	store := wasm.NewStore()
	store.SetInvoker(trap.NewInvoker())
	if config.memoryMaxPages > 0 {
		store.MaxPages = config.memoryMaxPages
	}
	return &Runtime{store: store, engine: compiler.New(), defaultCtx: config.ctx}, nil
}

// CompiledModule is a decoded WebAssembly module, ready to be instantiated (possibly more than
// once, against different ModuleConfig names) via InstantiateModule.
type CompiledModule struct {
	name   string
	module *wasm.Module
}

// Name returns the module's name, as decoded from its optional name section, or "" if absent.
func (c *CompiledModule) Name() string {
	if c.module.NameSection != nil {
		return c.module.NameSection.ModuleName
	}
	return ""
}

// CompileModule decodes and validates a wasm 1.0 binary. It does not allocate any Store object or
// generate machine code yet; that happens per defined function during InstantiateModule (spec
// §4.F phase 4), once imports are known and placeholder function addresses can be handed out.
func (r *Runtime) CompileModule(binaryBytes []byte) (*CompiledModule, error) {
	m, err := binary.DecodeBytes(binaryBytes)
	if err != nil {
		return nil, err
	}
	return &CompiledModule{module: m}, nil
}

// Module is an instantiated module: a live view over the Runtime's Store for one ModuleInstance.
type Module struct {
	instance *wasm.ModuleInstance
}

// InstantiateModule runs every instantiation phase from spec §4.F against compiled, registering
// its objects in the Runtime's Store and, if it declares a start function, invoking it.
func (r *Runtime) InstantiateModule(ctx context.Context, compiled *CompiledModule, config *ModuleConfig) (*Module, error) {
	if ctx == nil {
		ctx = r.defaultCtx
	}
	name := compiled.Name()
	if config != nil && config.name != "" {
		name = config.name
	}
	mi, err := wasm.Instantiate(ctx, r.store, compiled.module, name, r.engine)
	if err != nil {
		return nil, err
	}
	return &Module{instance: mi}, nil
}

// ExportedFunction resolves name to a callable Function, or (nil, false) if the module exports no
// function under that name.
func (m *Module) ExportedFunction(name string) (Function, bool) {
	fn, ok := m.instance.ExportedFunction(name)
	if !ok {
		return Function{}, false
	}
	return Function{caller: m.instance, fn: fn}, true
}

// Memory returns the module's sole exported-or-not linear memory, or nil if it has none. Unlike
// ExportedFunction this does not require the memory to be exported: host code embedding the
// runtime commonly needs direct buffer access regardless of what the guest chose to export (spec
// §4.E, ModuleInst.mem_addrs).
func (m *Module) Memory() *wasm.MemoryInstance {
	return m.instance.Memory()
}

// Close releases the module's compiled code pages. Safe to call on a module with no compiled code
// (e.g. one defining only imported functions).
func (m *Module) Close() error {
	return m.instance.Close()
}

// Function is a callable export, wrapping the Store address Invoke dispatches through (spec
// §4.H).
type Function struct {
	caller *wasm.ModuleInstance
	fn     *wasm.FunctionInstance
}

// Call invokes the function with args, already in the raw uint64 bit-pattern representation
// api.Value uses. Returns a *api.Error wrapping the trap code if generated code or a host import
// aborted the call (spec §7).
func (f Function) Call(ctx context.Context, args ...uint64) ([]uint64, error) {
	return wasm.Invoke(ctx, f.caller, f.fn, args)
}

// ParamCount and ResultCount describe the function's signature, letting a caller size its args
// slice without needing direct access to the internal FunctionType.
func (f Function) ParamCount() int  { return len(f.fn.Type.Params) }
func (f Function) ResultCount() int { return len(f.fn.Type.Results) }
