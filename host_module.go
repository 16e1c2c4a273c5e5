package wasmjit

import (
	"context"

	"github.com/kennyngo/wasmjit-go/api"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// HostModuleBuilder registers Go functions under a module name so a later CompileModule'd guest
// can import them (spec §6's import_function; only functions can be registered), the embedding-API surface that lets
// a host supply, say, a "wasi_snapshot_preview1"-style or purely application-specific environment.
//
// Unlike the teacher's reflection-based WithFunc, every function here is registered with its
// wasm signature spelled out explicitly: this runtime has no interpreter path to fall back to for
// marshaling arbitrary Go func shapes, so NewFunction takes the signature the same way the
// compiler itself already expects it (api.ValueType slices, raw uint64 argument words).
type HostModuleBuilder struct {
	r          *Runtime
	moduleName string
}

// NewHostModuleBuilder starts building a host module under the given import module name.
func (r *Runtime) NewHostModuleBuilder(moduleName string) *HostModuleBuilder {
	return &HostModuleBuilder{r: r, moduleName: moduleName}
}

// NewFunction registers fn as an importable function named name, with the given parameter and
// result value types. fn receives the raw argument words and returns the raw result words, in the
// same representation wasm.GoFunc uses store-wide.
func (b *HostModuleBuilder) NewFunction(name string, params, results []api.ValueType, fn wasm.GoFunc) *HostModuleBuilder {
	fnType := &wasm.FunctionType{Params: params, Results: results}
	addr := b.r.store.AddFunction(&wasm.FunctionInstance{Type: fnType, Go: fn, Name: name})
	// Instantiate is a no-op for a pure host module (nothing to link, compile, or run a start
	// function for), so we bind the namespace entry eagerly rather than waiting for it.
	_ = b.r.store.BindName(b.moduleName, name, wasm.NamespaceEntry{Type: wasm.ExternTypeFunc, Addr: addr})
	return b
}

// Instantiate finalizes the host module. Host modules have no code to compile and no start
// function, so this exists only for symmetry with InstantiateModule and to read naturally at call
// sites registering imports before compiling a guest.
func (b *HostModuleBuilder) Instantiate(ctx context.Context) error {
	return nil
}
