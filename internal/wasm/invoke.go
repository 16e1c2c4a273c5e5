package internalwasm

import (
	"context"
	"fmt"
)

// Invoke calls fn with args (already validated/coerced to fn.Type.Params by the caller) and
// returns its results. Host functions run directly on the calling goroutine; compiled functions
// are dispatched through the module's Store.Invoker, which performs the System V AMD64 call and
// translates any trap into an error (spec §4.H).
func Invoke(ctx context.Context, caller *ModuleInstance, fn *FunctionInstance, args []uint64) ([]uint64, error) {
	if len(args) != len(fn.Type.Params) {
		return nil, fmt.Errorf("wasm: invoke %s: expected %d args, got %d", fn.Name, len(fn.Type.Params), len(args))
	}
	if fn.IsHost() {
		return fn.Go(ctx, caller, args), nil
	}
	if fn.Module == nil || fn.Module.Store == nil || fn.Module.Store.Invoker == nil {
		return nil, fmt.Errorf("wasm: invoke %s: no invoker installed", fn.Name)
	}
	return fn.Module.Store.Invoker.Invoke(ctx, fn, args)
}
