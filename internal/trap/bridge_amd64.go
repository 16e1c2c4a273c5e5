//go:build amd64 && !wasmjit_kernel

// Package trap implements the boundary between Go and JIT-compiled machine code: entering
// compiled code from Invoke, compiled code calling back out (to another compiled function or to a
// host import) without the compiler ever needing to relocate a call-site immediate, and
// translating the numeric trap codes generated code reports into api.Error.
//
// The original project crosses this boundary with setjmp/longjmp around the native call; Go has
// neither, so traps here are plumbed as an ordinary return-value channel instead: every compiled
// function and both trampolines below return a trap code in AX, 0 meaning none, and a caller that
// observes a nonzero code simply propagates it upward without further work. A Go panic is used
// only for the inner, Go-to-Go leg of dispatchCall/dispatchIndirectCall (recovering a badly
// behaved host function), never for crossing an asm frame.
package trap

import (
	"context"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/kennyngo/wasmjit-go/api"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// callCompiled is implemented in asm_amd64.s.
func callCompiled(code uintptr, argsPtr, resultsPtr *uint64, vmctx uintptr) (trapCode int64)

// callTrampoline and indirectCallTrampoline have no Go-visible body: JIT-compiled code branches to
// their entry PC directly (see callTrampolineAddr/indirectCallTrampolineAddr below), never through
// a normal Go call, so these declarations exist only to bind the .s symbols and must never be
// invoked from Go.
func callTrampoline()
func indirectCallTrampoline()
func memoryGrowTrampoline()

// callTrampolineAddr is the entry address the compiler embeds as the CALL target for every direct
// `call` instruction.
func callTrampolineAddr() uintptr { return reflect.ValueOf(callTrampoline).Pointer() }

// indirectCallTrampolineAddr is the entry address the compiler embeds as the CALL target for every
// `call_indirect` instruction.
func indirectCallTrampolineAddr() uintptr { return reflect.ValueOf(indirectCallTrampoline).Pointer() }

// memoryGrowTrampolineAddr is the entry address the compiler embeds as the CALL target for every
// memory.grow instruction.
func memoryGrowTrampolineAddr() uintptr { return reflect.ValueOf(memoryGrowTrampoline).Pointer() }

// TrampolineAddrs exposes the call-bridge entry points the compiler must relocate call sites to; it
// is the only thing internal/engine/compiler needs from this package at compile time.
type TrampolineAddrs struct {
	Call         uintptr
	IndirectCall uintptr
	MemoryGrow   uintptr
}

// Trampolines returns the entry addresses compiled code calls through.
func Trampolines() TrampolineAddrs {
	return TrampolineAddrs{
		Call:         callTrampolineAddr(),
		IndirectCall: indirectCallTrampolineAddr(),
		MemoryGrow:   memoryGrowTrampolineAddr(),
	}
}

// vmContext threads the context.Context and calling ModuleInstance of one top-level Invoke call
// through the native call graph via a fixed pointer (kept live in R15 by the asm bridge), so that a
// call nested arbitrarily deep inside compiled code can recover them without any global or
// goroutine-local state.
type vmContext struct {
	ctx    context.Context
	caller *wasm.ModuleInstance
}

// hostTrap is the panic payload Trap uses to unwind out of a host function and report a trap code
// instead of a normal return, caught by invokeFunction's recover below.
type hostTrap api.TrapCode

// Trap aborts the currently executing host function with the given trap code. Host functions
// registered via wasm.GoFunc call this instead of returning normally when they detect a
// wasm-visible failure (an out-of-bounds access into linear memory, for instance).
func Trap(code api.TrapCode) {
	panic(hostTrap(code))
}

// dispatchCall is called from callTrampoline (asm_amd64.s) whenever JIT-compiled code performs a
// direct call. funcAddr is the target's address in the calling module's Store, already resolved by
// the compiler at compile time (spec §4.D); this indirection -- looking the function up fresh by
// Store address on every call, rather than embedding its code pointer as a relocatable immediate --
// is what lets a function call a not-yet-compiled sibling defined later in the same module without
// any post-hoc patching of already-emitted machine code.
func dispatchCall(funcAddr uint64, argsPtr, resultsPtr *uint64, vmctx uintptr) (trapCode int64) {
	vc := (*vmContext)(unsafe.Pointer(vmctx))
	fn := vc.caller.Store.Funcs[funcAddr]
	return invokeFunction(vc, fn, argsPtr, resultsPtr)
}

// dispatchIndirectCall is called from indirectCallTrampoline for call_indirect: it resolves
// tableAddr[elemIdx], checks the result's signature against the call site's declared type index,
// and otherwise behaves like dispatchCall.
func dispatchIndirectCall(tableAddr, typeIdx, elemIdx uint64, argsPtr, resultsPtr *uint64, vmctx uintptr) (trapCode int64) {
	vc := (*vmContext)(unsafe.Pointer(vmctx))
	if tableAddr >= uint64(len(vc.caller.Store.Tables)) {
		// Only reachable if the compiler emitted a call_indirect for a function whose module
		// declares no table, which a validated module never does; kept as a trap rather than a Go
		// slice panic so a bypassed validator degrades the same way an out-of-range elemIdx does.
		return int64(api.TrapCodeOutOfBoundsTableAccess)
	}
	tbl := vc.caller.Store.Tables[tableAddr]
	if elemIdx >= uint64(len(tbl.Elements)) || !tbl.HasElem[elemIdx] {
		return int64(api.TrapCodeOutOfBoundsTableAccess)
	}
	fn := vc.caller.Store.Funcs[tbl.Elements[elemIdx]]
	want := vc.caller.Types[typeIdx]
	if !fn.Type.EqualsSignature(want) {
		return int64(api.TrapCodeIndirectCallTypeMismatch)
	}
	return invokeFunction(vc, fn, argsPtr, resultsPtr)
}

// dispatchMemoryGrow is called from memoryGrowTrampoline for memory.grow. memInstAddr is a
// compile-time constant embedded by the compiler (the defining function's own memory, the only one
// a single-memory-per-module wasm 1.0 binary can reference). Returns the previous page count, or -1
// if the grow was refused.
func dispatchMemoryGrow(memInstAddr uintptr, delta uint64) int64 {
	mem := (*wasm.MemoryInstance)(unsafe.Pointer(memInstAddr))
	previous, ok := mem.Grow(uint32(delta))
	if !ok {
		return -1
	}
	return int64(previous)
}

// invokeFunction marshals the raw argsPtr/resultsPtr words the compiler's call sites pass into a
// wasm.Invoke call, dispatching to a host closure or recursing into compiled code via callCompiled
// exactly as the top-level Invoke entry point does.
func invokeFunction(vc *vmContext, fn *wasm.FunctionInstance, argsPtr, resultsPtr *uint64) (trapCode int64) {
	numArgs := len(fn.Type.Params)
	var args []uint64
	if numArgs > 0 {
		args = make([]uint64, numArgs)
		copy(args, unsafe.Slice(argsPtr, numArgs))
	}

	defer func() {
		if r := recover(); r != nil {
			if tc, ok := r.(hostTrap); ok {
				trapCode = int64(tc)
				return
			}
			panic(r)
		}
	}()

	out, err := wasm.Invoke(vc.ctx, vc.caller, fn, args)
	if err != nil {
		if te, ok := err.(*api.Error); ok {
			return int64(te.Code)
		}
		return int64(api.TrapCodeAbort)
	}
	if numResults := len(fn.Type.Results); numResults > 0 {
		copy(unsafe.Slice(resultsPtr, numResults), out)
	}
	return 0
}

// invoker implements wasm.Invoker by entering JIT-compiled code through callCompiled.
type invoker struct{}

// NewInvoker returns the amd64 wasm.Invoker, installed on every Store by the embedding API.
func NewInvoker() wasm.Invoker { return invoker{} }

func (invoker) Invoke(ctx context.Context, fn *wasm.FunctionInstance, args []uint64) ([]uint64, error) {
	if fn.IsHost() {
		return fn.Go(ctx, fn.Module, args), nil
	}
	if len(fn.Code) == 0 {
		return nil, fmt.Errorf("trap: function %q has no compiled code", fn.Name)
	}

	numResults := len(fn.Type.Results)
	results := make([]uint64, numResults)

	vc := &vmContext{ctx: ctx, caller: fn.Module}
	// vc is kept alive by this stack frame for the duration of the call; Go's non-moving
	// allocator means the uintptr cast below stays valid across the native call.
	vmctx := uintptr(unsafe.Pointer(vc))

	var argsPtr, resultsPtr *uint64
	if len(args) > 0 {
		argsPtr = &args[0]
	}
	if numResults > 0 {
		resultsPtr = &results[0]
	}

	code := uintptr(unsafe.Pointer(&fn.Code[0]))
	if tc := callCompiled(code, argsPtr, resultsPtr, vmctx); tc != 0 {
		return nil, &api.Error{Code: api.TrapCode(tc)}
	}
	return results, nil
}
