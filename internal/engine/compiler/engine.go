package compiler

import (
	"github.com/kennyngo/wasmjit-go/internal/trap"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// engine is the wasm.Compiler the linker drives for every defined function; it is stateless
// between calls other than the trampoline addresses every call site needs, which are read once
// from internal/trap and reused for the lifetime of the process.
type engine struct {
	trampolines trap.TrampolineAddrs
}

// New returns the x86-64 JIT compiler engine, the only wasm.Compiler implementation this module
// ships (no interpreter fallback).
func New() wasm.Compiler {
	return &engine{trampolines: trap.Trampolines()}
}

func (e *engine) Compile(buf []byte, writeOffset int, fn *wasm.FunctionType, code *wasm.Code, env wasm.CompileEnv) (entryOffset, length int, err error) {
	c := newCompiler(e, fn, code, env)
	return c.compile(buf, writeOffset)
}
