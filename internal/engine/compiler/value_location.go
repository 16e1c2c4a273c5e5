// Package compiler implements the single-pass x86-64 JIT: one function body compiles to one
// straight shot of machine code, with every wasm operand materialized at a fixed RBP-relative
// slot on the real machine stack rather than allocated to a register. This trades the
// register-allocating, multi-pass design of a production compiler for a far simpler one: a value
// never needs to be spilled, because it was never anywhere but memory to begin with.
package compiler

import (
	"github.com/kennyngo/wasmjit-go/internal/asm/amd64"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// valueKind is the runtime representation a stack slot holds, which selects the width (32 vs.
// 64-bit) and domain (GPR vs. XMM) of the instructions operating on it.
type valueKind byte

const (
	kindI32 valueKind = iota
	kindI64
	kindF32
	kindF64
)

func kindOf(t wasm.ValueType) valueKind {
	switch t {
	case wasm.ValueTypeI32:
		return kindI32
	case wasm.ValueTypeI64:
		return kindI64
	case wasm.ValueTypeF32:
		return kindF32
	default:
		return kindF64
	}
}

func (k valueKind) isFloat() bool { return k == kindF32 || k == kindF64 }
func (k valueKind) is64() bool    { return k == kindI64 || k == kindF64 }

// frame tracks the compile-time operand stack and the fixed slot layout it is assigned within the
// function's RBP-relative frame. Every slot -- local or operand -- is a full 8 bytes regardless of
// the wasm value's width; i32/f32 values simply leave the high 32 bits of their slot unspecified.
type frame struct {
	numLocals    int
	maxStack     int
	scratchWords int

	stack []valueKind
}

// localOffset returns the RBP-relative byte offset of local slot idx.
func (f *frame) localOffset(idx int) int32 { return int32(-8 * (idx + 1)) }

// stackOffset returns the RBP-relative byte offset of operand-stack position pos (0 = bottom of
// the operand region, immediately below the locals).
func (f *frame) stackOffset(pos int) int32 { return int32(-8 * (f.numLocals + pos + 1)) }

// scratchOffset returns the RBP-relative byte offset of scratch word i, used to marshal call
// arguments/results into the *uint64 arrays the trap trampolines expect.
func (f *frame) scratchOffset(i int) int32 {
	return int32(-8 * (f.numLocals + f.maxStack + i + 1))
}

// resultsPtrOffset is where the function's incoming resultsPtr (SI at entry) is saved for the
// duration of the call, since SI is not preserved across a nested call through the trap bridge.
func (f *frame) resultsPtrOffset() int32 {
	return int32(-8 * (f.numLocals + f.maxStack + f.scratchWords + 1))
}

// size returns the total frame size in bytes, rounded up to the SysV 16-byte stack alignment.
func (f *frame) size() int {
	slots := f.numLocals + f.maxStack + f.scratchWords + 1
	bytes := slots * 8
	if bytes%16 != 0 {
		bytes += 16 - bytes%16
	}
	return bytes
}

func (f *frame) localMem(idx int) amd64.Mem {
	return amd64.Mem{Base: amd64.RegBP, Disp: f.localOffset(idx)}
}

func (f *frame) scratchMem(i int) amd64.Mem {
	return amd64.Mem{Base: amd64.RegBP, Disp: f.scratchOffset(i)}
}

// stackMem returns the operand-stack slot at absolute position pos, the same addressing stackOffset
// computes for push/pop but exposed for a branch's result copy, which targets a depth read off a
// label rather than the frame's own current height.
func (f *frame) stackMem(pos int) amd64.Mem {
	return amd64.Mem{Base: amd64.RegBP, Disp: f.stackOffset(pos)}
}

func (f *frame) resultsPtrMem() amd64.Mem {
	return amd64.Mem{Base: amd64.RegBP, Disp: f.resultsPtrOffset()}
}

// push records a new value of kind k on top of the compile-time stack and returns its slot.
func (f *frame) push(k valueKind) amd64.Mem {
	pos := len(f.stack)
	f.stack = append(f.stack, k)
	if pos+1 > f.maxStack {
		f.maxStack = pos + 1
	}
	return amd64.Mem{Base: amd64.RegBP, Disp: f.stackOffset(pos)}
}

// pop removes and returns the top compile-time stack value's kind and slot. Callers trust the
// decoded module is valid (wasm structural validation is assumed to have already happened, e.g.
// during decode); an invalid module popping an empty compile-time stack is a compiler bug, not a
// recoverable condition, hence the panic.
func (f *frame) pop() (valueKind, amd64.Mem) {
	pos := len(f.stack) - 1
	if pos < 0 {
		panic("compiler: pop from empty operand stack (invalid module bytecode)")
	}
	k := f.stack[pos]
	f.stack = f.stack[:pos]
	return k, amd64.Mem{Base: amd64.RegBP, Disp: f.stackOffset(pos)}
}

// peek returns the top value's kind and slot without removing it.
func (f *frame) peek() (valueKind, amd64.Mem) {
	pos := len(f.stack) - 1
	return f.stack[pos], amd64.Mem{Base: amd64.RegBP, Disp: f.stackOffset(pos)}
}

// depth reports the current compile-time operand stack height.
func (f *frame) depth() int { return len(f.stack) }

// truncate resets the compile-time stack to height n, used when a block/loop/if scope closes: a
// validated module guarantees every path reaching the scope's end left exactly the scope's result
// arity above n, so this never discards a value that is still needed -- it only keeps the frame's
// Go-side bookkeeping in sync with what every taken machine-code path already guarantees about the
// real stack slots.
func (f *frame) truncate(n int) { f.stack = f.stack[:n] }

// label is one entry of the control-flow scope stack: the branch target for br/br_if/br_table at
// this nesting depth, and the operand-stack height a branch to it is expected to restore (assumed
// already-valid per compiler.go -- no runtime reconciliation is performed).
type label struct {
	target     *amd64.Label
	stackDepth int // compile-time depth to restore the Go bookkeeping to when this scope closes
	resultKind valueKind
	hasResult  bool
	isLoop     bool // loop labels branch to their start; block/if labels branch to their end
}
