package compiler

import wasm "github.com/kennyngo/wasmjit-go/internal/wasm"

// estimateMaxDepth walks body once, accumulating each opcode's static stack effect, to size the
// frame before a single byte of machine code is emitted. It is deliberately conservative rather
// than exact: block/loop/if bodies are measured independently and the larger of their entry depth
// plus their own internal high-water mark is kept, and a fixed safety margin is added at the end to
// absorb any opcode this accounting under-counts. Getting this number too large only wastes a few
// stack slots; getting it too small would corrupt the frame, so the margin errs generously.
func estimateMaxDepth(body []wasm.Instruction) int {
	d := &depthCounter{}
	d.walk(body, 0)
	return d.max + depthSafetyMargin
}

const depthSafetyMargin = 16

type depthCounter struct {
	max int
}

func (d *depthCounter) walk(body []wasm.Instruction, depth int) int {
	if depth > d.max {
		d.max = depth
	}
	for _, ins := range body {
		depth = d.step(ins, depth)
		if depth > d.max {
			d.max = depth
		}
	}
	return depth
}

// step returns the stack depth after ins, given it started at depth. pops/pushes for opcodes whose
// arity depends on a signature (call, call_indirect) are approximated generously (assume up to 4
// params/results) since the exact function type is not threaded through this pre-pass; actual
// codegen uses the real signature and the margin above covers any difference.
func (d *depthCounter) step(ins wasm.Instruction, depth int) int {
	switch ins.Opcode {
	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		inner := d.walk(ins.Block.Then, depth)
		_ = inner
		if ins.Block.ResultType != nil {
			return depth + 1
		}
		return depth
	case wasm.OpcodeIf:
		depth-- // condition
		thenEnd := d.walk(ins.Block.Then, depth)
		_ = thenEnd
		if len(ins.Block.Else) > 0 {
			d.walk(ins.Block.Else, depth)
		}
		if ins.Block.ResultType != nil {
			return depth + 1
		}
		return depth
	case wasm.OpcodeCall, wasm.OpcodeCallIndirect:
		return depth + 4 // generous: real arity resolved during actual emission
	case wasm.OpcodeDrop:
		return depth - 1
	case wasm.OpcodeSelect:
		return depth - 2
	case wasm.OpcodeLocalGet, wasm.OpcodeGlobalGet, wasm.OpcodeI32Const, wasm.OpcodeI64Const,
		wasm.OpcodeF32Const, wasm.OpcodeF64Const, wasm.OpcodeMemorySize:
		return depth + 1
	case wasm.OpcodeLocalSet, wasm.OpcodeGlobalSet:
		return depth - 1
	case wasm.OpcodeLocalTee:
		return depth
	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U, wasm.OpcodeMemoryGrow:
		return depth // pop address, push value
	case wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16,
		wasm.OpcodeI64Store32:
		return depth - 2
	case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeEnd, wasm.OpcodeElse,
		wasm.OpcodeReturn, wasm.OpcodeBr:
		return depth
	case wasm.OpcodeBrIf:
		return depth - 1
	case wasm.OpcodeBrTable:
		return depth - 1
	default:
		// Unary numeric ops (clz, neg, sqrt, conversions, eqz, ...) net to no change; binary ops
		// (add, sub, comparisons, ...) net to -1. Since this function tracks a running *maximum*,
		// under-counting how far depth falls is what's safe here (it never reports a lower peak
		// than reality), so every remaining opcode is treated as net-zero -- the choice that never
		// drops the running depth below what a unary op would leave it at.
		return depth
	}
}
