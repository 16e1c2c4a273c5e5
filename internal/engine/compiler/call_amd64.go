package compiler

import (
	"fmt"

	"github.com/kennyngo/wasmjit-go/internal/asm/amd64"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// marshalArgs pops the given number of operands (in wasm's left-to-right param order) into the
// frame's call-marshaling scratch words, returning the register holding their address. Both
// callCompiled's trampolines read and overwrite through the same pointer for args and results
// (dispatchCall copies args out before writing results back), so one scratch region serves both.
func (c *compiler) marshalArgs(numParams int) amd64.Register {
	if numParams > c.frame.scratchWords {
		panic(fmt.Sprintf("compiler: call with %d params exceeds the %d-word marshaling scratch", numParams, c.frame.scratchWords))
	}
	a := c.asm
	for i := numParams - 1; i >= 0; i-- {
		kind, slot := c.frame.pop()
		// A 32-bit-wide slot (i32/f32) only ever had its low 32 bits written (StoreL/MovssStore);
		// the upper 32 bits are whatever a prior occupant of that slot left there. Zero-extend on
		// the way into the scratch word so the callee (or, for a host import, Go's own uint64 args)
		// never sees that leftover garbage in the high bits.
		if kind.is64() {
			a.LoadQ(amd64.RegAX, slot)
		} else {
			a.LoadL(amd64.RegAX, slot)
		}
		a.StoreQ(c.frame.scratchMem(i), amd64.RegAX)
	}
	a.LeaQ(amd64.RegR8, c.frame.scratchMem(0))
	return amd64.RegR8
}

// propagateTrap forwards a nonzero trampoline return (still in AX) straight to this function's own
// exit, so a trap three wasm calls deep unwinds the whole native call graph without ever needing a
// Go panic to cross a hand-written asm frame.
func (c *compiler) propagateTrap() {
	a := c.asm
	ok := a.NewLabel()
	a.TestQ(amd64.RegAX, amd64.RegAX)
	a.Jcc(amd64.CondE, ok)
	a.Jmp(c.exitLabel)
	a.BindLabel(ok)
}

// pushCallResult reads the callee's first result back out of the fixed RBP-relative scratch slot
// marshalArgs wrote the arguments into (invokeFunction, internal/trap/bridge_amd64.go, writes
// results back through that same pointer). It deliberately does not dereference the register
// marshalArgs returned: that register is caller-saved and the Go dispatch call reached through the
// trampoline (dispatchCall/dispatchIndirectCall -> wasm.Invoke) is free to clobber it before this
// runs, so reading through it here would read an arbitrary address.
func (c *compiler) pushCallResult(results []wasm.ValueType) {
	if len(results) == 0 {
		return
	}
	a := c.asm
	kind := kindOf(results[0])
	dst := c.frame.push(kind)
	a.LoadQ(amd64.RegAX, c.frame.scratchMem(0))
	a.StoreQ(dst, amd64.RegAX)
}

// compileCall lowers a direct call. The callee's Store function address is already resolved at
// compile time via env.FunctionAddr (valid immediately for every defined function, whatever order
// they compile in, since compileFunctions pre-registers a placeholder FunctionInstance for each
// before compiling any of them), so the call site needs no later patching once the callee itself
// finishes compiling.
func (c *compiler) compileCall(funcIdx wasm.Index) {
	fnType := c.env.Module.TypeOfFunction(funcIdx)
	funcAddr := c.env.FunctionAddr(funcIdx)

	a := c.asm
	argsPtr := c.marshalArgs(len(fnType.Params))
	a.MovRR(amd64.RegSI, argsPtr)
	a.MovRR(amd64.RegDX, argsPtr)
	a.MovImm32(amd64.RegDI, uint32(funcAddr))
	a.MovImm64(amd64.RegR11, uint64(c.eng.trampolines.Call))
	a.CallReg(amd64.RegR11)
	c.propagateTrap()
	c.pushCallResult(fnType.Results)
}

// compileCallIndirect lowers call_indirect: the callee is only known at run time (an element of
// this module's sole table), so the signature check and table lookup happen on the Go side via
// dispatchIndirectCall rather than in machine code.
func (c *compiler) compileCallIndirect(typeIdx wasm.Index) {
	fnType := c.env.Module.TypeSection[typeIdx]

	a := c.asm
	_, elemIdxSlot := c.frame.pop()

	argsPtr := c.marshalArgs(len(fnType.Params))
	a.MovRR(amd64.RegCX, argsPtr)
	a.MovRR(amd64.RegR8, argsPtr)
	a.LoadL(amd64.RegDX, elemIdxSlot)
	a.MovImm32(amd64.RegSI, uint32(typeIdx))
	if c.hasTable {
		a.MovImm32(amd64.RegDI, uint32(c.tableIdx))
	} else {
		a.MovImm32(amd64.RegDI, 0xffffffff) // no table: dispatchIndirectCall's bounds check will trap
	}
	a.MovImm64(amd64.RegR11, uint64(c.eng.trampolines.IndirectCall))
	a.CallReg(amd64.RegR11)
	c.propagateTrap()
	c.pushCallResult(fnType.Results)
}
