package compiler

import (
	"fmt"

	"github.com/kennyngo/wasmjit-go/api"
	"github.com/kennyngo/wasmjit-go/internal/asm/amd64"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// boundsCheckedPtr pops the i32 address operand, adds the instruction's static offset immediate,
// bounds-checks the result against the memory's *current* length (reloaded from R13 fresh, never
// cached, since memory.grow reallocates the backing array -- see unsafe.go), and returns RegDX
// holding the real data pointer a load/store can address through.
func (c *compiler) boundsCheckedPtr(offsetImm uint32, width int) amd64.Register {
	a := c.asm
	_, addrSlot := c.frame.pop()
	if !c.hasMem {
		c.emitTrap(api.TrapCodeOutOfBoundsMemoryAccess)
		return amd64.RegDX
	}
	a.LoadL(amd64.RegAX, addrSlot) // zero-extended i32 address
	a.MovImm32(amd64.RegCX, offsetImm)
	a.AddQ(amd64.RegAX, amd64.RegCX) // AX = effective address

	a.LoadQ(amd64.RegDX, amd64.Mem{Base: amd64.RegR13, Disp: 0}) // current Buffer data pointer
	a.LoadQ(amd64.RegCX, amd64.Mem{Base: amd64.RegR13, Disp: 8}) // current Buffer length

	a.MovRR(amd64.RegR9, amd64.RegAX)
	a.MovImm32(amd64.RegR10, uint32(width))
	a.AddQ(amd64.RegR9, amd64.RegR10) // R9 = effective address + width

	okLabel := a.NewLabel()
	a.CmpQ(amd64.RegR9, amd64.RegCX)
	a.Jcc(amd64.CondBE, okLabel)
	c.emitTrap(api.TrapCodeOutOfBoundsMemoryAccess)
	a.BindLabel(okLabel)

	a.AddQ(amd64.RegDX, amd64.RegAX) // DX = data pointer + effective address
	return amd64.RegDX
}

func (c *compiler) compileLoadStore(ins wasm.Instruction) {
	a := c.asm
	off := ins.MemArg.Offset
	switch ins.Opcode {
	case wasm.OpcodeI32Load:
		ptr := c.boundsCheckedPtr(off, 4)
		a.LoadL(amd64.RegAX, amd64.Mem{Base: ptr})
		dst := c.frame.push(kindI32)
		a.StoreL(dst, amd64.RegAX)
	case wasm.OpcodeI64Load:
		ptr := c.boundsCheckedPtr(off, 8)
		a.LoadQ(amd64.RegAX, amd64.Mem{Base: ptr})
		dst := c.frame.push(kindI64)
		a.StoreQ(dst, amd64.RegAX)
	case wasm.OpcodeF32Load:
		ptr := c.boundsCheckedPtr(off, 4)
		a.MovssLoad(amd64.RegX0, amd64.Mem{Base: ptr})
		dst := c.frame.push(kindF32)
		a.MovssStore(dst, amd64.RegX0)
	case wasm.OpcodeF64Load:
		ptr := c.boundsCheckedPtr(off, 8)
		a.MovsdLoad(amd64.RegX0, amd64.Mem{Base: ptr})
		dst := c.frame.push(kindF64)
		a.MovsdStore(dst, amd64.RegX0)
	case wasm.OpcodeI32Load8S:
		ptr := c.boundsCheckedPtr(off, 1)
		a.MovsxB8(amd64.RegAX, amd64.Mem{Base: ptr}, false)
		dst := c.frame.push(kindI32)
		a.StoreL(dst, amd64.RegAX)
	case wasm.OpcodeI32Load8U:
		ptr := c.boundsCheckedPtr(off, 1)
		a.MovzxB8(amd64.RegAX, amd64.Mem{Base: ptr}, false)
		dst := c.frame.push(kindI32)
		a.StoreL(dst, amd64.RegAX)
	case wasm.OpcodeI32Load16S:
		ptr := c.boundsCheckedPtr(off, 2)
		a.MovsxW16(amd64.RegAX, amd64.Mem{Base: ptr}, false)
		dst := c.frame.push(kindI32)
		a.StoreL(dst, amd64.RegAX)
	case wasm.OpcodeI32Load16U:
		ptr := c.boundsCheckedPtr(off, 2)
		a.MovzxW16(amd64.RegAX, amd64.Mem{Base: ptr}, false)
		dst := c.frame.push(kindI32)
		a.StoreL(dst, amd64.RegAX)
	case wasm.OpcodeI64Load8S:
		ptr := c.boundsCheckedPtr(off, 1)
		a.MovsxB8(amd64.RegAX, amd64.Mem{Base: ptr}, true)
		dst := c.frame.push(kindI64)
		a.StoreQ(dst, amd64.RegAX)
	case wasm.OpcodeI64Load8U:
		ptr := c.boundsCheckedPtr(off, 1)
		a.MovzxB8(amd64.RegAX, amd64.Mem{Base: ptr}, true)
		dst := c.frame.push(kindI64)
		a.StoreQ(dst, amd64.RegAX)
	case wasm.OpcodeI64Load16S:
		ptr := c.boundsCheckedPtr(off, 2)
		a.MovsxW16(amd64.RegAX, amd64.Mem{Base: ptr}, true)
		dst := c.frame.push(kindI64)
		a.StoreQ(dst, amd64.RegAX)
	case wasm.OpcodeI64Load16U:
		ptr := c.boundsCheckedPtr(off, 2)
		a.MovzxW16(amd64.RegAX, amd64.Mem{Base: ptr}, true)
		dst := c.frame.push(kindI64)
		a.StoreQ(dst, amd64.RegAX)
	case wasm.OpcodeI64Load32S:
		ptr := c.boundsCheckedPtr(off, 4)
		a.LoadL(amd64.RegAX, amd64.Mem{Base: ptr})
		a.MovsxdRR(amd64.RegAX, amd64.RegAX)
		dst := c.frame.push(kindI64)
		a.StoreQ(dst, amd64.RegAX)
	case wasm.OpcodeI64Load32U:
		ptr := c.boundsCheckedPtr(off, 4)
		a.LoadL(amd64.RegAX, amd64.Mem{Base: ptr})
		dst := c.frame.push(kindI64)
		a.StoreQ(dst, amd64.RegAX)

	case wasm.OpcodeI32Store:
		_, vSlot := c.frame.pop()
		ptr := c.boundsCheckedPtr(off, 4)
		a.LoadL(amd64.RegAX, vSlot)
		a.StoreL(amd64.Mem{Base: ptr}, amd64.RegAX)
	case wasm.OpcodeI64Store:
		_, vSlot := c.frame.pop()
		ptr := c.boundsCheckedPtr(off, 8)
		a.LoadQ(amd64.RegAX, vSlot)
		a.StoreQ(amd64.Mem{Base: ptr}, amd64.RegAX)
	case wasm.OpcodeF32Store:
		_, vSlot := c.frame.pop()
		ptr := c.boundsCheckedPtr(off, 4)
		a.MovssLoad(amd64.RegX0, vSlot)
		a.MovssStore(amd64.Mem{Base: ptr}, amd64.RegX0)
	case wasm.OpcodeF64Store:
		_, vSlot := c.frame.pop()
		ptr := c.boundsCheckedPtr(off, 8)
		a.MovsdLoad(amd64.RegX0, vSlot)
		a.MovsdStore(amd64.Mem{Base: ptr}, amd64.RegX0)
	case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		_, vSlot := c.frame.pop()
		ptr := c.boundsCheckedPtr(off, 1)
		a.LoadL(amd64.RegAX, vSlot)
		a.StoreB(amd64.Mem{Base: ptr}, amd64.RegAX)
	case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		_, vSlot := c.frame.pop()
		ptr := c.boundsCheckedPtr(off, 2)
		a.LoadL(amd64.RegAX, vSlot)
		a.StoreW(amd64.Mem{Base: ptr}, amd64.RegAX)
	case wasm.OpcodeI64Store32:
		_, vSlot := c.frame.pop()
		ptr := c.boundsCheckedPtr(off, 4)
		a.LoadQ(amd64.RegAX, vSlot)
		a.StoreL(amd64.Mem{Base: ptr}, amd64.RegAX)
	default:
		panic(fmt.Sprintf("compiler: unhandled load/store opcode %#x", byte(ins.Opcode)))
	}
}

// compileMemorySize pushes the memory's current page count, read directly from MemoryInstance
// without a Go call: no reallocation is needed to observe the size, unlike memory.grow.
func (c *compiler) compileMemorySize() {
	a := c.asm
	dst := c.frame.push(kindI32)
	if !c.hasMem {
		a.MovImm32(amd64.RegAX, 0)
		a.StoreL(dst, amd64.RegAX)
		return
	}
	a.LoadQ(amd64.RegAX, amd64.Mem{Base: amd64.RegR13, Disp: 8}) // Buffer length in bytes
	a.MovImm32(amd64.RegCX, wasm.MemoryPageSize)
	a.Cqo()
	a.IdivQ(amd64.RegCX) // AX = length / MemoryPageSize
	a.StoreL(dst, amd64.RegAX)
}

// compileMemoryGrow calls out to dispatchMemoryGrow (internal/trap) since growing reallocates the
// backing array, something only Go can do.
func (c *compiler) compileMemoryGrow() {
	a := c.asm
	_, deltaSlot := c.frame.pop()
	dst := c.frame.push(kindI32)
	if !c.hasMem {
		a.MovImm32(amd64.RegAX, 0xffffffff)
		a.StoreL(dst, amd64.RegAX)
		return
	}
	a.LoadL(amd64.RegSI, deltaSlot)
	a.MovImm64(amd64.RegDI, uint64(memPtrValue(c.mem)))
	a.MovImm64(amd64.RegR11, uint64(c.eng.trampolines.MemoryGrow))
	a.CallReg(amd64.RegR11)
	a.StoreL(dst, amd64.RegAX)
}
