package compiler

import (
	"fmt"
	"math"

	"github.com/kennyngo/wasmjit-go/api"
	"github.com/kennyngo/wasmjit-go/internal/asm/amd64"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// loadInt reads a stack slot as a 32- or 64-bit value. Every slot is a full 8 bytes regardless of
// width (see frame's doc comment); a 32-bit load simply leaves the upper bits of the destination
// register zeroed, which every i32 operation below tolerates since results are written back with
// StoreL.
func (c *compiler) loadInt(dst amd64.Register, m amd64.Mem, w bool) {
	if w {
		c.asm.LoadQ(dst, m)
	} else {
		c.asm.LoadL(dst, m)
	}
}

func (c *compiler) storeInt(m amd64.Mem, src amd64.Register, w bool) {
	if w {
		c.asm.StoreQ(m, src)
	} else {
		c.asm.StoreL(m, src)
	}
}

func (c *compiler) pushInt(w bool, src amd64.Register) amd64.Mem {
	kind := kindI32
	if w {
		kind = kindI64
	}
	dst := c.frame.push(kind)
	c.storeInt(dst, src, w)
	return dst
}

// popIntPair pops rhs then lhs (wasm's stack order for a binary op: the rhs is pushed last, so it
// is popped first), loading lhs into AX and rhs into CX.
func (c *compiler) popIntPair(w bool) {
	_, rhsSlot := c.frame.pop()
	_, lhsSlot := c.frame.pop()
	c.loadInt(amd64.RegAX, lhsSlot, w)
	c.loadInt(amd64.RegCX, rhsSlot, w)
}

func (c *compiler) pushSetcc(cc amd64.ConditionCode) {
	c.asm.MovImm32(amd64.RegDX, 0)
	c.asm.Setcc(cc, amd64.RegDX)
	c.pushInt(false, amd64.RegDX)
}

func (c *compiler) compileIntBinary(op wasm.Opcode, w bool) {
	c.popIntPair(w)
	a := c.asm
	switch op {
	case wasm.OpcodeI32Add, wasm.OpcodeI64Add:
		if w {
			a.AddQ(amd64.RegAX, amd64.RegCX)
		} else {
			a.AddL(amd64.RegAX, amd64.RegCX)
		}
	case wasm.OpcodeI32Sub, wasm.OpcodeI64Sub:
		if w {
			a.SubQ(amd64.RegAX, amd64.RegCX)
		} else {
			a.SubL(amd64.RegAX, amd64.RegCX)
		}
	case wasm.OpcodeI32Mul, wasm.OpcodeI64Mul:
		if w {
			a.ImulQ(amd64.RegAX, amd64.RegCX)
		} else {
			a.ImulL(amd64.RegAX, amd64.RegCX)
		}
	case wasm.OpcodeI32And, wasm.OpcodeI64And:
		if w {
			a.AndQ(amd64.RegAX, amd64.RegCX)
		} else {
			a.AndL(amd64.RegAX, amd64.RegCX)
		}
	case wasm.OpcodeI32Or, wasm.OpcodeI64Or:
		if w {
			a.OrQ(amd64.RegAX, amd64.RegCX)
		} else {
			a.OrL(amd64.RegAX, amd64.RegCX)
		}
	case wasm.OpcodeI32Xor, wasm.OpcodeI64Xor:
		if w {
			a.XorQ(amd64.RegAX, amd64.RegCX)
		} else {
			a.XorL(amd64.RegAX, amd64.RegCX)
		}
	default:
		panic(fmt.Sprintf("compiler: unhandled int binary opcode %#x", byte(op)))
	}
	c.pushInt(w, amd64.RegAX)
}

// compileShiftRotate loads the shift amount into CL (the x86 shift/rotate-by-CL forms mask the
// count to the operand width automatically, which already matches wasm's shift-amount-mod-bitwidth
// semantics -- no extra masking needed).
func (c *compiler) compileShiftRotate(op wasm.Opcode, w bool) {
	c.popIntPair(w)
	a := c.asm
	switch op {
	case wasm.OpcodeI32Shl, wasm.OpcodeI64Shl:
		if w {
			a.ShlQ(amd64.RegAX)
		} else {
			a.ShlL(amd64.RegAX)
		}
	case wasm.OpcodeI32ShrS, wasm.OpcodeI64ShrS:
		if w {
			a.SarQ(amd64.RegAX)
		} else {
			a.SarL(amd64.RegAX)
		}
	case wasm.OpcodeI32ShrU, wasm.OpcodeI64ShrU:
		if w {
			a.ShrQ(amd64.RegAX)
		} else {
			a.ShrL(amd64.RegAX)
		}
	case wasm.OpcodeI32Rotl, wasm.OpcodeI64Rotl:
		if w {
			a.RolCLQ(amd64.RegAX)
		} else {
			a.RolCLL(amd64.RegAX)
		}
	case wasm.OpcodeI32Rotr, wasm.OpcodeI64Rotr:
		if w {
			a.RorCLQ(amd64.RegAX)
		} else {
			a.RorCLL(amd64.RegAX)
		}
	default:
		panic(fmt.Sprintf("compiler: unhandled shift/rotate opcode %#x", byte(op)))
	}
	c.pushInt(w, amd64.RegAX)
}

// compileDivS lowers the signed division opcodes. Division by zero and the INT_MIN/-1 overflow
// case (which hardware IDIV faults on rather than returning a value) are both checked explicitly
// and routed to a trap before IDIV ever executes.
func (c *compiler) compileDivS(w bool) {
	a := c.asm
	c.popIntPair(w)

	zeroOK := a.NewLabel()
	if w {
		a.TestQ(amd64.RegCX, amd64.RegCX)
	} else {
		a.TestL(amd64.RegCX, amd64.RegCX)
	}
	a.Jcc(amd64.CondNE, zeroOK)
	c.emitTrap(api.TrapCodeIntegerDivideByZero)
	a.BindLabel(zeroOK)

	notOverflow := a.NewLabel()
	if w {
		a.MovImm64(amd64.RegBX, 0xffffffffffffffff)
		a.CmpQ(amd64.RegCX, amd64.RegBX)
	} else {
		a.MovImm32(amd64.RegBX, 0xffffffff)
		a.CmpL(amd64.RegCX, amd64.RegBX)
	}
	a.Jcc(amd64.CondNE, notOverflow)
	if w {
		a.MovImm64(amd64.RegDX, 0x8000000000000000)
		a.CmpQ(amd64.RegAX, amd64.RegDX)
	} else {
		a.MovImm32(amd64.RegDX, 0x80000000)
		a.CmpL(amd64.RegAX, amd64.RegDX)
	}
	a.Jcc(amd64.CondNE, notOverflow)
	c.emitTrap(api.TrapCodeIntegerOverflow)
	a.BindLabel(notOverflow)

	if w {
		a.Cqo()
		a.IdivQ(amd64.RegCX)
	} else {
		a.Cdq()
		a.IdivL(amd64.RegCX)
	}
	c.pushInt(w, amd64.RegAX)
}

// compileRemS mirrors compileDivS's trap checks, except wasm defines the INT_MIN/-1 case as a
// defined result of 0 rather than a trap (only the quotient operation overflows; the remainder of
// that division is always representable).
func (c *compiler) compileRemS(w bool) {
	a := c.asm
	c.popIntPair(w)

	zeroOK := a.NewLabel()
	if w {
		a.TestQ(amd64.RegCX, amd64.RegCX)
	} else {
		a.TestL(amd64.RegCX, amd64.RegCX)
	}
	a.Jcc(amd64.CondNE, zeroOK)
	c.emitTrap(api.TrapCodeIntegerDivideByZero)
	a.BindLabel(zeroOK)

	doDiv := a.NewLabel()
	after := a.NewLabel()
	if w {
		a.MovImm64(amd64.RegBX, 0xffffffffffffffff)
		a.CmpQ(amd64.RegCX, amd64.RegBX)
	} else {
		a.MovImm32(amd64.RegBX, 0xffffffff)
		a.CmpL(amd64.RegCX, amd64.RegBX)
	}
	a.Jcc(amd64.CondNE, doDiv)
	if w {
		a.MovImm64(amd64.RegDX, 0x8000000000000000)
		a.CmpQ(amd64.RegAX, amd64.RegDX)
	} else {
		a.MovImm32(amd64.RegDX, 0x80000000)
		a.CmpL(amd64.RegAX, amd64.RegDX)
	}
	a.Jcc(amd64.CondNE, doDiv)
	a.MovImm32(amd64.RegDX, 0)
	a.Jmp(after)

	a.BindLabel(doDiv)
	if w {
		a.Cqo()
		a.IdivQ(amd64.RegCX)
	} else {
		a.Cdq()
		a.IdivL(amd64.RegCX)
	}
	a.BindLabel(after)
	c.pushInt(w, amd64.RegDX)
}

func (c *compiler) compileDivU(w bool) {
	a := c.asm
	c.popIntPair(w)
	zeroOK := a.NewLabel()
	if w {
		a.TestQ(amd64.RegCX, amd64.RegCX)
	} else {
		a.TestL(amd64.RegCX, amd64.RegCX)
	}
	a.Jcc(amd64.CondNE, zeroOK)
	c.emitTrap(api.TrapCodeIntegerDivideByZero)
	a.BindLabel(zeroOK)
	if w {
		a.XorQ(amd64.RegDX, amd64.RegDX)
		a.DivQ(amd64.RegCX)
	} else {
		a.XorL(amd64.RegDX, amd64.RegDX)
		a.DivL(amd64.RegCX)
	}
	c.pushInt(w, amd64.RegAX)
}

func (c *compiler) compileRemU(w bool) {
	a := c.asm
	c.popIntPair(w)
	zeroOK := a.NewLabel()
	if w {
		a.TestQ(amd64.RegCX, amd64.RegCX)
	} else {
		a.TestL(amd64.RegCX, amd64.RegCX)
	}
	a.Jcc(amd64.CondNE, zeroOK)
	c.emitTrap(api.TrapCodeIntegerDivideByZero)
	a.BindLabel(zeroOK)
	if w {
		a.XorQ(amd64.RegDX, amd64.RegDX)
		a.DivQ(amd64.RegCX)
	} else {
		a.XorL(amd64.RegDX, amd64.RegDX)
		a.DivL(amd64.RegCX)
	}
	c.pushInt(w, amd64.RegDX)
}

func (c *compiler) compileEqz(w bool) {
	_, slot := c.frame.pop()
	c.loadInt(amd64.RegAX, slot, w)
	if w {
		c.asm.TestQ(amd64.RegAX, amd64.RegAX)
	} else {
		c.asm.TestL(amd64.RegAX, amd64.RegAX)
	}
	c.pushSetcc(amd64.CondE)
}

func (c *compiler) compileIntCompare(cc amd64.ConditionCode, w bool) {
	c.popIntPair(w)
	if w {
		c.asm.CmpQ(amd64.RegAX, amd64.RegCX)
	} else {
		c.asm.CmpL(amd64.RegAX, amd64.RegCX)
	}
	c.pushSetcc(cc)
}

// compileClz/compileCtz handle BSR/BSF's own undefined-at-zero behavior explicitly: wasm defines
// clz(0)/ctz(0) as the operand's bit width, whereas the hardware instruction leaves ZF=1 and the
// destination register unspecified in that case.
func (c *compiler) compileClz(w bool) {
	a := c.asm
	_, slot := c.frame.pop()
	c.loadInt(amd64.RegAX, slot, w)
	if w {
		a.BsrQ(amd64.RegCX, amd64.RegAX)
	} else {
		a.BsrL(amd64.RegCX, amd64.RegAX)
	}
	width := 32
	if w {
		width = 64
	}
	zero := a.NewLabel()
	done := a.NewLabel()
	a.Jcc(amd64.CondE, zero)
	a.MovImm32(amd64.RegDX, uint32(width-1))
	a.SubQ(amd64.RegDX, amd64.RegCX)
	a.Jmp(done)
	a.BindLabel(zero)
	a.MovImm32(amd64.RegDX, uint32(width))
	a.BindLabel(done)
	c.pushInt(w, amd64.RegDX)
}

func (c *compiler) compileCtz(w bool) {
	a := c.asm
	_, slot := c.frame.pop()
	c.loadInt(amd64.RegAX, slot, w)
	if w {
		a.BsfQ(amd64.RegCX, amd64.RegAX)
	} else {
		a.BsfL(amd64.RegCX, amd64.RegAX)
	}
	width := 32
	if w {
		width = 64
	}
	zero := a.NewLabel()
	done := a.NewLabel()
	a.Jcc(amd64.CondE, zero)
	a.MovRR(amd64.RegDX, amd64.RegCX)
	a.Jmp(done)
	a.BindLabel(zero)
	a.MovImm32(amd64.RegDX, uint32(width))
	a.BindLabel(done)
	c.pushInt(w, amd64.RegDX)
}

func (c *compiler) compilePopcnt(w bool) {
	a := c.asm
	_, slot := c.frame.pop()
	c.loadInt(amd64.RegAX, slot, w)
	if w {
		a.PopcntQ(amd64.RegDX, amd64.RegAX)
	} else {
		a.PopcntL(amd64.RegDX, amd64.RegAX)
	}
	c.pushInt(w, amd64.RegDX)
}

// --- floating point --------------------------------------------------------------------------------

func (c *compiler) loadFloat(dst amd64.Register, m amd64.Mem, isF64 bool) {
	if isF64 {
		c.asm.MovsdLoad(dst, m)
	} else {
		c.asm.MovssLoad(dst, m)
	}
}

func (c *compiler) pushFloat(isF64 bool, src amd64.Register) {
	kind := kindF32
	if isF64 {
		kind = kindF64
	}
	dst := c.frame.push(kind)
	if isF64 {
		c.asm.MovsdStore(dst, src)
	} else {
		c.asm.MovssStore(dst, src)
	}
}

// popFloatPair pops rhs then lhs into X1/X0, matching popIntPair's ordering.
func (c *compiler) popFloatPair(isF64 bool) {
	_, rhsSlot := c.frame.pop()
	_, lhsSlot := c.frame.pop()
	c.loadFloat(amd64.RegX0, lhsSlot, isF64)
	c.loadFloat(amd64.RegX1, rhsSlot, isF64)
}

func (c *compiler) compileFloatBinary(op wasm.Opcode, isF64 bool) {
	c.popFloatPair(isF64)
	a := c.asm
	switch op {
	case wasm.OpcodeF32Add, wasm.OpcodeF64Add:
		if isF64 {
			a.AddsdRR(amd64.RegX0, amd64.RegX1)
		} else {
			a.AddssRR(amd64.RegX0, amd64.RegX1)
		}
	case wasm.OpcodeF32Sub, wasm.OpcodeF64Sub:
		if isF64 {
			a.SubsdRR(amd64.RegX0, amd64.RegX1)
		} else {
			a.SubssRR(amd64.RegX0, amd64.RegX1)
		}
	case wasm.OpcodeF32Mul, wasm.OpcodeF64Mul:
		if isF64 {
			a.MulsdRR(amd64.RegX0, amd64.RegX1)
		} else {
			a.MulssRR(amd64.RegX0, amd64.RegX1)
		}
	case wasm.OpcodeF32Div, wasm.OpcodeF64Div:
		if isF64 {
			a.DivsdRR(amd64.RegX0, amd64.RegX1)
		} else {
			a.DivssRR(amd64.RegX0, amd64.RegX1)
		}
	case wasm.OpcodeF32Min, wasm.OpcodeF64Min:
		// MINSD/MINSS's own NaN and signed-zero tie-breaking, not wasm's min rules to the letter
		// (see DESIGN.md).
		if isF64 {
			a.MinsdRR(amd64.RegX0, amd64.RegX1)
		} else {
			a.MinssRR(amd64.RegX0, amd64.RegX1)
		}
	case wasm.OpcodeF32Max, wasm.OpcodeF64Max:
		if isF64 {
			a.MaxsdRR(amd64.RegX0, amd64.RegX1)
		} else {
			a.MaxssRR(amd64.RegX0, amd64.RegX1)
		}
	case wasm.OpcodeF32Copysign, wasm.OpcodeF64Copysign:
		c.emitCopysign(isF64)
		c.pushFloat(isF64, amd64.RegX0)
		return
	default:
		panic(fmt.Sprintf("compiler: unhandled float binary opcode %#x", byte(op)))
	}
	c.pushFloat(isF64, amd64.RegX0)
}

// emitCopysign computes sign(X1) folded onto the magnitude of X0, leaving the result in X0:
// (X0 & absMask) | (X1 & signMask).
func (c *compiler) emitCopysign(isF64 bool) {
	a := c.asm
	absMask, signMask := uint64(0x000000007fffffff), uint64(0x0000000080000000)
	if isF64 {
		absMask, signMask = 0x7fffffffffffffff, 0x8000000000000000
	}
	a.MovImm64(amd64.RegAX, absMask)
	a.MovqGprToXmm(amd64.RegX2, amd64.RegAX)
	a.AndpdRR(amd64.RegX0, amd64.RegX2)
	a.MovImm64(amd64.RegAX, signMask)
	a.MovqGprToXmm(amd64.RegX2, amd64.RegAX)
	a.AndpdRR(amd64.RegX1, amd64.RegX2)
	a.OrpdRR(amd64.RegX0, amd64.RegX1)
}

func (c *compiler) compileFloatUnary(op wasm.Opcode, isF64 bool) {
	_, slot := c.frame.pop()
	c.loadFloat(amd64.RegX0, slot, isF64)
	a := c.asm
	switch op {
	case wasm.OpcodeF32Abs, wasm.OpcodeF64Abs:
		mask := uint64(0x000000007fffffff)
		if isF64 {
			mask = 0x7fffffffffffffff
		}
		a.MovImm64(amd64.RegAX, mask)
		a.MovqGprToXmm(amd64.RegX1, amd64.RegAX)
		a.AndpdRR(amd64.RegX0, amd64.RegX1)
	case wasm.OpcodeF32Neg, wasm.OpcodeF64Neg:
		mask := uint64(0x0000000080000000)
		if isF64 {
			mask = 0x8000000000000000
		}
		a.MovImm64(amd64.RegAX, mask)
		a.MovqGprToXmm(amd64.RegX1, amd64.RegAX)
		a.PxorRR(amd64.RegX0, amd64.RegX1)
	case wasm.OpcodeF32Sqrt, wasm.OpcodeF64Sqrt:
		if isF64 {
			a.SqrtsdRR(amd64.RegX0, amd64.RegX0)
		} else {
			a.SqrtssRR(amd64.RegX0, amd64.RegX0)
		}
	case wasm.OpcodeF32Ceil, wasm.OpcodeF64Ceil:
		c.emitRound(isF64, amd64.RoundUp)
	case wasm.OpcodeF32Floor, wasm.OpcodeF64Floor:
		c.emitRound(isF64, amd64.RoundDown)
	case wasm.OpcodeF32Trunc, wasm.OpcodeF64Trunc:
		c.emitRound(isF64, amd64.RoundZero)
	case wasm.OpcodeF32Nearest, wasm.OpcodeF64Nearest:
		c.emitRound(isF64, amd64.RoundNearest)
	default:
		panic(fmt.Sprintf("compiler: unhandled float unary opcode %#x", byte(op)))
	}
	c.pushFloat(isF64, amd64.RegX0)
}

func (c *compiler) emitRound(isF64 bool, mode amd64.RoundMode) {
	if isF64 {
		c.asm.RoundsdRR(amd64.RegX0, amd64.RegX0, mode)
	} else {
		c.asm.RoundssRR(amd64.RegX0, amd64.RegX0, mode)
	}
}

// compileFloatCompare handles eq/ne (which need an explicit parity check to exclude the unordered
// NaN case from UCOMISD/UCOMISS's ZF=1) and lt/le/gt/ge (which fold the unordered case in for free
// by picking operand order + condition code so NaN always reads as "false", matching wasm).
func (c *compiler) compileFloatCompare(op wasm.Opcode, isF64 bool) {
	c.popFloatPair(isF64)
	a := c.asm
	ucomis := a.UcomissRR
	if isF64 {
		ucomis = a.UcomisdRR
	}
	switch op {
	case wasm.OpcodeF32Eq, wasm.OpcodeF64Eq:
		ucomis(amd64.RegX0, amd64.RegX1)
		a.MovImm32(amd64.RegDX, 0)
		a.Setcc(amd64.CondE, amd64.RegDX)
		a.MovImm32(amd64.RegCX, 0)
		a.Setcc(amd64.CondNP, amd64.RegCX)
		a.AndL(amd64.RegDX, amd64.RegCX)
	case wasm.OpcodeF32Ne, wasm.OpcodeF64Ne:
		ucomis(amd64.RegX0, amd64.RegX1)
		a.MovImm32(amd64.RegDX, 0)
		a.Setcc(amd64.CondNE, amd64.RegDX)
		a.MovImm32(amd64.RegCX, 0)
		a.Setcc(amd64.CondP, amd64.RegCX)
		a.OrL(amd64.RegDX, amd64.RegCX)
	case wasm.OpcodeF32Lt, wasm.OpcodeF64Lt:
		ucomis(amd64.RegX1, amd64.RegX0) // swapped: lhs < rhs  <=>  rhs > lhs
		a.MovImm32(amd64.RegDX, 0)
		a.Setcc(amd64.CondA, amd64.RegDX)
	case wasm.OpcodeF32Le, wasm.OpcodeF64Le:
		ucomis(amd64.RegX1, amd64.RegX0)
		a.MovImm32(amd64.RegDX, 0)
		a.Setcc(amd64.CondAE, amd64.RegDX)
	case wasm.OpcodeF32Gt, wasm.OpcodeF64Gt:
		ucomis(amd64.RegX0, amd64.RegX1)
		a.MovImm32(amd64.RegDX, 0)
		a.Setcc(amd64.CondA, amd64.RegDX)
	case wasm.OpcodeF32Ge, wasm.OpcodeF64Ge:
		ucomis(amd64.RegX0, amd64.RegX1)
		a.MovImm32(amd64.RegDX, 0)
		a.Setcc(amd64.CondAE, amd64.RegDX)
	default:
		panic(fmt.Sprintf("compiler: unhandled float compare opcode %#x", byte(op)))
	}
	c.pushInt(false, amd64.RegDX)
}

// --- conversions -------------------------------------------------------------------------------

func (c *compiler) compileWrap() {
	_, slot := c.frame.pop()
	c.asm.LoadL(amd64.RegAX, slot) // low 32 bits of the i64 slot, which is exactly the wrap result
	c.pushInt(false, amd64.RegAX)
}

func (c *compiler) compileExtend(signed bool) {
	_, slot := c.frame.pop()
	c.asm.LoadL(amd64.RegAX, slot)
	if signed {
		c.asm.MovsxdRR(amd64.RegAX, amd64.RegAX)
	}
	c.pushInt(true, amd64.RegAX)
}

// compileConvert lowers the i->f conversions. An unsigned 32-bit source always fits in the signed
// 64-bit range CVTSI2SD/SS expects, so it needs no special handling beyond a zero-extending load; a
// signed 32-bit source is sign-extended first. Only the i64_u source needs the classic
// round-to-odd halving trick, since an unsigned 64-bit value can exceed what CVTSI2SD's signed
// input can represent directly.
func (c *compiler) compileConvert(srcIs64, srcSigned, isF64 bool) {
	_, slot := c.frame.pop()
	a := c.asm
	if !srcIs64 {
		a.LoadL(amd64.RegAX, slot)
		if srcSigned {
			a.MovsxdRR(amd64.RegAX, amd64.RegAX)
		}
	} else {
		a.LoadQ(amd64.RegAX, slot)
	}

	cvt := a.Cvtsi2ssQ
	if isF64 {
		cvt = a.Cvtsi2sdQ
	}

	if srcIs64 && !srcSigned {
		c.emitUnsignedI64ToFloat(isF64)
	} else {
		cvt(amd64.RegX0, amd64.RegAX)
	}
	c.pushFloat(isF64, amd64.RegX0)
}

func (c *compiler) emitUnsignedI64ToFloat(isF64 bool) {
	a := c.asm
	cvt := a.Cvtsi2ssQ
	addSelf := a.AddssRR
	if isF64 {
		cvt = a.Cvtsi2sdQ
		addSelf = a.AddsdRR
	}

	positive := a.NewLabel()
	done := a.NewLabel()
	a.TestQ(amd64.RegAX, amd64.RegAX)
	a.Jcc(amd64.CondNS, positive) // sign bit clear: fits directly in the signed range

	// round-to-odd halving: keep the dropped low bit alive through the shift (CX=1, the shift
	// count ShrQ reads from CL) so the final double rounds the same way the exact value would.
	a.MovRR(amd64.RegBX, amd64.RegAX)
	a.MovImm32(amd64.RegCX, 1)
	a.AndQ(amd64.RegBX, amd64.RegCX)
	a.ShrQ(amd64.RegAX)
	a.OrQ(amd64.RegAX, amd64.RegBX)
	cvt(amd64.RegX0, amd64.RegAX)
	addSelf(amd64.RegX0, amd64.RegX0)
	a.Jmp(done)

	a.BindLabel(positive)
	cvt(amd64.RegX0, amd64.RegAX)

	a.BindLabel(done)
}

// compileTrunc lowers the f->i conversions. The valid source range is checked explicitly against
// the destination's bounds before truncating, trapping on NaN or out-of-range values rather than
// relying on CVTTSD2SI's indefinite-integer sentinel, which is ambiguous with the legitimate
// minimum signed value.
func (c *compiler) compileTrunc(srcIsF64, dstIs64, dstSigned bool) {
	_, slot := c.frame.pop()
	a := c.asm
	c.loadFloat(amd64.RegX0, slot, srcIsF64)

	var lower, upper float64
	if dstSigned {
		if dstIs64 {
			lower, upper = -9223372036854775808.0, 9223372036854775808.0
		} else {
			lower, upper = -2147483648.0, 2147483648.0
		}
	} else if dstIs64 {
		upper = 18446744073709551616.0
	} else {
		upper = 4294967296.0
	}

	loadBound := func(reg amd64.Register, v float64) {
		if srcIsF64 {
			a.MovImm64(amd64.RegBX, math.Float64bits(v))
		} else {
			a.MovImm64(amd64.RegBX, uint64(math.Float32bits(float32(v))))
		}
		a.MovqGprToXmm(reg, amd64.RegBX)
	}

	ucomis := a.UcomissRR
	if srcIsF64 {
		ucomis = a.UcomisdRR
	}

	if dstSigned {
		loadBound(amd64.RegX1, lower)
		lowerOK := a.NewLabel()
		ucomis(amd64.RegX0, amd64.RegX1)
		a.Jcc(amd64.CondAE, lowerOK)
		c.emitTrap(api.TrapCodeInvalidConversionToInteger)
		a.BindLabel(lowerOK)
	} else {
		// unsigned: valid only if the source is >= 0 (and ordered, excluding NaN).
		a.MovImm32(amd64.RegBX, 0)
		a.MovqGprToXmm(amd64.RegX1, amd64.RegBX)
		geZero := a.NewLabel()
		ucomis(amd64.RegX0, amd64.RegX1)
		a.Jcc(amd64.CondAE, geZero)
		c.emitTrap(api.TrapCodeInvalidConversionToInteger)
		a.BindLabel(geZero)
	}

	loadBound(amd64.RegX1, upper)
	upperOK := a.NewLabel()
	ucomis(amd64.RegX1, amd64.RegX0)
	a.Jcc(amd64.CondA, upperOK)
	c.emitTrap(api.TrapCodeInvalidConversionToInteger)
	a.BindLabel(upperOK)

	switch {
	case !dstIs64:
		// Whether signed or unsigned, a valid i32 result fits in the 64-bit signed truncate's
		// range, so the low 32 bits it leaves in AX are already the correct bit pattern.
		if srcIsF64 {
			a.Cvttsd2siQ(amd64.RegAX, amd64.RegX0)
		} else {
			a.Cvttss2siQ(amd64.RegAX, amd64.RegX0)
		}
		c.pushInt(false, amd64.RegAX)
	case dstSigned:
		if srcIsF64 {
			a.Cvttsd2siQ(amd64.RegAX, amd64.RegX0)
		} else {
			a.Cvttss2siQ(amd64.RegAX, amd64.RegX0)
		}
		c.pushInt(true, amd64.RegAX)
	default:
		c.emitTruncUnsignedI64(srcIsF64)
		c.pushInt(true, amd64.RegAX)
	}
}

// emitTruncUnsignedI64 truncates a validated (already range-checked, non-negative, < 2^64) float
// in X0 to an unsigned 64-bit integer in AX, using the same subtract-2^63 trick as the widening
// conversion's inverse.
func (c *compiler) emitTruncUnsignedI64(srcIsF64 bool) {
	a := c.asm
	threshold := 9223372036854775808.0 // 2^63
	if srcIsF64 {
		a.MovImm64(amd64.RegBX, math.Float64bits(threshold))
	} else {
		a.MovImm64(amd64.RegBX, uint64(math.Float32bits(float32(threshold))))
	}
	a.MovqGprToXmm(amd64.RegX1, amd64.RegBX)

	below := a.NewLabel()
	done := a.NewLabel()
	ucomis := a.UcomissRR
	sub := a.SubssRR
	cvt := a.Cvttss2siQ
	if srcIsF64 {
		ucomis, sub, cvt = a.UcomisdRR, a.SubsdRR, a.Cvttsd2siQ
	}
	ucomis(amd64.RegX1, amd64.RegX0) // threshold > value?
	a.Jcc(amd64.CondA, below)

	sub(amd64.RegX0, amd64.RegX1)
	cvt(amd64.RegAX, amd64.RegX0)
	a.MovImm64(amd64.RegBX, 0x8000000000000000)
	a.AddQ(amd64.RegAX, amd64.RegBX)
	a.Jmp(done)

	a.BindLabel(below)
	cvt(amd64.RegAX, amd64.RegX0)

	a.BindLabel(done)
}

func (c *compiler) compileDemote() {
	_, slot := c.frame.pop()
	c.asm.MovsdLoad(amd64.RegX0, slot)
	c.asm.Cvtsd2ssRR(amd64.RegX0, amd64.RegX0)
	c.pushFloat(false, amd64.RegX0)
}

func (c *compiler) compilePromote() {
	_, slot := c.frame.pop()
	c.asm.MovssLoad(amd64.RegX0, slot)
	c.asm.Cvtss2sdRR(amd64.RegX0, amd64.RegX0)
	c.pushFloat(true, amd64.RegX0)
}

// compileReinterpret relabels a slot's logical kind without touching its bits: i32/f32 and i64/f64
// already share the same underlying 8-byte stack representation.
func (c *compiler) compileReinterpret(toFloat, is64 bool) {
	_, slot := c.frame.pop()
	c.asm.LoadQ(amd64.RegAX, slot)
	if toFloat {
		kind := kindF32
		if is64 {
			kind = kindF64
		}
		c.asm.StoreQ(c.frame.push(kind), amd64.RegAX) // 64-bit store covers both widths; f32 readers only use the low 32 bits
	} else {
		c.pushInt(is64, amd64.RegAX)
	}
}

func (c *compiler) compileNumeric(ins wasm.Instruction) {
	op := ins.Opcode
	switch op {
	case wasm.OpcodeI32Eqz:
		c.compileEqz(false)
	case wasm.OpcodeI64Eqz:
		c.compileEqz(true)
	case wasm.OpcodeI32Eq:
		c.compileIntCompare(amd64.CondE, false)
	case wasm.OpcodeI32Ne:
		c.compileIntCompare(amd64.CondNE, false)
	case wasm.OpcodeI32LtS:
		c.compileIntCompare(amd64.CondL, false)
	case wasm.OpcodeI32LtU:
		c.compileIntCompare(amd64.CondB, false)
	case wasm.OpcodeI32GtS:
		c.compileIntCompare(amd64.CondG, false)
	case wasm.OpcodeI32GtU:
		c.compileIntCompare(amd64.CondA, false)
	case wasm.OpcodeI32LeS:
		c.compileIntCompare(amd64.CondLE, false)
	case wasm.OpcodeI32LeU:
		c.compileIntCompare(amd64.CondBE, false)
	case wasm.OpcodeI32GeS:
		c.compileIntCompare(amd64.CondGE, false)
	case wasm.OpcodeI32GeU:
		c.compileIntCompare(amd64.CondAE, false)

	case wasm.OpcodeI64Eq:
		c.compileIntCompare(amd64.CondE, true)
	case wasm.OpcodeI64Ne:
		c.compileIntCompare(amd64.CondNE, true)
	case wasm.OpcodeI64LtS:
		c.compileIntCompare(amd64.CondL, true)
	case wasm.OpcodeI64LtU:
		c.compileIntCompare(amd64.CondB, true)
	case wasm.OpcodeI64GtS:
		c.compileIntCompare(amd64.CondG, true)
	case wasm.OpcodeI64GtU:
		c.compileIntCompare(amd64.CondA, true)
	case wasm.OpcodeI64LeS:
		c.compileIntCompare(amd64.CondLE, true)
	case wasm.OpcodeI64LeU:
		c.compileIntCompare(amd64.CondBE, true)
	case wasm.OpcodeI64GeS:
		c.compileIntCompare(amd64.CondGE, true)
	case wasm.OpcodeI64GeU:
		c.compileIntCompare(amd64.CondAE, true)

	case wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt, wasm.OpcodeF32Le, wasm.OpcodeF32Ge:
		c.compileFloatCompare(op, false)
	case wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt, wasm.OpcodeF64Le, wasm.OpcodeF64Ge:
		c.compileFloatCompare(op, true)

	case wasm.OpcodeI32Clz:
		c.compileClz(false)
	case wasm.OpcodeI64Clz:
		c.compileClz(true)
	case wasm.OpcodeI32Ctz:
		c.compileCtz(false)
	case wasm.OpcodeI64Ctz:
		c.compileCtz(true)
	case wasm.OpcodeI32Popcnt:
		c.compilePopcnt(false)
	case wasm.OpcodeI64Popcnt:
		c.compilePopcnt(true)

	case wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul, wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor:
		c.compileIntBinary(op, false)
	case wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul, wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor:
		c.compileIntBinary(op, true)

	case wasm.OpcodeI32DivS:
		c.compileDivS(false)
	case wasm.OpcodeI64DivS:
		c.compileDivS(true)
	case wasm.OpcodeI32DivU:
		c.compileDivU(false)
	case wasm.OpcodeI64DivU:
		c.compileDivU(true)
	case wasm.OpcodeI32RemS:
		c.compileRemS(false)
	case wasm.OpcodeI64RemS:
		c.compileRemS(true)
	case wasm.OpcodeI32RemU:
		c.compileRemU(false)
	case wasm.OpcodeI64RemU:
		c.compileRemU(true)

	case wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrU, wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr:
		c.compileShiftRotate(op, false)
	case wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU, wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr:
		c.compileShiftRotate(op, true)

	case wasm.OpcodeF32Abs, wasm.OpcodeF32Neg, wasm.OpcodeF32Ceil, wasm.OpcodeF32Floor, wasm.OpcodeF32Trunc,
		wasm.OpcodeF32Nearest, wasm.OpcodeF32Sqrt:
		c.compileFloatUnary(op, false)
	case wasm.OpcodeF64Abs, wasm.OpcodeF64Neg, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor, wasm.OpcodeF64Trunc,
		wasm.OpcodeF64Nearest, wasm.OpcodeF64Sqrt:
		c.compileFloatUnary(op, true)

	case wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div, wasm.OpcodeF32Min,
		wasm.OpcodeF32Max, wasm.OpcodeF32Copysign:
		c.compileFloatBinary(op, false)
	case wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div, wasm.OpcodeF64Min,
		wasm.OpcodeF64Max, wasm.OpcodeF64Copysign:
		c.compileFloatBinary(op, true)

	case wasm.OpcodeI32WrapI64:
		c.compileWrap()
	case wasm.OpcodeI64ExtendI32S:
		c.compileExtend(true)
	case wasm.OpcodeI64ExtendI32U:
		c.compileExtend(false)

	case wasm.OpcodeI32TruncF32S:
		c.compileTrunc(false, false, true)
	case wasm.OpcodeI32TruncF32U:
		c.compileTrunc(false, false, false)
	case wasm.OpcodeI32TruncF64S:
		c.compileTrunc(true, false, true)
	case wasm.OpcodeI32TruncF64U:
		c.compileTrunc(true, false, false)
	case wasm.OpcodeI64TruncF32S:
		c.compileTrunc(false, true, true)
	case wasm.OpcodeI64TruncF32U:
		c.compileTrunc(false, true, false)
	case wasm.OpcodeI64TruncF64S:
		c.compileTrunc(true, true, true)
	case wasm.OpcodeI64TruncF64U:
		c.compileTrunc(true, true, false)

	case wasm.OpcodeF32ConvertI32S:
		c.compileConvert(false, true, false)
	case wasm.OpcodeF32ConvertI32U:
		c.compileConvert(false, false, false)
	case wasm.OpcodeF32ConvertI64S:
		c.compileConvert(true, true, false)
	case wasm.OpcodeF32ConvertI64U:
		c.compileConvert(true, false, false)
	case wasm.OpcodeF64ConvertI32S:
		c.compileConvert(false, true, true)
	case wasm.OpcodeF64ConvertI32U:
		c.compileConvert(false, false, true)
	case wasm.OpcodeF64ConvertI64S:
		c.compileConvert(true, true, true)
	case wasm.OpcodeF64ConvertI64U:
		c.compileConvert(true, false, true)

	case wasm.OpcodeF32DemoteF64:
		c.compileDemote()
	case wasm.OpcodeF64PromoteF32:
		c.compilePromote()

	case wasm.OpcodeI32ReinterpretF32:
		c.compileReinterpret(false, false)
	case wasm.OpcodeI64ReinterpretF64:
		c.compileReinterpret(false, true)
	case wasm.OpcodeF32ReinterpretI32:
		c.compileReinterpret(true, false)
	case wasm.OpcodeF64ReinterpretI64:
		c.compileReinterpret(true, true)

	default:
		panic(fmt.Sprintf("compiler: unhandled numeric opcode %#x", byte(op)))
	}
}
