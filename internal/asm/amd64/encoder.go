package amd64

import "encoding/binary"

// Mem is a [base+disp32] memory operand. base must never be RegSP or RegR12 (those require a SIB
// byte in x86-64's encoding); the compiler reserves RBP for the current function's stack frame and
// R13 for the active memory's *wasm.MemoryInstance, and never uses RSP/R12 as an addressable base,
// so this encoder never needs to emit one.
type Mem struct {
	Base Register
	Disp int32
}

// Assembler accumulates machine code into a single growing byte buffer: one append-only pass
// emitting real bytes directly, rather than wazero's linked-list-of-nodes, two-pass assembler.
// Labels record forward/backward jump targets within that same buffer; imm64 slots are returned
// as byte offsets a caller can patch directly.
type Assembler struct {
	buf     []byte
	pending []pendingJump
}

type pendingJump struct {
	offset int    // position of the rel32 field
	label  *Label // held by pointer: BindLabel mutates the Label this points at, after recordJump runs
}

// Label identifies a position in the instruction stream, bound once via BindLabel.
type Label struct {
	id     int
	bound  bool
	offset int
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler { return &Assembler{} }

// Bytes returns the accumulated machine code.
func (a *Assembler) Bytes() []byte { return a.buf }

// Len returns the number of bytes emitted so far.
func (a *Assembler) Len() int { return len(a.buf) }

func (a *Assembler) emit(b ...byte) { a.buf = append(a.buf, b...) }

func (a *Assembler) emitU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

func (a *Assembler) emitU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

// NewLabel allocates an unbound label.
func (a *Assembler) NewLabel() *Label { return &Label{id: len(a.pending) + 1} }

// BindLabel fixes l to the assembler's current write position.
func (a *Assembler) BindLabel(l *Label) {
	l.bound = true
	l.offset = len(a.buf)
}

// MovImm64 emits a 10-byte MOVABS reg, imm64 and returns the byte offset of the 8-byte immediate
// field, so a caller can patch it later with PatchImm64. The compiler loads trampoline addresses,
// memory/global instance pointers and 64-bit constants this way and never patches them afterwards.
func (a *Assembler) MovImm64(dst Register, imm uint64) (immOffset int) {
	rex, _ := a.rexRB(true, RegNone, dst)
	a.emit(rex, 0xb8+regOpcodeField(dst))
	immOffset = len(a.buf)
	a.emitU64(imm)
	return immOffset
}

// PatchImm64 overwrites the 8-byte immediate at offset (as returned by MovImm64) with value.
func (a *Assembler) PatchImm64(offset int, value uint64) {
	binary.LittleEndian.PutUint64(a.buf[offset:offset+8], value)
}

// PatchRel32 overwrites the 4-byte rel32 at offset with value (Finalize uses it to write each
// pending Jmp/Jcc displacement).
func (a *Assembler) PatchRel32(offset int, value int32) {
	binary.LittleEndian.PutUint32(a.buf[offset:offset+4], uint32(value))
}

// Finalize patches every pending Jmp/Jcc against its now-bound label. Every label passed to Jmp/Jcc
// must be bound (via BindLabel) before Finalize is called.
func (a *Assembler) Finalize() {
	for _, p := range a.pending {
		rel := int32(p.label.offset - (p.offset + 4))
		a.PatchRel32(p.offset, rel)
	}
	a.pending = nil
}

// --- register/ModRM plumbing -------------------------------------------------------------------

func regOpcodeField(r Register) byte {
	bits, _ := r.bits3()
	return bits
}

// rexRB builds a REX prefix for a two-operand instruction where reg selects the REX.R extension
// bit and rm selects REX.B. w requests REX.W (64-bit operand size). Returns 0x40-0x4f and whether
// an extension bit is set. x86-64 permits (but does not require) an all-zero-bit REX prefix, so
// some callers emit it unconditionally, while others (the 32-bit moves, loads and stores) emit it
// only when anyExt is true.
func (a *Assembler) rexRB(w bool, reg, rm Register) (rex byte, anyExt bool) {
	rex = 0x40
	if w {
		rex |= 0x08
	}
	if reg != RegNone {
		if _, ext := reg.bits3(); ext {
			rex |= 0x04
			anyExt = true
		}
	}
	if _, ext := rm.bits3(); ext {
		rex |= 0x01
		anyExt = true
	}
	return rex, anyExt
}

// modrmReg emits a register-direct ModRM byte (mod=11) for reg (the ModRM.reg field) and rm (the
// ModRM.rm field, confusingly also a register here).
func (a *Assembler) modrmReg(reg, rm Register) {
	regBits, _ := reg.bits3()
	rmBits, _ := rm.bits3()
	a.emit(0xc0 | regBits<<3 | rmBits)
}

// modrmMem emits a ModRM+disp32 for a [m.Base+m.Disp] operand with reg as the ModRM.reg field.
func (a *Assembler) modrmMem(reg Register, m Mem) {
	regBits, _ := reg.bits3()
	baseBits, _ := m.Base.bits3()
	a.emit(0x80 | regBits<<3 | baseBits)
	a.emitU32(uint32(m.Disp))
}

// --- data movement ------------------------------------------------------------------------------

// MovRR emits MOV dst, src (64-bit general-purpose register to register).
func (a *Assembler) MovRR(dst, src Register) {
	rex, _ := a.rexRB(true, src, dst)
	a.emit(rex, 0x89)
	a.modrmReg(src, dst)
}

// MovRR32 emits the 32-bit (zero-extending) form of MOV dst, src.
func (a *Assembler) MovRR32(dst, src Register) {
	rex, ext := a.rexRB(false, src, dst)
	if ext {
		a.emit(rex)
	}
	a.emit(0x89)
	a.modrmReg(src, dst)
}

// LoadQ emits MOV dst, [m] (64-bit load).
func (a *Assembler) LoadQ(dst Register, m Mem) {
	rex, _ := a.rexRB(true, dst, m.Base)
	a.emit(rex, 0x8b)
	a.modrmMem(dst, m)
}

// LoadL emits MOV dst, [m] (32-bit load, zero-extended into the 64-bit register).
func (a *Assembler) LoadL(dst Register, m Mem) {
	rex, ext := a.rexRB(false, dst, m.Base)
	if ext {
		a.emit(rex)
	}
	a.emit(0x8b)
	a.modrmMem(dst, m)
}

// StoreQ emits MOV [m], src (64-bit store).
func (a *Assembler) StoreQ(m Mem, src Register) {
	rex, _ := a.rexRB(true, src, m.Base)
	a.emit(rex, 0x89)
	a.modrmMem(src, m)
}

// StoreL emits MOV [m], src (32-bit store).
func (a *Assembler) StoreL(m Mem, src Register) {
	rex, ext := a.rexRB(false, src, m.Base)
	if ext {
		a.emit(rex)
	}
	a.emit(0x89)
	a.modrmMem(src, m)
}

// LeaQ emits LEA dst, [m].
func (a *Assembler) LeaQ(dst Register, m Mem) {
	rex, _ := a.rexRB(true, dst, m.Base)
	a.emit(rex, 0x8d)
	a.modrmMem(dst, m)
}

// MovImm32 emits a zero-extending 32-bit immediate load, dst := imm (B8+reg id, no REX.W).
func (a *Assembler) MovImm32(dst Register, imm uint32) {
	rex, ext := a.rexRB(false, RegNone, dst)
	if ext {
		a.emit(rex)
	}
	a.emit(0xb8 + regOpcodeField(dst))
	a.emitU32(imm)
}

// MovzxB8/MovsxB8 load a byte from memory and zero/sign-extend it into a 32-bit (w=false) or
// 64-bit (w=true) register: the i32.load8_u/s and i64.load8_u/s family.
func (a *Assembler) MovzxB8(dst Register, m Mem, w bool) { a.movx(0xb6, w, dst, m) }
func (a *Assembler) MovsxB8(dst Register, m Mem, w bool) { a.movx(0xbe, w, dst, m) }

// MovzxW16/MovsxW16 load a 16-bit halfword from memory and zero/sign-extend it: the
// i32.load16_u/s and i64.load16_u/s family.
func (a *Assembler) MovzxW16(dst Register, m Mem, w bool) { a.movx(0xb7, w, dst, m) }
func (a *Assembler) MovsxW16(dst Register, m Mem, w bool) { a.movx(0xbf, w, dst, m) }

func (a *Assembler) movx(op byte, w bool, dst Register, m Mem) {
	rex, ext := a.rexRB(w, dst, m.Base)
	if w || ext {
		a.emit(rex)
	}
	a.emit(0x0f, op)
	a.modrmMem(dst, m)
}

// StoreB emits MOV [m], src8 (the low byte of src): i32.store8/i64.store8.
func (a *Assembler) StoreB(m Mem, src Register) {
	rex, _ := a.rexRB(false, src, m.Base)
	a.emit(rex, 0x88)
	a.modrmMem(src, m)
}

// StoreW emits MOV [m], src16 (the low word of src): i32.store16/i64.store16.
func (a *Assembler) StoreW(m Mem, src Register) {
	a.emit(0x66)
	rex, ext := a.rexRB(false, src, m.Base)
	if ext {
		a.emit(rex)
	}
	a.emit(0x89)
	a.modrmMem(src, m)
}

// --- integer ALU ---------------------------------------------------------------------------------

type aluOp byte

const (
	aluAdd aluOp = 0x01
	aluOr  aluOp = 0x09
	aluAnd aluOp = 0x21
	aluSub aluOp = 0x29
	aluXor aluOp = 0x31
	aluCmp aluOp = 0x39
)

func (a *Assembler) alu(op aluOp, w bool, dst, src Register) {
	rex, _ := a.rexRB(w, src, dst)
	a.emit(rex, byte(op))
	a.modrmReg(src, dst)
}

// AddQ/SubQ/AndQ/OrQ/XorQ/CmpQ emit the 64-bit dst, src forms of their mnemonic.
func (a *Assembler) AddQ(dst, src Register) { a.alu(aluAdd, true, dst, src) }
func (a *Assembler) SubQ(dst, src Register) { a.alu(aluSub, true, dst, src) }
func (a *Assembler) AndQ(dst, src Register) { a.alu(aluAnd, true, dst, src) }
func (a *Assembler) OrQ(dst, src Register)  { a.alu(aluOr, true, dst, src) }
func (a *Assembler) XorQ(dst, src Register) { a.alu(aluXor, true, dst, src) }
func (a *Assembler) CmpQ(dst, src Register) { a.alu(aluCmp, true, dst, src) }

// AddL/SubL/AndL/OrL/XorL/CmpL emit the 32-bit forms.
func (a *Assembler) AddL(dst, src Register) { a.alu(aluAdd, false, dst, src) }
func (a *Assembler) SubL(dst, src Register) { a.alu(aluSub, false, dst, src) }
func (a *Assembler) AndL(dst, src Register) { a.alu(aluAnd, false, dst, src) }
func (a *Assembler) OrL(dst, src Register)  { a.alu(aluOr, false, dst, src) }
func (a *Assembler) XorL(dst, src Register) { a.alu(aluXor, false, dst, src) }
func (a *Assembler) CmpL(dst, src Register) { a.alu(aluCmp, false, dst, src) }

// TestQ/TestL emit TEST dst, src (used to check a register against zero via TEST r, r).
func (a *Assembler) TestQ(dst, src Register) {
	rex, _ := a.rexRB(true, src, dst)
	a.emit(rex, 0x85)
	a.modrmReg(src, dst)
}
func (a *Assembler) TestL(dst, src Register) {
	rex, ext := a.rexRB(false, src, dst)
	if ext {
		a.emit(rex)
	}
	a.emit(0x85)
	a.modrmReg(src, dst)
}

// ImulQ/ImulL emit the two-operand signed-multiply form, dst *= src.
func (a *Assembler) ImulQ(dst, src Register) {
	rex, _ := a.rexRB(true, dst, src)
	a.emit(rex, 0x0f, 0xaf)
	a.modrmReg(dst, src)
}
func (a *Assembler) ImulL(dst, src Register) {
	rex, ext := a.rexRB(false, dst, src)
	if ext {
		a.emit(rex)
	}
	a.emit(0x0f, 0xaf)
	a.modrmReg(dst, src)
}

// NegQ/NotQ/NegL/NotL emit the one-operand unary forms (ModRM.reg selects /3 or /2).
func (a *Assembler) negnot(opExt byte, w bool, r Register) {
	rex, ext := a.rexRB(w, RegNone, r)
	if w || ext {
		a.emit(rex)
	}
	a.emit(0xf7)
	bits, _ := r.bits3()
	a.emit(0xc0 | opExt<<3 | bits)
}
func (a *Assembler) NegQ(r Register) { a.negnot(3, true, r) }
func (a *Assembler) NotQ(r Register) { a.negnot(2, true, r) }
func (a *Assembler) NegL(r Register) { a.negnot(3, false, r) }
func (a *Assembler) NotL(r Register) { a.negnot(2, false, r) }

// ShlQ/ShrQ/SarQ emit the CL-shift-count forms: r <<= CL / r >>= CL (logical/arithmetic).
func (a *Assembler) shiftCL(opExt byte, w bool, r Register) {
	rex, ext := a.rexRB(w, RegNone, r)
	if w || ext {
		a.emit(rex)
	}
	a.emit(0xd3)
	bits, _ := r.bits3()
	a.emit(0xc0 | opExt<<3 | bits)
}
func (a *Assembler) ShlQ(r Register) { a.shiftCL(4, true, r) }
func (a *Assembler) ShrQ(r Register) { a.shiftCL(5, true, r) }
func (a *Assembler) SarQ(r Register) { a.shiftCL(7, true, r) }
func (a *Assembler) ShlL(r Register) { a.shiftCL(4, false, r) }
func (a *Assembler) ShrL(r Register) { a.shiftCL(5, false, r) }
func (a *Assembler) SarL(r Register) { a.shiftCL(7, false, r) }

// Cdq emits CDQ (sign-extend EAX into EDX:EAX, ahead of a 32-bit IDIV).
func (a *Assembler) Cdq() { a.emit(0x99) }

// Cqo emits CQO (sign-extend RAX into RDX:RAX, ahead of a 64-bit IDIV).
func (a *Assembler) Cqo() { a.emit(0x48, 0x99) }

// IdivQ/IdivL emit signed division: RDX:RAX / r -> quotient RAX, remainder RDX.
func (a *Assembler) IdivQ(r Register) { a.divop(7, true, r) }
func (a *Assembler) IdivL(r Register) { a.divop(7, false, r) }

// DivQ/DivL emit unsigned division.
func (a *Assembler) DivQ(r Register) { a.divop(6, true, r) }
func (a *Assembler) DivL(r Register) { a.divop(6, false, r) }

func (a *Assembler) divop(opExt byte, w bool, r Register) {
	rex, ext := a.rexRB(w, RegNone, r)
	if w || ext {
		a.emit(rex)
	}
	a.emit(0xf7)
	bits, _ := r.bits3()
	a.emit(0xc0 | opExt<<3 | bits)
}

// Setcc emits SETcc on the low byte of r (the AL/CL/... register implied by r's id). REX is always
// emitted, even when r needs no extension bit: without it, ModRM r/m codes 4-7 name the legacy
// AH/CH/DH/BH high-byte registers instead of SPL/BPL/SIL/DIL, and a bare REX prefix is what
// switches the encoding to the low-byte form.
func (a *Assembler) Setcc(cc ConditionCode, r Register) {
	rex, _ := a.rexRB(false, RegNone, r)
	a.emit(rex)
	a.emit(0x0f, 0x90|byte(cc))
	bits, _ := r.bits3()
	a.emit(0xc0 | bits)
}

// --- control flow --------------------------------------------------------------------------------

// Jmp emits a near unconditional jump to l, patched once l is bound and Finalize is called.
func (a *Assembler) Jmp(l *Label) {
	a.emit(0xe9)
	a.recordJump(l)
}

// Jcc emits a near conditional jump to l.
func (a *Assembler) Jcc(cc ConditionCode, l *Label) {
	a.emit(0x0f, 0x80|byte(cc))
	a.recordJump(l)
}

func (a *Assembler) recordJump(l *Label) {
	off := len(a.buf)
	a.emitU32(0)
	if l.bound {
		rel := int32(l.offset - (off + 4))
		a.PatchRel32(off, rel)
		return
	}
	a.pending = append(a.pending, pendingJump{offset: off, label: l})
}

// CallReg emits CALL r (indirect call through a register holding a target address).
func (a *Assembler) CallReg(r Register) {
	rex, ext := a.rexRB(false, RegNone, r)
	if ext {
		a.emit(rex)
	}
	a.emit(0xff)
	bits, _ := r.bits3()
	a.emit(0xc0 | 2<<3 | bits)
}

// Ret emits RET.
func (a *Assembler) Ret() { a.emit(0xc3) }

// PushQ/PopQ emit the one-byte push/pop forms.
func (a *Assembler) PushQ(r Register) {
	if _, ext := r.bits3(); ext {
		a.emit(0x41)
	}
	a.emit(0x50 + regOpcodeField(r))
}
func (a *Assembler) PopQ(r Register) {
	if _, ext := r.bits3(); ext {
		a.emit(0x41)
	}
	a.emit(0x58 + regOpcodeField(r))
}

// --- SSE2 scalar float --------------------------------------------------------------------------

func (a *Assembler) sseRR(prefix, op byte, dst, src Register) {
	a.emit(prefix)
	rex, ext := a.rexRB(false, dst, src)
	if ext {
		a.emit(rex)
	}
	a.emit(0x0f, op)
	a.modrmReg(dst, src)
}

func (a *Assembler) sseMem(prefix, op byte, dst Register, m Mem) {
	a.emit(prefix)
	rex, _ := a.rexRB(false, dst, m.Base)
	a.emit(rex)
	a.emit(0x0f, op)
	a.modrmMem(dst, m)
}

// MovsdRR/MovssRR copy a scalar double/single between XMM registers.
func (a *Assembler) MovsdRR(dst, src Register) { a.sseRR(0xf2, 0x10, dst, src) }
func (a *Assembler) MovssRR(dst, src Register) { a.sseRR(0xf3, 0x10, dst, src) }

// MovsdLoad/MovssLoad/MovsdStore/MovssStore move a scalar float to/from memory.
func (a *Assembler) MovsdLoad(dst Register, m Mem)  { a.sseMem(0xf2, 0x10, dst, m) }
func (a *Assembler) MovssLoad(dst Register, m Mem)  { a.sseMem(0xf3, 0x10, dst, m) }
func (a *Assembler) MovsdStore(m Mem, src Register) { a.sseMem(0xf2, 0x11, src, m) }
func (a *Assembler) MovssStore(m Mem, src Register) { a.sseMem(0xf3, 0x11, src, m) }

// AddsdRR/SubsdRR/MulsdRR/DivsdRR and the Ss variants emit scalar float arithmetic, dst op= src.
func (a *Assembler) AddsdRR(dst, src Register) { a.sseRR(0xf2, 0x58, dst, src) }
func (a *Assembler) SubsdRR(dst, src Register) { a.sseRR(0xf2, 0x5c, dst, src) }
func (a *Assembler) MulsdRR(dst, src Register) { a.sseRR(0xf2, 0x59, dst, src) }
func (a *Assembler) DivsdRR(dst, src Register) { a.sseRR(0xf2, 0x5e, dst, src) }
func (a *Assembler) AddssRR(dst, src Register) { a.sseRR(0xf3, 0x58, dst, src) }
func (a *Assembler) SubssRR(dst, src Register) { a.sseRR(0xf3, 0x5c, dst, src) }
func (a *Assembler) MulssRR(dst, src Register) { a.sseRR(0xf3, 0x59, dst, src) }
func (a *Assembler) DivssRR(dst, src Register) { a.sseRR(0xf3, 0x5e, dst, src) }

// UcomisdRR/UcomissRR compare two scalar floats, setting RFLAGS for a following Jcc/Setcc.
func (a *Assembler) UcomisdRR(dst, src Register) {
	a.emit(0x66)
	rex, ext := a.rexRB(false, dst, src)
	if ext {
		a.emit(rex)
	}
	a.emit(0x0f, 0x2e)
	a.modrmReg(dst, src)
}
func (a *Assembler) UcomissRR(dst, src Register) {
	rex, ext := a.rexRB(false, dst, src)
	if ext {
		a.emit(rex)
	}
	a.emit(0x0f, 0x2e)
	a.modrmReg(dst, src)
}

// Cvtsi2sdQ/Cvtsi2ssQ convert a 64-bit signed integer register to a scalar double/single.
func (a *Assembler) Cvtsi2sdQ(dst Register, src Register) {
	a.emit(0xf2)
	rex, _ := a.rexRB(true, dst, src)
	a.emit(rex, 0x0f, 0x2a)
	a.modrmReg(dst, src)
}
func (a *Assembler) Cvtsi2ssQ(dst Register, src Register) {
	a.emit(0xf3)
	rex, _ := a.rexRB(true, dst, src)
	a.emit(rex, 0x0f, 0x2a)
	a.modrmReg(dst, src)
}

// Cvttsd2siQ/Cvttss2siQ truncate a scalar double/single to a 64-bit signed integer register,
// writing the sentinel 0x8000000000000000 when the source is NaN or out of the int64 range.
func (a *Assembler) Cvttsd2siQ(dst, src Register) {
	a.emit(0xf2)
	rex, _ := a.rexRB(true, dst, src)
	a.emit(rex, 0x0f, 0x2c)
	a.modrmReg(dst, src)
}
func (a *Assembler) Cvttss2siQ(dst, src Register) {
	a.emit(0xf3)
	rex, _ := a.rexRB(true, dst, src)
	a.emit(rex, 0x0f, 0x2c)
	a.modrmReg(dst, src)
}

// Cvtsd2ssRR/Cvtss2sdRR convert between scalar double and single precision.
func (a *Assembler) Cvtsd2ssRR(dst, src Register) { a.sseRR(0xf2, 0x5a, dst, src) }
func (a *Assembler) Cvtss2sdRR(dst, src Register) { a.sseRR(0xf3, 0x5a, dst, src) }

// MovqXmmToGpr/MovqGprToXmm bit-reinterpret a 64-bit value between a GPR and an XMM register
// (i64.reinterpret_f64 / f64.reinterpret_i64, and the f32 forms via the low 32 bits).
func (a *Assembler) MovqXmmToGpr(dst Register, src Register) {
	a.emit(0x66)
	rex, _ := a.rexRB(true, src, dst)
	a.emit(rex, 0x0f, 0x7e)
	a.modrmReg(src, dst)
}
func (a *Assembler) MovqGprToXmm(dst Register, src Register) {
	a.emit(0x66)
	rex, _ := a.rexRB(true, dst, src)
	a.emit(rex, 0x0f, 0x6e)
	a.modrmReg(dst, src)
}

// PxorRR XORs src into dst, zeroing dst when src == dst (f32/f64.neg uses it to flip the sign bit
// against a sign-mask register).
func (a *Assembler) PxorRR(dst, src Register) {
	a.emit(0x66)
	rex, ext := a.rexRB(false, dst, src)
	if ext {
		a.emit(rex)
	}
	a.emit(0x0f, 0xef)
	a.modrmReg(dst, src)
}

// MovsxdRR emits MOVSXD dst, src (sign-extend a 32-bit register into its containing 64-bit
// register): the i64.load32_s widening step, after a plain 32-bit load.
func (a *Assembler) MovsxdRR(dst, src Register) {
	rex, _ := a.rexRB(true, dst, src)
	a.emit(rex, 0x63)
	a.modrmReg(dst, src)
}

// --- bit-counting, rotates, rounding, min/max -----------------------------------------------------

// BsrQ/BsrL emit BSR dst, src (index of the highest set bit; used with i32/i64.clz: clz(x) ==
// (bitwidth-1) - bsr(x), with a separate zero check since BSR of zero is undefined).
func (a *Assembler) BsrQ(dst, src Register) { a.bitscan(0xbd, true, dst, src) }
func (a *Assembler) BsrL(dst, src Register) { a.bitscan(0xbd, false, dst, src) }

// BsfQ/BsfL emit BSF dst, src (index of the lowest set bit; i32/i64.ctz, with the same
// undefined-at-zero caveat as BSR).
func (a *Assembler) BsfQ(dst, src Register) { a.bitscan(0xbc, true, dst, src) }
func (a *Assembler) BsfL(dst, src Register) { a.bitscan(0xbc, false, dst, src) }

func (a *Assembler) bitscan(op byte, w bool, dst, src Register) {
	rex, _ := a.rexRB(w, dst, src)
	if w {
		a.emit(rex)
	}
	a.emit(0x0f, op)
	a.modrmReg(dst, src)
}

// PopcntQ/PopcntL emit POPCNT dst, src.
func (a *Assembler) PopcntQ(dst, src Register) {
	a.emit(0xf3)
	rex, _ := a.rexRB(true, dst, src)
	a.emit(rex, 0x0f, 0xb8)
	a.modrmReg(dst, src)
}
func (a *Assembler) PopcntL(dst, src Register) {
	a.emit(0xf3)
	rex, ext := a.rexRB(false, dst, src)
	if ext {
		a.emit(rex)
	}
	a.emit(0x0f, 0xb8)
	a.modrmReg(dst, src)
}

// RolCLQ/RorCLQ/RolCLL/RorCLL rotate r by the count in CL.
func (a *Assembler) RolCLQ(r Register) { a.shiftCL(0, true, r) }
func (a *Assembler) RorCLQ(r Register) { a.shiftCL(1, true, r) }
func (a *Assembler) RolCLL(r Register) { a.shiftCL(0, false, r) }
func (a *Assembler) RorCLL(r Register) { a.shiftCL(1, false, r) }

// RoundMode selects ROUNDSD/ROUNDSS's immediate rounding-control operand.
type RoundMode byte

const (
	RoundNearest RoundMode = 0x00
	RoundDown    RoundMode = 0x01 // floor
	RoundUp      RoundMode = 0x02 // ceil
	RoundZero    RoundMode = 0x03 // trunc
)

// RoundsdRR/RoundssRR emit SSE4.1 ROUNDSD/ROUNDSS dst, src, mode (ceil/floor/trunc/nearest).
func (a *Assembler) RoundsdRR(dst, src Register, mode RoundMode) {
	a.emit(0x66)
	rex, ext := a.rexRB(false, dst, src)
	if ext {
		a.emit(rex)
	}
	a.emit(0x0f, 0x3a, 0x0b)
	a.modrmReg(dst, src)
	a.emit(byte(mode))
}
func (a *Assembler) RoundssRR(dst, src Register, mode RoundMode) {
	a.emit(0x66)
	rex, ext := a.rexRB(false, dst, src)
	if ext {
		a.emit(rex)
	}
	a.emit(0x0f, 0x3a, 0x0a)
	a.modrmReg(dst, src)
	a.emit(byte(mode))
}

// MinsdRR/MaxsdRR/MinssRR/MaxssRR emit the scalar min/max SSE2 instructions. These are the native
// instruction's own NaN/signed-zero semantics, not wasm's min/max rules exactly (see DESIGN.md).
func (a *Assembler) MinsdRR(dst, src Register) { a.sseRR(0xf2, 0x5d, dst, src) }
func (a *Assembler) MaxsdRR(dst, src Register) { a.sseRR(0xf2, 0x5f, dst, src) }
func (a *Assembler) MinssRR(dst, src Register) { a.sseRR(0xf3, 0x5d, dst, src) }
func (a *Assembler) MaxssRR(dst, src Register) { a.sseRR(0xf3, 0x5f, dst, src) }

// AndpdRR/OrpdRR are the packed-double bitwise AND/OR forms.
func (a *Assembler) AndpdRR(dst, src Register) { a.sse66RR(0x54, dst, src) }
func (a *Assembler) OrpdRR(dst, src Register)  { a.sse66RR(0x56, dst, src) }

// SqrtsdRR/SqrtssRR take the scalar square root in place.
func (a *Assembler) SqrtsdRR(dst, src Register) { a.sseRR(0xf2, 0x51, dst, src) }
func (a *Assembler) SqrtssRR(dst, src Register) { a.sseRR(0xf3, 0x51, dst, src) }

func (a *Assembler) sse66RR(op byte, dst, src Register) {
	a.emit(0x66)
	rex, ext := a.rexRB(false, dst, src)
	if ext {
		a.emit(rex)
	}
	a.emit(0x0f, op)
	a.modrmReg(dst, src)
}
