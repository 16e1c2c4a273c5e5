// Package amd64 is a minimal System V AMD64 machine-code encoder: enough instructions to support
// a single-pass JIT that keeps every wasm operand on the real machine stack (spec §4.C/§4.D), as
// opposed to a register-allocating multi-pass backend. Naming follows the Go assembler convention
// (MOVQ, ADDL, JCC, ...), matching how the rest of the wasmjit-go/Go ecosystem names these.
package amd64

// Register identifies one of the sixteen general-purpose registers or one of the XMM registers
// X0-X7 (the only XMM registers defined here).
type Register byte

const (
	RegNone Register = iota
	RegAX
	RegCX
	RegDX
	RegBX
	RegSP
	RegBP
	RegSI
	RegDI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	RegX0
	RegX1
	RegX2
	RegX3
	RegX4
	RegX5
	RegX6
	RegX7
)

// IsXMM reports whether r is one of the XMM scalar float registers.
func (r Register) IsXMM() bool { return r >= RegX0 }

// bits3 returns the register's 3-bit encoding and whether the REX.R/X/B extension bit must be
// set (true for R8-R15; the bit math would also cover X8-X15, which are not defined here).
func (r Register) bits3() (bits byte, ext bool) {
	if r.IsXMM() {
		v := byte(r - RegX0)
		return v & 7, v >= 8
	}
	v := byte(r - RegAX)
	return v & 7, v >= 8
}

// String implements fmt.Stringer for disassembly/debug traces.
func (r Register) String() string {
	switch r {
	case RegAX:
		return "AX"
	case RegCX:
		return "CX"
	case RegDX:
		return "DX"
	case RegBX:
		return "BX"
	case RegSP:
		return "SP"
	case RegBP:
		return "BP"
	case RegSI:
		return "SI"
	case RegDI:
		return "DI"
	case RegR8:
		return "R8"
	case RegR9:
		return "R9"
	case RegR10:
		return "R10"
	case RegR11:
		return "R11"
	case RegX0, RegX1, RegX2, RegX3, RegX4, RegX5, RegX6, RegX7:
		return "X" + string(rune('0'+byte(r-RegX0)))
	default:
		return "?"
	}
}

// ConditionCode is the 4-bit condition field of Jcc/SETcc/CMOVcc, per the Intel manual's cc table.
type ConditionCode byte

const (
	CondO  ConditionCode = 0x0
	CondNO ConditionCode = 0x1
	CondB  ConditionCode = 0x2 // below / carry (unsigned <)
	CondAE ConditionCode = 0x3 // above-or-equal / not-carry (unsigned >=)
	CondE  ConditionCode = 0x4 // equal / zero
	CondNE ConditionCode = 0x5 // not-equal / not-zero
	CondBE ConditionCode = 0x6 // below-or-equal (unsigned <=)
	CondA  ConditionCode = 0x7 // above (unsigned >)
	CondS  ConditionCode = 0x8 // sign
	CondNS ConditionCode = 0x9
	CondP  ConditionCode = 0xa // parity (used for unordered float compares)
	CondNP ConditionCode = 0xb // not parity
	CondL  ConditionCode = 0xc // less (signed <)
	CondGE ConditionCode = 0xd // greater-or-equal (signed >=)
	CondLE ConditionCode = 0xe // less-or-equal (signed <=)
	CondG  ConditionCode = 0xf // greater (signed >)
)
