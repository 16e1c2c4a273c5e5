package binary

import (
	"fmt"
	"io"

	"github.com/kennyngo/wasmjit-go/internal/leb128"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// decodeInstructionSequence decodes instructions up to and including a terminating "end" (or, one
// level down, an "else"), returning the sequence without the terminator; which terminator ended
// it is not reported (decodeInstructionSequenceUntil reports that).
func (d *decoder) decodeInstructionSequence() ([]wasm.Instruction, error) {
	seq, _, err := d.decodeInstructionSequenceUntil()
	return seq, err
}

// decodeInstructionSequenceUntil decodes until "end" or "else", returning the sequence and true if
// the terminator was "else" (only meaningful for an if-block's then-arm).
func (d *decoder) decodeInstructionSequenceUntil() ([]wasm.Instruction, bool, error) {
	var out []wasm.Instruction
	for {
		opByte, err := d.r.ReadByte()
		if err != nil {
			return nil, false, d.fail("truncated instruction sequence")
		}
		op := wasm.Opcode(opByte)
		if op == wasm.OpcodeEnd {
			return out, false, nil
		}
		if op == wasm.OpcodeElse {
			return out, true, nil
		}
		instr, err := d.decodeInstruction(op)
		if err != nil {
			return nil, false, err
		}
		out = append(out, instr)
	}
}

func (d *decoder) decodeInstruction(op wasm.Opcode) (wasm.Instruction, error) {
	instr := wasm.Instruction{Opcode: op}
	switch op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		rt, err := d.decodeBlockResultType()
		if err != nil {
			return instr, err
		}
		body, err := d.decodeInstructionSequence()
		if err != nil {
			return instr, err
		}
		instr.Block = &wasm.BlockImmediate{ResultType: rt, Then: body}

	case wasm.OpcodeIf:
		rt, err := d.decodeBlockResultType()
		if err != nil {
			return instr, err
		}
		then, sawElse, err := d.decodeInstructionSequenceUntil()
		if err != nil {
			return instr, err
		}
		var elseSeq []wasm.Instruction
		if sawElse {
			if elseSeq, err = d.decodeInstructionSequence(); err != nil {
				return instr, err
			}
		}
		instr.Block = &wasm.BlockImmediate{ResultType: rt, Then: then, Else: elseSeq}

	case wasm.OpcodeBr, wasm.OpcodeBrIf:
		idx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return instr, d.fail("malformed branch label")
		}
		instr.Index = idx

	case wasm.OpcodeBrTable:
		n, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return instr, d.fail("malformed br_table label count")
		}
		labels := make([]wasm.Index, n)
		for i := range labels {
			if labels[i], _, err = leb128.DecodeUint32(d.r); err != nil {
				return instr, d.fail("malformed br_table label")
			}
		}
		def, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return instr, d.fail("malformed br_table default label")
		}
		instr.BrTable = &wasm.BrTableImmediate{Labels: labels, Default: def}

	case wasm.OpcodeCall:
		idx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return instr, d.fail("malformed call function index")
		}
		instr.Index = idx

	case wasm.OpcodeCallIndirect:
		idx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return instr, d.fail("malformed call_indirect type index")
		}
		reserved, err := d.r.ReadByte()
		if err != nil || reserved != 0x00 {
			return instr, d.fail("call_indirect reserved byte must be 0x00")
		}
		instr.Index = idx

	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		idx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return instr, d.fail("malformed index immediate")
		}
		instr.Index = idx

	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16,
		wasm.OpcodeI64Store32:
		align, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return instr, d.fail("malformed memarg align")
		}
		offset, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return instr, d.fail("malformed memarg offset")
		}
		instr.MemArg = wasm.MemArg{Align: align, Offset: offset}

	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		reserved, err := d.r.ReadByte()
		if err != nil || reserved != 0x00 {
			return instr, d.fail("memory.size/grow reserved byte must be 0x00")
		}

	case wasm.OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(d.r)
		if err != nil {
			return instr, d.fail("malformed i32.const immediate")
		}
		instr.I32 = v

	case wasm.OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(d.r)
		if err != nil {
			return instr, d.fail("malformed i64.const immediate")
		}
		instr.I64 = v

	case wasm.OpcodeF32Const:
		var b [4]byte
		if _, err := io.ReadFull(d.r, b[:]); err != nil {
			return instr, d.fail("truncated f32.const immediate")
		}
		instr.F32 = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24

	case wasm.OpcodeF64Const:
		var b [8]byte
		if _, err := io.ReadFull(d.r, b[:]); err != nil {
			return instr, d.fail("truncated f64.const immediate")
		}
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(b[i]) << (8 * i)
		}
		instr.F64 = v

	case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeReturn, wasm.OpcodeDrop, wasm.OpcodeSelect,
		wasm.OpcodeI32Eqz, wasm.OpcodeI32Eq, wasm.OpcodeI32Ne, wasm.OpcodeI32LtS, wasm.OpcodeI32LtU,
		wasm.OpcodeI32GtS, wasm.OpcodeI32GtU, wasm.OpcodeI32LeS, wasm.OpcodeI32LeU, wasm.OpcodeI32GeS, wasm.OpcodeI32GeU,
		wasm.OpcodeI64Eqz, wasm.OpcodeI64Eq, wasm.OpcodeI64Ne, wasm.OpcodeI64LtS, wasm.OpcodeI64LtU,
		wasm.OpcodeI64GtS, wasm.OpcodeI64GtU, wasm.OpcodeI64LeS, wasm.OpcodeI64LeU, wasm.OpcodeI64GeS, wasm.OpcodeI64GeU,
		wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt, wasm.OpcodeF32Le, wasm.OpcodeF32Ge,
		wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt, wasm.OpcodeF64Le, wasm.OpcodeF64Ge,
		wasm.OpcodeI32Clz, wasm.OpcodeI32Ctz, wasm.OpcodeI32Popcnt, wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul,
		wasm.OpcodeI32DivS, wasm.OpcodeI32DivU, wasm.OpcodeI32RemS, wasm.OpcodeI32RemU,
		wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor, wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrU,
		wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr,
		wasm.OpcodeI64Clz, wasm.OpcodeI64Ctz, wasm.OpcodeI64Popcnt, wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul,
		wasm.OpcodeI64DivS, wasm.OpcodeI64DivU, wasm.OpcodeI64RemS, wasm.OpcodeI64RemU,
		wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor, wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU,
		wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr,
		wasm.OpcodeF32Abs, wasm.OpcodeF32Neg, wasm.OpcodeF32Ceil, wasm.OpcodeF32Floor, wasm.OpcodeF32Trunc,
		wasm.OpcodeF32Nearest, wasm.OpcodeF32Sqrt, wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div,
		wasm.OpcodeF32Min, wasm.OpcodeF32Max, wasm.OpcodeF32Copysign,
		wasm.OpcodeF64Abs, wasm.OpcodeF64Neg, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor, wasm.OpcodeF64Trunc,
		wasm.OpcodeF64Nearest, wasm.OpcodeF64Sqrt, wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div,
		wasm.OpcodeF64Min, wasm.OpcodeF64Max, wasm.OpcodeF64Copysign,
		wasm.OpcodeI32WrapI64, wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U,
		wasm.OpcodeI64ExtendI32S, wasm.OpcodeI64ExtendI32U, wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF32U,
		wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U,
		wasm.OpcodeF32ConvertI32S, wasm.OpcodeF32ConvertI32U, wasm.OpcodeF32ConvertI64S, wasm.OpcodeF32ConvertI64U,
		wasm.OpcodeF32DemoteF64,
		wasm.OpcodeF64ConvertI32S, wasm.OpcodeF64ConvertI32U, wasm.OpcodeF64ConvertI64S, wasm.OpcodeF64ConvertI64U,
		wasm.OpcodeF64PromoteF32,
		wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64, wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64:
		// No immediate.

	default:
		return instr, d.fail(fmt.Sprintf("unsupported opcode %#x", byte(op)))
	}
	return instr, nil
}

// decodeBlockResultType decodes a block type byte: either 0x40 (empty) or a single value type.
// wasm 1.0's multi-value proposal (LEB128-encoded type-section index block types) is out of
// scope (spec non-goal).
func (d *decoder) decodeBlockResultType() (*wasm.ValueType, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return nil, d.fail("truncated block type")
	}
	if b == 0x40 {
		return nil, nil
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		vt := b
		return &vt, nil
	default:
		return nil, d.fail(fmt.Sprintf("invalid block result type %#x", b))
	}
}
