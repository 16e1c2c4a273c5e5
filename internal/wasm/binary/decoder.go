// Package binary decodes the WebAssembly 1.0 binary module format (spec §4.A/§4.B) into the
// internal/wasm AST.
package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kennyngo/wasmjit-go/internal/leb128"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

const (
	magic   = 0x6d736100 // "\0asm"
	version = uint32(1)
)

// DecodeError reports a malformed or unsupported binary at a specific byte offset, keeping both
// details close together the way the original C decoder's wasmjit_parse_error does.
type DecodeError struct {
	Offset int64
	Kind   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wasm: decode error at offset %#x: %s", e.Offset, e.Kind)
}

// Decode parses a complete wasm binary module from r.
func Decode(r io.Reader) (*wasm.Module, error) {
	d := &decoder{r: newCountingReader(r)}
	return d.decodeModule()
}

// DecodeBytes parses a complete wasm binary module already held in memory.
func DecodeBytes(b []byte) (*wasm.Module, error) {
	return Decode(bytes.NewReader(b))
}

type decoder struct {
	r *countingReader
}

func (d *decoder) fail(kind string) error {
	return &DecodeError{Offset: d.r.n, Kind: kind}
}

func (d *decoder) decodeModule() (*wasm.Module, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return nil, d.fail("truncated module header")
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != magic {
		return nil, d.fail("bad magic number")
	}
	if binary.LittleEndian.Uint32(hdr[4:8]) != version {
		return nil, d.fail("unsupported version")
	}

	m := &wasm.Module{}
	var lastNonCustom wasm.SectionID = 0
	for {
		idByte, err := d.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, d.fail("truncated section id")
		}
		id := wasm.SectionID(idByte)
		size, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed section size")
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, d.fail("truncated section body")
		}
		sr := &decoder{r: newCountingReader(bytes.NewReader(body))}

		if id != wasm.SectionIDCustom {
			if id <= lastNonCustom {
				return nil, d.fail(fmt.Sprintf("section %s out of order", wasm.SectionIDName(id)))
			}
			lastNonCustom = id
		}

		switch id {
		case wasm.SectionIDCustom:
			name, err := sr.decodeName()
			if err != nil {
				return nil, err
			}
			if name == "name" && m.NameSection == nil {
				ns, err := sr.decodeNameSection()
				if err == nil {
					m.NameSection = ns
				}
				// Malformed "name" sections are non-fatal: they carry no semantic weight.
			}
		case wasm.SectionIDType:
			if m.TypeSection, err = sr.decodeTypeSection(); err != nil {
				return nil, err
			}
		case wasm.SectionIDImport:
			if m.ImportSection, err = sr.decodeImportSection(); err != nil {
				return nil, err
			}
		case wasm.SectionIDFunction:
			if m.FunctionSection, err = sr.decodeFunctionSection(); err != nil {
				return nil, err
			}
		case wasm.SectionIDTable:
			if m.TableSection, err = sr.decodeTableSection(); err != nil {
				return nil, err
			}
		case wasm.SectionIDMemory:
			if m.MemorySection, err = sr.decodeMemorySection(); err != nil {
				return nil, err
			}
		case wasm.SectionIDGlobal:
			if m.GlobalSection, err = sr.decodeGlobalSection(); err != nil {
				return nil, err
			}
		case wasm.SectionIDExport:
			if m.ExportSection, err = sr.decodeExportSection(); err != nil {
				return nil, err
			}
		case wasm.SectionIDStart:
			idx, _, err := leb128.DecodeUint32(sr.r)
			if err != nil {
				return nil, sr.fail("malformed start index")
			}
			m.StartSection = &idx
		case wasm.SectionIDElement:
			if m.ElementSection, err = sr.decodeElementSection(); err != nil {
				return nil, err
			}
		case wasm.SectionIDCode:
			if m.CodeSection, err = sr.decodeCodeSection(); err != nil {
				return nil, err
			}
		case wasm.SectionIDData:
			if m.DataSection, err = sr.decodeDataSection(); err != nil {
				return nil, err
			}
		default:
			return nil, d.fail(fmt.Sprintf("unknown section id %d", idByte))
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, d.fail("function and code section counts disagree")
	}
	return m, nil
}

func (d *decoder) decodeName() (string, error) {
	n, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return "", d.fail("malformed name length")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", d.fail("truncated name")
	}
	return string(buf), nil
}

func (d *decoder) decodeValueType() (wasm.ValueType, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, d.fail("truncated value type")
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return b, nil
	default:
		return 0, d.fail(fmt.Sprintf("invalid value type %#x", b))
	}
}

func (d *decoder) decodeLimits() (wasm.LimitsType, error) {
	flag, err := d.r.ReadByte()
	if err != nil {
		return wasm.LimitsType{}, d.fail("truncated limits")
	}
	min, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return wasm.LimitsType{}, d.fail("malformed limits min")
	}
	l := wasm.LimitsType{Min: min}
	switch flag {
	case 0x00:
	case 0x01:
		max, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return wasm.LimitsType{}, d.fail("malformed limits max")
		}
		l.Max = &max
	default:
		return wasm.LimitsType{}, d.fail(fmt.Sprintf("invalid limits flag %#x", flag))
	}
	return l, nil
}

func (d *decoder) decodeTypeSection() ([]*wasm.FunctionType, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed type count")
	}
	out := make([]*wasm.FunctionType, count)
	for i := range out {
		form, err := d.r.ReadByte()
		if err != nil || form != 0x60 {
			return nil, d.fail("expected func type form 0x60")
		}
		numParams, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed param count")
		}
		params := make([]wasm.ValueType, numParams)
		for j := range params {
			if params[j], err = d.decodeValueType(); err != nil {
				return nil, err
			}
		}
		numResults, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed result count")
		}
		if numResults > 1 {
			return nil, d.fail("wasm 1.0 permits at most one result type")
		}
		results := make([]wasm.ValueType, numResults)
		for j := range results {
			if results[j], err = d.decodeValueType(); err != nil {
				return nil, err
			}
		}
		out[i] = &wasm.FunctionType{Params: params, Results: results}
	}
	return out, nil
}

func (d *decoder) decodeImportSection() ([]*wasm.Import, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed import count")
	}
	out := make([]*wasm.Import, count)
	for i := range out {
		mod, err := d.decodeName()
		if err != nil {
			return nil, err
		}
		field, err := d.decodeName()
		if err != nil {
			return nil, err
		}
		kind, err := d.r.ReadByte()
		if err != nil {
			return nil, d.fail("truncated import kind")
		}
		imp := &wasm.Import{Module: mod, Name: field, Type: kind}
		switch kind {
		case wasm.ExternTypeFunc:
			idx, _, err := leb128.DecodeUint32(d.r)
			if err != nil {
				return nil, d.fail("malformed import type index")
			}
			imp.DescFunc = idx
		case wasm.ExternTypeTable:
			elemType, err := d.r.ReadByte()
			if err != nil || elemType != wasm.TableElemTypeFuncref {
				return nil, d.fail("invalid table element type")
			}
			limits, err := d.decodeLimits()
			if err != nil {
				return nil, err
			}
			imp.DescTable = &wasm.TableType{ElemType: elemType, Limits: limits}
		case wasm.ExternTypeMemory:
			limits, err := d.decodeLimits()
			if err != nil {
				return nil, err
			}
			mt := wasm.MemoryType(limits)
			imp.DescMemory = &mt
		case wasm.ExternTypeGlobal:
			vt, err := d.decodeValueType()
			if err != nil {
				return nil, err
			}
			mutByte, err := d.r.ReadByte()
			if err != nil {
				return nil, d.fail("truncated global mutability")
			}
			imp.DescGlobal = &wasm.GlobalType{ValType: vt, Mutable: mutByte == 1}
		default:
			return nil, d.fail(fmt.Sprintf("invalid import kind %#x", kind))
		}
		out[i] = imp
	}
	return out, nil
}

func (d *decoder) decodeFunctionSection() ([]wasm.Index, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed function count")
	}
	out := make([]wasm.Index, count)
	for i := range out {
		if out[i], _, err = leb128.DecodeUint32(d.r); err != nil {
			return nil, d.fail("malformed function type index")
		}
	}
	return out, nil
}

func (d *decoder) decodeTableSection() ([]*wasm.TableType, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed table count")
	}
	out := make([]*wasm.TableType, count)
	for i := range out {
		elemType, err := d.r.ReadByte()
		if err != nil || elemType != wasm.TableElemTypeFuncref {
			return nil, d.fail("invalid table element type")
		}
		limits, err := d.decodeLimits()
		if err != nil {
			return nil, err
		}
		out[i] = &wasm.TableType{ElemType: elemType, Limits: limits}
	}
	return out, nil
}

func (d *decoder) decodeMemorySection() ([]*wasm.MemoryType, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed memory count")
	}
	out := make([]*wasm.MemoryType, count)
	for i := range out {
		limits, err := d.decodeLimits()
		if err != nil {
			return nil, err
		}
		mt := wasm.MemoryType(limits)
		out[i] = &mt
	}
	return out, nil
}

func (d *decoder) decodeConstExpr() (wasm.ConstantExpression, error) {
	opByte, err := d.r.ReadByte()
	if err != nil {
		return wasm.ConstantExpression{}, d.fail("truncated constant expression")
	}
	op := wasm.Opcode(opByte)
	var immBuf bytes.Buffer
	tee := io.TeeReader(d.r, &immBuf)
	teeReader := &byteReaderAdapter{r: tee}
	switch op {
	case wasm.OpcodeI32Const:
		if _, _, err := leb128.DecodeInt32(teeReader); err != nil {
			return wasm.ConstantExpression{}, d.fail("malformed i32.const immediate")
		}
	case wasm.OpcodeI64Const:
		if _, _, err := leb128.DecodeInt64(teeReader); err != nil {
			return wasm.ConstantExpression{}, d.fail("malformed i64.const immediate")
		}
	case wasm.OpcodeF32Const:
		var b [4]byte
		if _, err := io.ReadFull(d.r, b[:]); err != nil {
			return wasm.ConstantExpression{}, d.fail("truncated f32.const immediate")
		}
		immBuf.Write(b[:])
	case wasm.OpcodeF64Const:
		var b [8]byte
		if _, err := io.ReadFull(d.r, b[:]); err != nil {
			return wasm.ConstantExpression{}, d.fail("truncated f64.const immediate")
		}
		immBuf.Write(b[:])
	case wasm.OpcodeGlobalGet:
		if _, _, err := leb128.DecodeUint32(teeReader); err != nil {
			return wasm.ConstantExpression{}, d.fail("malformed global.get immediate")
		}
	default:
		return wasm.ConstantExpression{}, d.fail(fmt.Sprintf("invalid constant expression opcode %#x", opByte))
	}
	end, err := d.r.ReadByte()
	if err != nil || wasm.Opcode(end) != wasm.OpcodeEnd {
		return wasm.ConstantExpression{}, d.fail("constant expression missing end opcode")
	}
	out := make([]byte, immBuf.Len())
	copy(out, immBuf.Bytes())
	return wasm.ConstantExpression{Opcode: op, Data: out}, nil
}

func (d *decoder) decodeGlobalSection() ([]*wasm.Global, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed global count")
	}
	out := make([]*wasm.Global, count)
	for i := range out {
		vt, err := d.decodeValueType()
		if err != nil {
			return nil, err
		}
		mutByte, err := d.r.ReadByte()
		if err != nil {
			return nil, d.fail("truncated global mutability")
		}
		init, err := d.decodeConstExpr()
		if err != nil {
			return nil, err
		}
		out[i] = &wasm.Global{Type: &wasm.GlobalType{ValType: vt, Mutable: mutByte == 1}, Init: init}
	}
	return out, nil
}

func (d *decoder) decodeExportSection() ([]*wasm.Export, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed export count")
	}
	out := make([]*wasm.Export, count)
	seen := make(map[string]struct{}, count)
	for i := range out {
		name, err := d.decodeName()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			return nil, d.fail(fmt.Sprintf("duplicate export name %q", name))
		}
		seen[name] = struct{}{}
		kind, err := d.r.ReadByte()
		if err != nil {
			return nil, d.fail("truncated export kind")
		}
		idx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed export index")
		}
		out[i] = &wasm.Export{Name: name, Type: kind, Index: idx}
	}
	return out, nil
}

func (d *decoder) decodeElementSection() ([]*wasm.ElementSegment, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed element segment count")
	}
	out := make([]*wasm.ElementSegment, count)
	for i := range out {
		tblIdx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed element table index")
		}
		offset, err := d.decodeConstExpr()
		if err != nil {
			return nil, err
		}
		n, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed element init count")
		}
		init := make([]wasm.Index, n)
		for j := range init {
			if init[j], _, err = leb128.DecodeUint32(d.r); err != nil {
				return nil, d.fail("malformed element function index")
			}
		}
		out[i] = &wasm.ElementSegment{TableIndex: tblIdx, Offset: offset, Init: init}
	}
	return out, nil
}

func (d *decoder) decodeDataSection() ([]*wasm.DataSegment, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed data segment count")
	}
	out := make([]*wasm.DataSegment, count)
	for i := range out {
		memIdx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed data memory index")
		}
		offset, err := d.decodeConstExpr()
		if err != nil {
			return nil, err
		}
		n, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed data init length")
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, d.fail("truncated data init")
		}
		out[i] = &wasm.DataSegment{MemoryIndex: memIdx, Offset: offset, Init: buf}
	}
	return out, nil
}

func (d *decoder) decodeCodeSection() ([]*wasm.Code, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed code entry count")
	}
	out := make([]*wasm.Code, count)
	for i := range out {
		size, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed code entry size")
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, d.fail("truncated code entry body")
		}
		fd := &decoder{r: newCountingReader(bytes.NewReader(body))}
		out[i], err = fd.decodeFunctionBody()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) decodeFunctionBody() (*wasm.Code, error) {
	numLocalGroups, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed local group count")
	}
	locals := make([]wasm.LocalEntry, numLocalGroups)
	var totalLocals uint64
	for i := range locals {
		count, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed local group length")
		}
		vt, err := d.decodeValueType()
		if err != nil {
			return nil, err
		}
		totalLocals += uint64(count)
		if totalLocals > 1<<20 {
			return nil, d.fail("function declares an implausible number of locals")
		}
		locals[i] = wasm.LocalEntry{Count: count, Type: vt}
	}
	body, err := d.decodeInstructionSequence()
	if err != nil {
		return nil, err
	}
	return &wasm.Code{Locals: locals, Body: body}, nil
}

// byteReaderAdapter adapts an io.Reader to io.ByteReader for use with io.TeeReader, which only
// implements Read.
type byteReaderAdapter struct {
	r   io.Reader
	buf [1]byte
}

func (a *byteReaderAdapter) ReadByte() (byte, error) {
	if _, err := io.ReadFull(a.r, a.buf[:]); err != nil {
		return 0, err
	}
	return a.buf[0], nil
}

// countingReader tracks the byte offset consumed so far, for DecodeError.Offset.
type countingReader struct {
	r io.Reader
	n int64
	b [1]byte
}

func newCountingReader(r io.Reader) *countingReader { return &countingReader{r: r} }

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	n, err := c.r.Read(c.b[:])
	if n == 1 {
		c.n++
		return c.b[0], nil
	}
	if err == nil {
		err = io.EOF
	}
	return 0, err
}
