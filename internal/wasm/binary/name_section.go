package binary

import (
	"bytes"
	"io"

	"github.com/kennyngo/wasmjit-go/internal/leb128"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// name custom-section subsection ids, per the wasm "name" custom section convention the original
// project's objdump-style tooling also understands.
const (
	nameSubsectionModule   = 0
	nameSubsectionFunction = 1
	nameSubsectionLocal    = 2
)

// decodeNameSection decodes the optional "name" custom section's subsections. This supplements
// spec.md (which only requires the semantic sections) with the debug-name support the original
// project's toolchain carries for backtraces and disassembly.
func (d *decoder) decodeNameSection() (*wasm.NameSection, error) {
	ns := &wasm.NameSection{
		FunctionNames: map[wasm.Index]string{},
		LocalNames:    map[wasm.Index]map[wasm.Index]string{},
	}
	for {
		idByte, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return ns, nil
			}
			return nil, d.fail("truncated name subsection id")
		}
		size, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed name subsection size")
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, d.fail("truncated name subsection body")
		}
		sd := &decoder{r: newCountingReader(bytes.NewReader(body))}

		switch idByte {
		case nameSubsectionModule:
			name, err := sd.decodeName()
			if err != nil {
				return nil, err
			}
			ns.ModuleName = name
		case nameSubsectionFunction:
			m, err := sd.decodeNameMap()
			if err != nil {
				return nil, err
			}
			ns.FunctionNames = m
		case nameSubsectionLocal:
			count, _, err := leb128.DecodeUint32(sd.r)
			if err != nil {
				return nil, sd.fail("malformed local name group count")
			}
			for i := uint32(0); i < count; i++ {
				funcIdx, _, err := leb128.DecodeUint32(sd.r)
				if err != nil {
					return nil, sd.fail("malformed local name func index")
				}
				m, err := sd.decodeNameMap()
				if err != nil {
					return nil, err
				}
				ns.LocalNames[funcIdx] = m
			}
		default:
			// Unknown subsection: ignore it, matching lenient consumption of debug info elsewhere.
		}
	}
}

func (d *decoder) decodeNameMap() (map[wasm.Index]string, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, d.fail("malformed name map count")
	}
	out := make(map[wasm.Index]string, count)
	for i := uint32(0); i < count; i++ {
		idx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, d.fail("malformed name map index")
		}
		name, err := d.decodeName()
		if err != nil {
			return nil, err
		}
		out[idx] = name
	}
	return out, nil
}
