// Package internalwasm holds the decoded WebAssembly module representation (the AST, spec §3),
// the runtime Store/ModuleInstance object model (spec §4.E), and the linker that instantiates a
// Module against a Store (spec §4.F).
package internalwasm

import (
	"strings"

	"github.com/kennyngo/wasmjit-go/api"
)

// ValueType re-exports api.ValueType so that every internal package using wasm value types agrees
// on a single definition.
type ValueType = api.ValueType

const (
	ValueTypeI32 = api.ValueTypeI32
	ValueTypeI64 = api.ValueTypeI64
	ValueTypeF32 = api.ValueTypeF32
	ValueTypeF64 = api.ValueTypeF64
)

// ExternType classifies an import or export. See api.ExternType.
type ExternType = api.ExternType

const (
	ExternTypeFunc   = api.ExternTypeFunc
	ExternTypeTable  = api.ExternTypeTable
	ExternTypeMemory = api.ExternTypeMemory
	ExternTypeGlobal = api.ExternTypeGlobal
)

// Index is a position in one of a module's index spaces (types, functions, tables, memories,
// globals), or in a Store's object spaces once resolved.
type Index = uint32

// SectionID identifies one of the twelve wasm 1.0 binary sections (spec §4.B).
type SectionID byte

const (
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

// SectionIDName is used for diagnostics (decode error messages).
func SectionIDName(id SectionID) string {
	switch id {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	default:
		return "unknown"
	}
}

// FunctionType is the (inputs, outputs) pair of a wasm function signature. wasm 1.0 restricts
// Results to at most one element; the decoder enforces this (spec §4.B).
type FunctionType struct {
	Params  []ValueType
	Results []ValueType

	// cachedString memoizes String, which EqualsSignature compares for the import and
	// call_indirect signature checks.
	cachedString string
}

// String renders a type key like "i32f64_i64", matching the original wasmjit's type-equality
// approach of comparing two flattened signatures.
func (t *FunctionType) String() string {
	if t.cachedString != "" {
		return t.cachedString
	}
	var sb strings.Builder
	if len(t.Params) == 0 {
		sb.WriteString("null")
	} else {
		for _, p := range t.Params {
			sb.WriteString(api.ValueTypeName(p))
		}
	}
	sb.WriteByte('_')
	if len(t.Results) == 0 {
		sb.WriteString("null")
	} else {
		for _, r := range t.Results {
			sb.WriteString(api.ValueTypeName(r))
		}
	}
	t.cachedString = sb.String()
	return t.cachedString
}

// EqualsSignature reports whether two function types have identical params and results, used by
// the linker to check import/export and call_indirect type compatibility (spec §4.F, §4.D).
func (t *FunctionType) EqualsSignature(other *FunctionType) bool {
	return t.String() == other.String()
}

// LimitsType is the (min, max) pair shared by memory and table declarations.
type LimitsType struct {
	Min uint32
	Max *uint32
}

// GlobalType describes the value type and mutability of a global.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// TableElemType is the only element type wasm 1.0 permits: function references.
const TableElemTypeFuncref byte = 0x70

// TableType describes a table declaration or import.
type TableType struct {
	ElemType byte
	Limits   LimitsType
}

// MemoryType describes a memory declaration or import, in units of 64KiB pages.
type MemoryType = LimitsType

// MemoryPageSize is the fixed page granularity of wasm linear memory.
const MemoryPageSize = 65536

// MemoryMaxPages is the largest number of pages a wasm 1.0 memory may declare (2^16 pages = 4GiB).
const MemoryMaxPages = 65536
