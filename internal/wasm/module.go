package internalwasm

// Module is the decoded form of a wasm binary: the twelve sections of spec §4.B, parsed into a
// typed AST. A binary.Decode call builds exactly one of these; the linker (spec §4.F) consumes it
// together with a set of caller-supplied imports to produce a ModuleInstance.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index // per defined function, an index into TypeSection
	TableSection    []*TableType
	MemorySection   []*MemoryType
	GlobalSection   []*Global
	ExportSection   []*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Code
	DataSection     []*DataSegment

	// NameSection holds the optional "name" custom section (function/local names), supplementing
	// spec.md with a feature the original C project also carries for debugger/backtrace support.
	NameSection *NameSection
}

// NumImportedFunctions reports how many entries of the function index space are satisfied by
// imports (and therefore precede the module's own defined functions).
func (m *Module) NumImportedFunctions() int {
	n := 0
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeFunc {
			n++
		}
	}
	return n
}

// NumImportedTables reports how many entries of the table index space are imports.
func (m *Module) NumImportedTables() int {
	n := 0
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeTable {
			n++
		}
	}
	return n
}

// NumImportedMemories reports how many entries of the memory index space are imports.
func (m *Module) NumImportedMemories() int {
	n := 0
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeMemory {
			n++
		}
	}
	return n
}

// NumImportedGlobals reports how many entries of the global index space are imports.
func (m *Module) NumImportedGlobals() int {
	n := 0
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeGlobal {
			n++
		}
	}
	return n
}

// TypeOfFunction resolves a function index (import or defined) to its FunctionType.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	var i Index
	for _, imp := range m.ImportSection {
		if imp.Type != ExternTypeFunc {
			continue
		}
		if i == funcIdx {
			return m.TypeSection[imp.DescFunc]
		}
		i++
	}
	definedIdx := funcIdx - i
	return m.TypeSection[m.FunctionSection[definedIdx]]
}

// Import is a single entry of the import section: a (module, name) pair plus a type-specific
// descriptor.
type Import struct {
	Module string
	Name   string
	Type   ExternType

	DescFunc   Index // index into TypeSection, valid when Type == ExternTypeFunc
	DescTable  *TableType
	DescMemory *MemoryType
	DescGlobal *GlobalType
}

// ConstantExpression is a restricted instruction sequence used for global initializers and
// element/data segment offsets. wasm 1.0 permits only a single const or global.get instruction
// followed by end (spec §4.F phase 3); the raw opcode and LEB128-encoded immediate are kept
// undecoded here and evaluated lazily by the linker, mirroring how the original C decoder treats
// "init expressions" as a degenerate instruction stream rather than a first-class AST node.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte // the immediate's raw encoded bytes, opcode-dependent
}

// Global is one entry of the global section: its type and constant initializer.
type Global struct {
	Type *GlobalType
	Init ConstantExpression
}

// Export is a single entry of the export section.
type Export struct {
	Name  string
	Type  ExternType
	Index Index
}

// ElementSegment initializes a contiguous run of a table with function indices at instantiation
// time (spec §4.F phase 6).
type ElementSegment struct {
	TableIndex Index
	Offset     ConstantExpression
	Init       []Index
}

// DataSegment initializes a contiguous run of a memory's linear address space with bytes at
// instantiation time (spec §4.F phase 7).
type DataSegment struct {
	MemoryIndex Index
	Offset      ConstantExpression
	Init        []byte
}

// LocalEntry is one run-length-encoded group of a function body's declared locals, exactly as
// the binary format stores it (a count plus a single shared type), left uncompressed until the
// compiler walks it to assign stack slots.
type LocalEntry struct {
	Count uint32
	Type  ValueType
}

// Code is one entry of the code section: a defined function's locals declarations and
// instruction sequence.
type Code struct {
	Locals []LocalEntry
	Body   []Instruction
}

// NumLocals returns the total number of local slots Locals expands to (not counting parameters).
func (c *Code) NumLocals() int {
	n := 0
	for _, l := range c.Locals {
		n += int(l.Count)
	}
	return n
}

// NameSection is the decoded form of the optional "name" custom section.
type NameSection struct {
	ModuleName    string
	FunctionNames map[Index]string
	LocalNames    map[Index]map[Index]string // funcIdx -> (localIdx -> name)
}
