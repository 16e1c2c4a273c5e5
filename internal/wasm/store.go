package internalwasm

import (
	"context"
	"fmt"

	"github.com/kennyngo/wasmjit-go/internal/platform"
)

// Invoker bridges a compiled FunctionInstance's machine code entry point back into Go: it
// implements the System V AMD64 call and the trap-to-error translation (spec §4.H). The concrete
// implementation lives in internal/trap, kept behind this interface so internal/wasm does not need
// to import the compiler/trap packages (which themselves depend on internal/wasm's types).
type Invoker interface {
	Invoke(ctx context.Context, fn *FunctionInstance, args []uint64) ([]uint64, error)
}

// Store owns every durable runtime object (functions, memories, tables, globals) a linked module
// can reference, addressed by stable integer indices rather than pointers embedded in the
// consuming ModuleInstance. This mirrors the original wasmjit runtime's store design (runtime.h's
// wasmjit_store_t): a ModuleInstance never owns a MemoryInstance directly, it only holds an index
// into the Store's Mems table, so host-provided and module-defined objects are addressed
// identically once linked.
type Store struct {
	Funcs   []*FunctionInstance
	Mems    []*MemoryInstance
	Tables  []*TableInstance
	Globals []*GlobalInstance

	// names binds (module, field) pairs to a Store object, both for host imports registered via
	// the embedding API and for modules' own exports once instantiated, so a later module's
	// imports can resolve against an earlier module's exports.
	names map[nameKey]NamespaceEntry

	// Invoker performs the actual machine-code call for compiled (non-host) functions. Must be
	// set (via SetInvoker) before Invoke is called on any compiled function.
	Invoker Invoker

	// MaxPages caps how large any memory allocated into this Store may grow, regardless of a
	// module's own declared max (RuntimeConfig.WithMemoryMaxPages). Defaults to the wasm 1.0 hard
	// limit of MemoryMaxPages pages.
	MaxPages uint32
}

// SetInvoker installs the machine-code call bridge used by Invoke.
func (s *Store) SetInvoker(inv Invoker) { s.Invoker = inv }

type nameKey struct {
	module string
	field  string
}

// NamespaceEntry is one binding in a Store's shared import/export namespace.
type NamespaceEntry struct {
	Type ExternType
	Addr Index
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{names: make(map[nameKey]NamespaceEntry), MaxPages: MemoryMaxPages}
}

// AddFunction registers fn and returns its Store address.
func (s *Store) AddFunction(fn *FunctionInstance) Index {
	addr := Index(len(s.Funcs))
	s.Funcs = append(s.Funcs, fn)
	return addr
}

// AddMemory registers mem and returns its Store address.
func (s *Store) AddMemory(mem *MemoryInstance) Index {
	addr := Index(len(s.Mems))
	s.Mems = append(s.Mems, mem)
	return addr
}

// AddTable registers tbl and returns its Store address.
func (s *Store) AddTable(tbl *TableInstance) Index {
	addr := Index(len(s.Tables))
	s.Tables = append(s.Tables, tbl)
	return addr
}

// AddGlobal registers g and returns its Store address.
func (s *Store) AddGlobal(g *GlobalInstance) Index {
	addr := Index(len(s.Globals))
	s.Globals = append(s.Globals, g)
	return addr
}

// BindName exposes a Store object under (module, field) for later import resolution, used both
// when the embedding API registers a host import and when a module's own export section is
// processed at the end of instantiation (spec §4.F phase 10).
func (s *Store) BindName(module, field string, entry NamespaceEntry) error {
	key := nameKey{module, field}
	if _, exists := s.names[key]; exists {
		return fmt.Errorf("wasm: name %q.%q already bound in store", module, field)
	}
	s.names[key] = entry
	return nil
}

// Resolve looks up a previously bound (module, field) pair.
func (s *Store) Resolve(module, field string) (NamespaceEntry, bool) {
	e, ok := s.names[nameKey{module, field}]
	return e, ok
}

// GoFunc is a host function bound into the Store: it receives the calling module instance (so it
// can reach that module's exported memory, e.g. for a "fd_write"-style import) and the raw
// argument words, and returns raw result words.
type GoFunc func(ctx context.Context, caller *ModuleInstance, params []uint64) []uint64

// FunctionInstance is a Store object representing either a compiled wasm function or a host
// function.
type FunctionInstance struct {
	Type *FunctionType

	// Code is the compiled machine code entry point, nil for host functions. It points into the
	// owning Module's CodeBuffer.
	Code []byte
	// Module is the defining module instance, nil for a freestanding host function.
	Module *ModuleInstance

	// Go is set instead of Code for host functions.
	Go GoFunc

	Name string
}

// IsHost reports whether this is a host (Go) function rather than compiled wasm.
func (f *FunctionInstance) IsHost() bool { return f.Go != nil }

// MemoryInstance is a Store object backing a single linear memory.
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	Max    *uint32
}

// PageCount returns the memory's current size in 64KiB pages.
func (m *MemoryInstance) PageCount() uint32 { return uint32(len(m.Buffer) / MemoryPageSize) }

// Grow extends the memory by delta pages, returning the previous page count, or ok=false if the
// growth would exceed Max (or the wasm 1.0 hard limit of 65536 pages).
func (m *MemoryInstance) Grow(delta uint32) (previous uint32, ok bool) {
	previous = m.PageCount()
	next := uint64(previous) + uint64(delta)
	if next > MemoryMaxPages {
		return previous, false
	}
	if m.Max != nil && next > uint64(*m.Max) {
		return previous, false
	}
	grown := make([]byte, next*MemoryPageSize)
	copy(grown, m.Buffer)
	m.Buffer = grown
	return previous, true
}

// TableInstance is a Store object backing a single funcref table.
type TableInstance struct {
	Elements []Index // each entry is a Store function address; meaningful only where HasElem is true
	HasElem  []bool
	Min      uint32
	Max      *uint32
}

// noElement is the all-ones Index. Unset table slots are marked by HasElem being false, not by
// this value; call_indirect through an unset slot traps.
const noElement = ^Index(0)

// NewTableInstance allocates a table of the given initial size.
func NewTableInstance(min uint32, max *uint32) *TableInstance {
	return &TableInstance{
		Elements: make([]Index, min),
		HasElem:  make([]bool, min),
		Min:      min,
		Max:      max,
	}
}

// GlobalInstance is a Store object backing a single global variable.
type GlobalInstance struct {
	Type  *GlobalType
	Value uint64 // raw bit pattern, reinterpreted per Type.ValType
}

// ModuleInstance is the linked, runtime view of a Module: for each of its four index spaces it
// holds only a table translating local indices to Store addresses (spec §4.E component). All
// state otherwise lives in the Store.
type ModuleInstance struct {
	Name string

	Types       []*FunctionType
	FuncAddrs   []Index
	TableAddrs  []Index
	MemAddrs    []Index
	GlobalAddrs []Index

	Exports map[string]Export

	Store *Store

	// CodeBuffer holds this module's compiled machine code, one mmap'd executable region shared by
	// all of the module's defined functions (spec §4.G). Nil for modules instantiated with no
	// defined functions needing compilation.
	CodeBuffer *platform.CodeBuffer
}

// ExportedFunction resolves name to a FunctionInstance, or (nil, false) if name is not an
// exported function.
func (mi *ModuleInstance) ExportedFunction(name string) (*FunctionInstance, bool) {
	exp, ok := mi.Exports[name]
	if !ok || exp.Type != ExternTypeFunc {
		return nil, false
	}
	addr := mi.FuncAddrs[exp.Index]
	return mi.Store.Funcs[addr], true
}

// ExportedMemory resolves name to a MemoryInstance, or (nil, false) if name is not an exported
// memory.
func (mi *ModuleInstance) ExportedMemory(name string) (*MemoryInstance, bool) {
	exp, ok := mi.Exports[name]
	if !ok || exp.Type != ExternTypeMemory {
		return nil, false
	}
	addr := mi.MemAddrs[exp.Index]
	return mi.Store.Mems[addr], true
}

// Memory returns the module's sole memory instance, or nil if it imports/defines none. wasm 1.0
// permits at most one memory per module.
func (mi *ModuleInstance) Memory() *MemoryInstance {
	if len(mi.MemAddrs) == 0 {
		return nil
	}
	return mi.Store.Mems[mi.MemAddrs[0]]
}

// Table returns the module's sole table instance, or nil if it imports/defines none.
func (mi *ModuleInstance) Table() *TableInstance {
	if len(mi.TableAddrs) == 0 {
		return nil
	}
	return mi.Store.Tables[mi.TableAddrs[0]]
}

// Function resolves a module-local function index to its Store instance.
func (mi *ModuleInstance) Function(idx Index) *FunctionInstance {
	return mi.Store.Funcs[mi.FuncAddrs[idx]]
}

// Global resolves a module-local global index to its Store instance.
func (mi *ModuleInstance) Global(idx Index) *GlobalInstance {
	return mi.Store.Globals[mi.GlobalAddrs[idx]]
}

// Close releases the module's compiled code pages. Safe to call on a module with no compiled
// code.
func (mi *ModuleInstance) Close() error {
	if mi.CodeBuffer == nil {
		return nil
	}
	return mi.CodeBuffer.Close()
}
