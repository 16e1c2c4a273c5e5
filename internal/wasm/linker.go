package internalwasm

import (
	"context"
	"fmt"

	"github.com/kennyngo/wasmjit-go/internal/leb128"
	"github.com/kennyngo/wasmjit-go/internal/platform"
)

// Compiler is the boundary the linker calls to turn a decoded function body into machine code.
// internal/engine/compiler implements this; keeping the dependency as an interface here avoids an
// import cycle (the compiler needs Module/Code/FunctionType from this package).
type Compiler interface {
	// Compile lowers fn (whose locals/body come from code) into the given code buffer at the
	// current write position, returning the byte range of its compiled entry point. Any
	// relocations the compiler collects (calls, global/memory addresses) are resolved against env
	// before Compile returns.
	Compile(buf []byte, writeOffset int, fn *FunctionType, code *Code, env CompileEnv) (entryOffset, length int, err error)
}

// CompileEnv supplies a single function's compiler invocation with everything it needs to resolve
// calls, globals, and memory/table accesses against the instance under construction.
type CompileEnv struct {
	Module       *Module
	Instance     *ModuleInstance
	FuncIndex    Index
	LocalTypes   []ValueType // params followed by declared locals, flattened
	FunctionAddr func(Index) Index
}

// LinkError reports why Instantiate could not link a module, keyed to the instantiation phase
// that detected it (spec §4.F).
type LinkError struct {
	Phase   string
	Message string
}

func (e *LinkError) Error() string { return fmt.Sprintf("wasm: link error in %s: %s", e.Phase, e.Message) }

// ImportResolver supplies the Store bindings import resolution (phase 1) consults, letting the
// embedding API register host functions/memories/tables/globals, and letting one module's
// exports satisfy another module's imports, ahead of actually decoding the importing module.
type ImportResolver interface {
	Resolve(module, field string) (NamespaceEntry, bool)
}

// Instantiate runs all instantiation phases from spec §4.F against m, registering every object it
// allocates into store and returning the resulting ModuleInstance. name is used both to register
// this module's own exports back into the store under subsequent modules' import resolution and
// for diagnostics.
//
// On failure after phase 2 (once some Store objects have already been allocated for this module),
// those partially-constructed objects are left in the Store; wasmjit-go does not attempt Store-wide
// rollback, matching the original runtime's behavior of leaving a half-instantiated module's
// objects allocated but unreachable through any export table.
func Instantiate(ctx context.Context, store *Store, m *Module, name string, compiler Compiler) (*ModuleInstance, error) {
	mi := &ModuleInstance{
		Name:  name,
		Types: m.TypeSection,
		Store: store,
	}

	// Phase 1: resolve imports against the store's existing namespace.
	for _, imp := range m.ImportSection {
		entry, ok := store.Resolve(imp.Module, imp.Name)
		if !ok {
			return nil, &LinkError{"resolve-imports", fmt.Sprintf("unknown import %s.%s", imp.Module, imp.Name)}
		}
		if entry.Type != imp.Type {
			return nil, &LinkError{"resolve-imports", fmt.Sprintf("%s.%s: import kind mismatch, want %s got %s",
				imp.Module, imp.Name, fmtExternTypeName(imp.Type), fmtExternTypeName(entry.Type))}
		}
		switch imp.Type {
		case ExternTypeFunc:
			want := m.TypeSection[imp.DescFunc]
			got := store.Funcs[entry.Addr].Type
			if !want.EqualsSignature(got) {
				return nil, &LinkError{"resolve-imports", fmt.Sprintf("%s.%s: function signature mismatch", imp.Module, imp.Name)}
			}
			mi.FuncAddrs = append(mi.FuncAddrs, entry.Addr)
		case ExternTypeTable:
			mi.TableAddrs = append(mi.TableAddrs, entry.Addr)
		case ExternTypeMemory:
			mi.MemAddrs = append(mi.MemAddrs, entry.Addr)
		case ExternTypeGlobal:
			got := store.Globals[entry.Addr].Type
			if got.ValType != imp.DescGlobal.ValType || got.Mutable != imp.DescGlobal.Mutable {
				return nil, &LinkError{"resolve-imports", fmt.Sprintf("%s.%s: global type mismatch", imp.Module, imp.Name)}
			}
			mi.GlobalAddrs = append(mi.GlobalAddrs, entry.Addr)
		}
	}

	// Phase 2: allocate this module's own memories and tables (definitions only; imports were
	// already appended to mi.MemAddrs/TableAddrs above).
	for _, mt := range m.MemorySection {
		max := mt.Max
		if store.MaxPages > 0 && (max == nil || *max > store.MaxPages) {
			capped := store.MaxPages
			max = &capped
		}
		inst := &MemoryInstance{
			Buffer: make([]byte, uint64(mt.Min)*MemoryPageSize),
			Min:    mt.Min,
			Max:    max,
		}
		mi.MemAddrs = append(mi.MemAddrs, store.AddMemory(inst))
	}
	for _, tt := range m.TableSection {
		inst := NewTableInstance(tt.Limits.Min, tt.Limits.Max)
		mi.TableAddrs = append(mi.TableAddrs, store.AddTable(inst))
	}
	if len(mi.MemAddrs) > 1 {
		return nil, &LinkError{"allocate", "more than one memory is not supported in wasm 1.0"}
	}
	if len(mi.TableAddrs) > 1 {
		return nil, &LinkError{"allocate", "more than one table is not supported in wasm 1.0"}
	}

	// Phase 3: evaluate global initializers in declaration order. A global.get naming a global not
	// yet allocated (a forward reference to this module's own globals) fails evalConstExpr's index
	// check; the decoder does not reject it earlier.
	for _, g := range m.GlobalSection {
		val, err := evalConstExpr(mi, g.Init)
		if err != nil {
			return nil, &LinkError{"init-globals", err.Error()}
		}
		mi.GlobalAddrs = append(mi.GlobalAddrs, store.AddGlobal(&GlobalInstance{Type: g.Type, Value: val}))
	}

	// Phase 4: compile all of this module's defined functions into one executable code buffer.
	if len(m.CodeSection) > 0 {
		if err := compileFunctions(mi, m, compiler); err != nil {
			return nil, &LinkError{"compile", err.Error()}
		}
	} else {
		// No defined functions; host functions imported in phase 1 already populated mi.FuncAddrs.
	}

	// Phase 5: bounds-check element and data segments against the (now fully sized) tables and
	// memories before writing anything, so a module either initializes fully or not at all.
	type pendingElem struct {
		table  *TableInstance
		offset uint64
		fns    []Index
	}
	var pendingElems []pendingElem
	for _, seg := range m.ElementSection {
		offVal, err := evalConstExpr(mi, seg.Offset)
		if err != nil {
			return nil, &LinkError{"elements", err.Error()}
		}
		off := uint64(int64(int32(offVal)))
		tbl := mi.Store.Tables[mi.TableAddrs[seg.TableIndex]]
		if off+uint64(len(seg.Init)) > uint64(len(tbl.Elements)) {
			return nil, &LinkError{"elements", "element segment out of table bounds"}
		}
		resolved := make([]Index, len(seg.Init))
		for i, fnIdx := range seg.Init {
			resolved[i] = mi.FuncAddrs[fnIdx]
		}
		pendingElems = append(pendingElems, pendingElem{tbl, off, resolved})
	}

	type pendingData struct {
		mem    *MemoryInstance
		offset uint64
		bytes  []byte
	}
	var pendingData_ []pendingData
	for _, seg := range m.DataSection {
		offVal, err := evalConstExpr(mi, seg.Offset)
		if err != nil {
			return nil, &LinkError{"data", err.Error()}
		}
		off := uint64(int64(int32(offVal)))
		mem := mi.Store.Mems[mi.MemAddrs[seg.MemoryIndex]]
		if off+uint64(len(seg.Init)) > uint64(len(mem.Buffer)) {
			return nil, &LinkError{"data", "data segment out of memory bounds"}
		}
		pendingData_ = append(pendingData_, pendingData{mem, off, seg.Init})
	}

	// Phase 6: write element segments.
	for _, p := range pendingElems {
		for i, fnAddr := range p.fns {
			p.table.Elements[p.offset+uint64(i)] = fnAddr
			p.table.HasElem[p.offset+uint64(i)] = true
		}
	}

	// Phase 7: write data segments.
	for _, p := range pendingData_ {
		copy(p.mem.Buffer[p.offset:], p.bytes)
	}

	// Phase 8: register exports, both for this module's embedding-API callers and so later
	// modules' imports can resolve against them.
	mi.Exports = make(map[string]Export, len(m.ExportSection))
	for _, exp := range m.ExportSection {
		mi.Exports[exp.Name] = *exp
		var addr Index
		switch exp.Type {
		case ExternTypeFunc:
			addr = mi.FuncAddrs[exp.Index]
		case ExternTypeTable:
			addr = mi.TableAddrs[exp.Index]
		case ExternTypeMemory:
			addr = mi.MemAddrs[exp.Index]
		case ExternTypeGlobal:
			addr = mi.GlobalAddrs[exp.Index]
		}
		if err := store.BindName(name, exp.Name, NamespaceEntry{Type: exp.Type, Addr: addr}); err != nil {
			return nil, &LinkError{"export", err.Error()}
		}
	}

	// Phase 9: invoke the start function, if any.
	if m.StartSection != nil {
		startFn := store.Funcs[mi.FuncAddrs[*m.StartSection]]
		if _, err := Invoke(ctx, mi, startFn, nil); err != nil {
			return nil, &LinkError{"start", err.Error()}
		}
	}

	return mi, nil
}

// compileFunctions lowers every defined function body in m.CodeSection into a single executable
// code buffer owned by mi, registering each as a new Store function and appending its address to
// mi.FuncAddrs (defined functions follow imported ones in the function index space).
func compileFunctions(mi *ModuleInstance, m *Module, compiler Compiler) error {
	// A generous fixed estimate avoids a second compile pass just to size the buffer; real
	// compiled code for the function bodies wasmjit-go targets (spec §8 examples) comfortably
	// fits 256 bytes/function.
	const bytesPerFunctionEstimate = 512
	size := len(m.CodeSection) * bytesPerFunctionEstimate
	if size == 0 {
		size = 64
	}
	buf, err := platform.AllocateCodeBuffer(size)
	if err != nil {
		return err
	}
	mi.CodeBuffer = buf

	firstDefinedIdx := Index(len(mi.FuncAddrs))

	writeOffset := 0
	rw := buf.Bytes()
	placeholders := make([]Index, len(m.CodeSection))
	for i := range m.CodeSection {
		placeholders[i] = mi.Store.AddFunction(&FunctionInstance{Module: mi})
		mi.FuncAddrs = append(mi.FuncAddrs, placeholders[i])
	}

	for i, code := range m.CodeSection {
		funcIdx := firstDefinedIdx + Index(i)
		typeIdx := m.FunctionSection[i]
		fnType := m.TypeSection[typeIdx]

		localTypes := make([]ValueType, 0, len(fnType.Params)+code.NumLocals())
		localTypes = append(localTypes, fnType.Params...)
		for _, le := range code.Locals {
			for c := uint32(0); c < le.Count; c++ {
				localTypes = append(localTypes, le.Type)
			}
		}

		env := CompileEnv{
			Module:    m,
			Instance:  mi,
			FuncIndex: funcIdx,
			LocalTypes: localTypes,
			FunctionAddr: func(idx Index) Index {
				return mi.FuncAddrs[idx]
			},
		}

		entryOff, length, err := compiler.Compile(rw, writeOffset, fnType, code, env)
		if err != nil {
			return fmt.Errorf("compile function %d: %w", funcIdx, err)
		}

		fn := mi.Store.Funcs[placeholders[i]]
		fn.Type = fnType
		fn.Code = rw[entryOff : entryOff+length]
		writeOffset = entryOff + length
	}

	// Finalize flips page protection in place; it does not relocate the mapping, so the Code
	// slices assigned above (taken from rw, the pre-Finalize view) remain valid read-execute
	// pointers into the same pages.
	if _, err := buf.Finalize(); err != nil {
		return err
	}
	return nil
}

// evalConstExpr evaluates a restricted constant expression (spec §4.F phase 3): a single
// instruction of i32.const/i64.const/f32.const/f64.const/global.get.
func evalConstExpr(mi *ModuleInstance, ce ConstantExpression) (uint64, error) {
	switch ce.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.LoadInt32(ce.Data)
		return uint64(uint32(v)), err
	case OpcodeI64Const:
		v, _, err := leb128.LoadInt64(ce.Data)
		return uint64(v), err
	case OpcodeF32Const:
		if len(ce.Data) < 4 {
			return 0, fmt.Errorf("truncated f32.const immediate")
		}
		return uint64(uint32(ce.Data[0]) | uint32(ce.Data[1])<<8 | uint32(ce.Data[2])<<16 | uint32(ce.Data[3])<<24), nil
	case OpcodeF64Const:
		if len(ce.Data) < 8 {
			return 0, fmt.Errorf("truncated f64.const immediate")
		}
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(ce.Data[i]) << (8 * i)
		}
		return v, nil
	case OpcodeGlobalGet:
		idx, _, err := leb128.LoadUint32(ce.Data)
		if err != nil {
			return 0, err
		}
		if int(idx) >= len(mi.GlobalAddrs) {
			return 0, fmt.Errorf("global.get %d: index out of range in constant expression", idx)
		}
		g := mi.Store.Globals[mi.GlobalAddrs[idx]]
		return g.Value, nil
	default:
		return 0, fmt.Errorf("invalid constant expression opcode %#x", byte(ce.Opcode))
	}
}

func fmtExternTypeName(t ExternType) string {
	switch t {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	default:
		return "unknown"
	}
}
