package internalwasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstantiate_MemoryMaxCappedByStore(t *testing.T) {
	store := NewStore()
	store.MaxPages = 2

	m := &Module{
		MemorySection: []*MemoryType{{Min: 1, Max: nil}},
		ExportSection: []*Export{{Name: "mem", Type: ExternTypeMemory, Index: 0}},
	}

	mi, err := Instantiate(context.Background(), store, m, "t", nil)
	require.NoError(t, err)

	mem, ok := mi.ExportedMemory("mem")
	require.True(t, ok)
	require.NotNil(t, mem.Max)
	require.EqualValues(t, 2, *mem.Max)

	// Growing past the Store-imposed cap is refused even though the module declared no max of
	// its own.
	_, ok = mem.Grow(5)
	require.False(t, ok)
	_, ok = mem.Grow(1)
	require.True(t, ok)
}

func TestInstantiate_MemoryMaxNotWidenedPastModuleDeclared(t *testing.T) {
	store := NewStore()
	store.MaxPages = 10

	declared := uint32(3)
	m := &Module{
		MemorySection: []*MemoryType{{Min: 1, Max: &declared}},
	}

	mi, err := Instantiate(context.Background(), store, m, "t", nil)
	require.NoError(t, err)
	require.Len(t, store.Mems, 1)
	require.NotNil(t, store.Mems[0].Max)
	require.EqualValues(t, 3, *store.Mems[0].Max)
	_ = mi
}

func TestInstantiate_UnresolvedImportFails(t *testing.T) {
	store := NewStore()
	m := &Module{
		ImportSection: []*Import{{Module: "env", Name: "missing", Type: ExternTypeFunc}},
	}
	_, err := Instantiate(context.Background(), store, m, "t", nil)
	require.Error(t, err)
	var linkErr *LinkError
	require.ErrorAs(t, err, &linkErr)
	require.Equal(t, "resolve-imports", linkErr.Phase)
}

func TestInstantiate_HostImportSatisfiesGuestImport(t *testing.T) {
	store := NewStore()
	hostFn := &FunctionInstance{Type: &FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}},
		Go: func(ctx context.Context, caller *ModuleInstance, params []uint64) []uint64 {
			return []uint64{params[0] + 1}
		}}
	addr := store.AddFunction(hostFn)
	require.NoError(t, store.BindName("env", "inc", NamespaceEntry{Type: ExternTypeFunc, Addr: addr}))

	m := &Module{
		TypeSection: []*FunctionType{{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}},
		ImportSection: []*Import{
			{Module: "env", Name: "inc", Type: ExternTypeFunc, DescFunc: 0},
		},
		ExportSection: []*Export{{Name: "inc", Type: ExternTypeFunc, Index: 0}},
	}

	mi, err := Instantiate(context.Background(), store, m, "guest", nil)
	require.NoError(t, err)

	fn, ok := mi.ExportedFunction("inc")
	require.True(t, ok)
	out, err := Invoke(context.Background(), mi, fn, []uint64{41})
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, out)
}
