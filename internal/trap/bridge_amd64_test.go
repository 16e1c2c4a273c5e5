//go:build amd64 && !wasmjit_kernel

package trap

import (
	"context"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/kennyngo/wasmjit-go/api"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

func TestDispatchIndirectCall_NoTableTraps(t *testing.T) {
	store := wasm.NewStore()
	mi := &wasm.ModuleInstance{Store: store, Types: []*wasm.FunctionType{{}}}
	vc := &vmContext{ctx: context.Background(), caller: mi}

	tc := dispatchIndirectCall(0xffffffff, 0, 0, nil, nil, uintptr(unsafe.Pointer(vc)))
	require.Equal(t, int64(api.TrapCodeOutOfBoundsTableAccess), tc)
}

func TestDispatchIndirectCall_OutOfRangeElemTraps(t *testing.T) {
	store := wasm.NewStore()
	tbl := wasm.NewTableInstance(1, nil)
	tableAddr := store.AddTable(tbl)
	mi := &wasm.ModuleInstance{Store: store, Types: []*wasm.FunctionType{{}}}
	vc := &vmContext{ctx: context.Background(), caller: mi}

	tc := dispatchIndirectCall(uint64(tableAddr), 0, 7, nil, nil, uintptr(unsafe.Pointer(vc)))
	require.Equal(t, int64(api.TrapCodeOutOfBoundsTableAccess), tc)
}

func TestDispatchIndirectCall_UnsetElemTraps(t *testing.T) {
	store := wasm.NewStore()
	tbl := wasm.NewTableInstance(1, nil)
	tableAddr := store.AddTable(tbl)
	mi := &wasm.ModuleInstance{Store: store, Types: []*wasm.FunctionType{{}}}
	vc := &vmContext{ctx: context.Background(), caller: mi}

	tc := dispatchIndirectCall(uint64(tableAddr), 0, 0, nil, nil, uintptr(unsafe.Pointer(vc)))
	require.Equal(t, int64(api.TrapCodeOutOfBoundsTableAccess), tc)
}

func TestDispatchIndirectCall_TypeMismatchTraps(t *testing.T) {
	store := wasm.NewStore()
	i32 := []api.ValueType{api.ValueTypeI32}
	fn := &wasm.FunctionInstance{Type: &wasm.FunctionType{Params: i32}, Go: func(ctx context.Context, caller *wasm.ModuleInstance, params []uint64) []uint64 {
		return nil
	}}
	funcAddr := store.AddFunction(fn)

	tbl := wasm.NewTableInstance(1, nil)
	tbl.Elements[0] = funcAddr
	tbl.HasElem[0] = true
	tableAddr := store.AddTable(tbl)

	mi := &wasm.ModuleInstance{Store: store, Types: []*wasm.FunctionType{{}}}
	vc := &vmContext{ctx: context.Background(), caller: mi}

	// typeIdx 0 resolves to mi.Types[0], the empty signature; fn's actual signature takes an i32,
	// so this must be rejected as a mismatch rather than dispatched.
	tc := dispatchIndirectCall(uint64(tableAddr), 0, 0, nil, nil, uintptr(unsafe.Pointer(vc)))
	require.Equal(t, int64(api.TrapCodeIndirectCallTypeMismatch), tc)
}

func TestDispatchIndirectCall_HostFunctionDispatches(t *testing.T) {
	store := wasm.NewStore()
	called := false
	fn := &wasm.FunctionInstance{
		Type: &wasm.FunctionType{},
		Go: func(ctx context.Context, caller *wasm.ModuleInstance, params []uint64) []uint64 {
			called = true
			return nil
		},
	}
	funcAddr := store.AddFunction(fn)

	tbl := wasm.NewTableInstance(1, nil)
	tbl.Elements[0] = funcAddr
	tbl.HasElem[0] = true
	tableAddr := store.AddTable(tbl)

	mi := &wasm.ModuleInstance{Store: store, Types: []*wasm.FunctionType{{}}}
	vc := &vmContext{ctx: context.Background(), caller: mi}

	tc := dispatchIndirectCall(uint64(tableAddr), 0, 0, nil, nil, uintptr(unsafe.Pointer(vc)))
	require.Equal(t, int64(0), tc)
	require.True(t, called)
}
