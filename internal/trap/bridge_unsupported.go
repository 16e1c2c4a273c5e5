//go:build !amd64 || wasmjit_kernel

package trap

import (
	"context"
	"errors"

	"github.com/kennyngo/wasmjit-go/api"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// invoker is a stub on architectures the compiler does not target (spec: x86-64 only, no
// interpreter fallback). NewRuntimeWithConfig refuses to build a Runtime on these platforms before an
// invoker is ever installed, so Invoke here should be unreachable in practice.
type invoker struct{}

// NewInvoker returns a wasm.Invoker that always fails; only amd64 has a working one.
func NewInvoker() wasm.Invoker { return invoker{} }

func (invoker) Invoke(context.Context, *wasm.FunctionInstance, []uint64) ([]uint64, error) {
	return nil, errors.New("trap: the compiler engine only supports GOARCH=amd64")
}

// Trap aborts the currently executing host function with the given trap code.
func Trap(code api.TrapCode) {
	panic(hostTrap(code))
}

type hostTrap api.TrapCode

// TrampolineAddrs mirrors the amd64 build's type; Trampolines is never actually called here since
// the compiler itself only targets amd64.
type TrampolineAddrs struct {
	Call         uintptr
	IndirectCall uintptr
	MemoryGrow   uintptr
}

// Trampolines panics: nothing should reach it off amd64.
func Trampolines() TrampolineAddrs {
	panic("trap: Trampolines is only available on GOARCH=amd64")
}
