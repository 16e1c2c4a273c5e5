package compiler

import (
	"unsafe"

	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// memPtrValue and globalPtrValue take the address of a Store object that is known to be stable
// for the lifetime of the ModuleInstance (Go's non-moving heap keeps it valid once escaped to the
// heap), to be embedded as a MovImm64 constant at compile time. Compiled code never mutates the
// MemoryInstance/GlobalInstance struct header itself, only the memory it points to (Buffer's own
// backing array, or the Value word), so holding this address across a memory.grow remains safe.
func memPtrValue(m *wasm.MemoryInstance) uintptr    { return uintptr(unsafe.Pointer(m)) }
func globalPtrValue(g *wasm.GlobalInstance) uintptr { return uintptr(unsafe.Pointer(g)) }
