//go:build (linux || darwin) && !wasmjit_kernel

// Package platform isolates the handful of OS-specific primitives the compiler and linker need:
// allocating executable memory for JIT-compiled code (this file) and, on linux, compiling in a
// mode targeted at a future in-kernel runtime (codebuffer_kernel.go, currently a design stub).
package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CodeBuffer is a page-aligned region of memory allocated for JIT-compiled machine code. Callers
// write the finished code while the pages are still writable, then call Finalize to flip them to
// executable (spec §4.G: generated code must never be simultaneously writable and executable).
type CodeBuffer struct {
	mem []byte
}

// AllocateCodeBuffer reserves size bytes of read-write memory, rounded up to the host page size.
func AllocateCodeBuffer(size int) (*CodeBuffer, error) {
	if size <= 0 {
		panic("BUG: AllocateCodeBuffer with non-positive size")
	}
	mem, err := unix.Mmap(-1, 0, pageAlign(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("platform: mmap code buffer: %w", err)
	}
	return &CodeBuffer{mem: mem}, nil
}

// Bytes returns the buffer's backing slice for the compiler to write into. Valid only before
// Finalize.
func (c *CodeBuffer) Bytes() []byte { return c.mem }

// Finalize flips the buffer from read-write to read-execute and returns the final slice
// compiled functions' entry points are offsets into.
func (c *CodeBuffer) Finalize() ([]byte, error) {
	if err := unix.Mprotect(c.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return nil, fmt.Errorf("platform: mprotect code buffer executable: %w", err)
	}
	return c.mem, nil
}

// Close unmaps the buffer. Must be called exactly once, after the code it holds is no longer
// reachable from any live call stack.
func (c *CodeBuffer) Close() error {
	if len(c.mem) == 0 {
		return nil
	}
	mem := c.mem
	c.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("platform: munmap code buffer: %w", err)
	}
	return nil
}

func pageAlign(n int) int {
	pageSize := unix.Getpagesize()
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}
