//go:build wasmjit_kernel

package platform

// This file documents the shape an in-kernel code buffer allocator would take, mirroring the
// original wasmjit project's optional Linux kernel module build (which backs generated code with
// vmalloc_exec / module_alloc instead of mmap). Go has no supported in-kernel runtime target, so
// this build is never actually compiled into a bootable artifact; the wasmjit_kernel tag exists so
// the intended allocation contract is visible and type-checked against the same CodeBuffer API
// the userspace build implements, rather than left as a prose aside.
//
// A real port would need cgo calls into the kernel's module_alloc/module_memfree (or an
// entirely separate loader written against the kernel's own module ABI), which is out of reach
// for a userspace Go build and is intentionally left unimplemented here.

import "errors"

type CodeBuffer struct{}

func AllocateCodeBuffer(size int) (*CodeBuffer, error) {
	return nil, errors.New("platform: in-kernel code buffer allocation is not implemented for Go")
}

func (c *CodeBuffer) Bytes() []byte                 { return nil }
func (c *CodeBuffer) Finalize() ([]byte, error)      { return nil, errors.New("platform: unimplemented") }
func (c *CodeBuffer) Close() error                   { return nil }
