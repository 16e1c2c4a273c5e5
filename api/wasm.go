// Package api includes constants and interfaces used by both end-users and internal implementations.
package api

import "fmt"

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the name of the WebAssembly 1.0 (20191205) Text Format field of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a numeric type used in Web Assembly 1.0 (20191205). Function parameters
// and results are only definable as a value type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit floating point number.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit floating point number.
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the type name of the given ValueType as a string.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return "unknown"
}

// ValueTypeSize returns the size in bytes of a value of the given type in its packed (unextended) form.
func ValueTypeSize(t ValueType) int {
	switch t {
	case ValueTypeI32, ValueTypeF32:
		return 4
	case ValueTypeI64, ValueTypeF64:
		return 8
	}
	return 0
}

// Value is a tagged 64-bit payload: the dynamic representation of an i32, i64, f32, or f64.
//
// i32 and f32 values are held zero-extended/bit-reinterpreted in the low 32 bits of Bits.
type Value struct {
	Type ValueType
	Bits uint64
}

// ValueI32 constructs a Value of type i32.
func ValueI32(v uint32) Value { return Value{Type: ValueTypeI32, Bits: uint64(v)} }

// ValueI64 constructs a Value of type i64.
func ValueI64(v uint64) Value { return Value{Type: ValueTypeI64, Bits: v} }

// ValueF32 constructs a Value of type f32 from its raw bit pattern.
func ValueF32(bits uint32) Value { return Value{Type: ValueTypeF32, Bits: uint64(bits)} }

// ValueF64 constructs a Value of type f64 from its raw bit pattern.
func ValueF64(bits uint64) Value { return Value{Type: ValueTypeF64, Bits: bits} }

// I32 returns the value reinterpreted as an unsigned 32-bit integer.
func (v Value) I32() uint32 { return uint32(v.Bits) }

// I64 returns the value reinterpreted as an unsigned 64-bit integer.
func (v Value) I64() uint64 { return v.Bits }

// TrapCode identifies why generated code performed a non-local exit back to the invoke boundary.
//
// Zero is reserved to mean "no trap" on the wire between generated code and the invocation bridge;
// TrapCode values start at one, so each travels on that wire as its own value, unchanged.
type TrapCode byte

const (
	TrapCodeUnreachable TrapCode = iota + 1
	TrapCodeIntegerOverflow
	TrapCodeIntegerDivideByZero
	TrapCodeInvalidConversionToInteger
	TrapCodeOutOfBoundsMemoryAccess
	TrapCodeOutOfBoundsTableAccess
	TrapCodeIndirectCallTypeMismatch
	TrapCodeStackOverflow
	TrapCodeMismatchedType
	TrapCodeInterrupted
	TrapCodeAbort
)

// String implements fmt.Stringer.
func (c TrapCode) String() string {
	switch c {
	case TrapCodeUnreachable:
		return "unreachable"
	case TrapCodeIntegerOverflow:
		return "integer overflow"
	case TrapCodeIntegerDivideByZero:
		return "integer divide by zero"
	case TrapCodeInvalidConversionToInteger:
		return "invalid conversion to integer"
	case TrapCodeOutOfBoundsMemoryAccess:
		return "out of bounds memory access"
	case TrapCodeOutOfBoundsTableAccess:
		return "out of bounds table access"
	case TrapCodeIndirectCallTypeMismatch:
		return "indirect call type mismatch"
	case TrapCodeStackOverflow:
		return "stack overflow"
	case TrapCodeMismatchedType:
		return "mismatched type"
	case TrapCodeInterrupted:
		return "interrupted"
	case TrapCodeAbort:
		return "abort"
	default:
		return fmt.Sprintf("unknown trap code %d", byte(c))
	}
}

// Error adapts TrapCode to the error interface so it can flow through normal Go error handling
// at the embedding API boundary (spec: Invoke returns a distinguished TrapCode result).
type Error struct {
	Code TrapCode
}

func (e *Error) Error() string { return "wasm trap: " + e.Code.String() }
