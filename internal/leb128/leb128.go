// Package leb128 implements the LEB128 variable-length integer encoding used throughout the
// WebAssembly binary format (section sizes, indices, i32.const/i64.const immediates).
//
// See https://en.wikipedia.org/wiki/LEB128 and
// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-int
package leb128

import (
	"fmt"
	"io"
)

const (
	maxVarintLen32 = 5
	maxVarintLen33 = 5
	maxVarintLen64 = 10
)

// DecodeUint32 decodes an unsigned 32-bit LEB128 value from r, returning the value, the number
// of bytes consumed, and an error if the stream is truncated or the value overflows 32 bits.
func DecodeUint32(r io.ByteReader) (ret uint32, bytesRead uint64, err error) {
	v, n, err := decodeUint(r, 32)
	return uint32(v), n, err
}

// DecodeUint64 decodes an unsigned 64-bit LEB128 value from r.
func DecodeUint64(r io.ByteReader) (ret uint64, bytesRead uint64, err error) {
	return decodeUint(r, 64)
}

// DecodeInt32 decodes a signed 32-bit LEB128 value from r.
func DecodeInt32(r io.ByteReader) (ret int32, bytesRead uint64, err error) {
	v, n, err := decodeInt(r, 32)
	return int32(v), n, err
}

// DecodeInt33AsInt64 decodes a signed 33-bit LEB128 value (as used by wasm block types and memory
// immediates) sign-extended into an int64.
func DecodeInt33AsInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	return decodeInt(r, 33)
}

// DecodeInt64 decodes a signed 64-bit LEB128 value from r.
func DecodeInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	return decodeInt(r, 64)
}

func decodeUint(r io.ByteReader, width int) (ret uint64, bytesRead uint64, err error) {
	maxLen := maxVarintLen32
	if width == 64 {
		maxLen = maxVarintLen64
	}
	var shift uint
	for {
		b, rerr := r.ReadByte()
		if rerr != nil {
			if rerr == io.EOF && bytesRead != 0 {
				rerr = io.ErrUnexpectedEOF
			}
			return 0, bytesRead, rerr
		}
		bytesRead++
		if bytesRead > uint64(maxLen) {
			return 0, bytesRead, fmt.Errorf("leb128: value exceeds %d-bit range", width)
		}
		ret |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if remainderNonZero(b, shift, width) {
				return 0, bytesRead, fmt.Errorf("leb128: integer representation too long for %d bits", width)
			}
			return ret, bytesRead, nil
		}
		shift += 7
	}
}

// remainderNonZero reports whether the final byte of an unsigned LEB128 stream carries any bits
// above the target width, which would indicate a malformed (non-canonical / overflowing) encoding.
func remainderNonZero(lastByte byte, shift uint, width int) bool {
	if shift >= uint(width) {
		return lastByte&0x7f != 0
	}
	usableBits := uint(width) - shift
	if usableBits >= 7 {
		return false
	}
	mask := byte(0xff << usableBits & 0x7f)
	return lastByte&mask != 0
}

func decodeInt(r io.ByteReader, width int) (ret int64, bytesRead uint64, err error) {
	maxLen := maxVarintLen32
	switch width {
	case 33:
		maxLen = maxVarintLen33
	case 64:
		maxLen = maxVarintLen64
	}
	var result int64
	var shift uint
	var b byte
	for {
		nb, rerr := r.ReadByte()
		if rerr != nil {
			if rerr == io.EOF && bytesRead != 0 {
				rerr = io.ErrUnexpectedEOF
			}
			return 0, bytesRead, rerr
		}
		b = nb
		bytesRead++
		if bytesRead > uint64(maxLen) {
			return 0, bytesRead, fmt.Errorf("leb128: value exceeds %d-bit signed range", width)
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	// The final byte's bits from the target width's sign bit upward must all equal that sign bit.
	if usable := uint(width) - (shift - 7); usable < 7 {
		mask := byte(0x7f) &^ (byte(1)<<(usable-1) - 1)
		if v := b & mask; v != 0 && v != mask {
			return 0, bytesRead, fmt.Errorf("leb128: value exceeds %d-bit signed range", width)
		}
	}
	// Sign-extend if the sign bit of the final group is set and we haven't already consumed the
	// full width.
	if shift < 64 && (b&0x40) != 0 {
		result |= -1 << shift
	}
	return result, bytesRead, nil
}

// LoadUint32 decodes an unsigned 32-bit LEB128 value from the head of buf.
func LoadUint32(buf []byte) (ret uint32, bytesRead uint64, err error) {
	return DecodeUint32(&byteSliceReader{buf: buf})
}

// LoadUint64 decodes an unsigned 64-bit LEB128 value from the head of buf.
func LoadUint64(buf []byte) (ret uint64, bytesRead uint64, err error) {
	return DecodeUint64(&byteSliceReader{buf: buf})
}

// LoadInt32 decodes a signed 32-bit LEB128 value from the head of buf.
func LoadInt32(buf []byte) (ret int32, bytesRead uint64, err error) {
	return DecodeInt32(&byteSliceReader{buf: buf})
}

// LoadInt64 decodes a signed 64-bit LEB128 value from the head of buf.
func LoadInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	return DecodeInt64(&byteSliceReader{buf: buf})
}

// byteSliceReader is a minimal io.ByteReader over a slice, avoiding the allocation a bytes.Reader
// wrapper would cost on the hot decode path (internal/leb128 is invoked once per immediate in a
// function body, so this matters across whole-module decode).
type byteSliceReader struct {
	buf []byte
	pos int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// EncodeUint32 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint32(v uint32) []byte { return EncodeUint64(uint64(v)) }

// EncodeUint64 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint64(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// EncodeInt32 encodes v as a signed LEB128 byte sequence.
func EncodeInt32(v int32) []byte { return EncodeInt64(int64(v)) }

// EncodeInt64 encodes v as a signed LEB128 byte sequence.
func EncodeInt64(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		done := (v == 0 && !signBitSet) || (v == -1 && signBitSet)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}
