package codec

import (
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// maxVarintBytes bounds how many continuation bytes we will ever read for
// a single varint, so a hostile input cannot force an unbounded read.
const maxVarintBytes = 10 // enough for a full 64-bit value in LEB128

// WriteVarUint appends the canonical (minimal) LEB128 encoding of v to buf
// and returns the extended slice.
func WriteVarUint(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

// ReadVarUint decodes a canonical LEB128 varint from r, rejecting
// non-minimal encodings: the final
// continuation byte must be non-zero unless it is the only byte emitted,
// since a trailing zero group could always have been omitted.
func ReadVarUint(r *Reader) (uint64, error) {
	var result uint64
	var shift uint
	var lastByte byte
	count := 0

	for {
		if count >= maxVarintBytes {
			return 0, errs.New(errs.ErrInputMalformed, "codec.ReadVarUint", "varint too long")
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, errs.Wrap(errs.ErrInputMalformed, "codec.ReadVarUint", err)
		}
		count++
		lastByte = b
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}

	// Canonicality: the last byte emitted (the terminating, non-continuation
	// byte) must be non-zero unless the whole varint is exactly one byte.
	// A zero terminating byte after at least one preceding byte means the
	// encoder emitted a redundant all-zero high group that could have been
	// dropped — a malleability class the LEB128 spec itself permits but
	// this wire format forbids.
	if count > 1 && lastByte == 0 {
		return 0, errs.New(errs.ErrInputMalformed, "codec.ReadVarUint", "non-minimal varint encoding")
	}
	if shift >= 64 {
		return 0, errs.New(errs.ErrInputMalformed, "codec.ReadVarUint", "varint overflow")
	}
	return result, nil
}

// VarUintLen returns the number of bytes WriteVarUint would emit for v,
// useful for pre-sizing buffers without allocating twice.
func VarUintLen(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}
