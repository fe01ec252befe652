package codec

import (
	"encoding/binary"

	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// MaxByteArrayLen is the hard cap on any single decoded byte array
// Checked before any allocation.
const MaxByteArrayLen = 16 * 1024 * 1024

// MaxStringLen is the hard cap on any single decoded string.
const MaxStringLen = 4 * 1024

// Reader decodes the deterministic little-endian, length-prefixed wire
// format over a borrowed byte slice. It never allocates to hold the
// input and performs an explicit bounds check before every read.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for decoding. buf is not copied; the caller must
// not mutate it while the Reader is in use.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

func (r *Reader) ensure(n int) error {
	if n < 0 || n > r.Len() {
		return errs.New(errs.ErrInputMalformed, "codec.Reader", "buffer underrun")
	}
	return nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.ensure(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadFixedBytes reads exactly n raw bytes with no length prefix, for
// fixed-width types such as hashes and public keys whose length is known
// from the type itself rather than encoded on the wire.
func (r *Reader) ReadFixedBytes(n int) ([]byte, error) {
	if err := r.ensure(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// ReadU8 reads a single unsigned byte.
func (r *Reader) ReadU8() (uint8, error) { return r.ReadByte() }

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.ReadFixedBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadFixedBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadFixedBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadBytes reads a VarInt length prefix followed by that many raw bytes.
// The decoded length is validated against MaxByteArrayLen, and against the
// platform's addressable range, before it is ever used to size an
// allocation.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(MaxByteArrayLen) {
		return nil, errs.New(errs.ErrInputMalformed, "codec.Reader.ReadBytes", "byte array too large")
	}
	// n is now known to fit well within platform int range because
	// MaxByteArrayLen does; the explicit check above happens strictly
	// before this cast.
	return r.ReadFixedBytes(int(n))
}

// ReadString reads a VarInt length prefix followed by that many bytes,
// validated as UTF-8-agnostic raw text against MaxStringLen.
func (r *Reader) ReadString() (string, error) {
	n, err := ReadVarUint(r)
	if err != nil {
		return "", err
	}
	if n > uint64(MaxStringLen) {
		return "", errs.New(errs.ErrInputMalformed, "codec.Reader.ReadString", "string too large")
	}
	b, err := r.ReadFixedBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadCount reads a VarInt element count for an array field, bounded by
// max so a malicious count cannot be used to pre-size an oversized slice
// before any element is actually read.
func (r *Reader) ReadCount(max int) (int, error) {
	n, err := ReadVarUint(r)
	if err != nil {
		return 0, err
	}
	if n > uint64(max) {
		return 0, errs.New(errs.ErrInputMalformed, "codec.Reader.ReadCount", "array count exceeds cap")
	}
	return int(n), nil
}
