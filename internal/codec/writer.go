// Package codec implements Basalt's deterministic, schema-less,
// length-prefixed binary encoding. All integers are
// little-endian fixed-width; variable-length fields use canonical LEB128
// length prefixes; the decoder never allocates for a length it has not
// first bounds-checked.
package codec

import "encoding/binary"

// Writer accumulates an encoded record into an in-memory buffer. It never
// fails; callers compose fields by chaining calls.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer, optionally pre-sized via cap.
func NewWriter(capHint int) *Writer {
	return &Writer{buf: make([]byte, 0, capHint)}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf }

// WriteU8 appends a single byte.
func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

// WriteU16 appends a little-endian uint16.
func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteU32 appends a little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteU64 appends a little-endian uint64.
func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteFixedBytes appends raw bytes with no length prefix.
func (w *Writer) WriteFixedBytes(b []byte) { w.buf = append(w.buf, b...) }

// WriteBytes appends a canonical VarInt length prefix followed by b.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = WriteVarUint(w.buf, uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString appends a canonical VarInt length prefix followed by s.
func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

// WriteCount appends a VarInt array-element count.
func (w *Writer) WriteCount(n int) { w.buf = WriteVarUint(w.buf, uint64(n)) }
