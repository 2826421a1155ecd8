package util

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
)

// Writer builds a byte buffer field by field, the dual of Reader.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes appends raw bytes.
func (w *Writer) Bytes(b []byte) {
	w.buf.Write(b)
}

// Uint8 appends a single byte.
func (w *Writer) Uint8(v uint8) {
	w.buf.WriteByte(v)
}

// Uint16 appends a little-endian uint16.
func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// Uint32 appends a little-endian uint32.
func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// Uint64 appends a little-endian uint64.
func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// Hash appends a raw 32-byte hash.
func (w *Writer) Hash(h [32]byte) {
	w.buf.Write(h[:])
}

// VarInt appends a Bitcoin compact-size integer.
func (w *Writer) VarInt(v uint64) {
	w.buf.Write(WriteVarInt(v))
}

// VarString appends a compact-size length-prefixed byte string.
func (w *Writer) VarString(s []byte) {
	w.buf.Write(WriteVarString(s))
}

// HashList appends a compact-size count followed by the 32-byte hashes.
func (w *Writer) HashList(hashes [][32]byte) {
	w.VarInt(uint64(len(hashes)))
	for _, h := range hashes {
		w.buf.Write(h[:])
	}
}

// BigIntLE appends a little-endian unsigned integer padded to the given byte
// width. Returns an error if the value does not fit.
func (w *Writer) BigIntLE(v *big.Int, width int) error {
	b := v.Bytes()
	if len(b) > width {
		return fmt.Errorf("value needs %d bytes, width is %d", len(b), width)
	}
	le := ReverseBytes(b)
	w.buf.Write(le)
	for i := len(le); i < width; i++ {
		w.buf.WriteByte(0)
	}
	return nil
}

// Out returns the accumulated bytes.
func (w *Writer) Out() []byte {
	return w.buf.Bytes()
}
