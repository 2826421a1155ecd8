package util

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Reader consumes a byte buffer field by field. All multi-byte integers are
// read little-endian. Every method returns an error on short reads so parse
// failures surface cleanly instead of panicking.
type Reader struct {
	data []byte
	off  int
}

// NewReader creates a Reader over data. The slice is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Bytes reads exactly n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("short read: need %d bytes, have %d", n, r.Remaining())
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += n
	return out, nil
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() (uint8, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Hash reads a raw 32-byte hash.
func (r *Reader) Hash() ([32]byte, error) {
	var h [32]byte
	b, err := r.Bytes(32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// VarInt reads a Bitcoin compact-size integer.
func (r *Reader) VarInt() (uint64, error) {
	v, n, err := ReadVarInt(r.data[r.off:])
	if err != nil {
		return 0, err
	}
	r.off += n
	return v, nil
}

// VarString reads a compact-size length-prefixed byte string.
func (r *Reader) VarString() ([]byte, error) {
	s, n, err := ReadVarString(r.data[r.off:])
	if err != nil {
		return nil, err
	}
	r.off += n
	return s, nil
}

// HashList reads a compact-size count followed by that many 32-byte hashes.
func (r *Reader) HashList() ([][32]byte, error) {
	count, err := r.VarInt()
	if err != nil {
		return nil, err
	}
	if count > uint64(r.Remaining())/32 {
		return nil, fmt.Errorf("hash list count %d exceeds remaining %d bytes", count, r.Remaining())
	}
	out := make([][32]byte, count)
	for i := range out {
		out[i], err = r.Hash()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// BigIntLE reads a little-endian unsigned integer of the given byte width.
func (r *Reader) BigIntLE(width int) (*big.Int, error) {
	b, err := r.Bytes(width)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(ReverseBytes(b)), nil
}
