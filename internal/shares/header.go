package shares

import (
	"encoding/binary"

	"github.com/Ozhiganov/rice/pkg/util"
)

// SmallBlockHeader is a condensed block header: everything except the Merkle
// root, which is supplied when the full 80-byte header is emitted.
type SmallBlockHeader struct {
	Version       uint64
	PreviousBlock [32]byte
	Timestamp     uint32
	Bits          uint32
	Nonce         uint32
}

func readSmallBlockHeader(r *util.Reader) (SmallBlockHeader, error) {
	var h SmallBlockHeader
	var err error
	if h.Version, err = r.VarInt(); err != nil {
		return h, err
	}
	if h.PreviousBlock, err = r.Hash(); err != nil {
		return h, err
	}
	if h.Timestamp, err = r.Uint32(); err != nil {
		return h, err
	}
	if h.Bits, err = r.Uint32(); err != nil {
		return h, err
	}
	if h.Nonce, err = r.Uint32(); err != nil {
		return h, err
	}
	return h, nil
}

func (h *SmallBlockHeader) write(w *util.Writer) {
	w.VarInt(h.Version)
	w.Hash(h.PreviousBlock)
	w.Uint32(h.Timestamp)
	w.Uint32(h.Bits)
	w.Uint32(h.Nonce)
}

// FullHeader emits the standard 80-byte block header for the given Merkle root.
func (h *SmallBlockHeader) FullHeader(merkleRoot [32]byte) []byte {
	buf := make([]byte, 80)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PreviousBlock[:])
	copy(buf[36:68], merkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// CalculateHash computes the double-SHA256 of the full header built with the
// given Merkle root.
func (h *SmallBlockHeader) CalculateHash(merkleRoot [32]byte) [32]byte {
	return util.DoubleSHA256(h.FullHeader(merkleRoot))
}
