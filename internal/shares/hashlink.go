package shares

import (
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"fmt"

	"github.com/Ozhiganov/rice/pkg/util"
)

const sha256Magic = "sha\x03"

// HashLink is a persisted SHA-256 midstate. It lets every share avoid
// re-hashing the common generation-transaction prefix: the prefix is hashed
// once, and only the midstate travels with the share.
type HashLink struct {
	// State is the 32-byte SHA-256 chaining state (eight big-endian words)
	// after processing all complete 64-byte blocks of the prefix.
	State [32]byte
	// Length is the total prefix length in bytes.
	Length uint64
	// Extra is the unhashed tail of the prefix that did not fill a block.
	Extra []byte
}

func readHashLink(r *util.Reader) (HashLink, error) {
	var hl HashLink
	var err error
	if hl.State, err = r.Hash(); err != nil {
		return hl, err
	}
	if hl.Length, err = r.Uint64(); err != nil {
		return hl, err
	}
	if hl.Extra, err = r.VarString(); err != nil {
		return hl, err
	}
	if len(hl.Extra) >= 64 {
		return hl, fmt.Errorf("hash link tail too long: %d bytes", len(hl.Extra))
	}
	return hl, nil
}

func (hl *HashLink) write(w *util.Writer) {
	w.Hash(hl.State)
	w.Uint64(hl.Length)
	w.VarString(hl.Extra)
}

// NewHashLink computes the midstate of prefix, hashing all complete blocks
// and retaining the tail unhashed.
func NewHashLink(prefix []byte) (*HashLink, error) {
	full := len(prefix) - len(prefix)%64

	d := sha256.New()
	d.Write(prefix[:full])

	state, err := d.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal sha256 state: %w", err)
	}

	hl := &HashLink{
		Length: uint64(len(prefix)),
		Extra:  append([]byte(nil), prefix[full:]...),
	}
	copy(hl.State[:], state[4:36])
	return hl, nil
}

// Check verifies that the link was produced by hashing expectedPrefix and
// returns the double-SHA256 of expectedPrefix || suffix. It fails when the
// recorded length does not correspond to expectedPrefix or when the tail
// does not line up on a block boundary.
func (hl *HashLink) Check(suffix, expectedPrefix []byte) ([32]byte, error) {
	if hl.Length != uint64(len(expectedPrefix)) {
		return [32]byte{}, fmt.Errorf(
			"hash link length %d does not match prefix length %d", hl.Length, len(expectedPrefix))
	}
	if hl.Length%64 != uint64(len(hl.Extra)) {
		return [32]byte{}, fmt.Errorf(
			"hash link tail length %d inconsistent with total length %d", len(hl.Extra), hl.Length)
	}

	d := sha256.New()
	if err := d.(encoding.BinaryUnmarshaler).UnmarshalBinary(hl.marshalState()); err != nil {
		return [32]byte{}, fmt.Errorf("resume sha256 state: %w", err)
	}
	d.Write(suffix)

	var first [32]byte
	copy(first[:], d.Sum(nil))
	return sha256.Sum256(first[:]), nil
}

// marshalState produces the stdlib sha256 marshaled-digest layout:
// magic || state || buffered block || total length.
func (hl *HashLink) marshalState() []byte {
	buf := make([]byte, 0, 4+32+64+8)
	buf = append(buf, sha256Magic...)
	buf = append(buf, hl.State[:]...)

	var block [64]byte
	copy(block[:], hl.Extra)
	buf = append(buf, block[:]...)

	var length [8]byte
	binary.BigEndian.PutUint64(length[:], hl.Length)
	return append(buf, length[:]...)
}
