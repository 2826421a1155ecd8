package shares

import (
	"fmt"
	"math/big"

	"github.com/Ozhiganov/rice/pkg/util"
)

// absWorkWidth is the serialized width of the cumulative-work counter.
const absWorkWidth = 16

// TxHashRef points at a transaction hash either in this share's own
// NewTransactionHashes list (ShareCount == 0) or in an ancestor share
// (ShareCount generations back).
type TxHashRef struct {
	ShareCount uint64
	TxCount    uint64
}

// SegwitData is the optional sub-structure carried by segwit-activated share
// versions.
type SegwitData struct {
	TxIDMerkleLink  [][32]byte
	TxIDMerkleIndex uint32
	WitnessReserved [32]byte
}

// ShareInfo is the payout-bearing payload of a share.
type ShareInfo struct {
	PreviousShareHash    [32]byte
	Coinbase             []byte
	Nonce                uint32
	PubkeyHash           [20]byte
	Subsidy              uint64
	Donation             uint16
	StaleInfo            uint8
	DesiredVersion       uint64
	TransactionHashRefs  []TxHashRef
	NewTransactionHashes [][32]byte
	// FarShareHash is all-zero when absent.
	FarShareHash [32]byte
	Bits         uint32
	Timestamp    uint32
	AbsHeight    uint32
	AbsWork      *big.Int

	// Segwit is non-nil only for segwit-activated versions.
	Segwit *SegwitData
}

func readShareInfo(r *util.Reader, segwitActivated bool) (ShareInfo, error) {
	var si ShareInfo
	var err error

	if si.PreviousShareHash, err = r.Hash(); err != nil {
		return si, err
	}
	if si.Coinbase, err = r.VarString(); err != nil {
		return si, err
	}
	if si.Nonce, err = r.Uint32(); err != nil {
		return si, err
	}
	pubkeyHash, err := r.Bytes(20)
	if err != nil {
		return si, err
	}
	copy(si.PubkeyHash[:], pubkeyHash)
	if si.Subsidy, err = r.Uint64(); err != nil {
		return si, err
	}
	if si.Donation, err = r.Uint16(); err != nil {
		return si, err
	}
	if si.StaleInfo, err = r.Uint8(); err != nil {
		return si, err
	}
	if si.DesiredVersion, err = r.VarInt(); err != nil {
		return si, err
	}

	refCount, err := r.VarInt()
	if err != nil {
		return si, err
	}
	if refCount > uint64(r.Remaining()) {
		return si, fmt.Errorf("hash ref count %d exceeds remaining buffer", refCount)
	}
	si.TransactionHashRefs = make([]TxHashRef, refCount)
	for i := range si.TransactionHashRefs {
		if si.TransactionHashRefs[i].ShareCount, err = r.VarInt(); err != nil {
			return si, err
		}
		if si.TransactionHashRefs[i].TxCount, err = r.VarInt(); err != nil {
			return si, err
		}
	}

	if si.NewTransactionHashes, err = r.HashList(); err != nil {
		return si, err
	}
	if si.FarShareHash, err = r.Hash(); err != nil {
		return si, err
	}
	if si.Bits, err = r.Uint32(); err != nil {
		return si, err
	}
	if si.Timestamp, err = r.Uint32(); err != nil {
		return si, err
	}
	if si.AbsHeight, err = r.Uint32(); err != nil {
		return si, err
	}
	if si.AbsWork, err = r.BigIntLE(absWorkWidth); err != nil {
		return si, err
	}

	if segwitActivated {
		sw := &SegwitData{}
		if sw.TxIDMerkleLink, err = r.HashList(); err != nil {
			return si, err
		}
		if sw.TxIDMerkleIndex, err = r.Uint32(); err != nil {
			return si, err
		}
		if sw.WitnessReserved, err = r.Hash(); err != nil {
			return si, err
		}
		si.Segwit = sw
	}

	return si, nil
}

func (si *ShareInfo) write(w *util.Writer, segwitActivated bool) error {
	w.Hash(si.PreviousShareHash)
	w.VarString(si.Coinbase)
	w.Uint32(si.Nonce)
	w.Bytes(si.PubkeyHash[:])
	w.Uint64(si.Subsidy)
	w.Uint16(si.Donation)
	w.Uint8(si.StaleInfo)
	w.VarInt(si.DesiredVersion)

	w.VarInt(uint64(len(si.TransactionHashRefs)))
	for _, ref := range si.TransactionHashRefs {
		w.VarInt(ref.ShareCount)
		w.VarInt(ref.TxCount)
	}

	w.HashList(si.NewTransactionHashes)
	w.Hash(si.FarShareHash)
	w.Uint32(si.Bits)
	w.Uint32(si.Timestamp)
	w.Uint32(si.AbsHeight)

	absWork := si.AbsWork
	if absWork == nil {
		absWork = new(big.Int)
	}
	if err := w.BigIntLE(absWork, absWorkWidth); err != nil {
		return fmt.Errorf("abswork: %w", err)
	}

	if segwitActivated {
		if si.Segwit == nil {
			return fmt.Errorf("segwit-activated share info missing segwit data")
		}
		w.HashList(si.Segwit.TxIDMerkleLink)
		w.Uint32(si.Segwit.TxIDMerkleIndex)
		w.Hash(si.Segwit.WitnessReserved)
	}

	return nil
}

// Serialize returns the canonical encoding of the share info.
func (si *ShareInfo) Serialize(segwitActivated bool) ([]byte, error) {
	w := util.NewWriter()
	if err := si.write(w, segwitActivated); err != nil {
		return nil, err
	}
	return w.Out(), nil
}
