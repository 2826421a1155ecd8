// Package work converts block templates into stratum-compatible mining tasks
// and hands them to the downstream publisher.
package work

import (
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/Ozhiganov/rice/internal/daemon"
	"github.com/Ozhiganov/rice/internal/merkle"
	"github.com/Ozhiganov/rice/pkg/util"
)

// mergedMiningMagic introduces the aux-chain commitment in the coinbase
// script, per the merged-mining convention.
var mergedMiningMagic = []byte{0xfa, 0xbe, 'm', 'm'}

// StratumParams are the mining.notify parameters, all uint32 fields as
// big-endian hex per stratum convention.
type StratumParams struct {
	JobID        string   `json:"jobId"`
	PrevHash     string   `json:"prevhash"`
	Coinb1       string   `json:"coinb1"`
	Coinb2       string   `json:"coinb2"`
	MerkleBranch []string `json:"merkleBranch"`
	Version      string   `json:"version"`
	NBits        string   `json:"nbits"`
	NTime        string   `json:"ntime"`
	CleanJobs    bool     `json:"cleanJobs"`
}

// TaskMessage is the schema handed to the publisher.
type TaskMessage struct {
	TaskID            string                `json:"taskId"`
	CoinbaseTx        [2]string             `json:"coinbaseTx"`
	StratumParams     StratumParams         `json:"stratumParams"`
	PreviousBlockHash string                `json:"previousBlockHash"`
	Height            int64                 `json:"height"`
	MerkleLink        []string              `json:"merkleLink"`
	Template          *daemon.BlockTemplate `json:"template"`
}

// Builder constructs tasks from block templates.
type Builder struct {
	extranonceSize int
	payoutScript   []byte
	coinbaseTag    []byte

	taskCounter atomic.Uint64
}

// NewBuilder creates a task builder paying out to the given script. The tag
// is embedded in the coinbase script to mark blocks from this pool.
func NewBuilder(extranonceSize int, payoutScript []byte, coinbaseTag string) *Builder {
	return &Builder{
		extranonceSize: extranonceSize,
		payoutScript:   payoutScript,
		coinbaseTag:    []byte(coinbaseTag),
	}
}

// AuxMerkleRoot combines the auxiliary chain block hashes into a single
// Merkle root. An empty list yields the zero hash.
func AuxMerkleRoot(auxes []daemon.AuxBlock) ([32]byte, error) {
	hashes := make([][32]byte, len(auxes))
	for i, aux := range auxes {
		h, err := util.HexToHash(aux.Hash)
		if err != nil {
			return [32]byte{}, fmt.Errorf("aux %d: %w", i, err)
		}
		hashes[i] = h
	}
	return merkle.Build(hashes).Root, nil
}

// Build constructs a task from a template and its aux-chain commitment.
func (b *Builder) Build(tmpl *daemon.BlockTemplate, auxRoot [32]byte, auxCount int) (*TaskMessage, error) {
	coinbase, extranonceOffset, err := b.buildCoinbase(tmpl, auxRoot, auxCount)
	if err != nil {
		return nil, fmt.Errorf("build coinbase: %w", err)
	}

	coinb1 := hex.EncodeToString(coinbase[:extranonceOffset])
	coinb2 := hex.EncodeToString(coinbase[extranonceOffset+b.extranonceSize:])

	branch, link, err := merkleBranch(tmpl.Transactions)
	if err != nil {
		return nil, fmt.Errorf("merkle branch: %w", err)
	}

	prevHashStratum, err := displayToStratumPrevHash(tmpl.PreviousBlockHash)
	if err != nil {
		return nil, fmt.Errorf("convert prevhash: %w", err)
	}

	taskID := fmt.Sprintf("%x", b.taskCounter.Add(1))
	return &TaskMessage{
		TaskID:     taskID,
		CoinbaseTx: [2]string{coinb1, coinb2},
		StratumParams: StratumParams{
			JobID:        taskID,
			PrevHash:     prevHashStratum,
			Coinb1:       coinb1,
			Coinb2:       coinb2,
			MerkleBranch: branch,
			Version:      fmt.Sprintf("%08x", uint32(tmpl.Version)),
			NBits:        tmpl.Bits,
			NTime:        fmt.Sprintf("%08x", uint32(tmpl.CurTime)),
		},
		PreviousBlockHash: tmpl.PreviousBlockHash,
		Height:            tmpl.Height,
		MerkleLink:        link,
		Template:          tmpl,
	}, nil
}

// buildCoinbase serializes the generation transaction and returns it with
// the byte offset where the worker's extranonce is inserted.
func (b *Builder) buildCoinbase(tmpl *daemon.BlockTemplate, auxRoot [32]byte, auxCount int) ([]byte, int, error) {
	script := util.NewWriter()

	// BIP34 height push.
	heightBytes := serializeHeight(tmpl.Height)
	script.Uint8(uint8(len(heightBytes)))
	script.Bytes(heightBytes)

	// Merged-mining commitment: magic, aux merkle root, size, nonce.
	script.Bytes(mergedMiningMagic)
	script.Hash(auxRoot)
	script.Uint32(uint32(auxCount))
	script.Uint32(0)

	if len(b.coinbaseTag) > 0 {
		script.Bytes(util.WriteScriptLen(len(b.coinbaseTag)))
		script.Bytes(b.coinbaseTag)
	}

	scriptPrefix := script.Out()
	scriptLen := len(scriptPrefix) + b.extranonceSize
	if scriptLen > 100 {
		return nil, 0, fmt.Errorf("coinbase script too long: %d bytes", scriptLen)
	}

	w := util.NewWriter()
	w.Uint32(1) // tx version

	// Single generation input with a null prevout.
	w.VarInt(1)
	w.Hash([32]byte{})
	w.Uint32(0xffffffff)
	w.VarInt(uint64(scriptLen))
	w.Bytes(scriptPrefix)
	extranonceOffset := len(w.Out())
	w.Bytes(make([]byte, b.extranonceSize))
	w.Uint32(0xffffffff) // sequence

	// Payout output, plus the witness commitment when the template has one.
	outputs := 1
	var commitScript []byte
	if tmpl.DefaultWitnessCommitment != "" {
		var err error
		commitScript, err = util.HexToBytes(tmpl.DefaultWitnessCommitment)
		if err != nil {
			return nil, 0, fmt.Errorf("witness commitment: %w", err)
		}
		outputs++
	}

	w.VarInt(uint64(outputs))
	w.Uint64(uint64(tmpl.CoinbaseValue))
	w.VarString(b.payoutScript)
	if commitScript != nil {
		w.Uint64(0)
		w.VarString(commitScript)
	}

	w.Uint32(0) // lock time
	return w.Out(), extranonceOffset, nil
}

// merkleBranch computes the stratum merkle branch (sibling path from the
// coinbase leaf) and the raw merkle link for the task message.
func merkleBranch(txs []daemon.TemplateTransaction) ([]string, []string, error) {
	if len(txs) == 0 {
		return []string{}, []string{}, nil
	}

	hashes := make([][32]byte, len(txs))
	for i, tx := range txs {
		// getblocktemplate returns txids in display order; the merkle
		// tree needs internal byte order.
		h, err := util.HexToHash(tx.TxID)
		if err != nil {
			return nil, nil, fmt.Errorf("tx %d: %w", i, err)
		}
		hashes[i] = h
	}

	// At each level the head is the coinbase-path sibling; the rest pair
	// up into the next level.
	var branch []string
	for len(hashes) > 0 {
		branch = append(branch, hex.EncodeToString(hashes[0][:]))
		if len(hashes) == 1 {
			break
		}
		rest := hashes[1:]
		next := make([][32]byte, 0, (len(rest)+1)/2)
		for i := 0; i < len(rest); i += 2 {
			left := rest[i]
			right := left
			if i+1 < len(rest) {
				right = rest[i+1]
			}
			buf := make([]byte, 64)
			copy(buf[:32], left[:])
			copy(buf[32:], right[:])
			next = append(next, util.DoubleSHA256(buf))
		}
		hashes = next
	}

	link := make([]string, len(branch))
	copy(link, branch)
	return branch, link, nil
}

// serializeHeight encodes a block height as a minimal little-endian script
// number for the BIP34 coinbase push.
func serializeHeight(height int64) []byte {
	if height == 0 {
		return []byte{}
	}
	var out []byte
	for v := height; v > 0; v >>= 8 {
		out = append(out, byte(v&0xff))
	}
	// Avoid the sign bit of the most significant byte.
	if out[len(out)-1]&0x80 != 0 {
		out = append(out, 0)
	}
	return out
}

// displayToStratumPrevHash converts a block hash from display order to the
// stratum v1 prevhash format: internal byte order with each 4-byte word
// byte-swapped.
func displayToStratumPrevHash(displayHex string) (string, error) {
	b, err := hex.DecodeString(displayHex)
	if err != nil {
		return "", fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	internal := util.ReverseBytes(b)
	swapWords4(internal)
	return hex.EncodeToString(internal), nil
}

// swapWords4 byte-swaps each 4-byte word in a byte slice in place.
func swapWords4(b []byte) {
	for i := 0; i < len(b)-3; i += 4 {
		b[i], b[i+3] = b[i+3], b[i]
		b[i+1], b[i+2] = b[i+2], b[i+1]
	}
}
