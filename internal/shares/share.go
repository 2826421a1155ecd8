// Package shares implements the share record: the block-header-like unit of
// proof-of-work accounting in the share chain, with its bit-exact wire codec
// and two-level validation pipeline.
package shares

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/Ozhiganov/rice/internal/merkle"
	"github.com/Ozhiganov/rice/pkg/util"
)

// maxShareCountGenerations bounds how far back a transaction hash reference
// may reach into ancestor shares.
const maxShareCountGenerations = 110

// gentxBeforeRefHashHex is the fixed generation-transaction prefix that
// precedes the reference hash: a pushed donation-script output, an 8-byte
// zero value, and the first 3 bytes of the var-string-wrapped OP_RETURN
// header.
const gentxBeforeRefHashHex = "434104ffd03de44a6e11b9917f3a29f9443283d9871c9d743ef30d5eddcd37094b64d1b3d8090496b53256786bf5c82932ec23c3b74d9f05a6f95a8b5529352656664bac00000000000000002a6a28"

// donationScriptHex is the pay-to-pubkey donation output script embedded in
// every generation transaction.
const donationScriptHex = "4104ffd03de44a6e11b9917f3a29f9443283d9871c9d743ef30d5eddcd37094b64d1b3d8090496b53256786bf5c82932ec23c3b74d9f05a6f95a8b5529352656664bac"

// GentxBeforeRefHash is the decoded prefix, verified byte-for-byte at startup.
var GentxBeforeRefHash []byte

func init() {
	literal, err := util.HexToBytes(gentxBeforeRefHashHex)
	if err != nil {
		panic(fmt.Sprintf("shares: bad gentx prefix literal: %v", err))
	}

	donationScript, err := util.HexToBytes(donationScriptHex)
	if err != nil {
		panic(fmt.Sprintf("shares: bad donation script literal: %v", err))
	}

	// Rebuild the prefix from its components and require an exact match:
	// varstr(donation script) || value 0 || varstr(OP_RETURN push40 ...)[0:3].
	opReturnHeader := util.WriteVarString(append([]byte{0x6a, 0x28}, make([]byte, 40)...))
	built := util.WriteVarString(donationScript)
	built = append(built, make([]byte, 8)...)
	built = append(built, opReturnHeader[:3]...)

	if !bytes.Equal(built, literal) {
		panic("shares: gentx prefix literal does not match its components")
	}
	GentxBeforeRefHash = literal
}

// PowFunc hashes an 80-byte header with the network's proof-of-work function.
type PowFunc func(header []byte) [32]byte

// Params is the static network configuration, set once at startup before any
// share is parsed.
type Params struct {
	// Identifier is the network magic mixed into the reference hash.
	Identifier []byte
	// PowFunc is the header proof-of-work function.
	PowFunc PowFunc
	// MaxTarget is the easiest allowed share target.
	MaxTarget *big.Int
}

var params = Params{
	PowFunc:   func(header []byte) [32]byte { return util.DoubleSHA256(header) },
	MaxTarget: util.CompactToTarget(0x1d00ffff),
}

// MaxTarget returns the configured easiest allowed share target.
func MaxTarget() *big.Int {
	return new(big.Int).Set(params.MaxTarget)
}

// Configure installs the network parameters. Must be called before parsing
// or building shares; zero fields keep their defaults.
func Configure(p Params) {
	if p.Identifier != nil {
		params.Identifier = p.Identifier
	}
	if p.PowFunc != nil {
		params.PowFunc = p.PowFunc
	}
	if p.MaxTarget != nil {
		params.MaxTarget = p.MaxTarget
	}
}

// Share is a parsed share record. Immutable once Init has succeeded; invalid
// shares carry Validity == false and must not be retained.
type Share struct {
	Version        uint64
	MinHeader      SmallBlockHeader
	Info           ShareInfo
	RefMerkleLink  [][32]byte
	LastTxoutNonce uint64
	HashLink       HashLink
	MerkleLink     [][32]byte

	// Derived by Init.
	Hash       string
	HeaderHash [32]byte
	GentxHash  [32]byte
	NewScript  []byte
	Target     *big.Int
	Validity   bool
}

// Parse decodes a share body whose version was read externally. Unknown
// versions and short buffers return an error; validation failures return the
// share with Validity == false.
func Parse(version uint64, data []byte) (*Share, error) {
	if _, err := lookupVersion(version); err != nil {
		return nil, err
	}

	r := util.NewReader(data)
	s := &Share{Version: version}

	var err error
	if s.MinHeader, err = readSmallBlockHeader(r); err != nil {
		return nil, fmt.Errorf("small block header: %w", err)
	}
	if s.Info, err = readShareInfo(r, IsSegwitActivated(version)); err != nil {
		return nil, fmt.Errorf("share info: %w", err)
	}
	if s.RefMerkleLink, err = r.HashList(); err != nil {
		return nil, fmt.Errorf("ref merkle link: %w", err)
	}
	if s.LastTxoutNonce, err = r.Uint64(); err != nil {
		return nil, fmt.Errorf("last txout nonce: %w", err)
	}
	if s.HashLink, err = readHashLink(r); err != nil {
		return nil, fmt.Errorf("hash link: %w", err)
	}
	if s.MerkleLink, err = r.HashList(); err != nil {
		return nil, fmt.Errorf("merkle link: %w", err)
	}

	s.Init()
	return s, nil
}

// Serialize is the byte-exact inverse of Parse.
func (s *Share) Serialize() ([]byte, error) {
	w := util.NewWriter()
	s.MinHeader.write(w)
	if err := s.Info.write(w, IsSegwitActivated(s.Version)); err != nil {
		return nil, err
	}
	w.HashList(s.RefMerkleLink)
	w.Uint64(s.LastTxoutNonce)
	s.HashLink.write(w)
	w.HashList(s.MerkleLink)
	return w.Out(), nil
}

// RefHash computes the reference hash binding the share info into the
// generation transaction: the share-info digest folded through the reference
// Merkle link.
func (s *Share) RefHash() ([32]byte, error) {
	infoBytes, err := s.Info.Serialize(IsSegwitActivated(s.Version))
	if err != nil {
		return [32]byte{}, err
	}
	leaf := util.DoubleSHA256(append(append([]byte(nil), params.Identifier...), infoBytes...))
	return merkle.Aggregate(leaf, s.RefMerkleLink), nil
}

// Init runs the validation pipeline and fills the derived fields. It never
// returns an error: any failure leaves Validity false.
func (s *Share) Init() {
	s.Validity = false

	if !s.checkHashRefs() {
		return
	}

	vp, err := lookupVersion(s.Version)
	if err != nil {
		return
	}
	if len(s.Info.NewTransactionHashes)*32 > vp.MaxNewTxsSize {
		return
	}

	s.NewScript = util.P2PKHScript(s.Info.PubkeyHash)
	s.Target = util.CompactToTarget(s.Info.Bits)

	refHash, err := s.RefHash()
	if err != nil {
		return
	}

	// gentx suffix: refhash || last txout nonce || lock time.
	suffix := make([]byte, 0, 32+8+4)
	suffix = append(suffix, refHash[:]...)
	suffix = append(suffix, util.Uint64ToBytes(s.LastTxoutNonce)...)
	suffix = append(suffix, util.Uint32ToBytes(0)...)

	s.GentxHash, err = s.HashLink.Check(suffix, GentxBeforeRefHash)
	if err != nil {
		return
	}

	txMerkleLink := s.MerkleLink
	if IsSegwitActivated(s.Version) && s.Info.Segwit != nil {
		txMerkleLink = s.Info.Segwit.TxIDMerkleLink
	}

	merkleRoot := merkle.Aggregate(s.GentxHash, txMerkleLink)
	s.HeaderHash = s.MinHeader.CalculateHash(merkleRoot)
	s.Hash = util.HashToHex(s.HeaderHash)

	if s.Target.Cmp(params.MaxTarget) > 0 {
		return
	}

	powHash := params.PowFunc(s.MinHeader.FullHeader(merkleRoot))
	if !util.HashMeetsTarget(powHash, s.Target) {
		return
	}

	s.Validity = true
}

// checkHashRefs enforces the transaction-hash-reference invariants: every
// generation-zero tuple names an index inside NewTransactionHashes, the
// distinct indices so named cover the whole list, and no tuple reaches back
// further than the generation bound.
func (s *Share) checkHashRefs() bool {
	seen := make(map[uint64]struct{})
	for _, ref := range s.Info.TransactionHashRefs {
		if ref.ShareCount >= maxShareCountGenerations {
			return false
		}
		if ref.ShareCount == 0 {
			if ref.TxCount >= uint64(len(s.Info.NewTransactionHashes)) {
				return false
			}
			seen[ref.TxCount] = struct{}{}
		}
	}
	return len(seen) == len(s.Info.NewTransactionHashes)
}
