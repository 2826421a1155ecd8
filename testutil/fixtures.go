package testutil

import (
	"bytes"
	"math/big"

	"github.com/Ozhiganov/rice/internal/daemon"
	"github.com/Ozhiganov/rice/pkg/util"
)

// SampleBlockTemplate returns a minimal block template for testing.
func SampleBlockTemplate() *daemon.BlockTemplate {
	return &daemon.BlockTemplate{
		Version:           536870912,
		PreviousBlockHash: "0000000000000003fa0d845513ea5014a7859d411f5f4a91eaab24eb47a18f39",
		Transactions:      []daemon.TemplateTransaction{},
		CoinbaseValue:     5000000000,
		Target:            "00000000ffff0000000000000000000000000000000000000000000000000000",
		CurTime:           1700000000,
		Bits:              "1d00ffff",
		Height:            800000,
	}
}

// SampleTemplateTx builds a template transaction whose txid matches its data,
// as the gossip layer expects.
func SampleTemplateTx(seed byte, size int) daemon.TemplateTransaction {
	raw := bytes.Repeat([]byte{seed}, size)
	h := util.HashToHex(util.DoubleSHA256(raw))
	return daemon.TemplateTransaction{
		TxID: h,
		Hash: h,
		Data: util.BytesToHex(raw),
	}
}

// EasyTarget returns a very easy target for testing (any hash will pass).
func EasyTarget() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}
