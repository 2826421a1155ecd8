package testutil

import (
	"encoding/hex"
	"testing"
)

// MustDecodeHex decodes a hex fixture, failing the test on malformed input.
func MustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture %q: %v", s, err)
	}
	return b
}

// RawHash builds a raw-order 32-byte hash whose leading bytes are b and the
// rest zero. Distinct fixture hashes without any real hashing.
func RawHash(b ...byte) [32]byte {
	var h [32]byte
	copy(h[:], b)
	return h
}
