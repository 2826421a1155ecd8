package shares

import (
	"bytes"
	"testing"

	"github.com/Ozhiganov/rice/pkg/util"
)

func TestHashLinkCheck(t *testing.T) {
	// Prefix lengths around block boundaries.
	for _, prefixLen := range []int{0, 1, 63, 64, 65, 127, 128, 200} {
		prefix := bytes.Repeat([]byte{0xab}, prefixLen)
		suffix := []byte("suffix data for the link")

		hl, err := NewHashLink(prefix)
		if err != nil {
			t.Fatalf("len=%d: NewHashLink: %v", prefixLen, err)
		}
		if len(hl.Extra) != prefixLen%64 {
			t.Errorf("len=%d: tail length = %d, want %d", prefixLen, len(hl.Extra), prefixLen%64)
		}

		got, err := hl.Check(suffix, prefix)
		if err != nil {
			t.Fatalf("len=%d: Check: %v", prefixLen, err)
		}
		want := util.DoubleSHA256(append(append([]byte(nil), prefix...), suffix...))
		if got != want {
			t.Errorf("len=%d: Check digest mismatch", prefixLen)
		}
	}
}

func TestHashLinkCheckWrongPrefixLength(t *testing.T) {
	prefix := bytes.Repeat([]byte{0x01}, 100)
	hl, err := NewHashLink(prefix)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := hl.Check(nil, prefix[:99]); err == nil {
		t.Error("Check should fail when the expected prefix has a different length")
	}
}

func TestHashLinkCheckInconsistentTail(t *testing.T) {
	prefix := bytes.Repeat([]byte{0x01}, 100)
	hl, err := NewHashLink(prefix)
	if err != nil {
		t.Fatal(err)
	}
	hl.Extra = hl.Extra[:len(hl.Extra)-1] // 100 % 64 != 35
	if _, err := hl.Check(nil, prefix); err == nil {
		t.Error("Check should fail when the tail does not line up with the length")
	}
}

func TestHashLinkRoundTrip(t *testing.T) {
	prefix := bytes.Repeat([]byte{0xcd}, 90)
	hl, err := NewHashLink(prefix)
	if err != nil {
		t.Fatal(err)
	}

	w := util.NewWriter()
	hl.write(w)

	parsed, err := readHashLink(util.NewReader(w.Out()))
	if err != nil {
		t.Fatalf("readHashLink: %v", err)
	}
	if parsed.State != hl.State || parsed.Length != hl.Length || !bytes.Equal(parsed.Extra, hl.Extra) {
		t.Error("hash link round-trip mismatch")
	}
}

func TestHashLinkRejectsLongTail(t *testing.T) {
	w := util.NewWriter()
	w.Hash([32]byte{})
	w.Uint64(64)
	w.VarString(bytes.Repeat([]byte{0x00}, 64))
	if _, err := readHashLink(util.NewReader(w.Out())); err == nil {
		t.Error("tail of 64 bytes should be rejected")
	}
}
