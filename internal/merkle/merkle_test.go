package merkle

import (
	"testing"

	"github.com/Ozhiganov/rice/pkg/util"
)

func hashN(seed byte) [32]byte {
	return util.DoubleSHA256([]byte{seed, seed, seed, seed})
}

func TestBuildEmpty(t *testing.T) {
	tree := Build(nil)
	if tree.Root != [32]byte{} {
		t.Errorf("empty tree root = %x, want zero hash", tree.Root)
	}
	if len(tree.Data) != 0 {
		t.Errorf("empty tree data length = %d, want 0", len(tree.Data))
	}
}

func TestBuildSingle(t *testing.T) {
	h := hashN(1)
	tree := Build([][32]byte{h})
	if tree.Root != h {
		t.Errorf("single-item root = %x, want the item itself", tree.Root)
	}
}

func TestBuildPair(t *testing.T) {
	a, b := hashN(1), hashN(2)
	tree := Build([][32]byte{a, b})

	buf := make([]byte, 64)
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	want := util.DoubleSHA256(buf)
	if tree.Root != want {
		t.Errorf("pair root = %x, want %x", tree.Root, want)
	}
}

func TestOddDuplication(t *testing.T) {
	// Three items: the third is paired with itself.
	items := [][32]byte{hashN(1), hashN(2), hashN(3)}
	four := [][32]byte{hashN(1), hashN(2), hashN(3), hashN(3)}
	if Build(items).Root != Build(four).Root {
		t.Error("odd trailing element should be duplicated")
	}
}

func TestLinkReconstructsRoot(t *testing.T) {
	for count := 1; count <= 9; count++ {
		items := make([][32]byte, count)
		for i := range items {
			items[i] = hashN(byte(i + 1))
		}

		tree := Build(items)
		link := Link(items, 0)
		got := Aggregate(items[0], link)
		if got != tree.Root {
			t.Errorf("count=%d: aggregated root %x != tree root %x", count, got, tree.Root)
		}
	}
}

func TestLinkOutOfRange(t *testing.T) {
	items := [][32]byte{hashN(1)}
	if Link(items, 1) != nil {
		t.Error("out-of-range index should return nil")
	}
	if Link(items, -1) != nil {
		t.Error("negative index should return nil")
	}
}

func TestLinkLengthIsTreeDepth(t *testing.T) {
	items := make([][32]byte, 8)
	for i := range items {
		items[i] = hashN(byte(i + 1))
	}
	link := Link(items, 0)
	if len(link) != 3 {
		t.Errorf("link length = %d, want 3 for 8 leaves", len(link))
	}
}
