// Package merkle implements the Bitcoin-style Merkle tree used for
// transaction commitments and share reference chains.
package merkle

import (
	"github.com/Ozhiganov/rice/pkg/util"
)

// Tree holds the result of building a Merkle tree: the root hash and the
// flattened list of every layer, from the leaves up to the root.
type Tree struct {
	Root [32]byte
	Data [][32]byte
}

// Build constructs a Merkle tree from items. An empty input yields a zero
// root and no data. A single item is its own root. Pairs are combined with
// double-SHA256; an odd trailing element is duplicated per the standard
// Bitcoin rule.
func Build(items [][32]byte) *Tree {
	t := &Tree{}
	if len(items) == 0 {
		return t
	}

	layer := make([][32]byte, len(items))
	copy(layer, items)
	t.Data = append(t.Data, layer...)

	for len(layer) > 1 {
		if len(layer)%2 != 0 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := make([][32]byte, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next = append(next, combine(layer[i], layer[i+1]))
		}
		t.Data = append(t.Data, next...)
		layer = next
	}

	t.Root = layer[0]
	return t
}

// Link returns the sibling hashes along the path from items[index] to the
// root. For index 0, folding the leaf through the siblings with Aggregate
// reconstructs the root; Aggregate always keeps the running hash on the left,
// so the links of other indices do not. Returns nil if index is out of range.
func Link(items [][32]byte, index int) [][32]byte {
	if index < 0 || index >= len(items) {
		return nil
	}

	layer := make([][32]byte, len(items))
	copy(layer, items)

	var link [][32]byte
	for len(layer) > 1 {
		if len(layer)%2 != 0 {
			layer = append(layer, layer[len(layer)-1])
		}
		link = append(link, layer[index^1])
		next := make([][32]byte, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next = append(next, combine(layer[i], layer[i+1]))
		}
		layer = next
		index /= 2
	}
	return link
}

// Aggregate folds a leaf up through a Merkle link, always placing the
// running hash on the left and the sibling on the right. Share-chain links
// follow this convention because the generation transaction is index 0.
func Aggregate(leaf [32]byte, link [][32]byte) [32]byte {
	current := leaf
	for _, sibling := range link {
		current = combine(current, sibling)
	}
	return current
}

func combine(left, right [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return util.DoubleSHA256(buf)
}
