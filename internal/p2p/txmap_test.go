package p2p

import (
	"testing"

	"github.com/Ozhiganov/rice/internal/daemon"
)

func TestTxMapSetFiresSynchronously(t *testing.T) {
	var gotOld, gotNew map[string]daemon.TemplateTransaction
	fired := false

	m := NewTxMap(func(old, new map[string]daemon.TemplateTransaction) {
		fired = true
		gotOld, gotNew = old, new
	})

	next := map[string]daemon.TemplateTransaction{
		"aa": {TxID: "aa", Data: "00"},
	}
	m.Set(next)

	if !fired {
		t.Fatal("listener did not fire before Set returned")
	}
	if len(gotOld) != 0 || len(gotNew) != 1 {
		t.Errorf("old/new sizes = %d/%d, want 0/1", len(gotOld), len(gotNew))
	}
}

func TestTxMapSnapshotIsolated(t *testing.T) {
	m := NewTxMap(nil)
	m.Set(map[string]daemon.TemplateTransaction{"aa": {TxID: "aa"}})

	snap := m.Snapshot()
	snap["bb"] = daemon.TemplateTransaction{TxID: "bb"}

	if _, ok := m.Value()["bb"]; ok {
		t.Error("mutating a snapshot must not affect the map")
	}
}

func TestDiffKeys(t *testing.T) {
	a := map[string]daemon.TemplateTransaction{"x": {}, "y": {}}
	b := map[string]daemon.TemplateTransaction{"y": {}, "z": {}}

	onlyA := diffKeys(a, b)
	if len(onlyA) != 1 || onlyA[0] != "x" {
		t.Errorf("diffKeys(a,b) = %v, want [x]", onlyA)
	}
	onlyB := diffKeys(b, a)
	if len(onlyB) != 1 || onlyB[0] != "z" {
		t.Errorf("diffKeys(b,a) = %v, want [z]", onlyB)
	}
}
