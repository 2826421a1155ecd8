package p2p

import (
	"github.com/Ozhiganov/rice/internal/daemon"
)

// TxMap is an observable transaction map. Assigning a new value with Set
// invokes the change listener synchronously, before Set returns, so a diff
// broadcast completes before the assigning operation proceeds.
//
// TxMap is not internally synchronized: the coordinator owns it and calls
// Set only while holding its own lock.
type TxMap struct {
	value    map[string]daemon.TemplateTransaction
	onChange func(old, new map[string]daemon.TemplateTransaction)
}

// NewTxMap creates an empty TxMap with the given change listener.
func NewTxMap(onChange func(old, new map[string]daemon.TemplateTransaction)) *TxMap {
	return &TxMap{
		value:    make(map[string]daemon.TemplateTransaction),
		onChange: onChange,
	}
}

// Value returns the current map. Callers must treat it as read-only;
// mutations go through Set.
func (t *TxMap) Value() map[string]daemon.TemplateTransaction {
	return t.value
}

// Snapshot returns a copy of the current map, safe to mutate.
func (t *TxMap) Snapshot() map[string]daemon.TemplateTransaction {
	out := make(map[string]daemon.TemplateTransaction, len(t.value))
	for k, v := range t.value {
		out[k] = v
	}
	return out
}

// Set commits a new value and fires the change listener synchronously.
func (t *TxMap) Set(value map[string]daemon.TemplateTransaction) {
	old := t.value
	t.value = value
	if t.onChange != nil {
		t.onChange(old, value)
	}
}

// diffKeys returns the keys present in a but not in b.
func diffKeys(a, b map[string]daemon.TemplateTransaction) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
