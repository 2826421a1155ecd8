package daemon

import (
	"context"
	"fmt"
	"sync"
)

// MockRPC implements RPC for tests. Responses can be scripted per call via
// the Fn hooks; submissions and template fetches are recorded for
// assertions.
type MockRPC struct {
	mu sync.Mutex

	Template *BlockTemplate
	Height   int64
	BestHash string

	// TemplateFn, when set, overrides Template for each call.
	TemplateFn func() (*BlockTemplate, error)

	// Error overrides for the fixed-value paths.
	TemplateErr error
	SubmitErr   error
	HeightErr   error
	BestHashErr error

	// Recorded activity.
	TemplateCalls int
	Submitted     []string
}

// NewMockRPC creates a mock with a plausible empty-block template.
func NewMockRPC() *MockRPC {
	return &MockRPC{
		Template: &BlockTemplate{
			Version:           536870912,
			PreviousBlockHash: "0000000000000003fa0d845513ea5014a7859d411f5f4a91eaab24eb47a18f39",
			Transactions:      []TemplateTransaction{},
			CoinbaseValue:     5000000000,
			Target:            "00000000ffff0000000000000000000000000000000000000000000000000000",
			CurTime:           1700000000,
			Bits:              "1d00ffff",
			Height:            800000,
		},
		Height:   799999,
		BestHash: "0000000000000003fa0d845513ea5014a7859d411f5f4a91eaab24eb47a18f39",
	}
}

// SetAuxes attaches merge-mined aux chain blocks to the scripted template.
func (m *MockRPC) SetAuxes(auxes []AuxBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Template.Auxes = auxes
}

// SetTransactions replaces the scripted template's transaction list.
func (m *MockRPC) SetTransactions(txs []TemplateTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Template.Transactions = txs
}

func (m *MockRPC) GetBlockTemplate(_ context.Context) (*BlockTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TemplateCalls++

	if m.TemplateFn != nil {
		return m.TemplateFn()
	}
	if m.TemplateErr != nil {
		return nil, m.TemplateErr
	}
	return m.Template, nil
}

func (m *MockRPC) SubmitBlock(_ context.Context, blockHex string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return m.SubmitErr
	}
	m.Submitted = append(m.Submitted, blockHex)
	return nil
}

func (m *MockRPC) GetBlockCount(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HeightErr != nil {
		return 0, m.HeightErr
	}
	return m.Height, nil
}

func (m *MockRPC) GetBestBlockHash(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BestHashErr != nil {
		return "", m.BestHashErr
	}
	return m.BestHash, nil
}

// Calls returns how many template fetches have been served.
func (m *MockRPC) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TemplateCalls
}

var _ RPC = (*MockRPC)(nil)

// ScriptTemplates is a convenience for tests that want a finite sequence of
// template responses followed by an error.
func (m *MockRPC) ScriptTemplates(templates ...*BlockTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := 0
	m.TemplateFn = func() (*BlockTemplate, error) {
		if i >= len(templates) {
			return nil, fmt.Errorf("no more scripted templates")
		}
		t := templates[i]
		i++
		return t, nil
	}
}
