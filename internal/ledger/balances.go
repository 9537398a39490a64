package ledger

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Balances is a read-only snapshot of the Balance Ledger.
type Balances struct {
	Root      decimal.Decimal            `json:"root"`
	Nodes     map[string]decimal.Decimal `json:"nodes"`
	Providers map[string]decimal.Decimal `json:"providers"`
}

// BalanceLedger holds the authoritative running balances of the root, each
// node and each provider. Only the settlement worker mutates it.
type BalanceLedger struct {
	mu        sync.RWMutex
	root      decimal.Decimal
	nodes     map[string]decimal.Decimal
	providers map[string]decimal.Decimal
}

// NewBalanceLedger creates a ledger with all balances at zero.
func NewBalanceLedger() *BalanceLedger {
	return &BalanceLedger{
		nodes:     make(map[string]decimal.Decimal),
		providers: make(map[string]decimal.Decimal),
	}
}

// Apply credits one fee breakdown. providerUUID may be empty.
func (b *BalanceLedger) Apply(fb FeeBreakdown, providerUUID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.root = b.root.Add(fb.RootFee).Add(fb.RootTax)
	b.nodes[fb.NodeID] = b.nodes[fb.NodeID].Add(fb.NodeFee).Add(fb.NodeTax)
	if providerUUID != "" {
		b.providers[providerUUID] = b.providers[providerUUID].Add(fb.ProviderFee)
	}
}

// Snapshot returns a copy of all balances.
func (b *BalanceLedger) Snapshot() Balances {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := Balances{
		Root:      b.root,
		Nodes:     make(map[string]decimal.Decimal, len(b.nodes)),
		Providers: make(map[string]decimal.Decimal, len(b.providers)),
	}
	for k, v := range b.nodes {
		snap.Nodes[k] = v
	}
	for k, v := range b.providers {
		snap.Providers[k] = v
	}
	return snap
}

// Restore replaces all balances with a previously saved snapshot.
func (b *BalanceLedger) Restore(s Balances) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.root = s.Root
	b.nodes = make(map[string]decimal.Decimal, len(s.Nodes))
	for k, v := range s.Nodes {
		b.nodes[k] = v
	}
	b.providers = make(map[string]decimal.Decimal, len(s.Providers))
	for k, v := range s.Providers {
		b.providers[k] = v
	}
}
