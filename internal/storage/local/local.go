package local

import (
	"sort"
	"sync"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
)

// MemoryStore is a volatile ledger.Store, used when no storage path is
// configured and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]ledger.LedgerEntry
	balances *ledger.Balances
	// FailSaves makes every save fail with this error when set.
	FailSaves error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]ledger.LedgerEntry)}
}

func (m *MemoryStore) LoadEntries() ([]ledger.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

func (m *MemoryStore) SaveEntries(entries []ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	for _, e := range entries {
		m.entries[e.EntryID] = e
	}
	return nil
}

func (m *MemoryStore) LoadBalances() (ledger.Balances, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances == nil {
		return ledger.Balances{}, false, nil
	}
	return *m.balances, true, nil
}

func (m *MemoryStore) SaveBalances(b ledger.Balances) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	m.balances = &b
	return nil
}

// Entry returns the last saved version of an entry.
func (m *MemoryStore) Entry(id string) (ledger.LedgerEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}
