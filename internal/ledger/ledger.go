// Package ledger holds settlement entries, fee computation and the
// authoritative balances of the root, the nodes and the providers.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrEntryNotFound is returned for an unknown entryId.
	ErrEntryNotFound = errors.New("ledger entry not found")
	// ErrInvalidTransition is returned for a status change that would break
	// monotonicity.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateTx is returned when an entry reuses a txId.
	ErrDuplicateTx = errors.New("duplicate txId")
)

// Store persists ledger state. Saves are upserts keyed by entryId.
type Store interface {
	LoadEntries() ([]LedgerEntry, error)
	SaveEntries(entries []LedgerEntry) error
	LoadBalances() (Balances, bool, error)
	SaveBalances(b Balances) error
}

// Book is the authoritative in-memory index of ledger entries. Status
// changes of one entry are serialized by a per-entry lock.
type Book struct {
	mu      sync.RWMutex
	entries map[string]LedgerEntry // entryId → entry
	byTx    map[string]string      // txId → entryId
	locks   map[string]*sync.Mutex // entryId → transition lock
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{
		entries: make(map[string]LedgerEntry),
		byTx:    make(map[string]string),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Add records a new entry. Entry and transaction IDs must be unique.
func (b *Book) Add(e LedgerEntry) error {
	if e.EntryID == "" || e.TxID == "" {
		return errors.New("ledger entry needs entryId and txId")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[e.EntryID]; ok {
		return fmt.Errorf("entry %s already exists", e.EntryID)
	}
	if id, ok := b.byTx[e.TxID]; ok {
		return fmt.Errorf("tx %s already recorded as entry %s: %w", e.TxID, id, ErrDuplicateTx)
	}
	b.entries[e.EntryID] = e
	b.byTx[e.TxID] = e.EntryID
	b.locks[e.EntryID] = &sync.Mutex{}
	return nil
}

// Get returns a copy of the entry.
func (b *Book) Get(entryID string) (LedgerEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[entryID]
	if !ok {
		return LedgerEntry{}, fmt.Errorf("%s: %w", entryID, ErrEntryNotFound)
	}
	return e, nil
}

// All returns every entry ordered by timestamp, then entryId.
func (b *Book) All() []LedgerEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]LedgerEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out
}

// Load replaces the book's contents, typically with entries from a Store.
func (b *Book) Load(entries []LedgerEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]LedgerEntry, len(entries))
	b.byTx = make(map[string]string, len(entries))
	b.locks = make(map[string]*sync.Mutex, len(entries))
	for _, e := range entries {
		b.entries[e.EntryID] = e
		b.byTx[e.TxID] = e.EntryID
		b.locks[e.EntryID] = &sync.Mutex{}
	}
}

// Transition moves an entry to status to. effect, if not nil, runs under
// the entry's lock after the transition has been checked and before it is
// written; if it fails the entry is left unchanged. Because the check and
// the write happen under one lock, an effect tied to a transition runs at
// most once per entry.
func (b *Book) Transition(entryID string, to Status, effect func(LedgerEntry) error) (LedgerEntry, error) {
	b.mu.RLock()
	lock, ok := b.locks[entryID]
	b.mu.RUnlock()
	if !ok {
		return LedgerEntry{}, fmt.Errorf("%s: %w", entryID, ErrEntryNotFound)
	}
	lock.Lock()
	defer lock.Unlock()

	e, err := b.Get(entryID)
	if err != nil {
		return LedgerEntry{}, err
	}
	if !CanTransition(e.Status, to) {
		return e, fmt.Errorf("%s: %s → %s: %w", entryID, e.Status, to, ErrInvalidTransition)
	}
	if effect != nil {
		if err := effect(e); err != nil {
			return e, err
		}
	}
	e.Status = to

	b.mu.Lock()
	b.entries[entryID] = e
	b.mu.Unlock()
	return e, nil
}
