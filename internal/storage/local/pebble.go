// Package local provides the persistent ledger stores.
package local

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
)

const (
	entryPrefix = "entry/"
	balancesKey = "balances"
)

// PebbleStore is a Pebble LSM-tree backed ledger.Store. Entries are JSON
// values under "entry/<entryId>".
type PebbleStore struct {
	db     *pebble.DB
	path   string
	logger *zap.Logger
}

// NewPebbleStore creates a PebbleStore instance (not yet opened).
func NewPebbleStore(dbPath string, logger *zap.Logger) *PebbleStore {
	return &PebbleStore{
		path:   dbPath,
		logger: logger,
	}
}

// Init opens the Pebble database.
func (p *PebbleStore) Init() error {
	opts := &pebble.Options{
		Logger: &pebbleLogger{p.logger},
	}
	db, err := pebble.Open(p.path, opts)
	if err != nil {
		return fmt.Errorf("pebble open %s: %w", p.path, err)
	}
	p.db = db
	p.logger.Info("Pebble ledger store opened", zap.String("path", p.path))
	return nil
}

// Close flushes and closes the database.
func (p *PebbleStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// LoadEntries returns every stored entry in key order.
func (p *PebbleStore) LoadEntries() ([]ledger.LedgerEntry, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(entryPrefix),
		UpperBound: prefixEnd([]byte(entryPrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var out []ledger.LedgerEntry
	for iter.First(); iter.Valid(); iter.Next() {
		var e ledger.LedgerEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			p.logger.Warn("Skipping undecodable ledger entry", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveEntries upserts entries in one synced batch.
func (p *PebbleStore) SaveEntries(entries []ledger.LedgerEntry) error {
	batch := p.db.NewBatch()
	defer batch.Close()
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.EntryID, err)
		}
		if err := batch.Set([]byte(entryPrefix+e.EntryID), data, nil); err != nil {
			return fmt.Errorf("pebble batch set: %w", err)
		}
	}
	return batch.Commit(pebble.Sync)
}

// LoadBalances returns the saved balances; ok is false if none were saved.
func (p *PebbleStore) LoadBalances() (ledger.Balances, bool, error) {
	data, closer, err := p.db.Get([]byte(balancesKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return ledger.Balances{}, false, nil
	}
	if err != nil {
		return ledger.Balances{}, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	var b ledger.Balances
	if err := json.Unmarshal(data, &b); err != nil {
		return ledger.Balances{}, false, fmt.Errorf("unmarshal balances: %w", err)
	}
	return b, true, nil
}

// SaveBalances overwrites the saved balances.
func (p *PebbleStore) SaveBalances(b ledger.Balances) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}
	if err := p.db.Set([]byte(balancesKey), data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Infof(format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...any) {
	l.z.Sugar().Errorf(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
