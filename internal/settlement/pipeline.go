// Package settlement turns payment snapshots into ledger entries and
// settles them exactly once from the settlement stream.
package settlement

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/stream"
)

// Group is the consumer group every settlement worker joins.
const Group = "root-settlement"

// ShardStream returns the stream that carries entryID. All messages of one
// entry land on the same shard, so no two workers see the same entry.
func ShardStream(base string, shards int, entryID string) string {
	if shards <= 1 {
		return base
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(entryID))
	return base + ":" + strconv.Itoa(int(h.Sum32()%uint32(shards)))
}

// Streams returns every shard stream name.
func Streams(base string, shards int) []string {
	if shards <= 1 {
		return []string{base}
	}
	out := make([]string, shards)
	for i := range out {
		out[i] = base + ":" + strconv.Itoa(i)
	}
	return out
}

// Pipeline records new entries and appends them to the settlement stream.
// It never touches balances.
type Pipeline struct {
	stream stream.Stream
	base   string
	shards int
	book   *ledger.Book
	store  ledger.Store
	logger *zap.Logger
}

// NewPipeline creates a pipeline over shards streams named after base.
func NewPipeline(s stream.Stream, base string, shards int, book *ledger.Book, logger *zap.Logger) *Pipeline {
	if shards < 1 {
		shards = 1
	}
	return &Pipeline{stream: s, base: base, shards: shards, book: book, logger: logger}
}

// SetStore persists entries as they are enqueued.
func (p *Pipeline) SetStore(s ledger.Store) { p.store = s }

// Streams returns the shard streams the pipeline writes to.
func (p *Pipeline) Streams() []string { return Streams(p.base, p.shards) }

// Enqueue records entry, derived from snapshot, as pending and appends it
// to its shard. It returns the stream message ID.
func (p *Pipeline) Enqueue(ctx context.Context, entry ledger.LedgerEntry, snapshot ledger.Snapshot) (string, error) {
	if entry.TxID == "" {
		entry.TxID = snapshot.TxID
	}
	if entry.TxID != snapshot.TxID {
		return "", fmt.Errorf("entry txId %s does not match snapshot %s", entry.TxID, snapshot.TxID)
	}
	if entry.Status == ledger.StatusUnknown {
		entry.Status = ledger.StatusPending
	}
	if entry.Status != ledger.StatusPending {
		return "", fmt.Errorf("enqueue %s: status is %s, want pending", entry.EntryID, entry.Status)
	}
	if err := p.book.Add(entry); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	if p.store != nil {
		if err := p.store.SaveEntries([]ledger.LedgerEntry{entry}); err != nil {
			p.logger.Error("Persisting enqueued entry failed", zap.String("entryId", entry.EntryID), zap.Error(err))
		}
	}
	return p.append(ctx, entry)
}

// Requeue appends every non-terminal entry of the book again. Used at
// startup to recover entries whose append was lost; settling is
// idempotent, so re-appending an entry already on the stream is harmless.
func (p *Pipeline) Requeue(ctx context.Context) (int, error) {
	n := 0
	for _, e := range p.book.All() {
		if e.Status.Terminal() {
			continue
		}
		if _, err := p.append(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		p.logger.Info("Requeued unsettled entries", zap.Int("count", n))
	}
	return n, nil
}

func (p *Pipeline) append(ctx context.Context, e ledger.LedgerEntry) (string, error) {
	fields, err := Encode(e)
	if err != nil {
		return "", err
	}
	name := ShardStream(p.base, p.shards, e.EntryID)
	id, err := p.stream.Append(ctx, name, fields)
	if err != nil {
		return "", fmt.Errorf("append entry %s to %s: %w", e.EntryID, name, err)
	}
	p.logger.Debug("Enqueued settlement",
		zap.String("entryId", e.EntryID), zap.String("stream", name), zap.String("id", id))
	return id, nil
}
