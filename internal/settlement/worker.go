package settlement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/metrics"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/stream"
)

const (
	defaultBlock         = 2 * time.Second
	defaultBatch         = 32
	defaultClaimIdle     = 30 * time.Second
	defaultClaimInterval = 15 * time.Second
)

// Worker consumes one settlement shard as consumer id of Group.
type Worker struct {
	id      string
	stream  stream.Stream
	name    string
	settler *Settler
	logger  *zap.Logger

	block         time.Duration
	batch         int64
	claimIdle     time.Duration
	claimInterval time.Duration
	backoff       stream.Backoff
}

// NewWorker creates a worker reading the named shard stream.
func NewWorker(id string, s stream.Stream, name string, settler *Settler, logger *zap.Logger) *Worker {
	return &Worker{
		id:            id,
		stream:        s,
		name:          name,
		settler:       settler,
		logger:        logger.With(zap.String("worker", id), zap.String("stream", name)),
		block:         defaultBlock,
		batch:         defaultBatch,
		claimIdle:     defaultClaimIdle,
		claimInterval: defaultClaimInterval,
		backoff:       stream.DefaultBackoff,
	}
}

// SetPolling bounds each blocking read and the batch size.
func (w *Worker) SetPolling(block time.Duration, batch int64) {
	if block > 0 {
		w.block = block
	}
	if batch > 0 {
		w.batch = batch
	}
}

// SetClaim sets how long a message may stay unacked before this worker
// takes it over, and how often it looks.
func (w *Worker) SetClaim(minIdle, interval time.Duration) {
	if minIdle > 0 {
		w.claimIdle = minIdle
	}
	if interval > 0 {
		w.claimInterval = interval
	}
}

// SetBackoff sets the retry delays for stream failures.
func (w *Worker) SetBackoff(b stream.Backoff) { w.backoff = b }

// Run settles messages until ctx is cancelled. Stream failures are retried
// with backoff forever; cancellation returns nil.
func (w *Worker) Run(ctx context.Context) error {
	// --- 1. Ensure the consumer group ---
	err := stream.Retry(ctx, w.logger, "ensure group", w.backoff, func() error {
		return w.stream.EnsureGroup(ctx, w.name, Group, stream.Oldest)
	})
	if err != nil {
		return shutdown(ctx, err)
	}

	// --- 2. Finish what this consumer read before a restart ---
	var backlog []stream.Message
	err = stream.Retry(ctx, w.logger, "read backlog", w.backoff, func() error {
		var err error
		backlog, err = w.stream.ReadGroup(ctx, w.name, Group, w.id, stream.Backlog, 1<<20, 0)
		return err
	})
	if err != nil {
		return shutdown(ctx, err)
	}
	w.handleAll(ctx, backlog)
	w.logger.Info("Settlement worker started", zap.Int("backlog", len(backlog)))

	// --- 3. Poll, reclaiming stale messages periodically ---
	lastClaim := time.Now()
	for {
		if ctx.Err() != nil {
			w.logger.Info("Settlement worker stopped")
			return nil
		}
		if time.Since(lastClaim) >= w.claimInterval {
			w.reclaim(ctx)
			lastClaim = time.Now()
		}

		var msgs []stream.Message
		err := stream.Retry(ctx, w.logger, "read group", w.backoff, func() error {
			var err error
			msgs, err = w.stream.ReadGroup(ctx, w.name, Group, w.id, stream.NewMessages, w.batch, w.block)
			if errors.Is(err, stream.ErrNoGroup) {
				_ = w.stream.EnsureGroup(ctx, w.name, Group, stream.Oldest)
			}
			return err
		})
		if err != nil {
			return shutdown(ctx, err)
		}
		w.handleAll(ctx, msgs)
	}
}

func shutdown(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// reclaim takes over messages another worker read but never acked.
func (w *Worker) reclaim(ctx context.Context) {
	msgs, err := w.stream.Claim(ctx, w.name, Group, w.id, w.claimIdle, w.batch)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("Claiming stale settlements failed", zap.Error(err))
		}
		return
	}
	if len(msgs) > 0 {
		w.logger.Info("Claimed stale settlements", zap.Int("count", len(msgs)))
	}
	w.handleAll(ctx, msgs)
}

func (w *Worker) handleAll(ctx context.Context, msgs []stream.Message) {
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		w.Handle(ctx, msg)
	}
}

// Handle settles one message and acks it unless settlement hit an
// unexpected error, in which case it stays pending for a later claim.
func (w *Worker) Handle(ctx context.Context, msg stream.Message) {
	req, err := Decode(msg.Fields)
	if err != nil {
		w.logger.Warn("Dropping malformed settlement message", zap.String("id", msg.ID), zap.Error(err))
		w.settler.metrics.Settlement(metrics.OutcomeMalformed)
		w.ack(ctx, msg.ID)
		return
	}
	if _, err := w.settler.Settle(ctx, req.EntryID); err != nil {
		w.logger.Error("Settlement interrupted; leaving message pending",
			zap.String("id", msg.ID), zap.String("entryId", req.EntryID), zap.Error(err))
		return
	}
	w.ack(ctx, msg.ID)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.stream.Ack(ctx, w.name, Group, id); err != nil {
		// Redelivered by a later claim; settling again is a no-op.
		w.logger.Error("Ack failed", zap.String("id", id), zap.Error(err))
	}
}
