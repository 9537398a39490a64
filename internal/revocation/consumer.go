package revocation

import (
	"container/heap"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/events"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/metrics"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/stream"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/trust"
)

const (
	defaultBlock = 2 * time.Second
	defaultBatch = 16
	minBlock     = time.Millisecond
)

// scheduled is a revocation read from the bus whose effective time has not
// arrived. Its message stays unacked until it is applied.
type scheduled struct {
	at  time.Time
	id  string
	rev trust.Revocation
}

type schedule []scheduled

func (s schedule) Len() int           { return len(s) }
func (s schedule) Less(i, j int) bool { return s[i].at.Before(s[j].at) }
func (s schedule) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s *schedule) Push(x any)        { *s = append(*s, x.(scheduled)) }
func (s *schedule) Pop() any {
	old := *s
	n := len(old)
	item := old[n-1]
	*s = old[:n-1]
	return item
}

// Consumer applies bus statements to one local view. Each node runs one,
// and the root runs one against the authority's own registry.
type Consumer struct {
	id      string
	bus     *Bus
	view    *trust.Registry
	domains directory.Resolver
	logger  *zap.Logger

	publisher events.Publisher
	metrics   *metrics.Metrics
	block     time.Duration
	batch     int64
	backoff   stream.Backoff

	mu     sync.Mutex
	queue  schedule
	queued map[string]bool
}

// NewConsumer creates a consumer named id that applies statements to view.
func NewConsumer(id string, bus *Bus, view *trust.Registry, domains directory.Resolver, logger *zap.Logger) *Consumer {
	return &Consumer{
		id:        id,
		bus:       bus,
		view:      view,
		domains:   domains,
		logger:    logger.With(zap.String("consumer", id)),
		publisher: events.NewLogPublisher(logger),
		block:     defaultBlock,
		batch:     defaultBatch,
		backoff:   stream.DefaultBackoff,
		queued:    make(map[string]bool),
	}
}

// SetPublisher sets where completion events go.
func (c *Consumer) SetPublisher(p events.Publisher) { c.publisher = p }

// SetMetrics sets the counters to update.
func (c *Consumer) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// SetPolling bounds each blocking read and the batch size.
func (c *Consumer) SetPolling(block time.Duration, batch int64) {
	if block > 0 {
		c.block = block
	}
	if batch > 0 {
		c.batch = batch
	}
}

// SetBackoff sets the retry delays for stream failures.
func (c *Consumer) SetBackoff(b stream.Backoff) { c.backoff = b }

// ID returns the consumer name.
func (c *Consumer) ID() string { return c.id }

// View returns the registry the consumer maintains.
func (c *Consumer) View() *trust.Registry { return c.view }

// Scheduled returns how many revocations are waiting for their effective time.
func (c *Consumer) Scheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Run consumes the bus until ctx is cancelled. Read failures are retried
// with backoff forever; cancellation returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	group := GroupFor(c.id)

	// --- 1. Ensure the consumer group ---
	err := stream.Retry(ctx, c.logger, "ensure group", c.backoff, func() error {
		return c.bus.stream.EnsureGroup(ctx, c.bus.name, group, stream.Oldest)
	})
	if err != nil {
		return shutdown(ctx, err)
	}

	// --- 2. Reconsider messages read before a restart but never acked ---
	var backlog []stream.Message
	err = stream.Retry(ctx, c.logger, "read backlog", c.backoff, func() error {
		var err error
		backlog, err = c.bus.stream.ReadGroup(ctx, c.bus.name, group, c.id, stream.Backlog, 1<<20, 0)
		return err
	})
	if err != nil {
		return shutdown(ctx, err)
	}
	for _, msg := range backlog {
		c.handle(ctx, group, msg)
	}
	c.logger.Info("Revocation consumer started", zap.Int("backlog", len(backlog)))

	// --- 3. Poll ---
	for {
		if ctx.Err() != nil {
			c.logger.Info("Revocation consumer stopped")
			return nil
		}
		c.drainDue(ctx, group)

		var msgs []stream.Message
		err := stream.Retry(ctx, c.logger, "read group", c.backoff, func() error {
			var err error
			msgs, err = c.bus.stream.ReadGroup(ctx, c.bus.name, group, c.id, stream.NewMessages, c.batch, c.nextBlock())
			if errors.Is(err, stream.ErrNoGroup) {
				_ = c.bus.stream.EnsureGroup(ctx, c.bus.name, group, stream.Oldest)
			}
			return err
		})
		if err != nil {
			return shutdown(ctx, err)
		}
		for _, msg := range msgs {
			c.handle(ctx, group, msg)
		}
	}
}

func shutdown(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// nextBlock shortens the read timeout so the earliest scheduled revocation
// is applied close to its effective time.
func (c *Consumer) nextBlock() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue.Len() == 0 {
		return c.block
	}
	d := c.queue[0].at.Sub(c.view.Now())
	if d < minBlock {
		return minBlock
	}
	if d < c.block {
		return d
	}
	return c.block
}

func (c *Consumer) drainDue(ctx context.Context, group string) {
	for {
		c.mu.Lock()
		if c.queue.Len() == 0 || !c.queue[0].rev.EffectiveBy(c.view.Now()) {
			c.mu.Unlock()
			return
		}
		item := heap.Pop(&c.queue).(scheduled)
		delete(c.queued, item.id)
		c.mu.Unlock()
		c.apply(ctx, group, item.id, item.rev)
	}
}

func (c *Consumer) handle(ctx context.Context, group string, msg stream.Message) {
	st, err := Decode(msg.Fields)
	if err != nil {
		c.logger.Warn("Dropping malformed bus message", zap.String("id", msg.ID), zap.Error(err))
		c.reject(ctx, group, msg.ID)
		return
	}
	switch st.Kind {
	case KindRevocation:
		c.handleRevocation(ctx, group, msg.ID, st.Revocation)
	case KindReinstatement:
		c.handleReinstatement(ctx, group, msg.ID, st.Reinstatement)
	case KindEnrollment:
		c.handleEnrollment(ctx, group, msg.ID, st.Enrollment)
	case KindCertificate:
		c.handleCertificate(ctx, group, msg.ID, st.Certificate)
	}
}

func (c *Consumer) handleRevocation(ctx context.Context, group, id string, rev trust.Revocation) {
	if err := trust.VerifyRevocation(c.view, rev); err != nil {
		c.logger.Warn("Security: dropping revocation with invalid signature",
			zap.String("id", id), zap.String("subject", rev.RevokedUUID),
			zap.String("issuer", rev.IssuerUUID), zap.Error(err))
		c.reject(ctx, group, id)
		return
	}
	if rev.EffectiveBy(c.view.Now()) {
		c.apply(ctx, group, id, rev)
		return
	}

	c.mu.Lock()
	if !c.queued[id] {
		heap.Push(&c.queue, scheduled{at: rev.EffectiveAt, id: id, rev: rev})
		c.queued[id] = true
	}
	c.mu.Unlock()
	c.metrics.Revocation(c.id, metrics.OutcomeScheduled)
	c.logger.Info("Scheduled revocation",
		zap.String("id", id), zap.String("subject", rev.RevokedUUID), zap.Time("effectiveAt", rev.EffectiveAt))
}

// apply re-checks authority against the current view, carries out the
// revocation and acks it.
func (c *Consumer) apply(ctx context.Context, group, id string, rev trust.Revocation) {
	if err := trust.CheckAuthority(c.view, c.domains, rev.IssuerUUID, rev.RevokedUUID, rev.RevokedType); err != nil {
		c.logger.Warn("Security: dropping unauthorized revocation",
			zap.String("id", id), zap.String("subject", rev.RevokedUUID), zap.Error(err))
		c.reject(ctx, group, id)
		return
	}

	res := c.view.ApplyRevocation(rev, c.domains)
	switch {
	case res.Duplicate, res.Superseded:
		c.logger.Debug("Revocation already reflected in view",
			zap.String("subject", rev.RevokedUUID), zap.Bool("superseded", res.Superseded))
	default:
		c.logger.Info("Applied revocation",
			zap.String("subject", rev.RevokedUUID), zap.Stringer("severity", rev.Severity),
			zap.Strings("removed", res.Removed), zap.Strings("deactivated", res.Deactivated))
		c.emit(ctx, events.TypeRevocationApplied, rev.RevokedUUID, map[string]string{
			"issuer":      rev.IssuerUUID,
			"severity":    rev.Severity.String(),
			"reason":      rev.Reason,
			"removed":     strings.Join(res.Removed, ","),
			"deactivated": strings.Join(res.Deactivated, ","),
		})
	}
	c.metrics.Revocation(c.id, metrics.OutcomeApplied)
	c.ack(ctx, group, id)
}

func (c *Consumer) handleReinstatement(ctx context.Context, group, id string, ri trust.Reinstatement) {
	if err := trust.VerifyReinstatement(c.view, ri); err != nil {
		c.logger.Warn("Security: dropping reinstatement with invalid signature",
			zap.String("id", id), zap.String("subject", ri.SubjectUUID), zap.Error(err))
		c.reject(ctx, group, id)
		return
	}
	if ri.IssuerUUID == ri.SubjectUUID && ri.IssuerUUID != c.view.RootUUID() {
		c.logger.Warn("Security: dropping self reinstatement", zap.String("subject", ri.SubjectUUID))
		c.reject(ctx, group, id)
		return
	}
	typ := trust.RevokedProvider
	if rev, ok := c.view.Revocation(ri.SubjectUUID); ok {
		typ = rev.RevokedType
	} else if subject, ok := c.view.Identity(ri.SubjectUUID); ok && subject.Kind == identity.KindNode {
		typ = trust.RevokedNode
	}
	if err := trust.CheckAuthority(c.view, c.domains, ri.IssuerUUID, ri.SubjectUUID, typ); err != nil {
		c.logger.Warn("Security: dropping unauthorized reinstatement",
			zap.String("subject", ri.SubjectUUID), zap.Error(err))
		c.reject(ctx, group, id)
		return
	}

	switch err := c.view.ApplyReinstatement(ri); {
	case err == nil:
		c.logger.Info("Applied reinstatement", zap.String("subject", ri.SubjectUUID))
		c.emit(ctx, events.TypeReinstatementApplied, ri.SubjectUUID, map[string]string{"issuer": ri.IssuerUUID})
		c.metrics.Revocation(c.id, metrics.OutcomeReinstated)
	case errors.Is(err, trust.ErrNotRevoked):
		c.logger.Debug("Reinstatement already reflected in view", zap.String("subject", ri.SubjectUUID))
		c.metrics.Revocation(c.id, metrics.OutcomeReinstated)
	default:
		c.logger.Warn("Dropping reinstatement", zap.String("subject", ri.SubjectUUID), zap.Error(err))
		c.metrics.Revocation(c.id, metrics.OutcomeRejected)
	}
	c.ack(ctx, group, id)
}

func (c *Consumer) handleEnrollment(ctx context.Context, group, id string, en trust.Enrollment) {
	if err := trust.VerifyEnrollment(c.view, en); err != nil {
		c.logger.Warn("Security: dropping enrollment not signed by the root",
			zap.String("id", id), zap.String("uuid", en.UUID), zap.Error(err))
		c.reject(ctx, group, id)
		return
	}
	if err := c.view.Enroll(en.Identity()); err != nil {
		c.logger.Warn("Security: dropping conflicting enrollment", zap.String("uuid", en.UUID), zap.Error(err))
		c.reject(ctx, group, id)
		return
	}
	c.logger.Debug("Applied enrollment", zap.String("uuid", en.UUID), zap.Stringer("kind", en.Kind))
	c.metrics.Revocation(c.id, metrics.OutcomeEnrolled)
	c.ack(ctx, group, id)
}

func (c *Consumer) handleCertificate(ctx context.Context, group, id string, cert identity.Certificate) {
	if err := trust.VerifyCertificate(c.view, cert); err != nil {
		c.logger.Warn("Security: dropping certificate with invalid signature",
			zap.String("id", id), zap.String("subject", cert.SubjectUUID), zap.Error(err))
		c.reject(ctx, group, id)
		return
	}
	if err := trust.CheckIssuance(c.view, c.domains, cert.IssuerUUID, cert.SubjectUUID, cert.Capabilities); err != nil {
		c.logger.Warn("Security: dropping unauthorized certificate",
			zap.String("id", id), zap.String("subject", cert.SubjectUUID), zap.Error(err))
		c.reject(ctx, group, id)
		return
	}
	if c.view.AcceptCertificate(cert) {
		c.logger.Debug("Applied certificate", zap.String("subject", cert.SubjectUUID), zap.String("issuer", cert.IssuerUUID))
	} else {
		c.logger.Debug("Certificate already superseded in view", zap.String("subject", cert.SubjectUUID))
	}
	c.metrics.Revocation(c.id, metrics.OutcomeCertified)
	c.ack(ctx, group, id)
}

// reject drops a statement that can never become valid. It is acked so it
// does not block the group.
func (c *Consumer) reject(ctx context.Context, group, id string) {
	c.metrics.Revocation(c.id, metrics.OutcomeRejected)
	c.ack(ctx, group, id)
}

func (c *Consumer) ack(ctx context.Context, group, id string) {
	if err := c.bus.stream.Ack(ctx, c.bus.name, group, id); err != nil {
		// Left pending; the backlog pass after a restart applies it again
		// and application is idempotent.
		c.logger.Error("Ack failed", zap.String("id", id), zap.Error(err))
	}
}

func (c *Consumer) emit(ctx context.Context, typ, subject string, data map[string]string) {
	if err := c.publisher.Publish(ctx, events.New(typ, subject, c.id, data)); err != nil {
		c.logger.Warn("Event publish failed", zap.String("type", typ), zap.Error(err))
	}
}
