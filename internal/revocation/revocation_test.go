package revocation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/events"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/metrics"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/revocation"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/stream"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/trust"
)

const busName = "eden:revocations"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	auth    *trust.Authority
	dir     *directory.Directory
	clock   *clock
	mem     *stream.Memory
	bus     *revocation.Bus
	rec     *events.Recorder
	metrics *metrics.Metrics
}

// newHarness builds root, nodes n1 and n2, and providers p1 (n1) and p2 (n2).
func newHarness(t *testing.T) *harness {
	t.Helper()
	root, err := identity.NewSigner("root", identity.KindRoot)
	require.NoError(t, err)
	dir := directory.New()
	auth, err := trust.NewAuthority(root, dir, zap.NewNop())
	require.NoError(t, err)
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	auth.SetClock(clk.Now)

	for _, n := range []string{"n1", "n2"} {
		_, err := auth.Enroll(identity.KindNode, n)
		require.NoError(t, err)
		_, err = auth.IssueCertificate("root", n, identity.CapabilityNode)
		require.NoError(t, err)
	}
	for p, n := range map[string]string{"p1": "n1", "p2": "n2"} {
		_, err := auth.Enroll(identity.KindProvider, p)
		require.NoError(t, err)
		dir.Assign(p, n)
		_, err = auth.IssueCertificate(n, p)
		require.NoError(t, err)
	}

	mem := stream.NewMemory()
	return &harness{
		auth:    auth,
		dir:     dir,
		clock:   clk,
		mem:     mem,
		bus:     revocation.NewBus(mem, busName, zap.NewNop()),
		rec:     &events.Recorder{},
		metrics: metrics.New(),
	}
}

// start runs a consumer for id over a clone of the authority's view.
func (h *harness) start(t *testing.T, id string) (*revocation.Consumer, context.CancelFunc) {
	t.Helper()
	c := revocation.NewConsumer(id, h.bus, h.auth.Registry().Clone(), h.dir, zap.NewNop())
	c.SetPublisher(h.rec)
	c.SetMetrics(h.metrics)
	c.SetPolling(10*time.Millisecond, 8)
	return c, h.run(t, c)
}

func (h *harness) run(t *testing.T, c *revocation.Consumer) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("consumer did not stop")
		}
	})
	return cancel
}

func (h *harness) rejected(id string) float64 {
	return testutil.ToFloat64(h.metrics.Revocations.WithLabelValues(id, metrics.OutcomeRejected))
}

func TestCodecRoundTripKeepsSignatureValid(t *testing.T) {
	h := newHarness(t)
	rev, err := h.auth.Revoke("n1", "p1", trust.RevokedService, trust.SeverityHard, "fraud",
		trust.WithMetadata(map[string]string{"case": "7"}))
	require.NoError(t, err)

	fields, err := revocation.EncodeRevocation(rev)
	require.NoError(t, err)
	st, err := revocation.Decode(fields)
	require.NoError(t, err)
	require.Equal(t, revocation.KindRevocation, st.Kind)
	assert.Equal(t, "7", st.Revocation.Metadata["case"])
	assert.NoError(t, trust.VerifyRevocation(h.auth.Registry(), st.Revocation))

	delete(fields, "signature")
	_, err = revocation.Decode(fields)
	assert.Error(t, err)
	_, err = revocation.Decode(map[string]string{"kind": "gossip"})
	assert.Error(t, err)
}

func TestConsumerAppliesHardNodeRevocationWithCascade(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, "n2")

	rev, err := h.auth.Revoke("root", "n1", trust.RevokedNode, trust.SeverityHard, "compromised")
	require.NoError(t, err)
	_, err = h.bus.Publish(context.Background(), rev)
	require.NoError(t, err)

	view := c.View()
	require.Eventually(t, func() bool { return view.Status("n1") == trust.StatusRemoved }, time.Second, 5*time.Millisecond)
	assert.Equal(t, trust.StatusRemoved, view.Status("p1"))
	assert.False(t, view.Validate("p1"))
	assert.True(t, view.Validate("p2"))

	require.Eventually(t, func() bool { return h.mem.Pending(busName, revocation.GroupFor("n2")) == 0 }, time.Second, 5*time.Millisecond)
	applied := h.rec.OfType(events.TypeRevocationApplied)
	require.Len(t, applied, 1)
	assert.Equal(t, "n1", applied[0].Subject)
	assert.Equal(t, "n1,p1", applied[0].Data["removed"])
}

func TestConsumerSoftNodeRevocationLeavesProviders(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, "n2")

	rev, err := h.auth.Revoke("root", "n1", trust.RevokedNode, trust.SeveritySoft, "review")
	require.NoError(t, err)
	_, err = h.bus.Publish(context.Background(), rev)
	require.NoError(t, err)

	view := c.View()
	require.Eventually(t, func() bool { return view.Status("n1") == trust.StatusInactive }, time.Second, 5*time.Millisecond)
	assert.Equal(t, trust.StatusActive, view.Status("p1"))
	assert.True(t, view.Validate("p1"))
}

func TestConsumerWaitsForEffectiveTime(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, "n1")

	rev, err := h.auth.Revoke("root", "p2", trust.RevokedProvider, trust.SeveritySoft, "expiry",
		trust.WithEffectiveAt(h.clock.Now().Add(10*time.Second)))
	require.NoError(t, err)
	_, err = h.bus.Publish(context.Background(), rev)
	require.NoError(t, err)

	view := c.View()
	require.Eventually(t, func() bool { return c.Scheduled() == 1 }, time.Second, 5*time.Millisecond)
	h.clock.Advance(9 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, trust.StatusActive, view.Status("p2"))
	assert.Equal(t, 1, h.mem.Pending(busName, revocation.GroupFor("n1")), "not acked before effectiveAt")

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return view.Status("p2") == trust.StatusInactive }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Scheduled())
	require.Eventually(t, func() bool { return h.mem.Pending(busName, revocation.GroupFor("n1")) == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduledRevocationSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	first, stop := h.start(t, "n1")

	rev, err := h.auth.Revoke("root", "p2", trust.RevokedProvider, trust.SeverityHard, "expiry",
		trust.WithEffectiveAt(h.clock.Now().Add(time.Minute)))
	require.NoError(t, err)
	_, err = h.bus.Publish(context.Background(), rev)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return first.Scheduled() == 1 }, time.Second, 5*time.Millisecond)
	stop()

	second := revocation.NewConsumer("n1", h.bus, first.View(), h.dir, zap.NewNop())
	second.SetPolling(10*time.Millisecond, 8)
	h.run(t, second)
	require.Eventually(t, func() bool { return second.Scheduled() == 1 }, time.Second, 5*time.Millisecond)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return second.View().Status("p2") == trust.StatusRemoved }, time.Second, 5*time.Millisecond)
}

func TestConsumerDropsForgedRevocation(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, "n2")

	rev, err := h.auth.Revoke("n1", "p1", trust.RevokedService, trust.SeverityHard, "fraud")
	require.NoError(t, err)
	rev.Reason = "rewritten in transit"
	_, err = h.bus.Publish(context.Background(), rev)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.rejected("n2") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, trust.StatusActive, c.View().Status("p1"))
	assert.Equal(t, 0, h.mem.Pending(busName, revocation.GroupFor("n2")), "dropped messages are acked")
}

func TestConsumerDropsUnauthorizedRevocation(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, "n1")

	// n2 signs a revocation of n1's provider without going through the
	// authority's check.
	signer, ok := h.auth.Signer("n2")
	require.True(t, ok)
	rev := trust.Revocation{
		RevokedUUID: "p1",
		RevokedType: trust.RevokedService,
		IssuerUUID:  "n2",
		Reason:      "grudge",
		IssuedAt:    h.clock.Now(),
		EffectiveAt: h.clock.Now(),
		Severity:    trust.SeverityHard,
	}
	rev.Signature, _ = signer.Sign(rev)
	_, err := h.bus.Publish(context.Background(), rev)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.rejected("n1") == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.View().Validate("p1"))
}

func TestConsumerDropsMalformedMessage(t *testing.T) {
	h := newHarness(t)
	h.start(t, "n1")

	_, err := h.mem.Append(context.Background(), busName, map[string]string{"kind": "revocation"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.rejected("n1") == 1 }, time.Second, 5*time.Millisecond)
}

func TestReinstatementPropagates(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, "n2")
	ctx := context.Background()

	rev, err := h.auth.Revoke("n1", "p1", trust.RevokedService, trust.SeveritySoft, "review")
	require.NoError(t, err)
	_, err = h.bus.Publish(ctx, rev)
	require.NoError(t, err)
	view := c.View()
	require.Eventually(t, func() bool { return view.Status("p1") == trust.StatusInactive }, time.Second, 5*time.Millisecond)

	h.clock.Advance(time.Second)
	ri, err := h.auth.Reinstate("n1", "p1")
	require.NoError(t, err)
	_, err = h.bus.PublishReinstatement(ctx, ri)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return view.Status("p1") == trust.StatusActive }, time.Second, 5*time.Millisecond)
	assert.True(t, view.Validate("p1"))
	assert.Len(t, h.rec.OfType(events.TypeReinstatementApplied), 1)
}

func TestNodesProgressIndependently(t *testing.T) {
	h := newHarness(t)
	rev, err := h.auth.Revoke("n2", "p2", trust.RevokedService, trust.SeverityHard, "fraud")
	require.NoError(t, err)
	_, err = h.bus.Publish(context.Background(), rev)
	require.NoError(t, err)

	c1, _ := h.start(t, "n1")
	c2, _ := h.start(t, "n2")
	root := revocation.NewConsumer("root", h.bus, h.auth.Registry(), h.dir, zap.NewNop())
	root.SetPolling(10*time.Millisecond, 8)
	h.run(t, root)

	for _, view := range []*trust.Registry{c1.View(), c2.View(), h.auth.Registry()} {
		view := view
		require.Eventually(t, func() bool { return view.Status("p2") == trust.StatusRemoved }, time.Second, 5*time.Millisecond)
	}
	assert.False(t, h.auth.Validate("p2"))
}

// enroll enrolls a provider in node's domain, certifies it by node and
// publishes both statements.
func (h *harness) enroll(t *testing.T, provider, node string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.auth.Enroll(identity.KindProvider, provider)
	require.NoError(t, err)
	h.dir.Assign(provider, node)
	en, err := h.auth.Attest(provider)
	require.NoError(t, err)
	_, err = h.bus.PublishEnrollment(ctx, en)
	require.NoError(t, err)
	cert, err := h.auth.IssueCertificate(node, provider)
	require.NoError(t, err)
	_, err = h.bus.PublishCertificate(ctx, cert)
	require.NoError(t, err)
}

func TestConsumerLearnsIdentitiesEnrolledAfterStart(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, "n1")
	ctx := context.Background()

	h.enroll(t, "p5", "n1")
	h.enroll(t, "p6", "n1")
	view := c.View()
	require.Eventually(t, func() bool { return view.Validate("p5") && view.Validate("p6") }, time.Second, 5*time.Millisecond)

	self, err := h.auth.Revoke("p5", "p5", trust.RevokedProvider, trust.SeveritySoft, "retiring")
	require.NoError(t, err)
	_, err = h.bus.Publish(ctx, self)
	require.NoError(t, err)
	byNode, err := h.auth.Revoke("n1", "p6", trust.RevokedService, trust.SeverityHard, "fraud")
	require.NoError(t, err)
	_, err = h.bus.Publish(ctx, byNode)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return view.IsRevoked("p5") && view.Status("p6") == trust.StatusRemoved
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, trust.StatusInactive, view.Status("p5"))
	assert.Equal(t, 0.0, h.rejected("n1"))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Revocations.WithLabelValues("n1", metrics.OutcomeEnrolled)))
	require.Eventually(t, func() bool { return h.mem.Pending(busName, revocation.GroupFor("n1")) == 0 }, time.Second, 5*time.Millisecond)
}

func TestConsumerDropsForgedEnrollmentAndCertificate(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, "n2")
	ctx := context.Background()

	// An enrollment signed by a node instead of the root.
	n1, ok := h.auth.Signer("n1")
	require.True(t, ok)
	impostor, err := identity.NewSigner("p7", identity.KindProvider)
	require.NoError(t, err)
	en := trust.Enrollment{
		UUID:      "p7",
		Kind:      identity.KindProvider,
		PublicKey: impostor.Identity().PublicKey,
		IssuedAt:  h.clock.Now(),
	}
	en.Signature, err = n1.Sign(en)
	require.NoError(t, err)
	_, err = h.bus.PublishEnrollment(ctx, en)
	require.NoError(t, err)

	// n1 signs a capability-less certificate for n2 without going through
	// the authority's check.
	cert := identity.Certificate{SubjectUUID: "n2", IssuerUUID: "n1", IssuedAt: h.clock.Now().Add(time.Second)}
	cert.Signature, err = n1.Sign(cert)
	require.NoError(t, err)
	_, err = h.bus.PublishCertificate(ctx, cert)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.rejected("n2") == 2 }, time.Second, 5*time.Millisecond)
	view := c.View()
	_, known := view.Identity("p7")
	assert.False(t, known)
	got, ok := view.Certificate("n2")
	require.True(t, ok)
	assert.Equal(t, "root", got.IssuerUUID)
	assert.True(t, got.Has(identity.CapabilityNode))
}

func TestCodecRoundTripsEnrollmentAndCertificate(t *testing.T) {
	h := newHarness(t)
	en, err := h.auth.Attest("p1")
	require.NoError(t, err)
	st, err := revocation.Decode(revocation.EncodeEnrollment(en))
	require.NoError(t, err)
	require.Equal(t, revocation.KindEnrollment, st.Kind)
	assert.NoError(t, trust.VerifyEnrollment(h.auth.Registry(), st.Enrollment))

	cert, ok := h.auth.Registry().Certificate("n1")
	require.True(t, ok)
	st, err = revocation.Decode(revocation.EncodeCertificate(cert))
	require.NoError(t, err)
	require.Equal(t, revocation.KindCertificate, st.Kind)
	assert.NoError(t, trust.VerifyCertificate(h.auth.Registry(), st.Certificate))
	assert.True(t, st.Certificate.Has(identity.CapabilityNode))
}

func TestRevocationAfterReinstatementReachesViews(t *testing.T) {
	h := newHarness(t)
	c, _ := h.start(t, "n2")
	root := revocation.NewConsumer("root", h.bus, h.auth.Registry(), h.dir, zap.NewNop())
	root.SetPolling(10*time.Millisecond, 8)
	h.run(t, root)
	ctx := context.Background()

	// All three statements are signed at the same clock reading.
	soft, err := h.auth.Revoke("n1", "p1", trust.RevokedService, trust.SeveritySoft, "review")
	require.NoError(t, err)
	_, err = h.bus.Publish(ctx, soft)
	require.NoError(t, err)
	ri, err := h.auth.Reinstate("n1", "p1")
	require.NoError(t, err)
	_, err = h.bus.PublishReinstatement(ctx, ri)
	require.NoError(t, err)
	hard, err := h.auth.Revoke("n1", "p1", trust.RevokedService, trust.SeverityHard, "fraud")
	require.NoError(t, err)
	_, err = h.bus.Publish(ctx, hard)
	require.NoError(t, err)

	for _, view := range []*trust.Registry{c.View(), h.auth.Registry()} {
		view := view
		require.Eventually(t, func() bool { return view.Status("p1") == trust.StatusRemoved }, time.Second, 5*time.Millisecond)
		_, ok := view.Certificate("p1")
		assert.False(t, ok)
	}
}
