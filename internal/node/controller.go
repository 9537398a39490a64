// Package node provides the bootstrap pipeline for the trust and
// settlement process.
package node

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/api/rest"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/config"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/events"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/metrics"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/revocation"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/settlement"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/storage/local"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/stream"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/trust"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/wallet"
)

// RootID is the UUID of the root authority.
const RootID = "root"

// Controller wires all components and runs them until shutdown.
type Controller struct {
	cfg    *config.Config
	logger *zap.Logger

	dir       *directory.Directory
	auth      *trust.Authority
	stream    stream.Stream
	metrics   *metrics.Metrics
	bus       *revocation.Bus
	consumers []*revocation.Consumer
	settler   *settlement.Settler
	pipeline  *settlement.Pipeline
	workers   []*settlement.Worker
	api       *rest.Server
	closers   []func() error
}

// NewController creates a Controller.
func NewController(cfg *config.Config, logger *zap.Logger) *Controller {
	return &Controller{cfg: cfg, logger: logger}
}

// Authority returns the root authority. Valid after Setup.
func (c *Controller) Authority() *trust.Authority { return c.auth }

// Consumers returns the revocation consumers, the root's first.
func (c *Controller) Consumers() []*revocation.Consumer { return c.consumers }

// Settler returns the settlement engine.
func (c *Controller) Settler() *settlement.Settler { return c.settler }

// Pipeline returns the settlement enqueue side.
func (c *Controller) Pipeline() *settlement.Pipeline { return c.pipeline }

// Bus returns the revocation bus.
func (c *Controller) Bus() *revocation.Bus { return c.bus }

// Setup builds every component without starting any goroutine.
func (c *Controller) Setup() error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fees, err := c.cfg.Fees.Schedule()
	if err != nil {
		return err
	}

	// --- 1. Root authority ---
	seed, err := c.cfg.Trust.Seed()
	if err != nil {
		return err
	}
	var root *identity.Signer
	if seed != nil {
		root, err = identity.NewSignerFromSeed(RootID, identity.KindRoot, seed)
	} else {
		c.logger.Warn("No trust.rootSeed configured; using an ephemeral root key")
		root, err = identity.NewSigner(RootID, identity.KindRoot)
	}
	if err != nil {
		return fmt.Errorf("root key: %w", err)
	}
	c.dir = directory.New()
	c.auth, err = trust.NewAuthority(root, c.dir, c.logger)
	if err != nil {
		return err
	}

	// --- 2. Static node set ---
	if err := c.enrollNodes(); err != nil {
		return err
	}

	// --- 3. Stream backend ---
	switch c.cfg.Streams.Backend {
	case "memory":
		c.stream = stream.NewMemory()
	default:
		client := redis.NewClient(&redis.Options{
			Addr:     c.cfg.Redis.Addr,
			Password: c.cfg.Redis.Password,
			DB:       c.cfg.Redis.DB,
		})
		c.closers = append(c.closers, client.Close)
		c.stream = stream.NewRedis(client, c.logger)
	}

	// --- 4. Ledger store ---
	var store ledger.Store
	if path := c.cfg.Storage.Path; path != "" {
		ps := local.NewPebbleStore(path, c.logger)
		if err := ps.Init(); err != nil {
			return err
		}
		c.closers = append(c.closers, ps.Close)
		store = ps
	} else {
		c.logger.Warn("No storage.path configured; ledger is kept in memory")
		store = local.NewMemoryStore()
	}

	// --- 5. Events and metrics ---
	var publisher events.Publisher = events.NewLogPublisher(c.logger)
	if url := c.cfg.Events.NATSURL; url != "" {
		np, err := events.DialNATS(url, c.cfg.Events.Prefix, c.logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, np.Close)
		publisher = events.Multi{publisher, np}
	}
	c.metrics = metrics.New()

	// --- 6. Revocation bus: the root's consumer, then one per node ---
	sc := c.cfg.Streams
	c.bus = revocation.NewBus(c.stream, sc.Revocation, c.logger)
	newConsumer := func(id string, view *trust.Registry) {
		rc := revocation.NewConsumer(id, c.bus, view, c.dir, c.logger)
		rc.SetPublisher(publisher)
		rc.SetMetrics(c.metrics)
		rc.SetPolling(sc.Block, sc.Batch)
		c.consumers = append(c.consumers, rc)
	}
	newConsumer(RootID, c.auth.Registry())
	for _, n := range c.cfg.Trust.Nodes {
		newConsumer(n.ID, c.auth.Registry().Clone())
	}

	// --- 7. Settlement ---
	c.settler = settlement.NewSettler(ledger.NewBook(), ledger.NewBalanceLedger(), fees, c.dir, c.auth, c.logger)
	c.settler.SetPublisher(publisher)
	c.settler.SetStore(store)
	c.settler.SetWallet(wallet.NewMemory(c.logger))
	c.settler.SetMetrics(c.metrics)
	if err := c.settler.Restore(); err != nil {
		return err
	}
	c.pipeline = settlement.NewPipeline(c.stream, sc.Settlement, sc.Shards, c.settler.Book(), c.logger)
	c.pipeline.SetStore(store)
	for i, name := range c.pipeline.Streams() {
		w := settlement.NewWorker(fmt.Sprintf("settler-%d", i), c.stream, name, c.settler, c.logger)
		w.SetPolling(sc.Block, sc.Batch)
		w.SetClaim(sc.ClaimIdle, sc.ClaimInterval)
		c.workers = append(c.workers, w)
	}

	// --- 8. Admin API ---
	c.api = rest.New(c.auth, c.dir, c.bus, c.pipeline, c.settler, c.metrics, c.logger)
	return nil
}

// enrollNodes gives every configured node a NODE certificate from the root
// and every provider a certificate from its node.
func (c *Controller) enrollNodes() error {
	for _, n := range c.cfg.Trust.Nodes {
		if _, err := c.auth.Enroll(identity.KindNode, n.ID); err != nil {
			return fmt.Errorf("enroll node %s: %w", n.ID, err)
		}
		if _, err := c.auth.IssueCertificate(RootID, n.ID, identity.CapabilityNode); err != nil {
			return fmt.Errorf("certify node %s: %w", n.ID, err)
		}
		for _, p := range n.Providers {
			if _, err := c.auth.Enroll(identity.KindProvider, p); err != nil {
				return fmt.Errorf("enroll provider %s: %w", p, err)
			}
			c.dir.Assign(p, n.ID)
			if _, err := c.auth.IssueCertificate(n.ID, p); err != nil {
				return fmt.Errorf("certify provider %s: %w", p, err)
			}
		}
		c.logger.Info("Node enrolled", zap.String("node", n.ID), zap.Strings("providers", n.Providers))
	}
	return nil
}

// Run sets up the components if needed and blocks until SIGINT/SIGTERM or
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if c.auth == nil {
		if err := c.Setup(); err != nil {
			c.close()
			return err
		}
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	c.logger.Info("Starting trust and settlement services",
		zap.String("root", c.auth.Root().UUID),
		zap.Int("consumers", len(c.consumers)),
		zap.Int("settlementShards", len(c.workers)),
		zap.String("api", c.cfg.API.Addr))

	// --- 1. Recover entries enqueued before a crash ---
	if _, err := c.pipeline.Requeue(gctx); err != nil {
		c.logger.Warn("Requeue of unsettled entries failed", zap.Error(err))
	}

	// --- 2. Consumers and workers ---
	for _, rc := range c.consumers {
		rc := rc
		g.Go(func() error { return rc.Run(gctx) })
	}
	for _, w := range c.workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}

	// --- 3. Admin API ---
	if c.cfg.API.Addr != "" {
		g.Go(func() error { return c.api.Run(gctx, c.cfg.API.Addr) })
	}

	err := g.Wait()
	c.logger.Info("Shutdown complete")
	return err
}

func (c *Controller) close() {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("Closing resources", zap.Error(err))
	}
}
