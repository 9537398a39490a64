package node_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/config"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/node"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/trust"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	def := ledger.DefaultFeeSchedule()
	return &config.Config{
		Streams: config.StreamsConfig{
			Backend:       "memory",
			Revocation:    "eden:revocations",
			Settlement:    "eden:settlements",
			Shards:        2,
			Batch:         8,
			Block:         10 * time.Millisecond,
			ClaimIdle:     50 * time.Millisecond,
			ClaimInterval: 20 * time.Millisecond,
		},
		Fees: config.FeesConfig{
			RootRate:      def.RootRate.String(),
			NodeRate:      def.NodeRate.String(),
			TaxShareRoot:  def.TaxShareRoot.String(),
			TaxShareNode:  def.TaxShareNode.String(),
			TaxSharePayer: def.TaxSharePayer.String(),
		},
		Trust: config.TrustConfig{Nodes: []config.NodeConfig{
			{ID: "n1", Providers: []string{"p1"}},
			{ID: "n2", Providers: []string{"p2"}},
		}},
		Storage: config.StorageConfig{Path: filepath.Join(t.TempDir(), "ledger")},
	}
}

func TestSetupEnrollsStaticNodes(t *testing.T) {
	c := node.NewController(testConfig(t), zap.NewNop())
	require.NoError(t, c.Setup())

	auth := c.Authority()
	for _, id := range []string{"n1", "n2", "p1", "p2"} {
		assert.True(t, auth.Validate(id), id)
	}
	require.Len(t, c.Consumers(), 3)
	assert.Equal(t, node.RootID, c.Consumers()[0].ID())
	assert.Len(t, c.Pipeline().Streams(), 2)
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fees.TaxSharePayer = "0.5"
	assert.Error(t, node.NewController(cfg, zap.NewNop()).Setup())
}

func TestRunRevokesAndSettles(t *testing.T) {
	c := node.NewController(testConfig(t), zap.NewNop())
	require.NoError(t, c.Setup())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	snap := ledger.Snapshot{TxID: "tx1", Payer: "alice@example.com", Amount: decimal.NewFromInt(100)}
	e := ledger.NewEntry(snap, "alice", "p1", "movie", decimal.NewFromInt(2), decimal.Zero)
	_, err := c.Pipeline().Enqueue(ctx, e, snap)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := c.Settler().Book().Get(e.EntryID)
		return got.Status == ledger.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "0.04", c.Settler().Balances().Root.String())

	rev, err := c.Authority().Revoke(node.RootID, "n1", trust.RevokedNode, trust.SeverityHard, "compromised")
	require.NoError(t, err)
	_, err = c.Bus().Publish(ctx, rev)
	require.NoError(t, err)
	for _, rc := range c.Consumers() {
		view := rc.View()
		require.Eventually(t, func() bool { return view.Status("p1") == trust.StatusRemoved }, 2*time.Second, 10*time.Millisecond, rc.ID())
		assert.Equal(t, trust.StatusActive, view.Status("p2"), rc.ID())
	}

	cancel()
	require.NoError(t, <-done)
}
