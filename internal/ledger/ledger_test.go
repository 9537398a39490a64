package ledger_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func entry(id, tx string) ledger.LedgerEntry {
	return ledger.LedgerEntry{
		EntryID:      id,
		TxID:         tx,
		Timestamp:    time.Unix(1_700_000_000, 0).UTC(),
		Payer:        "alice@example.com",
		Merchant:     "cinema",
		ProviderUUID: "p1",
		ServiceType:  "movie",
		Amount:       d("100"),
		UsageFee:     d("2"),
		Status:       ledger.StatusPending,
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]ledger.Status]bool{
		{ledger.StatusPending, ledger.StatusProcessed}:   true,
		{ledger.StatusProcessed, ledger.StatusCompleted}: true,
		{ledger.StatusPending, ledger.StatusFailed}:      true,
		{ledger.StatusProcessed, ledger.StatusFailed}:    true,
	}
	all := []ledger.Status{ledger.StatusPending, ledger.StatusProcessed, ledger.StatusCompleted, ledger.StatusFailed}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]ledger.Status{from, to}], ledger.CanTransition(from, to), "%s → %s", from, to)
		}
	}
}

func TestBookAddRejectsDuplicates(t *testing.T) {
	b := ledger.NewBook()
	require.NoError(t, b.Add(entry("e1", "tx1")))
	assert.Error(t, b.Add(entry("e1", "tx2")))
	assert.ErrorIs(t, b.Add(entry("e2", "tx1")), ledger.ErrDuplicateTx)

	_, err := b.Get("missing")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestBookTransitionsAreMonotonic(t *testing.T) {
	b := ledger.NewBook()
	require.NoError(t, b.Add(entry("e1", "tx1")))

	_, err := b.Transition("e1", ledger.StatusCompleted, nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	e, err := b.Transition("e1", ledger.StatusProcessed, nil)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusProcessed, e.Status)

	boom := errors.New("boom")
	_, err = b.Transition("e1", ledger.StatusCompleted, func(ledger.LedgerEntry) error { return boom })
	assert.ErrorIs(t, err, boom)
	got, _ := b.Get("e1")
	assert.Equal(t, ledger.StatusProcessed, got.Status, "failed effect leaves entry unchanged")

	_, err = b.Transition("e1", ledger.StatusCompleted, nil)
	require.NoError(t, err)
	_, err = b.Transition("e1", ledger.StatusFailed, nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = b.Transition("nope", ledger.StatusProcessed, nil)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestTransitionEffectRunsOnceUnderContention(t *testing.T) {
	b := ledger.NewBook()
	require.NoError(t, b.Add(entry("e1", "tx1")))
	_, err := b.Transition("e1", ledger.StatusProcessed, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	runs := 0
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Transition("e1", ledger.StatusCompleted, func(ledger.LedgerEntry) error {
				mu.Lock()
				runs++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, runs)
}

func TestDefaultFeeScenario(t *testing.T) {
	dir := directory.New()
	dir.Assign("p1", "n1")
	s := ledger.DefaultFeeSchedule()
	require.NoError(t, s.Validate())

	fb := s.Compute(entry("e1", "tx1"), dir)
	assert.Equal(t, "n1", fb.NodeID)
	assert.True(t, d("0.04").Equal(fb.RootFee), fb.RootFee.String())
	assert.True(t, d("0.01").Equal(fb.NodeFee), fb.NodeFee.String())
	assert.True(t, fb.ProviderFee.IsZero())
	assert.True(t, fb.PayerRebate.IsZero())

	bl := ledger.NewBalanceLedger()
	bl.Apply(fb, "p1")
	snap := bl.Snapshot()
	assert.True(t, d("0.04").Equal(snap.Root))
	assert.True(t, d("0.01").Equal(snap.Nodes["n1"]))
	assert.True(t, snap.Providers["p1"].IsZero())
}

func TestFeeOverridesAndTax(t *testing.T) {
	s := ledger.DefaultFeeSchedule()
	e := entry("e1", "tx1")
	e.UsageTax = d("1")
	root, prov := d("0.5"), d("3")
	e.Fees = ledger.Fees{Root: &root, Provider: &prov}

	fb := s.Compute(e, directory.New())
	assert.Equal(t, ledger.UnassignedNode, fb.NodeID)
	assert.True(t, d("0.5").Equal(fb.RootFee))
	assert.True(t, d("0.01").Equal(fb.NodeFee))
	assert.True(t, d("3").Equal(fb.ProviderFee))
	assert.True(t, d("0.5").Equal(fb.RootTax))
	assert.True(t, d("0.3").Equal(fb.NodeTax))
	assert.True(t, d("0.2").Equal(fb.PayerRebate))

	bl := ledger.NewBalanceLedger()
	bl.Apply(fb, e.ProviderUUID)
	snap := bl.Snapshot()
	assert.True(t, d("1").Equal(snap.Root))
	assert.True(t, d("0.31").Equal(snap.Nodes[ledger.UnassignedNode]))
	assert.True(t, d("3").Equal(snap.Providers["p1"]))
}

func TestProviderFeeNeedsProvider(t *testing.T) {
	e := entry("e1", "tx1")
	e.ProviderUUID = ""
	prov := d("3")
	e.Fees.Provider = &prov
	fb := ledger.DefaultFeeSchedule().Compute(e, nil)
	assert.True(t, fb.ProviderFee.IsZero())
	assert.Equal(t, ledger.UnassignedNode, fb.NodeID)
}

func TestFeeScheduleValidate(t *testing.T) {
	s := ledger.DefaultFeeSchedule()
	s.TaxSharePayer = d("0.25")
	assert.Error(t, s.Validate())

	s = ledger.DefaultFeeSchedule()
	s.NodeRate = d("-0.1")
	assert.Error(t, s.Validate())
}

func TestEntryJSONUsesWireNames(t *testing.T) {
	e := entry("e1", "tx1")
	e.Status = ledger.StatusProcessed
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "processed", raw["status"])
	assert.Equal(t, "e1", raw["entryId"])
	assert.Equal(t, "2", raw["usageFee"])

	var back ledger.LedgerEntry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ledger.StatusProcessed, back.Status)
	assert.True(t, e.UsageFee.Equal(back.UsageFee))
}

func TestNewEntryFromSnapshot(t *testing.T) {
	snap := ledger.Snapshot{
		ChainID: "eden-1", TxID: "tx9", Payer: "bob@example.com", Merchant: "diner",
		Amount: d("12.5"), FeeSplit: map[string]decimal.Decimal{"node": d("0.2")},
	}
	e := ledger.NewEntry(snap, "bob", "p1", "food", d("1"), decimal.Zero)
	assert.NotEmpty(t, e.EntryID)
	assert.Equal(t, ledger.StatusPending, e.Status)
	assert.Equal(t, "tx9", e.TxID)
	require.NotNil(t, e.Fees.Node)
	assert.True(t, d("0.2").Equal(*e.Fees.Node))
	assert.Nil(t, e.Fees.Root)
}

func TestBalanceRestore(t *testing.T) {
	bl := ledger.NewBalanceLedger()
	bl.Restore(ledger.Balances{Root: d("5"), Nodes: map[string]decimal.Decimal{"n1": d("1")}})
	snap := bl.Snapshot()
	assert.True(t, d("5").Equal(snap.Root))
	assert.True(t, d("1").Equal(snap.Nodes["n1"]))
	assert.Empty(t, snap.Providers)
}
