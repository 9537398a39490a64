package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/events"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/metrics"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/trust"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/wallet"
)

// Validator reports whether a subject's certificate is currently valid.
// Both *trust.Authority and *trust.Registry satisfy it.
type Validator interface {
	Validate(subject string) bool
}

// Settler owns the Balance Ledger and settles entries of the Book. It is
// shared by all shard workers; the Book's per-entry lock keeps each entry's
// fees from being applied twice.
type Settler struct {
	book      *ledger.Book
	balances  *ledger.BalanceLedger
	fees      ledger.FeeSchedule
	domains   directory.Resolver
	validator Validator
	logger    *zap.Logger

	publisher events.Publisher
	store     ledger.Store
	wallet    wallet.Wallet
	metrics   *metrics.Metrics

	// persistMu orders balance snapshots written by concurrent workers.
	persistMu sync.Mutex
}

// NewSettler creates a settler. fees must already be validated.
func NewSettler(book *ledger.Book, balances *ledger.BalanceLedger, fees ledger.FeeSchedule,
	domains directory.Resolver, validator Validator, logger *zap.Logger) *Settler {
	return &Settler{
		book:      book,
		balances:  balances,
		fees:      fees,
		domains:   domains,
		validator: validator,
		logger:    logger,
		publisher: events.NewLogPublisher(logger),
	}
}

// SetPublisher sets where completion and failure events go.
func (s *Settler) SetPublisher(p events.Publisher) { s.publisher = p }

// SetStore persists entries and balances after every transition.
func (s *Settler) SetStore(st ledger.Store) { s.store = st }

// SetWallet enables crediting payer rebates.
func (s *Settler) SetWallet(w wallet.Wallet) { s.wallet = w }

// SetMetrics sets the counters to update.
func (s *Settler) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Book returns the entry index.
func (s *Settler) Book() *ledger.Book { return s.book }

// Balances returns a snapshot of the Balance Ledger.
func (s *Settler) Balances() ledger.Balances { return s.balances.Snapshot() }

// Restore loads entries and balances from the store.
func (s *Settler) Restore() error {
	if s.store == nil {
		return nil
	}
	entries, err := s.store.LoadEntries()
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	s.book.Load(entries)
	b, ok, err := s.store.LoadBalances()
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	if ok {
		s.balances.Restore(b)
	}
	s.logger.Info("Ledger restored", zap.Int("entries", len(entries)), zap.Bool("balances", ok))
	return nil
}

// Settle settles one entry and returns the outcome (one of the metrics
// settlement outcomes). An error means the message must not be acked.
func (s *Settler) Settle(ctx context.Context, entryID string) (string, error) {
	outcome, err := s.settle(ctx, entryID)
	if err == nil {
		s.metrics.Settlement(outcome)
	}
	return outcome, err
}

func (s *Settler) settle(ctx context.Context, entryID string) (string, error) {
	log := s.logger.With(zap.String("entryId", entryID))

	// --- 1. Look up the entry ---
	e, err := s.book.Get(entryID)
	if errors.Is(err, ledger.ErrEntryNotFound) {
		log.Warn("Skipping settlement of unknown entry")
		return metrics.OutcomeUnknown, nil
	}
	if err != nil {
		return "", err
	}
	if e.Status.Terminal() {
		log.Debug("Entry already settled", zap.Stringer("status", e.Status))
		return metrics.OutcomeDuplicate, nil
	}

	// --- 2. Re-validate the counterparty ---
	if e.ProviderUUID != "" && !s.validator.Validate(e.ProviderUUID) {
		return s.fail(ctx, log, e, &trust.TrustError{Subject: e.ProviderUUID})
	}

	// --- 3. pending → processed ---
	if e.Status == ledger.StatusPending {
		e, err = s.book.Transition(entryID, ledger.StatusProcessed, nil)
		if errors.Is(err, ledger.ErrInvalidTransition) {
			if e.Status.Terminal() {
				log.Debug("Entry settled concurrently", zap.Stringer("status", e.Status))
				return metrics.OutcomeDuplicate, nil
			}
		} else if err != nil {
			return "", err
		}
		s.persist(log, e, false)
	}

	// --- 4. processed → completed, applying fees under the entry lock ---
	var fb ledger.FeeBreakdown
	e, err = s.book.Transition(entryID, ledger.StatusCompleted, func(cur ledger.LedgerEntry) error {
		fb = s.fees.Compute(cur, s.domains)
		s.balances.Apply(fb, cur.ProviderUUID)
		return nil
	})
	if errors.Is(err, ledger.ErrInvalidTransition) {
		log.Debug("Entry settled concurrently", zap.Stringer("status", e.Status))
		return metrics.OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	// --- 5. Persist ---
	s.persist(log, e, true)

	// --- 6. Payer rebate ---
	if s.wallet != nil && fb.PayerRebate.IsPositive() && e.Payer != "" {
		res, err := s.wallet.Credit(ctx, e.Payer, fb.PayerRebate, e.TxID)
		switch {
		case err != nil:
			log.Error("Payer rebate failed", zap.String("payer", e.Payer), zap.Error(err))
		case !res.Success:
			log.Error("Payer rebate refused", zap.String("payer", e.Payer), zap.String("reason", res.Error))
		}
	}

	log.Info("Settled entry",
		zap.String("nodeId", fb.NodeID),
		zap.Stringer("rootFee", fb.RootFee),
		zap.Stringer("nodeFee", fb.NodeFee),
		zap.Stringer("providerFee", fb.ProviderFee))
	s.emit(ctx, log, events.TypeSettlementCompleted, e, map[string]string{
		"txId":        e.TxID,
		"nodeId":      fb.NodeID,
		"rootFee":     fb.RootFee.String(),
		"nodeFee":     fb.NodeFee.String(),
		"providerFee": fb.ProviderFee.String(),
		"rootTax":     fb.RootTax.String(),
		"nodeTax":     fb.NodeTax.String(),
		"payerRebate": fb.PayerRebate.String(),
	})
	return metrics.OutcomeCompleted, nil
}

func (s *Settler) fail(ctx context.Context, log *zap.Logger, e ledger.LedgerEntry, cause error) (string, error) {
	failed, err := s.book.Transition(e.EntryID, ledger.StatusFailed, nil)
	if errors.Is(err, ledger.ErrInvalidTransition) {
		log.Debug("Entry settled concurrently", zap.Stringer("status", failed.Status))
		return metrics.OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	log.Warn("Settlement failed", zap.Error(cause))
	s.persist(log, failed, false)
	s.emit(ctx, log, events.TypeSettlementFailed, failed, map[string]string{
		"txId":   failed.TxID,
		"reason": cause.Error(),
	})
	return metrics.OutcomeFailed, nil
}

// persist writes the entry and, when withBalances is set, the balances.
// Store failures are logged; the in-memory state stays authoritative.
func (s *Settler) persist(log *zap.Logger, e ledger.LedgerEntry, withBalances bool) {
	if s.store == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.store.SaveEntries([]ledger.LedgerEntry{e}); err != nil {
		log.Error("Persisting entry failed", zap.Stringer("status", e.Status), zap.Error(err))
	}
	if withBalances {
		if err := s.store.SaveBalances(s.balances.Snapshot()); err != nil {
			log.Error("Persisting balances failed", zap.Error(err))
		}
	}
}

func (s *Settler) emit(ctx context.Context, log *zap.Logger, typ string, e ledger.LedgerEntry, data map[string]string) {
	if err := s.publisher.Publish(ctx, events.New(typ, e.EntryID, Group, data)); err != nil {
		log.Warn("Event publish failed", zap.String("type", typ), zap.Error(err))
	}
}
