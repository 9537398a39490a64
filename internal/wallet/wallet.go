// Package wallet is the payer wallet collaborator used by settlement to
// credit usage tax rebates.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Result is the outcome of a wallet operation.
type Result struct {
	Success bool            `json:"success"`
	Balance decimal.Decimal `json:"balance"`
	Error   string          `json:"error,omitempty"`
}

// Wallet moves funds for a payer identified by email. Operations carrying
// the same txId are applied once.
type Wallet interface {
	Debit(ctx context.Context, email string, amount decimal.Decimal, txID string) (Result, error)
	Credit(ctx context.Context, email string, amount decimal.Decimal, txID string) (Result, error)
}

// Memory is an in-process Wallet.
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	applied  map[string]Result // op:txId → first result
	logger   *zap.Logger
}

// NewMemory creates an empty wallet.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		balances: make(map[string]decimal.Decimal),
		applied:  make(map[string]Result),
		logger:   logger,
	}
}

func (m *Memory) Debit(_ context.Context, email string, amount decimal.Decimal, txID string) (Result, error) {
	return m.apply("debit", email, amount.Neg(), txID)
}

func (m *Memory) Credit(_ context.Context, email string, amount decimal.Decimal, txID string) (Result, error) {
	return m.apply("credit", email, amount, txID)
}

func (m *Memory) apply(op, email string, delta decimal.Decimal, txID string) (Result, error) {
	if email == "" || txID == "" {
		return Result{}, fmt.Errorf("wallet %s needs email and txId", op)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := op + ":" + txID
	if prev, ok := m.applied[key]; ok {
		m.logger.Debug("Wallet operation already applied", zap.String("op", op), zap.String("txId", txID))
		return prev, nil
	}
	next := m.balances[email].Add(delta)
	if next.IsNegative() {
		res := Result{Balance: m.balances[email], Error: "insufficient balance"}
		return res, nil
	}
	m.balances[email] = next
	res := Result{Success: true, Balance: next}
	m.applied[key] = res
	return res, nil
}

// Balance returns the current balance of email.
func (m *Memory) Balance(email string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[email]
}
