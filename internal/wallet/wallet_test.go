package wallet_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/wallet"
)

func TestCreditIsIdempotentByTx(t *testing.T) {
	ctx := context.Background()
	w := wallet.NewMemory(zap.NewNop())

	res, err := w.Credit(ctx, "alice@example.com", decimal.RequireFromString("0.2"), "tx1")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = w.Credit(ctx, "alice@example.com", decimal.RequireFromString("0.2"), "tx1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0.2", w.Balance("alice@example.com").String())
}

func TestDebitRefusesOverdraft(t *testing.T) {
	ctx := context.Background()
	w := wallet.NewMemory(zap.NewNop())
	_, err := w.Credit(ctx, "bob@example.com", decimal.NewFromInt(5), "tx1")
	require.NoError(t, err)

	res, err := w.Debit(ctx, "bob@example.com", decimal.NewFromInt(7), "tx2")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.True(t, decimal.NewFromInt(5).Equal(w.Balance("bob@example.com")))

	res, err = w.Debit(ctx, "bob@example.com", decimal.NewFromInt(3), "tx3")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, decimal.NewFromInt(2).Equal(res.Balance))

	_, err = w.Credit(ctx, "", decimal.NewFromInt(1), "tx4")
	assert.Error(t, err)
}
