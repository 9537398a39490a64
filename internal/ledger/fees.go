package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
)

// UnassignedNode receives node fees when the provider's domain is unknown.
const UnassignedNode = "unassigned"

// FeeSchedule holds the fee rates and usage tax shares. Configuration, not
// logic; the tax shares must sum to exactly one.
type FeeSchedule struct {
	RootRate      decimal.Decimal
	NodeRate      decimal.Decimal
	TaxShareRoot  decimal.Decimal
	TaxShareNode  decimal.Decimal
	TaxSharePayer decimal.Decimal
}

// DefaultFeeSchedule returns the standard rates.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		RootRate:      decimal.RequireFromString("0.02"),
		NodeRate:      decimal.RequireFromString("0.005"),
		TaxShareRoot:  decimal.RequireFromString("0.5"),
		TaxShareNode:  decimal.RequireFromString("0.3"),
		TaxSharePayer: decimal.RequireFromString("0.2"),
	}
}

// Validate checks that rates and shares are non-negative and that the tax
// shares sum to exactly one.
func (s FeeSchedule) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"rootRate": s.RootRate, "nodeRate": s.NodeRate,
		"taxShareRoot": s.TaxShareRoot, "taxShareNode": s.TaxShareNode, "taxSharePayer": s.TaxSharePayer,
	} {
		if v.IsNegative() {
			return fmt.Errorf("fee schedule: %s is negative", name)
		}
	}
	sum := s.TaxShareRoot.Add(s.TaxShareNode).Add(s.TaxSharePayer)
	if !sum.Equal(decimal.NewFromInt(1)) {
		return errors.New("fee schedule: tax shares sum to " + sum.String() + ", want 1")
	}
	return nil
}

// FeeBreakdown is the result of settling one entry.
type FeeBreakdown struct {
	NodeID      string          `json:"nodeId"`
	RootFee     decimal.Decimal `json:"rootFee"`
	NodeFee     decimal.Decimal `json:"nodeFee"`
	ProviderFee decimal.Decimal `json:"providerFee"`
	RootTax     decimal.Decimal `json:"rootTax"`
	NodeTax     decimal.Decimal `json:"nodeTax"`
	// PayerRebate is not applied to the Balance Ledger; the caller credits
	// it to the payer's wallet.
	PayerRebate decimal.Decimal `json:"payerRebate"`
}

// Compute splits the fees of e. The node is the provider's current domain,
// or UnassignedNode when it cannot be resolved.
func (s FeeSchedule) Compute(e LedgerEntry, domains directory.Resolver) FeeBreakdown {
	fb := FeeBreakdown{NodeID: UnassignedNode}
	if e.ProviderUUID != "" && domains != nil {
		if node, ok := domains.ResolveDomain(e.ProviderUUID); ok && node != "" {
			fb.NodeID = node
		}
	}

	fb.RootFee = e.UsageFee.Mul(s.RootRate)
	if e.Fees.Root != nil {
		fb.RootFee = *e.Fees.Root
	}
	fb.NodeFee = e.UsageFee.Mul(s.NodeRate)
	if e.Fees.Node != nil {
		fb.NodeFee = *e.Fees.Node
	}
	if e.ProviderUUID != "" && e.Fees.Provider != nil {
		fb.ProviderFee = *e.Fees.Provider
	}
	if e.UsageTax.IsPositive() {
		fb.RootTax = e.UsageTax.Mul(s.TaxShareRoot)
		fb.NodeTax = e.UsageTax.Mul(s.TaxShareNode)
		fb.PayerRebate = e.UsageTax.Mul(s.TaxSharePayer)
	}
	return fb
}
