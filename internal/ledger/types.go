package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a LedgerEntry.
type Status int

const (
	StatusUnknown   Status = iota
	StatusPending          // created, not yet settled
	StatusProcessed        // counterparty certificate checked
	StatusCompleted        // fees distributed; terminal
	StatusFailed           // settlement refused; terminal
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessed:
		return "processed"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus parses the wire name of a status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "processed":
		return StatusProcessed, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	}
	return StatusUnknown, fmt.Errorf("unknown entry status %q", s)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// CanTransition reports whether from → to is allowed:
// pending → processed → completed, or pending/processed → failed.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusProcessed:
		return from == StatusPending
	case StatusCompleted:
		return from == StatusProcessed
	case StatusFailed:
		return from == StatusPending || from == StatusProcessed
	}
	return false
}

// Fees are explicit fee overrides. A nil field falls back to the rate in the
// FeeSchedule (or zero for the provider).
type Fees struct {
	Root     *decimal.Decimal `json:"root,omitempty"`
	Node     *decimal.Decimal `json:"node,omitempty"`
	Provider *decimal.Decimal `json:"provider,omitempty"`
}

// IsZero reports whether no override is set.
func (f Fees) IsZero() bool { return f.Root == nil && f.Node == nil && f.Provider == nil }

// FeesFromSplit reads overrides from a snapshot fee split keyed by
// "root", "node" and "provider".
func FeesFromSplit(split map[string]decimal.Decimal) Fees {
	var f Fees
	pick := func(key string) *decimal.Decimal {
		if v, ok := split[key]; ok {
			return &v
		}
		return nil
	}
	f.Root = pick("root")
	f.Node = pick("node")
	f.Provider = pick("provider")
	return f
}

// Snapshot records that a payment happened. Never mutated.
type Snapshot struct {
	ChainID   string                     `json:"chainId"`
	TxID      string                     `json:"txId"`
	Slot      uint64                     `json:"slot"`
	BlockTime time.Time                  `json:"blockTime"`
	Payer     string                     `json:"payer"`
	Merchant  string                     `json:"merchant"`
	Amount    decimal.Decimal            `json:"amount"`
	FeeSplit  map[string]decimal.Decimal `json:"feeSplit,omitempty"`
}

// LedgerEntry is the unit of settlement.
type LedgerEntry struct {
	EntryID        string            `json:"entryId"`
	TxID           string            `json:"txId"`
	Timestamp      time.Time         `json:"timestamp"`
	Payer          string            `json:"payer"`
	PayerID        string            `json:"payerId"`
	Merchant       string            `json:"merchant"`
	ProviderUUID   string            `json:"providerUuid,omitempty"`
	ServiceType    string            `json:"serviceType"`
	Amount         decimal.Decimal   `json:"amount"`
	UsageFee       decimal.Decimal   `json:"usageFee"`
	UsageTax       decimal.Decimal   `json:"usageTax"`
	Fees           Fees              `json:"fees"`
	Status         Status            `json:"status"`
	CashierID      string            `json:"cashierId,omitempty"`
	BookingDetails map[string]string `json:"bookingDetails,omitempty"`
}

// NewEntry creates a pending entry for snapshot s. Fee overrides come from
// the snapshot's fee split.
func NewEntry(s Snapshot, payerID, providerUUID, serviceType string, usageFee, usageTax decimal.Decimal) LedgerEntry {
	return LedgerEntry{
		EntryID:      uuid.NewString(),
		TxID:         s.TxID,
		Timestamp:    time.Now().UTC(),
		Payer:        s.Payer,
		PayerID:      payerID,
		Merchant:     s.Merchant,
		ProviderUUID: providerUUID,
		ServiceType:  serviceType,
		Amount:       s.Amount,
		UsageFee:     usageFee,
		UsageTax:     usageTax,
		Fees:         FeesFromSplit(s.FeeSplit),
		Status:       StatusPending,
	}
}
