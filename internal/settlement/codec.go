package settlement

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
)

// Request is a decoded settlement stream message. The worker settles the
// Book's copy of the entry; the remaining fields describe the entry at
// enqueue time.
type Request struct {
	EntryID      string
	TxID         string
	Payer        string
	Merchant     string
	ProviderUUID string
	ServiceType  string
	Amount       decimal.Decimal
	UsageFee     decimal.Decimal
	UsageTax     decimal.Decimal
	Fees         ledger.Fees
	Status       ledger.Status
}

// Encode flattens an entry into stream fields.
func Encode(e ledger.LedgerEntry) (map[string]string, error) {
	rawFees, err := json.Marshal(e.Fees)
	if err != nil {
		return nil, fmt.Errorf("encode fees of %s: %w", e.EntryID, err)
	}
	return map[string]string{
		"entryId":      e.EntryID,
		"txId":         e.TxID,
		"payer":        e.Payer,
		"merchant":     e.Merchant,
		"providerUuid": e.ProviderUUID,
		"serviceType":  e.ServiceType,
		"amount":       e.Amount.String(),
		"usageFee":     e.UsageFee.String(),
		"usageTax":     e.UsageTax.String(),
		"rawFees":      string(rawFees),
		"status":       e.Status.String(),
	}, nil
}

// Decode parses stream fields. Only entryId is mandatory; numeric fields
// that are present must parse.
func Decode(f map[string]string) (Request, error) {
	r := Request{
		EntryID:      f["entryId"],
		TxID:         f["txId"],
		Payer:        f["payer"],
		Merchant:     f["merchant"],
		ProviderUUID: f["providerUuid"],
		ServiceType:  f["serviceType"],
	}
	if r.EntryID == "" {
		return Request{}, errors.New("settlement message without entryId")
	}
	for key, dst := range map[string]*decimal.Decimal{
		"amount": &r.Amount, "usageFee": &r.UsageFee, "usageTax": &r.UsageTax,
	} {
		v, ok := f[key]
		if !ok || v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return Request{}, fmt.Errorf("settlement field %s: %w", key, err)
		}
		*dst = d
	}
	if raw := f["rawFees"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Fees); err != nil {
			return Request{}, fmt.Errorf("settlement field rawFees: %w", err)
		}
	}
	if s := f["status"]; s != "" {
		st, err := ledger.ParseStatus(s)
		if err != nil {
			return Request{}, err
		}
		r.Status = st
	}
	return r, nil
}
