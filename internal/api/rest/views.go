package rest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/trust"
)

type identityView struct {
	UUID      string `json:"uuid"`
	Kind      string `json:"kind"`
	PublicKey []byte `json:"publicKey"`
	Status    string `json:"status,omitempty"`
}

func newIdentityView(id identity.Identity, status trust.Status) identityView {
	v := identityView{UUID: id.UUID, Kind: id.Kind.String(), PublicKey: id.PublicKey}
	if status != trust.StatusUnknown {
		v.Status = status.String()
	}
	return v
}

type certificateView struct {
	SubjectUUID  string                `json:"subjectUuid"`
	IssuerUUID   string                `json:"issuerUuid"`
	Capabilities []identity.Capability `json:"capabilities"`
	IssuedAt     time.Time             `json:"issuedAt"`
	Signature    []byte                `json:"signature"`
	Valid        bool                  `json:"valid"`
}

func newCertificateView(c identity.Certificate, valid bool) certificateView {
	return certificateView{
		SubjectUUID:  c.SubjectUUID,
		IssuerUUID:   c.IssuerUUID,
		Capabilities: c.Capabilities,
		IssuedAt:     c.IssuedAt,
		Signature:    c.Signature,
		Valid:        valid,
	}
}

type revocationView struct {
	RevokedUUID string            `json:"revokedUuid"`
	RevokedType trust.RevokedType `json:"revokedType"`
	IssuerUUID  string            `json:"issuerUuid"`
	Reason      string            `json:"reason"`
	IssuedAt    time.Time         `json:"issuedAt"`
	EffectiveAt time.Time         `json:"effectiveAt"`
	CertHash    string            `json:"certHash,omitempty"`
	Severity    trust.Severity    `json:"severity"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Signature   []byte            `json:"signature"`
}

func newRevocationView(r trust.Revocation) revocationView {
	return revocationView{
		RevokedUUID: r.RevokedUUID,
		RevokedType: r.RevokedType,
		IssuerUUID:  r.IssuerUUID,
		Reason:      r.Reason,
		IssuedAt:    r.IssuedAt,
		EffectiveAt: r.EffectiveAt,
		CertHash:    r.CertHash,
		Severity:    r.Severity,
		Metadata:    r.Metadata,
		Signature:   r.Signature,
	}
}

type enrollRequest struct {
	Kind string `json:"kind" binding:"required"`
	ID   string `json:"id"`
}

type issueRequest struct {
	Issuer       string                `json:"issuer" binding:"required"`
	Subject      string                `json:"subject" binding:"required"`
	Capabilities []identity.Capability `json:"capabilities"`
}

type revokeRequest struct {
	Issuer      string            `json:"issuer" binding:"required"`
	Subject     string            `json:"subject" binding:"required"`
	Type        trust.RevokedType `json:"type"`
	Severity    trust.Severity    `json:"severity"`
	Reason      string            `json:"reason"`
	EffectiveAt *time.Time        `json:"effectiveAt"`
	Metadata    map[string]string `json:"metadata"`
}

type reinstateRequest struct {
	Issuer  string `json:"issuer" binding:"required"`
	Subject string `json:"subject" binding:"required"`
}

type settlementRequest struct {
	Snapshot     ledger.Snapshot   `json:"snapshot"`
	PayerID      string            `json:"payerId"`
	ProviderUUID string            `json:"providerUuid"`
	ServiceType  string            `json:"serviceType"`
	UsageFee     decimal.Decimal   `json:"usageFee"`
	UsageTax     decimal.Decimal   `json:"usageTax"`
	CashierID    string            `json:"cashierId"`
	Booking      map[string]string `json:"bookingDetails"`
}

type assignRequest struct {
	NodeID string `json:"nodeId" binding:"required"`
}
