package trust

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
)

// Severity decides what applying a revocation does to the subject.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeveritySoft             // deactivate, keep the record
	SeverityHard             // remove the record and cascade
)

func (s Severity) String() string {
	switch s {
	case SeveritySoft:
		return "soft"
	case SeverityHard:
		return "hard"
	default:
		return "unknown"
	}
}

// ParseSeverity parses "soft" or "hard".
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "soft":
		return SeveritySoft, nil
	case "hard":
		return SeverityHard, nil
	}
	return SeverityUnknown, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// RevokedType names what kind of subject a revocation targets.
type RevokedType int

const (
	RevokedUnknown RevokedType = iota
	RevokedService
	RevokedProvider
	RevokedNode
)

func (t RevokedType) String() string {
	switch t {
	case RevokedService:
		return "service"
	case RevokedProvider:
		return "provider"
	case RevokedNode:
		return "node"
	default:
		return "unknown"
	}
}

// ParseRevokedType parses a revoked type. "indexer" is the legacy name for
// a node.
func ParseRevokedType(s string) (RevokedType, error) {
	switch s {
	case "service":
		return RevokedService, nil
	case "provider":
		return RevokedProvider, nil
	case "node", "indexer":
		return RevokedNode, nil
	}
	return RevokedUnknown, fmt.Errorf("unknown revoked type %q", s)
}

// IsProviderScoped reports whether the revocation targets a leaf provider or
// one of its services, the only subjects a node may revoke.
func (t RevokedType) IsProviderScoped() bool {
	return t == RevokedService || t == RevokedProvider
}

func (t RevokedType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *RevokedType) UnmarshalText(b []byte) error {
	v, err := ParseRevokedType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Revocation is a signed statement that a subject's certificate is no longer
// valid from EffectiveAt onwards. Immutable once signed.
type Revocation struct {
	RevokedUUID string
	RevokedType RevokedType
	IssuerUUID  string
	Reason      string
	IssuedAt    time.Time
	EffectiveAt time.Time
	CertHash    string
	Severity    Severity
	Metadata    map[string]string
	Signature   []byte
}

// ToBeSigned implements identity.Statement. Optional fields are omitted when
// empty so they do not change the signature of statements that lack them.
func (r Revocation) ToBeSigned() (identity.Purpose, map[string]any) {
	fields := map[string]any{
		"revokedUuid": r.RevokedUUID,
		"revokedType": r.RevokedType.String(),
		"issuerUuid":  r.IssuerUUID,
		"reason":      r.Reason,
		"issuedAt":    r.IssuedAt.UnixMilli(),
		"effectiveAt": r.EffectiveAt.UnixMilli(),
		"severity":    r.Severity.String(),
	}
	if r.CertHash != "" {
		fields["certHash"] = r.CertHash
	}
	if len(r.Metadata) > 0 {
		fields["metadata"] = r.Metadata
	}
	return identity.PurposeRevocation, fields
}

// EffectiveBy reports whether the revocation is in force at now.
func (r Revocation) EffectiveBy(now time.Time) bool {
	return !now.Before(r.EffectiveAt)
}

// Reinstatement is a signed statement clearing a soft revocation.
type Reinstatement struct {
	SubjectUUID string
	IssuerUUID  string
	IssuedAt    time.Time
	Signature   []byte
}

// ToBeSigned implements identity.Statement.
func (r Reinstatement) ToBeSigned() (identity.Purpose, map[string]any) {
	return identity.PurposeReinstatement, map[string]any{
		"subjectUuid": r.SubjectUUID,
		"issuerUuid":  r.IssuerUUID,
		"issuedAt":    r.IssuedAt.UnixMilli(),
	}
}

// Enrollment is the root's signed attestation that an identity exists with
// the given key. Views learn identities enrolled after they were cloned from
// these statements.
type Enrollment struct {
	UUID      string
	Kind      identity.Kind
	PublicKey ed25519.PublicKey
	IssuedAt  time.Time
	Signature []byte
}

// Identity returns the attested identity.
func (e Enrollment) Identity() identity.Identity {
	return identity.Identity{UUID: e.UUID, Kind: e.Kind, PublicKey: e.PublicKey}
}

// ToBeSigned implements identity.Statement.
func (e Enrollment) ToBeSigned() (identity.Purpose, map[string]any) {
	return identity.PurposeEnrollment, map[string]any{
		"uuid":      e.UUID,
		"kind":      e.Kind.String(),
		"publicKey": base64.StdEncoding.EncodeToString(e.PublicKey),
		"issuedAt":  e.IssuedAt.UnixMilli(),
	}
}
