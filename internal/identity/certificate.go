package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Capability is a named permission embedded in a certificate.
type Capability string

// CapabilityNode grants delegated issuance and revocation authority.
const CapabilityNode Capability = "NODE"

// Certificate binds a subject to a capability set, signed by its issuer.
type Certificate struct {
	SubjectUUID  string
	IssuerUUID   string
	Capabilities []Capability
	IssuedAt     time.Time
	Signature    []byte
}

// NewCapabilitySet returns caps sorted and without duplicates.
func NewCapabilitySet(caps ...Capability) []Capability {
	seen := make(map[Capability]struct{}, len(caps))
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether the certificate carries capability c.
func (c Certificate) Has(capability Capability) bool {
	for _, have := range c.Capabilities {
		if have == capability {
			return true
		}
	}
	return false
}

// ToBeSigned implements Statement. Capabilities are sorted so the set, not
// its order, is what gets signed.
func (c Certificate) ToBeSigned() (Purpose, map[string]any) {
	caps := make([]string, 0, len(c.Capabilities))
	for _, cp := range NewCapabilitySet(c.Capabilities...) {
		caps = append(caps, string(cp))
	}
	return PurposeCertificate, map[string]any{
		"subjectUuid":  c.SubjectUUID,
		"issuerUuid":   c.IssuerUUID,
		"capabilities": caps,
		"issuedAt":     c.IssuedAt.UnixMilli(),
	}
}

// Hash is the hex SHA-256 of the certificate's signing bytes. Revocations
// carry it to pin the exact certificate they were issued against.
func (c Certificate) Hash() (string, error) {
	msg, err := SigningBytes(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(msg)
	return hex.EncodeToString(sum[:]), nil
}
