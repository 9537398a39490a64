// Package revocation carries signed trust statements over an append-only
// stream and applies them, effective-time aware, to each consumer's local
// view. Besides revocations and reinstatements the bus carries enrollments
// and certificates, so views cloned at startup learn what came later.
package revocation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/trust"
)

// Kind tells revocations and reinstatements apart on the bus.
type Kind string

const (
	KindRevocation    Kind = "revocation"
	KindReinstatement Kind = "reinstatement"
	KindEnrollment    Kind = "enrollment"
	KindCertificate   Kind = "certificate"
)

// Statement is one decoded bus message. Exactly one of the payloads is set,
// according to Kind.
type Statement struct {
	Kind          Kind
	Revocation    trust.Revocation
	Reinstatement trust.Reinstatement
	Enrollment    trust.Enrollment
	Certificate   identity.Certificate
}

// EncodeRevocation flattens rev into stream fields.
func EncodeRevocation(rev trust.Revocation) (map[string]string, error) {
	f := map[string]string{
		"kind":        string(KindRevocation),
		"revokedUuid": rev.RevokedUUID,
		"revokedType": rev.RevokedType.String(),
		"issuerUuid":  rev.IssuerUUID,
		"reason":      rev.Reason,
		"issuedAt":    strconv.FormatInt(rev.IssuedAt.UnixMilli(), 10),
		"effectiveAt": strconv.FormatInt(rev.EffectiveAt.UnixMilli(), 10),
		"severity":    rev.Severity.String(),
		"signature":   base64.StdEncoding.EncodeToString(rev.Signature),
	}
	if rev.CertHash != "" {
		f["certHash"] = rev.CertHash
	}
	if len(rev.Metadata) > 0 {
		md, err := json.Marshal(rev.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		f["metadata"] = string(md)
	}
	return f, nil
}

// EncodeReinstatement flattens ri into stream fields.
func EncodeReinstatement(ri trust.Reinstatement) map[string]string {
	return map[string]string{
		"kind":        string(KindReinstatement),
		"subjectUuid": ri.SubjectUUID,
		"issuerUuid":  ri.IssuerUUID,
		"issuedAt":    strconv.FormatInt(ri.IssuedAt.UnixMilli(), 10),
		"signature":   base64.StdEncoding.EncodeToString(ri.Signature),
	}
}

// EncodeEnrollment flattens en into stream fields.
func EncodeEnrollment(en trust.Enrollment) map[string]string {
	return map[string]string{
		"kind":      string(KindEnrollment),
		"uuid":      en.UUID,
		"idKind":    en.Kind.String(),
		"publicKey": base64.StdEncoding.EncodeToString(en.PublicKey),
		"issuedAt":  strconv.FormatInt(en.IssuedAt.UnixMilli(), 10),
		"signature": base64.StdEncoding.EncodeToString(en.Signature),
	}
}

// EncodeCertificate flattens cert into stream fields.
func EncodeCertificate(cert identity.Certificate) map[string]string {
	caps := make([]string, 0, len(cert.Capabilities))
	for _, c := range cert.Capabilities {
		caps = append(caps, string(c))
	}
	return map[string]string{
		"kind":         string(KindCertificate),
		"subjectUuid":  cert.SubjectUUID,
		"issuerUuid":   cert.IssuerUUID,
		"capabilities": strings.Join(caps, ","),
		"issuedAt":     strconv.FormatInt(cert.IssuedAt.UnixMilli(), 10),
		"signature":    base64.StdEncoding.EncodeToString(cert.Signature),
	}
}

// Decode parses stream fields produced by one of the Encode functions.
// Signatures are not checked here.
func Decode(f map[string]string) (Statement, error) {
	switch Kind(f["kind"]) {
	case KindRevocation:
		rev, err := decodeRevocation(f)
		return Statement{Kind: KindRevocation, Revocation: rev}, err
	case KindReinstatement:
		ri, err := decodeReinstatement(f)
		return Statement{Kind: KindReinstatement, Reinstatement: ri}, err
	case KindEnrollment:
		en, err := decodeEnrollment(f)
		return Statement{Kind: KindEnrollment, Enrollment: en}, err
	case KindCertificate:
		cert, err := decodeCertificate(f)
		return Statement{Kind: KindCertificate, Certificate: cert}, err
	}
	return Statement{}, fmt.Errorf("unknown statement kind %q", f["kind"])
}

func decodeRevocation(f map[string]string) (trust.Revocation, error) {
	var (
		rev trust.Revocation
		err error
	)
	if rev.RevokedUUID, err = required(f, "revokedUuid"); err != nil {
		return rev, err
	}
	if rev.IssuerUUID, err = required(f, "issuerUuid"); err != nil {
		return rev, err
	}
	if rev.RevokedType, err = trust.ParseRevokedType(f["revokedType"]); err != nil {
		return rev, err
	}
	if rev.Severity, err = trust.ParseSeverity(f["severity"]); err != nil {
		return rev, err
	}
	if rev.IssuedAt, err = millis(f, "issuedAt"); err != nil {
		return rev, err
	}
	if rev.EffectiveAt, err = millis(f, "effectiveAt"); err != nil {
		return rev, err
	}
	if rev.Signature, err = signature(f); err != nil {
		return rev, err
	}
	rev.Reason = f["reason"]
	rev.CertHash = f["certHash"]
	if md := f["metadata"]; md != "" {
		if err := json.Unmarshal([]byte(md), &rev.Metadata); err != nil {
			return rev, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rev, nil
}

func decodeReinstatement(f map[string]string) (trust.Reinstatement, error) {
	var (
		ri  trust.Reinstatement
		err error
	)
	if ri.SubjectUUID, err = required(f, "subjectUuid"); err != nil {
		return ri, err
	}
	if ri.IssuerUUID, err = required(f, "issuerUuid"); err != nil {
		return ri, err
	}
	if ri.IssuedAt, err = millis(f, "issuedAt"); err != nil {
		return ri, err
	}
	ri.Signature, err = signature(f)
	return ri, err
}

func decodeEnrollment(f map[string]string) (trust.Enrollment, error) {
	var (
		en  trust.Enrollment
		err error
	)
	if en.UUID, err = required(f, "uuid"); err != nil {
		return en, err
	}
	if en.Kind, err = identity.ParseKind(f["idKind"]); err != nil {
		return en, err
	}
	key, err := required(f, "publicKey")
	if err != nil {
		return en, err
	}
	if en.PublicKey, err = base64.StdEncoding.DecodeString(key); err != nil {
		return en, fmt.Errorf("field \"publicKey\": %w", err)
	}
	if en.IssuedAt, err = millis(f, "issuedAt"); err != nil {
		return en, err
	}
	en.Signature, err = signature(f)
	return en, err
}

func decodeCertificate(f map[string]string) (identity.Certificate, error) {
	var (
		cert identity.Certificate
		err  error
	)
	if cert.SubjectUUID, err = required(f, "subjectUuid"); err != nil {
		return cert, err
	}
	if cert.IssuerUUID, err = required(f, "issuerUuid"); err != nil {
		return cert, err
	}
	if caps := f["capabilities"]; caps != "" {
		for _, c := range strings.Split(caps, ",") {
			cert.Capabilities = append(cert.Capabilities, identity.Capability(c))
		}
	}
	cert.Capabilities = identity.NewCapabilitySet(cert.Capabilities...)
	if cert.IssuedAt, err = millis(f, "issuedAt"); err != nil {
		return cert, err
	}
	cert.Signature, err = signature(f)
	return cert, err
}

func required(f map[string]string, key string) (string, error) {
	v := f[key]
	if v == "" {
		return "", fmt.Errorf("missing field %q", key)
	}
	return v, nil
}

func millis(f map[string]string, key string) (time.Time, error) {
	v, err := required(f, key)
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %q: %w", key, err)
	}
	return time.UnixMilli(ms), nil
}

func signature(f map[string]string) ([]byte, error) {
	v, err := required(f, "signature")
	if err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("field \"signature\": %w", err)
	}
	return sig, nil
}
