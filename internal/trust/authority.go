// Package trust implements the certificate authority: issuance, validation,
// revocation and reinstatement of identities under one root with delegated
// NODE authority.
package trust

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
)

// CheckAuthority decides whether issuer may revoke (or reinstate) revoked.
// It is authorized iff the issuer is the root, the issuer revokes itself, or
// the target is provider scoped, the issuer holds an unrevoked NODE
// certificate, and the provider was certified by the issuer or currently
// resolves to the issuer's domain. Every other combination is an
// *AuthorityError. Both the signing path and every consumer call this.
func CheckAuthority(reg *Registry, domains directory.Resolver, issuer, revoked string, typ RevokedType) error {
	deny := func(reason string) error {
		return &AuthorityError{Issuer: issuer, Subject: revoked, Reason: reason}
	}

	if issuer == reg.RootUUID() {
		return nil
	}
	if issuer == revoked {
		return nil
	}
	if !typ.IsProviderScoped() {
		return deny(fmt.Sprintf("only the root may revoke a %s", typ))
	}
	if target, ok := reg.Identity(revoked); ok && (target.Kind == identity.KindNode || target.Kind == identity.KindRoot) {
		return deny(fmt.Sprintf("target is a %s, not a provider", target.Kind))
	}

	issuerCert, ok := reg.Certificate(issuer)
	if !ok || !issuerCert.Has(identity.CapabilityNode) {
		return deny("issuer holds no NODE certificate")
	}
	if reg.Status(issuer) != StatusActive || reg.IsRevoked(issuer) {
		return deny("issuer is revoked")
	}

	if cert, ok := reg.Certificate(revoked); ok && cert.IssuerUUID == issuer {
		return nil
	}
	if domains != nil {
		if node, ok := domains.ResolveDomain(revoked); ok && node == issuer {
			return nil
		}
	}
	return deny("provider is outside the issuer's domain")
}

// VerifyRevocation checks the signature of rev against the issuer key
// recorded in reg.
func VerifyRevocation(reg *Registry, rev Revocation) error {
	issuer, ok := reg.Identity(rev.IssuerUUID)
	if !ok {
		return &IntegrityError{Issuer: rev.IssuerUUID, Subject: rev.RevokedUUID, Reason: "unknown issuer"}
	}
	if !identity.Verify(issuer.PublicKey, rev, rev.Signature) {
		return &IntegrityError{Issuer: rev.IssuerUUID, Subject: rev.RevokedUUID, Reason: "bad signature"}
	}
	return nil
}

// VerifyReinstatement checks the signature of ri against the issuer key
// recorded in reg.
func VerifyReinstatement(reg *Registry, ri Reinstatement) error {
	issuer, ok := reg.Identity(ri.IssuerUUID)
	if !ok {
		return &IntegrityError{Issuer: ri.IssuerUUID, Subject: ri.SubjectUUID, Reason: "unknown issuer"}
	}
	if !identity.Verify(issuer.PublicKey, ri, ri.Signature) {
		return &IntegrityError{Issuer: ri.IssuerUUID, Subject: ri.SubjectUUID, Reason: "bad signature"}
	}
	return nil
}

// VerifyEnrollment checks that en was signed by the root of reg.
func VerifyEnrollment(reg *Registry, en Enrollment) error {
	root, _ := reg.Identity(reg.RootUUID())
	if !identity.Verify(root.PublicKey, en, en.Signature) {
		return &IntegrityError{Issuer: reg.RootUUID(), Subject: en.UUID, Reason: "bad enrollment signature"}
	}
	return nil
}

// VerifyCertificate checks the signature of cert against the issuer key
// recorded in reg.
func VerifyCertificate(reg *Registry, cert identity.Certificate) error {
	issuer, ok := reg.Identity(cert.IssuerUUID)
	if !ok {
		return &IntegrityError{Issuer: cert.IssuerUUID, Subject: cert.SubjectUUID, Reason: "unknown issuer"}
	}
	if !identity.Verify(issuer.PublicKey, cert, cert.Signature) {
		return &IntegrityError{Issuer: cert.IssuerUUID, Subject: cert.SubjectUUID, Reason: "bad signature"}
	}
	return nil
}

// CheckIssuance decides whether issuer may certify subject with caps. The
// root may certify anyone. Any other issuer needs a valid NODE certificate
// from the root, and may then certify a provider or service that resolves to
// its domain or that it certified before. Nodes never certify themselves,
// other nodes or the root, and never grant NODE.
func CheckIssuance(reg *Registry, domains directory.Resolver, issuer, subject string, caps []identity.Capability) error {
	deny := func(reason string) error {
		return &AuthorityError{Issuer: issuer, Subject: subject, Reason: reason}
	}

	if issuer == reg.RootUUID() {
		return nil
	}
	issuerCert, ok := reg.Certificate(issuer)
	if !ok || !issuerCert.Has(identity.CapabilityNode) || issuerCert.IssuerUUID != reg.RootUUID() || !reg.Validate(issuer) {
		return deny("issuer holds no valid NODE certificate")
	}
	if subject == issuer {
		return deny("nodes cannot certify themselves")
	}
	target, ok := reg.Identity(subject)
	if !ok {
		return deny("subject is not enrolled")
	}
	if target.Kind == identity.KindNode || target.Kind == identity.KindRoot {
		return deny(fmt.Sprintf("subject is a %s", target.Kind))
	}
	for _, c := range caps {
		if c == identity.CapabilityNode {
			return deny("only the root may grant NODE")
		}
	}

	if cert, ok := reg.Certificate(subject); ok && cert.IssuerUUID == issuer {
		return nil
	}
	if domains != nil {
		if node, ok := domains.ResolveDomain(subject); ok && node == issuer {
			return nil
		}
	}
	return deny("subject is outside the issuer's domain")
}

// RevokeOption customizes a revocation.
type RevokeOption func(*Revocation)

// WithEffectiveAt schedules the revocation. Times in the past mean now.
func WithEffectiveAt(t time.Time) RevokeOption {
	return func(r *Revocation) { r.EffectiveAt = t }
}

// WithMetadata attaches free-form signed metadata.
func WithMetadata(md map[string]string) RevokeOption {
	return func(r *Revocation) {
		if len(md) == 0 {
			return
		}
		r.Metadata = make(map[string]string, len(md))
		for k, v := range md {
			r.Metadata[k] = v
		}
	}
}

// Authority hosts the root signer and any enrolled signers whose keys live
// in this process, and gates every mutation of its registry.
type Authority struct {
	mu       sync.Mutex
	root     *identity.Signer
	signers  map[string]*identity.Signer
	registry *Registry
	domains  directory.Resolver
	logger   *zap.Logger
}

// NewAuthority creates an authority around root and self-signs the root
// certificate.
func NewAuthority(root *identity.Signer, domains directory.Resolver, logger *zap.Logger) (*Authority, error) {
	a := &Authority{
		root:     root,
		signers:  map[string]*identity.Signer{root.UUID(): root},
		registry: NewRegistry(root.Identity()),
		domains:  domains,
		logger:   logger,
	}
	if _, err := a.sign(root, root.UUID(), identity.NewCapabilitySet(identity.CapabilityNode)); err != nil {
		return nil, fmt.Errorf("self-sign root certificate: %w", err)
	}
	logger.Info("Trust authority ready", zap.String("root", root.UUID()))
	return a, nil
}

// Registry returns the authority's own view.
func (a *Authority) Registry() *Registry { return a.registry }

// Root returns the root identity.
func (a *Authority) Root() identity.Identity { return a.root.Identity() }

// Domains returns the resolver used for domain checks.
func (a *Authority) Domains() directory.Resolver { return a.domains }

// SetClock replaces the time source of the authority and its registry.
func (a *Authority) SetClock(now func() time.Time) { a.registry.SetClock(now) }

// Enroll creates a new identity hosted by this authority. An empty id gets
// a random UUID.
func (a *Authority) Enroll(kind identity.Kind, id string) (identity.Identity, error) {
	if kind == identity.KindRoot || kind == identity.KindUnknown {
		return identity.Identity{}, fmt.Errorf("cannot enroll identity of kind %s", kind)
	}
	if _, ok := a.registry.Identity(id); ok && id != "" {
		return identity.Identity{}, fmt.Errorf("enroll %s: already enrolled", id)
	}
	signer, err := identity.NewSigner(id, kind)
	if err != nil {
		return identity.Identity{}, err
	}
	if err := a.registry.Enroll(signer.Identity()); err != nil {
		return identity.Identity{}, err
	}
	a.mu.Lock()
	a.signers[signer.UUID()] = signer
	a.mu.Unlock()
	a.logger.Info("Enrolled identity", zap.String("uuid", signer.UUID()), zap.Stringer("kind", kind))
	return signer.Identity(), nil
}

// Signer returns the hosted signer of id.
func (a *Authority) Signer(id string) (*identity.Signer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.signers[id]
	return s, ok
}

// IssueCertificate signs a certificate for subject on behalf of issuer,
// replacing any earlier certificate. CheckIssuance decides who may certify
// whom. Consumers learn the certificate from the bus; publishing it is the
// caller's job.
func (a *Authority) IssueCertificate(issuer, subject string, caps ...identity.Capability) (identity.Certificate, error) {
	caps = identity.NewCapabilitySet(caps...)

	signer, ok := a.Signer(issuer)
	if !ok {
		return identity.Certificate{}, &AuthorityError{Issuer: issuer, Subject: subject, Reason: "issuer key is not held by this authority"}
	}
	if _, ok := a.registry.Identity(subject); !ok {
		return identity.Certificate{}, fmt.Errorf("issue certificate for %s: %w", subject, ErrUnknownIdentity)
	}
	if a.registry.Status(subject) == StatusRemoved {
		return identity.Certificate{}, fmt.Errorf("issue certificate for %s: %w", subject, ErrHardRevoked)
	}
	if err := CheckIssuance(a.registry, a.domains, issuer, subject, caps); err != nil {
		a.logger.Warn("Rejected certificate",
			zap.String("issuer", issuer), zap.String("subject", subject), zap.Error(err))
		return identity.Certificate{}, err
	}

	cert, err := a.sign(signer, subject, caps)
	if err != nil {
		return identity.Certificate{}, err
	}
	a.logger.Info("Issued certificate",
		zap.String("subject", subject), zap.String("issuer", issuer), zap.Int("capabilities", len(caps)))
	return cert, nil
}

// Attest returns a root-signed Enrollment of an enrolled identity, for
// consumers whose view predates the enrollment.
func (a *Authority) Attest(id string) (Enrollment, error) {
	ident, ok := a.registry.Identity(id)
	if !ok {
		return Enrollment{}, fmt.Errorf("attest %s: %w", id, ErrUnknownIdentity)
	}
	en := Enrollment{UUID: ident.UUID, Kind: ident.Kind, PublicKey: ident.PublicKey, IssuedAt: a.registry.Now()}
	sig, err := a.root.Sign(en)
	if err != nil {
		return Enrollment{}, fmt.Errorf("sign enrollment: %w", err)
	}
	en.Signature = sig
	return en, nil
}

func (a *Authority) sign(signer *identity.Signer, subject string, caps []identity.Capability) (identity.Certificate, error) {
	cert := identity.Certificate{
		SubjectUUID:  subject,
		IssuerUUID:   signer.UUID(),
		Capabilities: caps,
		IssuedAt:     a.registry.Now(),
	}
	sig, err := signer.Sign(cert)
	if err != nil {
		return identity.Certificate{}, fmt.Errorf("sign certificate: %w", err)
	}
	cert.Signature = sig
	a.registry.PutCertificate(cert)
	return cert, nil
}

// Validate reports whether subject currently holds a valid certificate.
func (a *Authority) Validate(subject string) bool { return a.registry.Validate(subject) }

// Revoke signs a revocation of subject by issuer. Authority is checked
// before signing. If subject is already revoked, the existing statement is
// returned. The statement is recorded locally so Validate reflects it once
// effective; publishing it to the bus is the caller's job.
func (a *Authority) Revoke(issuer, subject string, typ RevokedType, sev Severity, reason string, opts ...RevokeOption) (Revocation, error) {
	if sev == SeverityUnknown {
		return Revocation{}, fmt.Errorf("revoke %s: severity is required", subject)
	}
	if _, ok := a.registry.Identity(subject); !ok {
		return Revocation{}, fmt.Errorf("revoke %s: %w", subject, ErrUnknownIdentity)
	}
	if err := CheckAuthority(a.registry, a.domains, issuer, subject, typ); err != nil {
		a.logger.Warn("Rejected revocation",
			zap.String("issuer", issuer), zap.String("subject", subject), zap.Error(err))
		return Revocation{}, err
	}
	if existing, ok := a.registry.Revocation(subject); ok {
		a.logger.Debug("Subject already revoked", zap.String("subject", subject))
		return existing, nil
	}

	signer, ok := a.Signer(issuer)
	if !ok {
		return Revocation{}, &AuthorityError{Issuer: issuer, Subject: subject, Reason: "issuer key is not held by this authority"}
	}

	now := a.registry.Now()
	issuedAt := now
	// A revocation must sort after the reinstatement it follows, even when
	// both are signed within the same millisecond.
	if at, ok := a.registry.LastReinstated(subject); ok && issuedAt.UnixMilli() <= at.UnixMilli() {
		issuedAt = at.Add(time.Millisecond)
	}
	rev := Revocation{
		RevokedUUID: subject,
		RevokedType: typ,
		IssuerUUID:  issuer,
		Reason:      reason,
		IssuedAt:    issuedAt,
		Severity:    sev,
	}
	for _, opt := range opts {
		opt(&rev)
	}
	if rev.EffectiveAt.Before(now) {
		rev.EffectiveAt = now
	}
	if cert, ok := a.registry.Certificate(subject); ok {
		h, err := cert.Hash()
		if err != nil {
			return Revocation{}, fmt.Errorf("hash certificate of %s: %w", subject, err)
		}
		rev.CertHash = h
	}

	sig, err := signer.Sign(rev)
	if err != nil {
		return Revocation{}, fmt.Errorf("sign revocation: %w", err)
	}
	rev.Signature = sig

	recorded, fresh := a.registry.RecordRevocation(rev)
	if fresh {
		a.logger.Info("Signed revocation",
			zap.String("subject", subject), zap.String("issuer", issuer),
			zap.Stringer("severity", sev), zap.Time("effectiveAt", rev.EffectiveAt))
	}
	return recorded, nil
}

// Reinstate clears a soft revocation of subject and signs a Reinstatement
// for the bus. The same authority rule as revocation applies, except that a
// subject may not reinstate itself. Hard revoked subjects must re-enroll.
func (a *Authority) Reinstate(issuer, subject string) (Reinstatement, error) {
	rev, ok := a.registry.Revocation(subject)
	if !ok {
		if a.registry.Status(subject) == StatusRemoved {
			return Reinstatement{}, fmt.Errorf("reinstate %s: %w", subject, ErrHardRevoked)
		}
		return Reinstatement{}, fmt.Errorf("reinstate %s: %w", subject, ErrNotRevoked)
	}
	if rev.Severity == SeverityHard {
		return Reinstatement{}, fmt.Errorf("reinstate %s: %w", subject, ErrHardRevoked)
	}
	if issuer == subject && issuer != a.root.UUID() {
		return Reinstatement{}, &AuthorityError{Issuer: issuer, Subject: subject, Reason: "cannot reinstate itself"}
	}
	if err := CheckAuthority(a.registry, a.domains, issuer, subject, rev.RevokedType); err != nil {
		return Reinstatement{}, err
	}
	signer, ok := a.Signer(issuer)
	if !ok {
		return Reinstatement{}, &AuthorityError{Issuer: issuer, Subject: subject, Reason: "issuer key is not held by this authority"}
	}

	issuedAt := a.registry.Now()
	if issuedAt.UnixMilli() < rev.IssuedAt.UnixMilli() {
		issuedAt = time.UnixMilli(rev.IssuedAt.UnixMilli())
	}
	ri := Reinstatement{SubjectUUID: subject, IssuerUUID: issuer, IssuedAt: issuedAt}
	sig, err := signer.Sign(ri)
	if err != nil {
		return Reinstatement{}, fmt.Errorf("sign reinstatement: %w", err)
	}
	ri.Signature = sig
	if err := a.registry.ApplyReinstatement(ri); err != nil {
		return Reinstatement{}, fmt.Errorf("reinstate %s: %w", subject, err)
	}
	a.logger.Info("Reinstated identity", zap.String("subject", subject), zap.String("issuer", issuer))
	return ri, nil
}
