package trust

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
)

// Status is the lifecycle state of an enrolled identity in one view.
type Status int

const (
	StatusUnknown  Status = iota
	StatusActive          // enrolled and not revoked
	StatusInactive        // soft revoked, record retained
	StatusRemoved         // hard revoked, certificate deleted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Applied describes the local effect of applying one revocation.
type Applied struct {
	Subject     string
	Severity    Severity
	Removed     []string
	Deactivated []string
	// Duplicate is set when the revocation had already been applied to this
	// view; nothing changed.
	Duplicate bool
	// Superseded is set when a later reinstatement already cleared the
	// subject; nothing changed.
	Superseded bool
}

// Registry is one view of identities, certificates and revocations. The
// authority owns one; every node consumer keeps an independent clone.
type Registry struct {
	mu          sync.RWMutex
	rootUUID    string
	identities  map[string]identity.Identity
	status      map[string]Status
	certs       map[string]identity.Certificate
	revocations map[string]Revocation // revokedUUID → statement
	applied     map[string]bool       // revokedUUID → local effect done
	cleared     map[string]int64      // subjectUUID → last reinstatement, unix ms
	now         func() time.Time
}

// NewRegistry creates a view anchored at the given root identity.
func NewRegistry(root identity.Identity) *Registry {
	r := &Registry{
		rootUUID:    root.UUID,
		identities:  make(map[string]identity.Identity),
		status:      make(map[string]Status),
		certs:       make(map[string]identity.Certificate),
		revocations: make(map[string]Revocation),
		applied:     make(map[string]bool),
		cleared:     make(map[string]int64),
		now:         time.Now,
	}
	r.identities[root.UUID] = root
	r.status[root.UUID] = StatusActive
	return r
}

// SetClock replaces the time source. Used by tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}

// RootUUID returns the trust anchor of this view.
func (r *Registry) RootUUID() string { return r.rootUUID }

// Enroll adds an identity. Re-enrolling a known UUID with a different key is
// rejected; identities are immutable.
func (r *Registry) Enroll(id identity.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.identities[id.UUID]; ok {
		if !existing.PublicKey.Equal(id.PublicKey) {
			return fmt.Errorf("enroll %s: identity already exists with a different key", id.UUID)
		}
		return nil
	}
	r.identities[id.UUID] = id
	r.status[id.UUID] = StatusActive
	return nil
}

// Identity looks up an enrolled identity.
func (r *Registry) Identity(id string) (identity.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.identities[id]
	return v, ok
}

// Status returns the lifecycle state of id.
func (r *Registry) Status(id string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status[id]
}

// Certificate returns the active certificate of subject.
func (r *Registry) Certificate(subject string) (identity.Certificate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.certs[subject]
	return c, ok
}

// PutCertificate stores cert, discarding any earlier certificate of the
// same subject.
func (r *Registry) PutCertificate(cert identity.Certificate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.certs[cert.SubjectUUID] = cert
}

// AcceptCertificate stores a certificate learned from the bus. It is
// ignored when the subject was hard revoked in this view or when a newer
// certificate of the subject is already held.
func (r *Registry) AcceptCertificate(cert identity.Certificate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status[cert.SubjectUUID] == StatusRemoved {
		return false
	}
	if existing, ok := r.certs[cert.SubjectUUID]; ok && cert.IssuedAt.Before(existing.IssuedAt) {
		return false
	}
	r.certs[cert.SubjectUUID] = cert
	return true
}

// Certificates returns all active certificates sorted by subject.
func (r *Registry) Certificates() []identity.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]identity.Certificate, 0, len(r.certs))
	for _, c := range r.certs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectUUID < out[j].SubjectUUID })
	return out
}

// Revocation returns the recorded revocation of subject, if any.
func (r *Registry) Revocation(subject string) (Revocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rev, ok := r.revocations[subject]
	return rev, ok
}

// Revocations returns all recorded revocations sorted by subject.
func (r *Registry) Revocations() []Revocation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Revocation, 0, len(r.revocations))
	for _, rev := range r.revocations {
		out = append(out, rev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RevokedUUID < out[j].RevokedUUID })
	return out
}

// IsRevoked reports whether subject has a revocation in force now.
func (r *Registry) IsRevoked(subject string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isRevokedLocked(subject)
}

func (r *Registry) isRevokedLocked(subject string) bool {
	rev, ok := r.revocations[subject]
	return ok && rev.EffectiveBy(r.now())
}

// RecordRevocation stores rev unless subject already has one, in which case
// the existing statement is returned with false.
func (r *Registry) RecordRevocation(rev Revocation) (Revocation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.revocations[rev.RevokedUUID]; ok {
		return existing, false
	}
	r.revocations[rev.RevokedUUID] = rev
	return rev, true
}

// LastReinstated returns when subject was last reinstated in this view.
func (r *Registry) LastReinstated(subject string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.cleared[subject]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(at), true
}

// HasApplied reports whether the local effect of subject's revocation has
// already been carried out in this view.
func (r *Registry) HasApplied(subject string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.applied[subject]
}

// ApplyRevocation carries out rev in this view. Soft severity only marks
// the subject inactive. Hard severity deletes the certificate and, for a
// node, every certificate issued by it or belonging to its domain.
// Applying the same revocation twice is a no-op.
func (r *Registry) ApplyRevocation(rev Revocation, domains directory.Resolver) Applied {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Applied{Subject: rev.RevokedUUID, Severity: rev.Severity}
	if r.applied[rev.RevokedUUID] {
		res.Duplicate = true
		return res
	}
	if at, ok := r.cleared[rev.RevokedUUID]; ok && rev.IssuedAt.UnixMilli() <= at {
		res.Superseded = true
		return res
	}
	if _, ok := r.revocations[rev.RevokedUUID]; !ok {
		r.revocations[rev.RevokedUUID] = rev
	}
	r.applied[rev.RevokedUUID] = true

	if rev.Severity != SeverityHard {
		if r.status[rev.RevokedUUID] != StatusRemoved {
			r.status[rev.RevokedUUID] = StatusInactive
			res.Deactivated = append(res.Deactivated, rev.RevokedUUID)
		}
		return res
	}

	r.removeLocked(rev.RevokedUUID)
	res.Removed = append(res.Removed, rev.RevokedUUID)

	subject, known := r.identities[rev.RevokedUUID]
	if rev.RevokedType != RevokedNode && !(known && subject.Kind == identity.KindNode) {
		return res
	}
	var dependents []string
	for id := range r.identities {
		if id == rev.RevokedUUID || id == r.rootUUID || r.status[id] == StatusRemoved {
			continue
		}
		if c, ok := r.certs[id]; ok && c.IssuerUUID == rev.RevokedUUID {
			dependents = append(dependents, id)
			continue
		}
		if domains != nil {
			if node, ok := domains.ResolveDomain(id); ok && node == rev.RevokedUUID {
				dependents = append(dependents, id)
			}
		}
	}
	sort.Strings(dependents)
	for _, id := range dependents {
		r.removeLocked(id)
	}
	res.Removed = append(res.Removed, dependents...)
	return res
}

func (r *Registry) removeLocked(id string) {
	delete(r.certs, id)
	r.status[id] = StatusRemoved
}

// ApplyReinstatement clears a soft revocation of ri.SubjectUUID and makes the
// subject active again. Revocations issued at or before ri that arrive later
// are ignored by ApplyRevocation. A reinstatement older than the recorded
// revocation changes nothing and yields ErrNotRevoked.
func (r *Registry) ApplyReinstatement(ri Reinstatement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status[ri.SubjectUUID] == StatusRemoved {
		return ErrHardRevoked
	}
	at := ri.IssuedAt.UnixMilli()
	rev, ok := r.revocations[ri.SubjectUUID]
	if ok && rev.IssuedAt.UnixMilli() > at {
		return ErrNotRevoked
	}
	if ok && rev.Severity == SeverityHard {
		return ErrHardRevoked
	}
	if prev, seen := r.cleared[ri.SubjectUUID]; !seen || at > prev {
		r.cleared[ri.SubjectUUID] = at
	}
	if !ok {
		return ErrNotRevoked
	}
	delete(r.revocations, ri.SubjectUUID)
	delete(r.applied, ri.SubjectUUID)
	if _, ok := r.identities[ri.SubjectUUID]; ok {
		r.status[ri.SubjectUUID] = StatusActive
	}
	return nil
}

// Validate reports whether subject holds a valid certificate right now. It
// fails closed and never errors: missing certificates, revoked or inactive
// subjects, unknown issuers and bad signatures all yield false. A non-root
// issuer must itself hold a NODE certificate signed directly by the root.
func (r *Registry) Validate(subject string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cert, ok := r.certs[subject]
	if !ok || r.status[subject] != StatusActive || r.isRevokedLocked(subject) {
		return false
	}
	issuer, ok := r.identities[cert.IssuerUUID]
	if !ok || !identity.Verify(issuer.PublicKey, cert, cert.Signature) {
		return false
	}
	if cert.IssuerUUID == r.rootUUID {
		return true
	}

	issuerCert, ok := r.certs[cert.IssuerUUID]
	if !ok || issuerCert.IssuerUUID != r.rootUUID || !issuerCert.Has(identity.CapabilityNode) {
		return false
	}
	root := r.identities[r.rootUUID]
	return identity.Verify(root.PublicKey, issuerCert, issuerCert.Signature)
}

// Clone returns an independent copy of the view.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{
		rootUUID:    r.rootUUID,
		identities:  make(map[string]identity.Identity, len(r.identities)),
		status:      make(map[string]Status, len(r.status)),
		certs:       make(map[string]identity.Certificate, len(r.certs)),
		revocations: make(map[string]Revocation, len(r.revocations)),
		applied:     make(map[string]bool, len(r.applied)),
		cleared:     make(map[string]int64, len(r.cleared)),
		now:         r.now,
	}
	for k, v := range r.identities {
		c.identities[k] = v
	}
	for k, v := range r.status {
		c.status[k] = v
	}
	for k, v := range r.certs {
		c.certs[k] = v
	}
	for k, v := range r.revocations {
		c.revocations[k] = v
	}
	for k, v := range r.applied {
		c.applied[k] = v
	}
	for k, v := range r.cleared {
		c.cleared[k] = v
	}
	return c
}
