package trust

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownIdentity is returned when a UUID has never been enrolled.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrHardRevoked is returned for subjects whose record was removed by a
	// hard revocation. They must re-enroll under a new identity.
	ErrHardRevoked = errors.New("identity was hard revoked")
	// ErrNotRevoked is returned when reinstating a subject with no revocation.
	ErrNotRevoked = errors.New("identity is not revoked")
)

// AuthorityError rejects an issuance or revocation the issuer is not
// entitled to make. It is raised before anything is signed.
type AuthorityError struct {
	Issuer  string
	Subject string
	Reason  string
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("authority: %s may not act on %s: %s", e.Issuer, e.Subject, e.Reason)
}

// IntegrityError marks a received statement whose signature or issuer could
// not be verified. Such statements can never become valid.
type IntegrityError struct {
	Issuer  string
	Subject string
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: statement by %s about %s: %s", e.Issuer, e.Subject, e.Reason)
}

// TrustError is raised when a counterparty certificate is not valid at the
// moment it is relied upon.
type TrustError struct {
	Subject string
}

func (e *TrustError) Error() string {
	return fmt.Sprintf("trust: certificate of %s is not valid", e.Subject)
}
