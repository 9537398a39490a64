// Package identity defines participant identities, their signing keys and the
// certificates that bind a subject to a capability set.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Kind is the role of a participant in the economy.
type Kind int

const (
	KindUnknown  Kind = iota
	KindRoot          // the single trust anchor
	KindNode          // domain holder with delegated authority
	KindProvider      // leaf service provider
	KindService       // a service offered by a provider
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "ROOT"
	case KindNode:
		return "NODE"
	case KindProvider:
		return "PROVIDER"
	case KindService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// ParseKind converts the wire name of a kind back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ROOT":
		return KindRoot, nil
	case "NODE":
		return KindNode, nil
	case "PROVIDER":
		return KindProvider, nil
	case "SERVICE":
		return KindService, nil
	}
	return KindUnknown, fmt.Errorf("unknown identity kind %q", s)
}

// Identity is the public half of a participant. Immutable after creation.
type Identity struct {
	UUID      string
	Kind      Kind
	PublicKey ed25519.PublicKey
}

// Signer holds the private signing material of one identity. It never leaves
// the process that owns it.
type Signer struct {
	identity Identity
	key      ed25519.PrivateKey
}

// NewSigner creates a fresh identity of the given kind. An empty id is
// replaced by a random UUID.
func NewSigner(id string, kind Kind) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Signer{
		identity: Identity{UUID: id, Kind: kind, PublicKey: pub},
		key:      priv,
	}, nil
}

// NewSignerFromSeed derives a deterministic identity from a 32-byte seed.
func NewSignerFromSeed(id string, kind Kind, seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	if id == "" {
		id = uuid.NewString()
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		identity: Identity{UUID: id, Kind: kind, PublicKey: priv.Public().(ed25519.PublicKey)},
		key:      priv,
	}, nil
}

// Identity returns the public identity of the signer.
func (s *Signer) Identity() Identity { return s.identity }

// UUID returns the identifier of the signer.
func (s *Signer) UUID() string { return s.identity.UUID }

// Sign signs the domain-separated canonical form of st.
func (s *Signer) Sign(st Statement) ([]byte, error) {
	msg, err := SigningBytes(st)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(s.key, msg), nil
}
