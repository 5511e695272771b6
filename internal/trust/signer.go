package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/Strob0t/SubCtl/internal/domain/event"
)

// Signer signs events with a single Ed25519 private key.
type Signer struct {
	keyID string
	priv  ed25519.PrivateKey
}

// NewSigner wraps a private key.
func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{keyID: KeyID(pub), priv: priv}, nil
}

// NewSignerFromFile loads (or creates) the keypair at path and wraps it.
func NewSignerFromFile(path string) (*Signer, error) {
	_, priv, err := LoadOrGenerateKeyPair(path)
	if err != nil {
		return nil, err
	}
	return NewSigner(priv)
}

// KeyID returns the short identifier of the signing key.
func (s *Signer) KeyID() string {
	return s.keyID
}

// PublicKey returns the public half of the signing key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Sign stamps the event with the signer's key ID and a hex-encoded
// signature over the canonical serialization. The key ID is set before
// signing so the signature binds the key claim.
func (s *Signer) Sign(ev *event.Event) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}
	ev.KeyID = s.keyID
	msg, err := ev.Canonical()
	if err != nil {
		return err
	}
	ev.Signature = hex.EncodeToString(ed25519.Sign(s.priv, msg))
	return nil
}
