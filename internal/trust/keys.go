// Package trust provides Ed25519 signing and verification for agent
// events. Producers sign the canonical event form with a private key;
// the orchestrator verifies against a configured set of trusted public
// keys and rejects everything it cannot attribute.
package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
)

// KeyID returns the first 8 bytes of a public key encoded as
// 16-character lowercase hexadecimal. This is the key's short
// identifier carried on signed events.
func KeyID(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub[:8])
}

// ParsePublicKey decodes a hex-encoded 32-byte Ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key: expected %d bytes, got %d", ed25519.PublicKeySize, len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}

// LoadOrGenerateKeyPair loads an Ed25519 keypair from path, or
// generates a new one and saves it if the file doesn't exist. The file
// format is the 64-byte Ed25519 private key (which contains the public
// key in its last 32 bytes).
func LoadOrGenerateKeyPair(path string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, nil, fmt.Errorf("invalid key file %s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(data))
		}
		priv := ed25519.PrivateKey(data)
		pub := priv.Public().(ed25519.PublicKey)
		return pub, priv, nil
	}

	if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("read key file: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}

	if err := os.WriteFile(path, []byte(priv), 0600); err != nil {
		return nil, nil, fmt.Errorf("write key file: %w", err)
	}

	return pub, priv, nil
}
