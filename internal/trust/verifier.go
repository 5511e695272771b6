package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/event"
)

// TrustedKey is one entry of the verifier's trust set. Expires is
// optional; the zero value means the key never expires.
type TrustedKey struct {
	ID      string
	Key     ed25519.PublicKey
	Expires time.Time
}

// TrustedKeyFromHex builds a TrustedKey from a hex-encoded public key.
// When id is empty the key's derived short identifier is used.
func TrustedKeyFromHex(id, hexKey string, expires time.Time) (TrustedKey, error) {
	pub, err := ParsePublicKey(hexKey)
	if err != nil {
		return TrustedKey{}, err
	}
	if id == "" {
		id = KeyID(pub)
	}
	return TrustedKey{ID: id, Key: pub, Expires: expires}, nil
}

// Verifier checks event signatures against a fixed set of trusted keys.
// The set is immutable for the verifier's lifetime; rotation means
// building a new verifier from fresh configuration.
//
// Verification fails closed: an event with no signature, an unknown or
// revoked key, an expired key, or a signature that does not verify is
// rejected. An empty trust set rejects every event.
type Verifier struct {
	keys    map[string]TrustedKey
	revoked map[string]bool
	now     func() time.Time
	log     *slog.Logger
}

// NewVerifier builds a verifier from the trusted key set and the list
// of revoked key IDs. An empty set is legal but operationally suspect,
// so it logs a warning.
func NewVerifier(keys []TrustedKey, revoked []string, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	v := &Verifier{
		keys:    make(map[string]TrustedKey, len(keys)),
		revoked: make(map[string]bool, len(revoked)),
		now:     time.Now,
		log:     log,
	}
	for _, k := range keys {
		v.keys[k.ID] = k
	}
	for _, id := range revoked {
		v.revoked[id] = true
	}
	if len(v.keys) == 0 {
		log.Warn("trust set is empty, every event will be rejected")
	}
	return v
}

// TrustedCount returns the number of keys in the trust set.
func (v *Verifier) TrustedCount() int {
	return len(v.keys)
}

// IsRevoked reports whether a key ID has been revoked.
func (v *Verifier) IsRevoked(id string) bool {
	return v.revoked[id]
}

// Verify checks the event's signature against the trust set. All
// failures wrap domain.ErrRejected so callers can count rejections
// with a single errors.Is.
func (v *Verifier) Verify(ev *event.Event) error {
	if ev == nil {
		return fmt.Errorf("nil event: %w", domain.ErrRejected)
	}
	if ev.Signature == "" {
		return fmt.Errorf("event %s is unsigned: %w", ev.ID, domain.ErrRejected)
	}
	if ev.KeyID == "" {
		return fmt.Errorf("event %s has no key id: %w", ev.ID, domain.ErrRejected)
	}
	if v.revoked[ev.KeyID] {
		return fmt.Errorf("key %s is revoked: %w", ev.KeyID, domain.ErrRejected)
	}
	tk, ok := v.keys[ev.KeyID]
	if !ok {
		return fmt.Errorf("key %s is not trusted: %w", ev.KeyID, domain.ErrRejected)
	}
	if !tk.Expires.IsZero() && v.now().After(tk.Expires) {
		return fmt.Errorf("key %s expired at %s: %w", ev.KeyID, tk.Expires.Format(time.RFC3339), domain.ErrRejected)
	}

	sig, err := hex.DecodeString(ev.Signature)
	if err != nil {
		return fmt.Errorf("event %s signature is not valid hex: %w", ev.ID, domain.ErrRejected)
	}
	msg, err := ev.Canonical()
	if err != nil {
		return fmt.Errorf("event %s: %v: %w", ev.ID, err, domain.ErrRejected)
	}
	if !ed25519.Verify(tk.Key, msg, sig) {
		return fmt.Errorf("event %s signature verification failed: %w", ev.ID, domain.ErrRejected)
	}
	return nil
}
