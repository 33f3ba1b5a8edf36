package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNoEd25519Backend is returned (wrapped) by GenerateKeyPair when the
// process cannot obtain cryptographically secure randomness. Per spec.md
// §9 (Open Questions), munin
// never falls back to an insecure construction (e.g. SHA-256(message ||
// private_key)) when a real Ed25519 implementation is unavailable — it
// refuses outright.
var ErrNoEd25519Backend = errors.New("crypto: no usable ed25519 backend")

// KeyPair is a freshly generated Ed25519 signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new Ed25519 key pair using the OS CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoEd25519Backend, err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// PublicKeyBase64 returns the raw 32-byte public key, base64-encoded, as
// transported on the wire per spec.md §3.
func PublicKeyBase64(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// ParsePublicKeyBase64 decodes a base64-encoded raw Ed25519 public key,
// validating its length is exactly 32 bytes.
func ParsePublicKeyBase64(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid base64 public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Sign produces a 64-byte Ed25519 signature over data, hex-encoded.
func Sign(priv ed25519.PrivateKey, data []byte) string {
	sig := ed25519.Sign(priv, data)
	return hex.EncodeToString(sig)
}

// Verify is total: it returns false for any malformed public key or
// signature instead of panicking or erroring, per spec.md §4.2.
func Verify(pub ed25519.PublicKey, data []byte, sigHex string) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
