package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SessionTokenBytes is the raw entropy length of a session bearer token
// before it is base64-encoded for transport.
const SessionTokenBytes = 32

// NewSessionToken generates a random 32-byte bearer token, returned as a
// URL-safe base64 string. The raw token is only ever held in memory and
// returned to the caller once; it is never persisted.
func NewSessionToken() (string, error) {
	raw := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("crypto: failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashSessionToken computes HMAC-SHA-256(secret, token) in lowercase hex.
// This, not the raw token, is what storage persists: spec.md §4.2 property
// 7 requires that a database read alone never yields a usable session.
func HashSessionToken(secret []byte, rawToken string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(rawToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySessionToken recomputes the HMAC and compares it against the
// stored hash in constant time.
func VerifySessionToken(secret []byte, rawToken, storedHash string) bool {
	computed := HashSessionToken(secret, rawToken)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// NewSessionSecret generates a fresh process-lifetime HMAC secret, used
// when SESSION_SECRET is absent at startup (spec.md §4.2).
func NewSessionSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate session secret: %w", err)
	}
	return secret, nil
}
