// Package crypto provides the hash, signature, password, and session-token
// primitives the rest of munin's core is built on (spec component C2).
//
// All primitives are free of side channels on their success paths beyond
// those inherent to the underlying standard library / x/crypto
// implementations.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/jacobsprake/munin/pkg/canonical"
)

// Digest returns the lowercase-hex SHA-256 digest of raw bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestConcat hashes a||sep||b: UTF-8 bytes of a, then sep, then UTF-8
// bytes of b. The audit log and packet chains pass sep = ":" (a literal
// ASCII colon); the Merkle export passes an empty sep. Never use structural
// serialization of a (a, b) tuple for this purpose — the byte-exact rule
// is load-bearing for independent re-verification.
func DigestConcat(a, sep string, b string) string {
	buf := make([]byte, 0, len(a)+len(sep)+len(b))
	buf = append(buf, a...)
	buf = append(buf, sep...)
	buf = append(buf, b...)
	return Digest(buf)
}

// CanonicalDigest canonicalizes v (per pkg/canonical) and returns the
// SHA-256 hex digest of the canonical bytes.
func CanonicalDigest(v canonical.Value) (string, error) {
	b, err := canonical.Marshal(v)
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}
