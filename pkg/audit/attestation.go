package audit

import (
	"crypto/ed25519"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jacobsprake/munin/pkg/apierr"
)

// attestationClaims is the JWT claim set a MirrorAttestation carries. An
// offline mirror that receives one of these can prove to a third party,
// without trusting the mirror operator, that this core attested to a given
// chain head at a given time.
type attestationClaims struct {
	jwt.RegisteredClaims
	ChainHeadHash  string `json:"chain_head_hash"`
	SequenceNumber uint64 `json:"sequence_number"`
	CheckpointHash string `json:"checkpoint_hash"`
}

// SignCheckpointAttestation wraps cp in an EdDSA-signed JWT using the
// core's own Ed25519 identity, suitable for export to a mirror site as an
// out-of-band attestation. This is pure export-time sugar: verification of
// the audit chain itself never depends on JWTs, and a mirror that only
// wants the checkpoint row can ignore attestations entirely.
func SignCheckpointAttestation(cp *Checkpoint, issuer string, signingKey ed25519.PrivateKey, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := attestationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   cp.CheckpointHash,
		},
		ChainHeadHash:  cp.ChainHeadHash,
		SequenceNumber: cp.SequenceNumber,
		CheckpointHash: cp.CheckpointHash,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "sign checkpoint attestation", err)
	}
	return signed, nil
}

// VerifyCheckpointAttestation parses and validates a checkpoint attestation
// produced by SignCheckpointAttestation against the core's Ed25519 public
// key, returning the claims it carries.
func VerifyCheckpointAttestation(token string, verifyKey ed25519.PublicKey) (*attestationClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &attestationClaims{}, func(t *jwt.Token) (interface{}, error) {
		return verifyKey, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !parsed.Valid {
		return nil, apierr.Wrap(apierr.KindSignatureInvalid, "checkpoint attestation invalid", err)
	}
	claims, ok := parsed.Claims.(*attestationClaims)
	if !ok {
		return nil, apierr.New(apierr.KindSignatureInvalid, "checkpoint attestation invalid")
	}
	return claims, nil
}
