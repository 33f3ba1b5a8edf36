// Package audit is munin's tamper-evident audit log (spec component C4):
// an append-only, hash-chained sequence of entries, each binding a
// canonical-JSON payload to the hash of the entry before it.
package audit

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/canonical"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/storage"
)

// Well-known event types. Components outside this package may append
// additional event types freely — EventType is not a closed enum, only
// these names are referenced by other core components.
const (
	EventUserRegistered  = "USER_REGISTERED"
	EventUserKeyRotated  = "USER_KEY_ROTATED"
	EventKeyRevoked      = "KEY_REVOKED"
	EventDecisionCreated = "DECISION_CREATED"
	EventDecisionSigned  = "DECISION_SIGNED"
	EventDecisionAuth    = "DECISION_AUTHORIZED"
	EventDecisionReject  = "DECISION_REJECTED"
	EventDecisionExec    = "DECISION_EXECUTED"
	EventLoginOK         = "LOGIN_OK"
	EventLoginFailed     = "LOGIN_FAILED"
	EventPacketIssued    = "PACKET_ISSUED"
)

// Entry is one immutable record in the chain.
type Entry struct {
	ID             string
	SequenceNumber uint64
	Timestamp      time.Time
	EventType      string
	Payload        canonical.Value
	PrevHash       string // "" only for sequence 1
	EntryHash      string
	SignerID       string
	Signature      string
	KeyID          string
	// RawPayload is the exact canonical-JSON byte string that was hashed
	// and persisted, as read back from storage. VerifyChain does not hash
	// these bytes directly: it decodes the payload and re-encodes it with
	// pkg/canonical before recomputing entry_hash.
	RawPayload string
}

// KeyResolver resolves a key_id to its (possibly historical) Ed25519
// public key, so signed entries remain verifiable forever even after the
// signing key is rotated or revoked (spec.md §4.4).
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error)
}

// Log is the append-only, hash-chained audit log.
type Log struct {
	db *storage.DB
	// mu serializes appends so sequence-number assignment and chain-head
	// reads are atomic in-process, on top of the storage transaction
	// (spec.md §5: "an in-process write lock may additionally guard
	// audit-head reads to simplify hash-chain sequencing").
	mu sync.Mutex
}

// New wraps db as an audit log. db must already carry the audit_log
// schema (see pkg/storage).
func New(db *storage.DB) *Log {
	return &Log{db: db}
}

// Append commits a new entry chained to the current head. signerID,
// signature, and keyID (if non-empty) are stored as-is alongside the
// entry; Append does not itself verify anything, since entry_hash — the
// message a well-formed entry signature must cover, see SignedMessage —
// isn't known until this call computes it. Verification happens later,
// and separately, via VerifyChain.
func (l *Log) Append(ctx context.Context, eventType string, payload canonical.Value, signerID, signature, keyID string) (*Entry, error) {
	canonicalPayload, err := canonical.Marshal(payload)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncoding, "audit payload canonicalization failed", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash, lastSeq, err := l.head(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "read audit head", err)
	}

	entry := &Entry{
		ID:             uuid.NewString(),
		SequenceNumber: lastSeq + 1,
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		Payload:        payload,
		PrevHash:       prevHash,
		SignerID:       signerID,
		Signature:      signature,
		KeyID:          keyID,
	}
	entry.EntryHash = computeEntryHash(canonicalPayload, prevHash)
	entry.RawPayload = string(canonicalPayload)

	if _, err := l.db.ExecContext(ctx, l.db.Q(`
		INSERT INTO audit_log (id, sequence_number, ts, event_type, payload, prev_hash, entry_hash, signer_id, signature, key_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		entry.ID, entry.SequenceNumber, entry.Timestamp, entry.EventType, string(canonicalPayload),
		nullable(entry.PrevHash), entry.EntryHash, nullable(entry.SignerID), nullable(entry.Signature), nullable(entry.KeyID),
	); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "insert audit entry", err)
	}

	return entry, nil
}

// entryHash = SHA-256(canonical(payload) || ":" || prev_hash) when
// prev_hash is non-empty, else SHA-256(canonical(payload)). Spec.md §9
// requires this exact byte-level rule, not structural serialization of a
// (payload, prev_hash) tuple.
func computeEntryHash(canonicalPayload []byte, prevHash string) string {
	if prevHash == "" {
		return crypto.Digest(canonicalPayload)
	}
	return crypto.DigestConcat(string(canonicalPayload), ":", prevHash)
}

// SignedMessage is the byte string each signed audit entry's signature
// covers: entry_hash || ":" || signer_id || ":" || (key_id or "").
func SignedMessage(entryHash, signerID, keyID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", entryHash, signerID, keyID))
}

func (l *Log) head(ctx context.Context) (prevHash string, lastSeq uint64, err error) {
	row := l.db.QueryRowContext(ctx, l.db.Q(`
		SELECT entry_hash, sequence_number FROM audit_log
		ORDER BY sequence_number DESC LIMIT 1
	`))
	var hash sql.NullString
	var seq sql.NullInt64
	if scanErr := row.Scan(&hash, &seq); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", 0, nil
		}
		return "", 0, scanErr
	}
	return hash.String, uint64(seq.Int64), nil
}

// Head returns the current chain head hash and sequence number.
func (l *Log) Head(ctx context.Context) (hash string, seq uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head(ctx)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanEntry(rows interface {
	Scan(dest ...interface{}) error
}) (*Entry, error) {
	var e Entry
	var payload string
	var prevHash, signerID, signature, keyID sql.NullString
	if err := rows.Scan(&e.ID, &e.SequenceNumber, &e.Timestamp, &e.EventType, &payload, &prevHash, &e.EntryHash, &signerID, &signature, &keyID); err != nil {
		return nil, err
	}
	e.PrevHash = prevHash.String
	e.SignerID = signerID.String
	e.Signature = signature.String
	e.KeyID = keyID.String
	e.RawPayload = payload

	v, err := canonical.Decode([]byte(payload))
	if err != nil {
		return nil, err
	}
	e.Payload = v
	return &e, nil
}
