// Package session is munin's bearer-token session store (C6): interactive
// login against an operator's passphrase, opaque bearer tokens hashed at
// rest, and the sliding-window login lockout from spec.md §4.6.
package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/keyregistry"
	"github.com/jacobsprake/munin/pkg/ratelimit"
	"github.com/jacobsprake/munin/pkg/storage"
)

// DefaultTTL is the session lifetime absent SESSION_TTL_HOURS (spec.md §6).
const DefaultTTL = 8 * time.Hour

// LoginLockout is the sliding-window failure policy from spec.md §4.6: 5
// failed attempts within 15 minutes locks an operator out.
var LoginLockout = ratelimit.Window{Limit: 5, Duration: 15 * time.Minute}

// Session is one active or expired bearer-token grant.
type Session struct {
	SessionID      string
	UserID         string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	LastActivityAt time.Time
	SourceAddr     string
}

// Store issues, validates, and revokes sessions against users registered
// in pkg/keyregistry.
type Store struct {
	db      *storage.DB
	log     *audit.Log
	users   *keyregistry.Registry
	limiter ratelimit.LimiterStore
	secret  []byte
	ttl     time.Duration
}

// New wires a session store. secret is the HMAC key session tokens are
// hashed with at rest (spec.md §4.2 property 7); limiter backs the login
// lockout window and may be ratelimit.NewInMemoryStore() or a Redis-backed
// store for multi-replica deployments.
func New(db *storage.DB, log *audit.Log, users *keyregistry.Registry, limiter ratelimit.LimiterStore, secret []byte, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{db: db, log: log, users: users, limiter: limiter, secret: secret, ttl: ttl}
}

// Login verifies userID's passphrase and, on success, issues a new
// session bound to sourceAddr. A locked-out operator (spec.md §4.6) is
// refused before the passphrase is even checked, so repeated guesses
// never extend the lockout window via Argon2id's cost.
func (s *Store) Login(ctx context.Context, userID, passphrase, sourceAddr string) (*Session, string, error) {
	count, err := s.limiter.FailureCount(ctx, userID, LoginLockout.Duration)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.KindStorageFailure, "read login failure count", err)
	}
	if count >= LoginLockout.Limit {
		return nil, "", apierr.New(apierr.KindLocked, "too many failed login attempts, try again later")
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		s.recordFailure(ctx, userID, sourceAddr)
		if apierr.Is(err, apierr.KindNotFound) {
			return nil, "", apierr.New(apierr.KindInvalidCredentials, "invalid credentials")
		}
		return nil, "", err
	}
	if user.Status != keyregistry.UserActive {
		return nil, "", apierr.New(apierr.KindDisabled, "user account is disabled")
	}

	hash, err := s.users.PassphraseHash(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	ok, err := crypto.VerifyPassword(passphrase, hash)
	if err != nil || !ok {
		s.recordFailure(ctx, userID, sourceAddr)
		return nil, "", apierr.New(apierr.KindInvalidCredentials, "invalid credentials")
	}

	// spec.md §4.6/S7: a successful login does not clear the failure
	// window — only the window's natural expiry does.
	rawToken, err := crypto.NewSessionToken()
	if err != nil {
		return nil, "", apierr.Wrap(apierr.KindInternal, "generate session token", err)
	}
	tokenHash := crypto.HashSessionToken(s.secret, rawToken)

	now := time.Now().UTC()
	sess := &Session{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
		LastActivityAt: now,
		SourceAddr:     sourceAddr,
	}

	if _, err := s.db.ExecContext(ctx, s.db.Q(`
		INSERT INTO sessions (session_id, user_id, token_hash, created_at, expires_at, last_activity_at, source_addr)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), sess.SessionID, sess.UserID, tokenHash, sess.CreatedAt, sess.ExpiresAt, sess.LastActivityAt, sess.SourceAddr); err != nil {
		return nil, "", apierr.Wrap(apierr.KindStorageFailure, "insert session", err)
	}

	if err := s.users.RecordLogin(ctx, userID); err != nil {
		return nil, "", err
	}

	if _, err := s.log.Append(ctx, audit.EventLoginOK, map[string]interface{}{
		"user_id":     userID,
		"session_id":  sess.SessionID,
		"source_addr": sourceAddr,
	}, "", "", ""); err != nil {
		return nil, "", err
	}

	return sess, rawToken, nil
}

// recordFailure records a login failure for userID and emits LOGIN_FAILED.
// Failures are best-effort: audit/limiter errors here are discarded
// rather than surfaced, since the caller must still see
// InvalidCredentials for the original failed attempt.
func (s *Store) recordFailure(ctx context.Context, userID, sourceAddr string) {
	_ = s.limiter.RecordFailure(ctx, userID)
	_, _ = s.log.Append(ctx, audit.EventLoginFailed, map[string]interface{}{
		"user_id":     userID,
		"source_addr": sourceAddr,
	}, "", "", "")
}

// Validate resolves a raw bearer token to its Session, rejecting expired,
// revoked, or disabled-user sessions. On success it stamps
// last_activity_at. The token hash is deterministic (HMAC keyed by the
// server secret), so lookup is a direct indexed match rather than a scan.
func (s *Store) Validate(ctx context.Context, rawToken string) (*Session, error) {
	tokenHash := crypto.HashSessionToken(s.secret, rawToken)

	row := s.db.QueryRowContext(ctx, s.db.Q(`
		SELECT session_id, user_id, created_at, expires_at, revoked_at, last_activity_at, source_addr
		FROM sessions WHERE token_hash = ?
	`), tokenHash)

	var match Session
	var revokedAt sql.NullTime
	if err := row.Scan(&match.SessionID, &match.UserID, &match.CreatedAt, &match.ExpiresAt, &revokedAt, &match.LastActivityAt, &match.SourceAddr); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.KindSessionInvalid, "session not found")
		}
		return nil, apierr.Wrap(apierr.KindStorageFailure, "read session", err)
	}
	if revokedAt.Valid {
		match.RevokedAt = &revokedAt.Time
	}
	if match.RevokedAt != nil {
		return nil, apierr.New(apierr.KindSessionInvalid, "session revoked")
	}
	if time.Now().UTC().After(match.ExpiresAt) {
		return nil, apierr.New(apierr.KindSessionInvalid, "session expired")
	}

	user, err := s.users.GetUser(ctx, match.UserID)
	if err != nil {
		return nil, apierr.New(apierr.KindSessionInvalid, "session owner not found")
	}
	if user.Status != keyregistry.UserActive {
		return nil, apierr.New(apierr.KindDisabled, "user account is disabled")
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, s.db.Q(`UPDATE sessions SET last_activity_at = ? WHERE session_id = ?`), now, match.SessionID); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "stamp last activity", err)
	}
	match.LastActivityAt = now

	return &match, nil
}

// Revoke ends a single session by id.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Q(`
		UPDATE sessions SET revoked_at = ? WHERE session_id = ? AND revoked_at IS NULL
	`), time.Now().UTC(), sessionID)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "revoke session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.KindNotFound, "session not found or already revoked")
	}
	return nil
}

// RevokeAllForUser ends every active session belonging to userID, used
// when an operator is disabled (DELETE /users/{id}).
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Q(`
		UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL
	`), time.Now().UTC(), userID); err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "revoke user sessions", err)
	}
	return nil
}
