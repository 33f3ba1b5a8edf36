// Package keyregistry is munin's user and key lifecycle store (C3): user
// records with a single active key plus an immutable key-history, keys
// moving only ACTIVE -> {ROTATED, REVOKED}.
package keyregistry

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"time"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/storage"
)

// Key and user status values. These are wire-level strings, not Go types,
// matching spec.md §3 literally.
const (
	KeyActive  = "ACTIVE"
	KeyRotated = "ROTATED"
	KeyRevoked = "REVOKED"

	UserActive   = "ACTIVE"
	UserDisabled = "DISABLED"
)

// User is a registered operator identity.
type User struct {
	UserID       string
	Name         string
	Role         string
	CurrentKeyID string
	Status       string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}


// Key is one row of a user's key-history. Only the row with Status ==
// KeyActive is eligible to authorize new signatures; rotated or revoked
// rows remain forever so historical signatures stay verifiable.
type Key struct {
	KeyID          string
	UserID         string
	PublicKey      ed25519.PublicKey
	Status         string
	CreatedAt      time.Time
	RotatedToKeyID string
	RevokedAt      *time.Time
}

// Registry is the SQL-backed key and user store.
type Registry struct {
	db  *storage.DB
	log *audit.Log
}

// New wraps db and log as a key registry. db must already carry the
// users/user_key_history schema (see pkg/storage).
func New(db *storage.DB, log *audit.Log) *Registry {
	return &Registry{db: db, log: log}
}

// RegisterUser inserts a new user with an ACTIVE key and emits
// USER_REGISTERED. userID and keyID are caller-supplied opaque
// identifiers (spec.md §3 "user_id (opaque)").
func (r *Registry) RegisterUser(ctx context.Context, userID, name, role string, publicKey ed25519.PublicKey, keyID string) (*User, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "begin register_user transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.Q(`
		INSERT INTO users (user_id, name, role, current_key_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), userID, name, role, keyID, UserActive, now); err != nil {
		return nil, apierr.Wrap(apierr.KindConflict, "user already exists", err)
	}

	if _, err := tx.ExecContext(ctx, r.db.Q(`
		INSERT INTO user_key_history (key_id, user_id, public_key, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), keyID, userID, crypto.PublicKeyBase64(publicKey), KeyActive, now); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "insert key history", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "commit register_user transaction", err)
	}

	user := &User{UserID: userID, Name: name, Role: role, CurrentKeyID: keyID, Status: UserActive, CreatedAt: now}

	if _, err := r.log.Append(ctx, audit.EventUserRegistered, map[string]interface{}{
		"user_id": userID,
		"name":    name,
		"role":    role,
		"key_id":  keyID,
	}, "", "", ""); err != nil {
		return nil, err
	}

	return user, nil
}

// RotateKey marks the user's current key ROTATED (pointing at newKeyID)
// and installs newKeyID as the new ACTIVE key, inside one transaction,
// then emits USER_KEY_ROTATED.
func (r *Registry) RotateKey(ctx context.Context, userID string, newPublicKey ed25519.PublicKey, newKeyID string) error {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "begin rotate_key transaction", err)
	}
	defer tx.Rollback()

	var currentKeyID, status string
	row := tx.QueryRowContext(ctx, r.db.Q(`SELECT current_key_id, status FROM users WHERE user_id = ?`), userID)
	if err := row.Scan(&currentKeyID, &status); err != nil {
		if err == sql.ErrNoRows {
			return apierr.New(apierr.KindNotFound, "user not found")
		}
		return apierr.Wrap(apierr.KindStorageFailure, "read user for rotation", err)
	}

	var currentKeyStatus string
	if err := tx.QueryRowContext(ctx, r.db.Q(`SELECT status FROM user_key_history WHERE key_id = ?`), currentKeyID).Scan(&currentKeyStatus); err != nil {
		if err == sql.ErrNoRows {
			return apierr.New(apierr.KindNotFound, "current key not found")
		}
		return apierr.Wrap(apierr.KindStorageFailure, "read current key", err)
	}
	if currentKeyStatus != KeyActive {
		return apierr.New(apierr.KindAlreadyRotated, "current key is not active")
	}

	if _, err := tx.ExecContext(ctx, r.db.Q(`
		UPDATE user_key_history SET status = ?, rotated_to_key_id = ? WHERE key_id = ?
	`), KeyRotated, newKeyID, currentKeyID); err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "mark key rotated", err)
	}

	if _, err := tx.ExecContext(ctx, r.db.Q(`
		INSERT INTO user_key_history (key_id, user_id, public_key, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), newKeyID, userID, crypto.PublicKeyBase64(newPublicKey), KeyActive, now); err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "insert rotated key history", err)
	}

	if _, err := tx.ExecContext(ctx, r.db.Q(`UPDATE users SET current_key_id = ? WHERE user_id = ?`), newKeyID, userID); err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "update user active key", err)
	}

	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "commit rotate_key transaction", err)
	}

	_, err = r.log.Append(ctx, audit.EventUserKeyRotated, map[string]interface{}{
		"user_id":      userID,
		"old_key_id":   currentKeyID,
		"new_key_id":   newKeyID,
	}, "", "", "")
	return err
}

// RevokeKey marks keyID REVOKED in history, and clears the user's
// current_key_id reference to it if it was still the active key, then
// emits KEY_REVOKED. After revocation, IsKeyActive(keyID) returns false
// forever.
func (r *Registry) RevokeKey(ctx context.Context, userID, keyID string) error {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "begin revoke_key transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.db.Q(`
		UPDATE user_key_history SET status = ?, revoked_at = ? WHERE key_id = ? AND user_id = ?
	`), KeyRevoked, now, keyID, userID)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "revoke key history", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.KindNotFound, "key not found for user")
	}

	if _, err := tx.ExecContext(ctx, r.db.Q(`
		UPDATE users SET current_key_id = '' WHERE user_id = ? AND current_key_id = ?
	`), userID, keyID); err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "clear active key reference", err)
	}

	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "commit revoke_key transaction", err)
	}

	_, err = r.log.Append(ctx, audit.EventKeyRevoked, map[string]interface{}{
		"user_id": userID,
		"key_id":  keyID,
	}, "", "", "")
	return err
}

// ResolvePublicKey reads a key's public key from history, regardless of
// its current status, so historical signatures remain verifiable forever
// (spec.md §4.3). It also implements audit.KeyResolver.
func (r *Registry) ResolvePublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	var encoded string
	err := r.db.QueryRowContext(ctx, r.db.Q(`SELECT public_key FROM user_key_history WHERE key_id = ?`), keyID).Scan(&encoded)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.KindNotFound, "key not found")
		}
		return nil, apierr.Wrap(apierr.KindStorageFailure, "resolve public key", err)
	}
	pub, err := crypto.ParsePublicKeyBase64(encoded)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncoding, "stored public key is malformed", err)
	}
	return pub, nil
}

// IsKeyActive reports whether keyID is currently ACTIVE and therefore
// eligible to authorize new signatures (spec.md §4.3
// new_authorization_allowed).
func (r *Registry) IsKeyActive(ctx context.Context, keyID string) (bool, error) {
	var status string
	err := r.db.QueryRowContext(ctx, r.db.Q(`SELECT status FROM user_key_history WHERE key_id = ?`), keyID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apierr.Wrap(apierr.KindStorageFailure, "check key status", err)
	}
	return status == KeyActive, nil
}

// GetUser fetches a user record by id.
func (r *Registry) GetUser(ctx context.Context, userID string) (*User, error) {
	row := r.db.QueryRowContext(ctx, r.db.Q(`
		SELECT user_id, name, role, current_key_id, status, created_at, last_login_at
		FROM users WHERE user_id = ?
	`), userID)
	return scanUser(row)
}

// ListUsers returns every registered user.
func (r *Registry) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Q(`
		SELECT user_id, name, role, current_key_id, status, created_at, last_login_at FROM users
	`))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "list users", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFailure, "scan user", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetRole updates a user's role.
func (r *Registry) SetRole(ctx context.Context, userID, role string) error {
	res, err := r.db.ExecContext(ctx, r.db.Q(`UPDATE users SET role = ? WHERE user_id = ?`), role, userID)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "update role", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.KindNotFound, "user not found")
	}
	return nil
}

// SetStatus updates a user's status (ACTIVE/DISABLED).
func (r *Registry) SetStatus(ctx context.Context, userID, status string) error {
	res, err := r.db.ExecContext(ctx, r.db.Q(`UPDATE users SET status = ? WHERE user_id = ?`), status, userID)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "update status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.KindNotFound, "user not found")
	}
	return nil
}

// RecordLogin stamps last_login_at to now.
func (r *Registry) RecordLogin(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Q(`UPDATE users SET last_login_at = ? WHERE user_id = ?`), time.Now().UTC(), userID)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "record login", err)
	}
	return nil
}

// SetPassphraseHash installs an Argon2id passphrase hash (pkg/crypto) for
// userID, used by pkg/session's interactive login path.
func (r *Registry) SetPassphraseHash(ctx context.Context, userID, passphraseHash string) error {
	res, err := r.db.ExecContext(ctx, r.db.Q(`UPDATE users SET passphrase_hash = ? WHERE user_id = ?`), passphraseHash, userID)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "set passphrase hash", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.KindNotFound, "user not found")
	}
	return nil
}

// PassphraseHash returns the stored Argon2id passphrase hash for userID,
// or an empty string if none has been set.
func (r *Registry) PassphraseHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, r.db.Q(`SELECT passphrase_hash FROM users WHERE user_id = ?`), userID).Scan(&hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apierr.New(apierr.KindNotFound, "user not found")
		}
		return "", apierr.Wrap(apierr.KindStorageFailure, "read passphrase hash", err)
	}
	return hash, nil
}

func scanUser(row interface{ Scan(dest ...interface{}) error }) (*User, error) {
	var u User
	var lastLogin sql.NullTime
	if err := row.Scan(&u.UserID, &u.Name, &u.Role, &u.CurrentKeyID, &u.Status, &u.CreatedAt, &lastLogin); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.KindNotFound, "user not found")
		}
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}
