package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// schemaStatements holds every table munin persists (spec.md §6
// "Persisted state layout"). Column types are kept to the portable
// subset both sqlite and postgres accept.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		current_key_id TEXT NOT NULL,
		status TEXT NOT NULL,
		passphrase_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_login_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS user_key_history (
		key_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		rotated_to_key_id TEXT,
		revoked_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		revoked_at TIMESTAMP,
		last_activity_at TIMESTAMP NOT NULL,
		source_addr TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_token_hash ON sessions (token_hash)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		decision_id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		playbook_id TEXT NOT NULL,
		step_id TEXT,
		action_type TEXT NOT NULL,
		scope TEXT NOT NULL,
		status TEXT NOT NULL,
		threshold INTEGER NOT NULL,
		required INTEGER NOT NULL,
		signers TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		authorized_at TIMESTAMP,
		previous_decision_hash TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS decision_signatures (
		decision_id TEXT NOT NULL,
		signer_id TEXT NOT NULL,
		key_id TEXT NOT NULL,
		signature TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (decision_id, signer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		sequence_number INTEGER NOT NULL UNIQUE,
		ts TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		prev_hash TEXT,
		entry_hash TEXT NOT NULL,
		signer_id TEXT,
		signature TEXT,
		key_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		checkpoint_hash TEXT PRIMARY KEY,
		chain_head_hash TEXT NOT NULL,
		ts TIMESTAMP NOT NULL,
		sequence_number INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS handshake_packets (
		packet_id TEXT PRIMARY KEY,
		decision_id TEXT NOT NULL,
		namespace TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		previous_receipt_hash TEXT,
		packet_hash TEXT NOT NULL,
		receipt_hash TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (namespace, sequence_number)
	)`,
}

// Migrate applies every CREATE ... IF NOT EXISTS statement. It is safe
// to call repeatedly and on an already-migrated database.
func Migrate(db *sql.DB, driver Driver) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(Rebind(driver, stmt)); err != nil {
			return fmt.Errorf("apply schema statement: %w\n%s", err, stmt)
		}
	}
	return nil
}

// Rebind rewrites `?` positional placeholders into the driver's native
// syntax (`?` for sqlite, `$1`, `$2`, ... for postgres). Repositories
// write queries with `?` placeholders and call Rebind before execution,
// so the same query text works unmodified against either backend.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
