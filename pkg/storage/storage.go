// Package storage is munin's storage adapter (spec component C8): the
// abstract transactional relational operations the authorization and
// audit core needs, backed by whichever ACID store an operator chooses.
//
// Two drivers are wired, matching spec.md §6's explicit mention of "the
// SQLite/PostgreSQL storage substrate": modernc.org/sqlite (pure Go,
// default — fits a single-binary air-gapped deployment) and lib/pq for
// sites already running a managed Postgres cluster.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver selects the concrete backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// DB wraps a *sql.DB with the driver it was opened against, so repository
// code can rebind `?` placeholders without threading a Driver value
// through every call site.
type DB struct {
	*sql.DB
	Driver Driver
}

// Q rebinds a `?`-placeholder query for this DB's driver.
func (d *DB) Q(query string) string { return Rebind(d.Driver, query) }

// Open opens (creating if necessary) the configured backend and applies
// the schema migration. dsn is the sqlite file path (or ":memory:") for
// DriverSQLite, or a libpq connection string for DriverPostgres.
func Open(driver Driver, dsn string) (*DB, error) {
	var sqlDriverName string
	switch driver {
	case DriverSQLite:
		sqlDriverName = "sqlite"
	case DriverPostgres:
		sqlDriverName = "postgres"
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}

	sqlDB, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// Single-writer model (spec.md §5): serialize writers through one
		// connection so sequence-number assignment under the write lock is
		// never split across concurrent sqlite connections.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(sqlDB, driver); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &DB{DB: sqlDB, Driver: driver}, nil
}
