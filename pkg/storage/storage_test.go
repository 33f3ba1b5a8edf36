package storage

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLiteMemory_MigratesAllTables(t *testing.T) {
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	tables := []string{
		"users", "user_key_history", "sessions", "decisions",
		"decision_signatures", "audit_log", "checkpoints", "handshake_packets",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoErrorf(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestRebind_PostgresNumbersPlaceholders(t *testing.T) {
	got := Rebind(DriverPostgres, "SELECT * FROM t WHERE a = ? AND b = ?")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", got)
}

func TestRebind_SQLiteLeavesQueryUnchanged(t *testing.T) {
	got := Rebind(DriverSQLite, "SELECT * FROM t WHERE a = ?")
	assert.Equal(t, "SELECT * FROM t WHERE a = ?", got)
}

// TestDB_Q exercises the DB wrapper's placeholder rebinding against a
// sqlmock connection, without a live database.
func TestDB_Q(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := &DB{DB: mockDB, Driver: DriverPostgres}

	mock.ExpectQuery(`SELECT 1 WHERE a = \$1`).WithArgs("x").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	row := db.QueryRow(db.Q("SELECT 1 WHERE a = ?"), "x")
	var one int
	require.NoError(t, row.Scan(&one))
	assert.Equal(t, 1, one)
	require.NoError(t, mock.ExpectationsWereMet())
}
