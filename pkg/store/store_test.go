package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mongodb", "mongodb://localhost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestOpenSQLite(t *testing.T) {
	db := openTestDB(t)
	assert.Equal(t, DriverSQLite, db.Driver())
	require.NoError(t, db.Ping())
}

func TestRebindSQLitePassthrough(t *testing.T) {
	db := Wrap(nil, DriverSQLite)
	q := "SELECT * FROM events WHERE id = ? AND owner = ?"
	assert.Equal(t, q, db.Rebind(q))
}

func TestRebindPostgres(t *testing.T) {
	db := Wrap(nil, DriverPostgres)
	assert.Equal(t,
		"INSERT INTO roles (name, grid) VALUES ($1, $2)",
		db.Rebind("INSERT INTO roles (name, grid) VALUES (?, ?)"))
	assert.Equal(t,
		"SELECT 1",
		db.Rebind("SELECT 1"))
}

func TestRunMigrationsAppliesInOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Description: "create table", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`},
		{Version: 2, Description: "add column", SQL: `ALTER TABLE widgets ADD COLUMN color TEXT`},
	}

	require.NoError(t, RunMigrations(ctx, db, "test", migrations))

	_, err := db.ExecContext(ctx, `INSERT INTO widgets (name, color) VALUES ('gear', 'red')`)
	require.NoError(t, err)
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Description: "create table", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`},
	}

	require.NoError(t, RunMigrations(ctx, db, "test", migrations))
	// second run must skip the applied version instead of failing on
	// the duplicate CREATE TABLE
	require.NoError(t, RunMigrations(ctx, db, "test", migrations))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM test_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRunMigrationsNamespacesAreIndependent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, db, "alpha", []Migration{
		{Version: 1, Description: "a", SQL: `CREATE TABLE alpha_things (id INTEGER PRIMARY KEY)`},
	}))
	require.NoError(t, RunMigrations(ctx, db, "beta", []Migration{
		{Version: 1, Description: "b", SQL: `CREATE TABLE beta_things (id INTEGER PRIMARY KEY)`},
	}))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM alpha_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM beta_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRunMigrationsFailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := RunMigrations(ctx, db, "test", []Migration{
		{Version: 1, Description: "broken", SQL: `CREATE BOGUS SYNTAX`},
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM test_migrations`).Scan(&count))
	assert.Equal(t, 0, count)
}
