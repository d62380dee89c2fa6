package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration. PostgresSQL, when set,
// overrides SQL for postgres handles so schemas can diverge where the
// dialects do (auto-increment keys, mainly).
type Migration struct {
	Version     int
	Description string
	SQL         string
	PostgresSQL string
}

func (m Migration) sqlFor(driver string) string {
	if driver == DriverPostgres && m.PostgresSQL != "" {
		return m.PostgresSQL
	}
	return m.SQL
}

// RunMigrations executes all pending migrations for a namespace. Each
// domain package owns a namespace and its applied versions are tracked in
// a <namespace>_migrations table.
func RunMigrations(ctx context.Context, db *DB, namespace string, migrations []Migration) error {
	table := namespace + "_migrations"

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`, table))
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", table, err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT version FROM %s ORDER BY version", table))
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		if err := runOne(ctx, db, table, migration); err != nil {
			return err
		}
	}

	return nil
}

func runOne(ctx context.Context, db *DB, table string, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, migration.sqlFor(db.driver)); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %d (%s): %w", migration.Version, migration.Description, err)
	}

	if _, err := tx.ExecContext(ctx,
		db.Rebind(fmt.Sprintf("INSERT INTO %s (version, description) VALUES (?, ?)", table)),
		migration.Version, migration.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}

	return nil
}

// IsNotFound reports whether err is sql.ErrNoRows, the driver-level miss
// that domain stores translate into their own sentinels.
func IsNotFound(err error) bool {
	return err == sql.ErrNoRows
}
