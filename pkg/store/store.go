package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/neofi/chronicle/pkg/observability"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps a sql.DB handle with the driver it was opened against so that
// domain stores can write placeholder-agnostic SQL.
type DB struct {
	*sql.DB
	driver string
}

// Open opens a database handle for the given driver and DSN and verifies
// connectivity with a ping.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	// sqlite's file handle does not tolerate concurrent writers
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Wrap adopts an existing handle, used by tests that open their own
// in-memory sqlite database.
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{DB: db, driver: driver}
}

// Driver returns the driver name the handle was opened with
func (db *DB) Driver() string {
	return db.driver
}

// SetPool applies connection pool tuning. sqlite keeps its single-writer
// setting regardless.
func (db *DB) SetPool(maxOpen, maxIdle int, maxLifetime time.Duration) {
	if db.driver == DriverSQLite {
		return
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}

// Rebind converts "?" placeholders to the driver's native form. Domain SQL
// is written with "?" and rebound to "$N" for postgres.
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// Observe records a store operation metric when metrics are enabled
func Observe(m *observability.Metrics, collection, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(collection, operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(collection, operation).Observe(time.Since(start).Seconds())
}
