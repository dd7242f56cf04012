// Package sqlite opens the SQLite account database (modernc.org/sqlite, pure
// Go, no CGo) and applies the embedded migrations with golang-migrate.
//
// The queries themselves live in sqlstore; this package only supplies the
// connection, the schema and the Dialect. Sessions are kept by scs's
// sqlite3store in the same file.
//
// dbPath examples:
//   - "data/dreamteam.db" → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests; lost on close)
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/dreamteam/internal/repository/sqlstore"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// New opens dbPath, migrates it to the latest version and returns a Store.
func New(dbPath string) (*sqlstore.Store, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	if err := Migrate(conn, "up"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return sqlstore.New(conn, Dialect{}), nil
}

// connPragmas are applied by the driver to every connection it opens.
// busy_timeout makes a writer wait for the lock instead of failing with
// SQLITE_BUSY, so concurrent inserts reach the unique constraints.
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
}

// DSN appends the connection PRAGMAs to dbPath in modernc's _pragma form.
func DSN(dbPath string) string {
	params := url.Values{}
	for _, p := range connPragmas {
		params.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + params.Encode()
}

// Open creates the connection pool. It does not migrate.
func Open(dbPath string) (*sql.DB, error) {
	// "sqlite" is the driver name registered by modernc.org/sqlite.
	conn, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every new connection to ":memory:" is a brand new, empty database.
	// Pin the pool to a single connection so the schema is visible to
	// every query.
	if isMemory(dbPath) {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}
	return conn, nil
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// Migrate applies the embedded migrations in direction ("up" or "down").
// Being already at the target version is not an error.
//
// The migrate instance is deliberately not closed: closing it would close
// conn, which the caller keeps using.
func Migrate(conn *sql.DB, direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Dialect is the sqlstore.Dialect for SQLite. Unique violations are
// reported as extended result codes.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

// SessionStore keeps sessions in the sessions table created by migration
// 000002 (token, data BLOB, expiry as a Julian day REAL).
func (Dialect) SessionStore(db *sql.DB, cleanup time.Duration) sqlstore.SessionStore {
	return sqlite3store.NewWithCleanupInterval(db, cleanup)
}

// UniqueViolation recognises SQLITE_CONSTRAINT_UNIQUE and
// SQLITE_CONSTRAINT_PRIMARYKEY. The message ("UNIQUE constraint failed:
// accounts.email") names the columns, which is what sqlstore needs.
func (Dialect) UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return se.Error(), true
		case sqlite3.SQLITE_CONSTRAINT:
			// Primary code only, when extended codes are off.
			if strings.Contains(se.Error(), "UNIQUE constraint failed") {
				return se.Error(), true
			}
		}
		return "", false
	}

	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return err.Error(), true
	}
	return "", false
}
