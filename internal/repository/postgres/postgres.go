// Package postgres opens the Postgres account database through the pgx
// database/sql driver and applies the embedded migrations with golang-migrate.
// Sessions are kept by scs's postgresstore in the same database.
package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/scs/postgresstore"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sakif/dreamteam/internal/repository/sqlstore"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// New opens dsn, migrates it to the latest version and returns a Store.
func New(dsn string) (*sqlstore.Store, error) {
	if err := Migrate(dsn, "up"); err != nil {
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}

	conn, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(conn, Dialect{}), nil
}

// Open opens a Postgres connection pool using the given DSN. Caller must
// call Close when done.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: DATABASE_URL is not set")
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}
	return conn, nil
}

// Migrate applies the embedded migrations in direction ("up" or "down")
// using its own connection. Being already at the target version is not an
// error.
func Migrate(dsn string, direction string) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

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

// migrateURL points golang-migrate at its pgx v5 driver, which is
// registered under the pgx5 scheme.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// Dialect is the sqlstore.Dialect for Postgres.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

// SessionStore keeps sessions in the sessions table created by migration
// 000002 (token, data BYTEA, expiry TIMESTAMPTZ).
func (Dialect) SessionStore(db *sql.DB, cleanup time.Duration) sqlstore.SessionStore {
	return postgresstore.NewWithCleanupInterval(db, cleanup)
}

// UniqueViolation reports SQLSTATE 23505 and returns the constraint name
// (accounts_email_key, accounts_username_key, accounts_link_idx).
func (Dialect) UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
