// Package sqlstore implements the repository interfaces on top of database/sql.
//
// The SQL is shared between SQLite and Postgres. Both accept $1, $2, ...
// placeholders, so queries are written once in that form. What still differs
// (how a unique-constraint violation is reported, and which scs store fits
// the sessions schema) sits behind the Dialect interface, which the sqlite
// and postgres packages implement.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/dreamteam/internal/apperror"
)

// Dialect hides the driver-specific parts of a SQL backend.
type Dialect interface {
	// Name is used in log lines and error messages ("sqlite", "postgres").
	Name() string

	// UniqueViolation reports whether err is a unique-constraint violation.
	// detail names the violated constraint or its columns as reported by the
	// driver; it is used to tell which field collided.
	UniqueViolation(err error) (detail string, ok bool)

	// SessionStore returns the scs store for this backend's sessions table.
	// Expired rows are purged every cleanup; zero disables the purge.
	SessionStore(db *sql.DB, cleanup time.Duration) SessionStore
}

// Store is a database/sql connection pool plus the dialect it speaks.
// It implements repository.AccountRepository; Sessions returns the scs
// store backed by the same pool.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open, migrated pool.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Dialect returns the backend name.
func (s *Store) Dialect() string {
	return s.dialect.Name()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: ping: %w", s.dialect.Name(), err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// classify turns a unique-constraint violation into apperror.Conflict with
// the colliding field. ok is false for any other error.
func (s *Store) classify(err error) (conflict error, ok bool) {
	detail, ok := s.dialect.UniqueViolation(err)
	if !ok {
		return nil, false
	}
	return apperror.Conflict("account", conflictField(detail)), true
}

// conflictField maps a driver's constraint description to a field name.
// The link index is checked first because its column list also mentions
// the source column.
func conflictField(detail string) string {
	d := strings.ToLower(detail)
	switch {
	case strings.Contains(d, "external_id"), strings.Contains(d, "link"):
		return "link"
	case strings.Contains(d, "username"):
		return "username"
	case strings.Contains(d, "email"):
		return "email"
	default:
		return "unknown"
	}
}
