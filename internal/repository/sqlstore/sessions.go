package sqlstore

import (
	"time"

	"github.com/alexedwards/scs/v2"
)

// SessionStore is an scs store over the sessions table whose background
// purge of expired rows can be stopped. scs's sqlite3store and
// postgresstore both satisfy it.
type SessionStore interface {
	scs.Store
	StopCleanup()
}

// Sessions returns the session store sharing this Store's pool. Expired
// rows are deleted every cleanup interval until StopCleanup is called; a
// zero interval never starts the purge.
func (s *Store) Sessions(cleanup time.Duration) SessionStore {
	return s.dialect.SessionStore(s.db, cleanup)
}
