package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/dreamteam/internal/apperror"
	"github.com/sakif/dreamteam/internal/model"
	"github.com/sakif/dreamteam/internal/repository"
)

// compile-time check that *Store implements repository.AccountRepository
var _ repository.AccountRepository = (*Store)(nil)

const accountColumns = `id, email, username, first_name, last_name, password_hash,
	source, external_id, is_admin, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccount reads one accounts row in accountColumns order.
//
// NULLABLE COLUMNS:
// username, password_hash and external_id can be NULL, so they are scanned
// into sql.NullString and converted to the model's pointer / Secret forms.
func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		a          model.Account
		username   sql.NullString
		hash       sql.NullString
		source     string
		externalID sql.NullString
	)

	err := row.Scan(
		&a.ID,
		&a.Email,
		&username,
		&a.FirstName,
		&a.LastName,
		&hash,
		&source,
		&externalID,
		&a.IsAdmin,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Source = model.Source(source)
	if username.Valid {
		a.Username = model.StringPtr(username.String)
	}
	if hash.Valid {
		a.Secret = model.SecretFromHash(hash.String)
	}
	if externalID.Valid {
		a.ExternalID = model.StringPtr(externalID.String)
	}
	return &a, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func secretParam(s model.Secret) any {
	if !s.IsSet() {
		return nil
	}
	return s.EncodedHash()
}

// Create inserts a new account. ID, CreatedAt and UpdatedAt are set on the
// passed struct.
//
// The uniqueness rules (email, username, provider link) and the
// native/federated shape are enforced by the schema, so two concurrent
// creates for the same identity cannot both succeed: the loser gets an
// apperror.ErrConflict naming the field.
func (s *Store) Create(ctx context.Context, account *model.Account) error {
	if account.Source == "" {
		account.Source = model.SourceNative
	}

	now := time.Now().UTC()

	// RETURNING is supported by both SQLite (3.35+) and Postgres, so the
	// generated id comes back without a second round trip.
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (email, username, first_name, last_name, password_hash,
			source, external_id, is_admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		account.Email,
		nullable(account.Username),
		account.FirstName,
		account.LastName,
		secretParam(account.Secret),
		string(account.Source),
		nullable(account.ExternalID),
		account.IsAdmin,
		now,
		now,
	).Scan(&account.ID)
	if err != nil {
		if conflict, ok := s.classify(err); ok {
			return conflict
		}
		return fmt.Errorf("%s: inserting account (email=%s): %w", s.dialect.Name(), account.Email, err)
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetByID returns apperror.ErrNotFound if no account has that id.
func (s *Store) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("%s: getting account %d: %w", s.dialect.Name(), id, err)
	}
	return a, nil
}

// GetByEmail matches the address exactly; callers normalise it first.
func (s *Store) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", email)
		}
		return nil, fmt.Errorf("%s: getting account by email: %w", s.dialect.Name(), err)
	}
	return a, nil
}

// GetByLink finds the account created for (source, externalID). Native
// accounts never match.
func (s *Store) GetByLink(ctx context.Context, source model.Source, externalID string) (*model.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE source = $1 AND external_id = $2 AND source <> 'native'`,
		string(source), externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(string(source)+" account", externalID)
		}
		return nil, fmt.Errorf("%s: getting account by link %s/%s: %w", s.dialect.Name(), source, externalID, err)
	}
	return a, nil
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`, email)
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, username)
}

func (s *Store) exists(ctx context.Context, query string, arg any) (bool, error) {
	var found bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("%s: probing accounts: %w", s.dialect.Name(), err)
	}
	return found, nil
}

// SetUsername assigns username to an account whose username is still NULL.
//
// Returns apperror.ErrConflict (Field "username") when another account holds
// the handle, apperror.ErrNotFound when the account does not exist, and
// apperror.ErrValidation when it already has a username.
func (s *Store) SetUsername(ctx context.Context, id int64, username string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET username = $1, updated_at = $2
		 WHERE id = $3 AND username IS NULL`,
		username, time.Now().UTC(), id)
	if err != nil {
		if conflict, ok := s.classify(err); ok {
			return conflict
		}
		return fmt.Errorf("%s: setting username for account %d: %w", s.dialect.Name(), id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: checking rows affected: %w", s.dialect.Name(), err)
	}
	if rows == 1 {
		return nil
	}

	// Nothing updated: either the account is gone or it already has a name.
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return apperror.ValidationFailed("username", "username has already been chosen")
}
