// Package repository declares the storage contracts used by the services.
// Implementations live in sub-packages (sqlstore, with sqlite and postgres
// providing the connections and migrations).
package repository

import (
	"context"

	"github.com/sakif/dreamteam/internal/model"
)

// AccountRepository persists accounts.
//
// Lookups return an apperror.ErrNotFound error when nothing matches.
// Writes that break a uniqueness rule return an apperror.ErrConflict error
// whose Field is "email", "username" or "link".
type AccountRepository interface {
	// Create inserts the account and fills in ID and timestamps.
	Create(ctx context.Context, account *model.Account) error

	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)

	// GetByLink finds the federated account for a provider identity.
	GetByLink(ctx context.Context, source model.Source, externalID string) (*model.Account, error)

	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)

	// SetUsername assigns a handle to an account that does not have one yet.
	SetUsername(ctx context.Context, id int64, username string) error
}
