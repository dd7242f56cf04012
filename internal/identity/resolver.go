// Package identity reconciles a provider's assertion with the account table.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/dreamteam/internal/apperror"
	"github.com/sakif/dreamteam/internal/model"
)

// Accounts is the slice of repository.AccountRepository the resolver needs.
type Accounts interface {
	Create(ctx context.Context, account *model.Account) error
	GetByLink(ctx context.Context, source model.Source, externalID string) (*model.Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// Resolver turns a FederatedAssertion into exactly one of: an existing
// account, a newly created account, or a rejection.
type Resolver struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewResolver(accounts Accounts, logger *slog.Logger) *Resolver {
	return &Resolver{accounts: accounts, logger: logger}
}

// Resolve runs, in order:
//
//  1. link lookup by (provider, external id); a hit is returned as is,
//     whatever the assertion now says about email or verification
//  2. verification gate      → apperror.ErrProfileUnverified
//  3. email presence gate    → apperror.ErrEmailMissing
//  4. email uniqueness gate  → apperror.ErrEmailConflict (never merged),
//     unless the link now exists because a concurrent login created it
//  5. create the account with no secret and no username
//
// If creation loses a race (unique violation), the link lookup is retried
// once; if that still finds nothing the result is apperror.ErrFederatedRetry.
//
// created is true only when step 5 inserted a row.
func (r *Resolver) Resolve(ctx context.Context, provider model.Source, assertion *model.FederatedAssertion) (account *model.Account, created bool, err error) {
	if assertion == nil {
		return nil, false, errors.New("identity: nil assertion")
	}
	externalID := strings.TrimSpace(assertion.ExternalID)
	if externalID == "" {
		return nil, false, errors.New("identity: assertion without external id")
	}
	if !provider.IsFederated() {
		return nil, false, fmt.Errorf("identity: %q is not a federated source", provider)
	}

	// Step 1: previously linked identities are trusted.
	linked, err := r.lookupLink(ctx, provider, externalID)
	if err != nil {
		return nil, false, err
	}
	if linked != nil {
		return linked, false, nil
	}

	// Step 2
	if !assertion.Verified {
		r.logger.Info("federated login rejected: profile not verified",
			"provider", provider, "external_id", externalID)
		return nil, false, apperror.ProfileUnverified()
	}

	// Step 3
	email := model.NormalizeEmail(assertion.Email)
	if email == "" {
		r.logger.Info("federated login rejected: no email",
			"provider", provider, "external_id", externalID)
		return nil, false, apperror.EmailMissing()
	}

	// Step 4: an existing account with this email, native or from another
	// provider, blocks signup.
	exists, err := r.accounts.EmailExists(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("identity: checking email: %w", err)
	}
	if exists {
		// A concurrent first login for this identity may have committed
		// since step 1.
		linked, err := r.lookupLink(ctx, provider, externalID)
		if err != nil {
			return nil, false, err
		}
		if linked != nil {
			return linked, false, nil
		}
		r.logger.Info("federated login rejected: email already in use",
			"provider", provider, "external_id", externalID)
		return nil, false, apperror.EmailConflict()
	}

	// Step 5
	account = &model.Account{
		Email:      email,
		FirstName:  strings.TrimSpace(assertion.FirstName),
		LastName:   strings.TrimSpace(assertion.LastName),
		Source:     provider,
		ExternalID: model.StringPtr(externalID),
	}
	err = r.accounts.Create(ctx, account)
	if err == nil {
		r.logger.Info("federated account created",
			"account_id", account.ID, "provider", provider)
		return account, true, nil
	}
	if !errors.Is(err, apperror.ErrConflict) {
		return nil, false, fmt.Errorf("identity: creating account: %w", err)
	}

	// Lost a race with a concurrent first login: re-resolve once.
	r.logger.Warn("federated account creation conflicted, re-resolving",
		"provider", provider, "external_id", externalID, "error", err)

	linked, lookupErr := r.lookupLink(ctx, provider, externalID)
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if linked != nil {
		return linked, false, nil
	}
	return nil, false, apperror.FederatedRetry()
}

// lookupLink returns (nil, nil) when no account is linked.
func (r *Resolver) lookupLink(ctx context.Context, provider model.Source, externalID string) (*model.Account, error) {
	account, err := r.accounts.GetByLink(ctx, provider, externalID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("identity: looking up %s link: %w", provider, err)
	}
	return account, nil
}
