// Package service holds the authentication business logic. It sits between
// the HTTP handlers and the components that do the actual work:
//
//	AuthHandler (HTTP) → AuthService → session.Authenticator (session binding)
//	                                 ↘ auth.Bridge          (provider callback)
//	                                 ↘ identity.Resolver    (link / gates / create)
//	                                 ↘ username.Allocator   (handle proposal)
//	                                 ↘ AccountRepository    (DB)
//
// The service never touches http.Request or cookies; the handler translates
// its results and apperror kinds into HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sakif/dreamteam/internal/apperror"
	"github.com/sakif/dreamteam/internal/auth"
	"github.com/sakif/dreamteam/internal/identity"
	"github.com/sakif/dreamteam/internal/model"
	"github.com/sakif/dreamteam/internal/repository"
	"github.com/sakif/dreamteam/internal/session"
	"github.com/sakif/dreamteam/internal/username"
)

// Field limits for registration and username choice.
const (
	MaxUsernameLength = username.MaxLength
	MaxNameLength     = 100
	MaxEmailLength    = 254
)

// Flash notices shown after a federated callback or a logout.
const (
	MsgDeclined  = "You denied the request to sign in."
	MsgLoggedOut = "You have successfully been logged out."
)

// AuthService handles registration, both login flows, username choice and
// logout.
type AuthService struct {
	accounts  repository.AccountRepository
	passwords *auth.PasswordService
	sessions  *session.Authenticator
	bridge    *auth.Bridge
	resolver  *identity.Resolver
	usernames *username.Allocator
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
// Call this in server.go when wiring the dependency graph.
func NewAuthService(
	accounts repository.AccountRepository,
	passwords *auth.PasswordService,
	sessions *session.Authenticator,
	bridge *auth.Bridge,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		accounts:  accounts,
		passwords: passwords,
		sessions:  sessions,
		bridge:    bridge,
		resolver:  identity.NewResolver(accounts, logger),
		usernames: username.NewAllocator(accounts),
		logger:    logger,
	}
}

// =========================================================================
// NATIVE
// =========================================================================

// RegisterInput is the native registration form.
type RegisterInput struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// Register creates a native account. It does not log the user in.
//
// Email and username uniqueness are enforced by storage; a collision comes
// back as apperror.ErrConflict with Field "email" or "username".
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.Account, error) {
	// === VALIDATION ===
	email := model.NormalizeEmail(in.Email)
	handle := strings.TrimSpace(in.Username)
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateUsername(handle); err != nil {
		return nil, err
	}
	if first == "" {
		return nil, apperror.ValidationFailed("firstName", "first name is required")
	}
	if last == "" {
		return nil, apperror.ValidationFailed("lastName", "last name is required")
	}
	if utf8.RuneCountInString(first) > MaxNameLength || utf8.RuneCountInString(last) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("names must be %d characters or less", MaxNameLength))
	}

	// SetSecret rejects an empty or over-long password.
	secret, err := s.passwords.SetSecret(in.Password)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		Email:     email,
		Username:  model.StringPtr(handle),
		FirstName: first,
		LastName:  last,
		Secret:    secret,
		Source:    model.SourceNative,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: registering %s: %w", email, err)
	}

	s.logger.Info("account registered",
		slog.Int64("account_id", account.ID),
		slog.String("username", handle),
	)
	return account, nil
}

// Login checks native credentials and binds the session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.Account, error) {
	return s.sessions.LoginNative(ctx, email, password)
}

// Logout is always successful from the user's point of view.
func (s *AuthService) Logout(ctx context.Context) error {
	if err := s.sessions.Logout(ctx); err != nil {
		return err
	}
	s.sessions.Flash(ctx, MsgLoggedOut)
	return nil
}

// =========================================================================
// FEDERATED
// =========================================================================

// BeginFederated returns the provider URL and the nonce to keep in a cookie.
func (s *AuthService) BeginFederated(ctx context.Context, provider, next string) (redirectURL, nonce string, err error) {
	return s.bridge.BeginAuthorization(ctx, provider, next)
}

// FederatedResult tells the handler where to send the user after a
// provider callback.
type FederatedResult struct {
	// Redirect is the next location: the username choice page for an
	// account without a username, otherwise the page the user started from.
	Redirect string
	Account  *model.Account
	Created  bool
	// Notice is a message for the user (declined or rejected sign-in).
	Notice string
}

// CompleteFederated runs the whole callback: state check, code exchange,
// profile fetch, identity resolution and session binding.
//
// Every expected failure (declined consent, provider error, unverified
// profile, missing or conflicting email, lost race) is folded into the
// result as a Notice with a redirect back, and no session is started. The
// returned error is reserved for unexpected failures such as storage
// errors.
func (s *AuthService) CompleteFederated(ctx context.Context, provider string, query url.Values, nonce string) (*FederatedResult, error) {
	cb, err := s.bridge.CompleteAuthorization(ctx, provider, query, nonce)
	back := "/"
	if cb != nil {
		back = cb.Next
	}
	if err != nil {
		return s.reject(back, provider, err)
	}
	if cb.Declined() {
		return &FederatedResult{Redirect: back, Notice: MsgDeclined}, nil
	}

	account, created, err := s.resolver.Resolve(ctx, model.Source(cb.Provider), cb.Assertion)
	if err != nil {
		return s.reject(back, provider, err)
	}

	if err := s.sessions.LoginFederated(ctx, account); err != nil {
		return nil, fmt.Errorf("service/auth: binding session: %w", err)
	}

	result := &FederatedResult{Redirect: back, Account: account, Created: created}
	if account.NeedsUsername() {
		result.Redirect = auth.UsernameChoicePath
	}
	return result, nil
}

func (s *AuthService) reject(back, provider string, err error) (*FederatedResult, error) {
	if !apperror.IsFederatedRejection(err) {
		return nil, fmt.Errorf("service/auth: %s callback: %w", provider, err)
	}

	s.logger.Info("federated login rejected",
		slog.String("provider", provider),
		slog.String("error", causeOf(err).Error()),
	)
	return &FederatedResult{Redirect: back, Notice: err.Error()}, nil
}

// causeOf returns the wrapped cause for logging. An AppError's Message is
// meant for users; the cause carries the provider detail.
func causeOf(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Err
	}
	return err
}

// =========================================================================
// USERNAME CHOICE
// =========================================================================

// ProposeUsername suggests a free handle built from the account's names.
func (s *AuthService) ProposeUsername(ctx context.Context, account *model.Account) (string, error) {
	proposed, err := s.usernames.Propose(ctx, account.FirstName, account.LastName)
	if err != nil {
		return "", fmt.Errorf("service/auth: proposing username: %w", err)
	}
	return proposed, nil
}

// ChooseUsername assigns a username to an account that has none. An empty
// choice takes the proposal. A taken name is apperror.ErrUsernameConflict.
func (s *AuthService) ChooseUsername(ctx context.Context, account *model.Account, chosen string) (*model.Account, error) {
	if !account.NeedsUsername() {
		return nil, apperror.ValidationFailed("username", "username has already been chosen")
	}

	chosen = strings.TrimSpace(chosen)
	if chosen == "" {
		proposed, err := s.ProposeUsername(ctx, account)
		if err != nil {
			return nil, err
		}
		chosen = proposed
	}
	if err := validateUsername(chosen); err != nil {
		return nil, err
	}

	if err := s.accounts.SetUsername(ctx, account.ID, chosen); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.UsernameConflict(chosen)
		}
		if errors.Is(err, apperror.ErrValidation) || errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: setting username: %w", err)
	}

	s.logger.Info("username chosen",
		slog.Int64("account_id", account.ID),
		slog.String("username", chosen),
	)

	updated, err := s.accounts.GetByID(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: reloading account: %w", err)
	}
	return updated, nil
}

// =========================================================================
// VALIDATION
// =========================================================================

func validateEmail(email string) error {
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return apperror.ValidationFailed("email",
			fmt.Sprintf("email must be %d characters or less", MaxEmailLength))
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.ContainsAny(email, " \t\r\n") {
		return apperror.ValidationFailed("email", "email is not a valid address")
	}
	return nil
}

// validateUsername accepts anything the allocator can propose: lowercase
// names joined by "_", which may contain spaces for multi-word names.
func validateUsername(name string) error {
	if name == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if utf8.RuneCountInString(name) > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}
	if strings.ContainsAny(name, username.InvalidChars) {
		return apperror.ValidationFailed("username", "username contains invalid characters")
	}
	return nil
}
