// Package session binds requests to accounts on top of scs.
//
// The session holds only the account id (never the account itself), the
// provider access token while a federated handshake is in flight, and
// pending flash notices. Every read of the principal goes back to storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"

	"github.com/sakif/dreamteam/internal/apperror"
	"github.com/sakif/dreamteam/internal/model"
)

// Session keys.
const (
	accountIDKey   = "account_id"
	providerKeyFmt = "provider_token:%s"
	flashesKey     = "flashes"
)

// CookieName is the session cookie set by the manager.
const CookieName = "dreamteam_session"

// Options configure NewManager. Zero values fall back to scs defaults
// (24h lifetime, no idle timeout) and the in-memory store.
type Options struct {
	Lifetime     time.Duration
	IdleTimeout  time.Duration
	CookieSecure bool
	Store        scs.Store
}

// NewManager builds the scs session manager used by the server and the
// Authenticator.
func NewManager(opts Options) *scs.SessionManager {
	sm := scs.New()
	if opts.Lifetime > 0 {
		sm.Lifetime = opts.Lifetime
	}
	if opts.IdleTimeout > 0 {
		sm.IdleTimeout = opts.IdleTimeout
	}
	if opts.Store != nil {
		sm.Store = opts.Store
	} else {
		sm.Store = memstore.New()
	}

	sm.Cookie.Name = CookieName
	sm.Cookie.HttpOnly = true
	sm.Cookie.Path = "/"
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = opts.CookieSecure
	return sm
}

// Accounts is what the Authenticator reads from storage.
type Accounts interface {
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
}

// Verifier checks a plaintext against a stored secret.
// *auth.PasswordService satisfies it.
type Verifier interface {
	Verify(secret model.Secret, plaintext string) bool
}

// Authenticator establishes and tears down the session binding. All methods
// expect ctx to carry a loaded scs session (the LoadAndSave middleware does
// this for HTTP requests).
type Authenticator struct {
	sessions  *scs.SessionManager
	accounts  Accounts
	passwords Verifier
	logger    *slog.Logger
}

func NewAuthenticator(sessions *scs.SessionManager, accounts Accounts, passwords Verifier, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		sessions:  sessions,
		accounts:  accounts,
		passwords: passwords,
		logger:    logger,
	}
}

// LoginNative checks email and password and binds the session.
//
// An unknown email, a wrong password and a federated account without a
// password all produce the same apperror.InvalidCredentials.
func (a *Authenticator) LoginNative(ctx context.Context, email, plaintext string) (*model.Account, error) {
	account, err := a.accounts.GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			a.logger.Info("native login failed", slog.String("reason", "unknown email"))
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("session: loading account: %w", err)
	}

	if !a.passwords.Verify(account.Secret, plaintext) {
		a.logger.Info("native login failed",
			slog.Int64("account_id", account.ID),
			slog.String("reason", "password mismatch"),
		)
		return nil, apperror.InvalidCredentials()
	}

	if err := a.bind(ctx, account); err != nil {
		return nil, err
	}
	a.logger.Info("account logged in",
		slog.Int64("account_id", account.ID),
		slog.String("source", string(account.Source)),
	)
	return account, nil
}

// LoginFederated binds an account the identity resolver already vouched for.
func (a *Authenticator) LoginFederated(ctx context.Context, account *model.Account) error {
	if account == nil || account.ID == 0 {
		return errors.New("session: cannot bind an unsaved account")
	}
	if err := a.bind(ctx, account); err != nil {
		return err
	}
	a.logger.Info("account logged in",
		slog.Int64("account_id", account.ID),
		slog.String("source", string(account.Source)),
	)
	return nil
}

// bind renews the session token (against fixation) and stores the id.
func (a *Authenticator) bind(ctx context.Context, account *model.Account) error {
	if err := a.sessions.RenewToken(ctx); err != nil {
		return fmt.Errorf("session: renewing token: %w", err)
	}
	a.sessions.Put(ctx, accountIDKey, account.ID)
	return nil
}

// CurrentPrincipal returns the bound account, or nil when the session is
// anonymous. A binding to an account that no longer exists is dropped.
func (a *Authenticator) CurrentPrincipal(ctx context.Context) (*model.Account, error) {
	id := a.sessions.GetInt64(ctx, accountIDKey)
	if id == 0 {
		return nil, nil
	}

	account, err := a.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			a.logger.Warn("session bound to missing account, clearing", slog.Int64("account_id", id))
			a.sessions.Remove(ctx, accountIDKey)
			return nil, nil
		}
		return nil, fmt.Errorf("session: loading principal: %w", err)
	}
	return account, nil
}

// IsAuthenticated reports whether the session carries a binding, without
// touching storage.
func (a *Authenticator) IsAuthenticated(ctx context.Context) bool {
	return a.sessions.Exists(ctx, accountIDKey)
}

// Logout drops the binding and any provider tokens, then renews the token.
// Calling it on an anonymous session is fine. Flash notices survive so the
// caller can confirm the logout.
func (a *Authenticator) Logout(ctx context.Context) error {
	id := a.sessions.GetInt64(ctx, accountIDKey)

	for _, key := range a.sessions.Keys(ctx) {
		if key != flashesKey {
			a.sessions.Remove(ctx, key)
		}
	}
	if err := a.sessions.RenewToken(ctx); err != nil {
		return fmt.Errorf("session: renewing token: %w", err)
	}

	if id != 0 {
		a.logger.Info("account logged out", slog.Int64("account_id", id))
	}
	return nil
}

// =========================================================================
// PROVIDER TOKEN
// =========================================================================

// PutProviderToken keeps a provider access token for the rest of the
// handshake.
func (a *Authenticator) PutProviderToken(ctx context.Context, provider, token string) {
	a.sessions.Put(ctx, fmt.Sprintf(providerKeyFmt, provider), token)
}

// ProviderToken returns the stored token and whether there was one.
func (a *Authenticator) ProviderToken(ctx context.Context, provider string) (string, bool) {
	token := a.sessions.GetString(ctx, fmt.Sprintf(providerKeyFmt, provider))
	return token, token != ""
}

func (a *Authenticator) ClearProviderToken(ctx context.Context, provider string) {
	a.sessions.Remove(ctx, fmt.Sprintf(providerKeyFmt, provider))
}

// =========================================================================
// FLASH NOTICES
// =========================================================================

// Flash queues a one-time notice for the next page the user sees.
func (a *Authenticator) Flash(ctx context.Context, message string) {
	flashes, _ := a.sessions.Get(ctx, flashesKey).([]string)
	a.sessions.Put(ctx, flashesKey, append(flashes, message))
}

// PopFlashes returns and clears the queued notices. It never returns nil.
func (a *Authenticator) PopFlashes(ctx context.Context) []string {
	flashes, _ := a.sessions.Pop(ctx, flashesKey).([]string)
	if flashes == nil {
		return []string{}
	}
	return flashes
}
