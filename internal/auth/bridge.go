package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/dreamteam/internal/apperror"
	"github.com/sakif/dreamteam/internal/model"
)

// DefaultProviderTimeout bounds each call to a provider (code exchange,
// profile fetch).
const DefaultProviderTimeout = 10 * time.Second

// TokenStore keeps the provider access token in the user's session while a
// handshake is in flight. *session.Authenticator satisfies it.
type TokenStore interface {
	PutProviderToken(ctx context.Context, provider, token string)
	ProviderToken(ctx context.Context, provider string) (string, bool)
	ClearProviderToken(ctx context.Context, provider string)
}

// Callback is the outcome of a provider redirect back to us.
type Callback struct {
	Provider string
	// Next is where the user wanted to go before signing in.
	Next string
	// Assertion is nil when the user declined consent at the provider.
	Assertion *model.FederatedAssertion
}

// Declined reports whether the user refused to sign in at the provider.
func (c *Callback) Declined() bool {
	return c.Assertion == nil
}

// Bridge drives the OAuth callback dance for every registered provider.
// It is built once at startup and injected; it holds no per-user state of
// its own.
type Bridge struct {
	providers *Registry
	states    *StateSigner
	tokens    TokenStore
	timeout   time.Duration
	logger    *slog.Logger
}

// NewBridge wires a Bridge. A non-positive timeout means
// DefaultProviderTimeout.
func NewBridge(providers *Registry, states *StateSigner, tokens TokenStore, timeout time.Duration, logger *slog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &Bridge{
		providers: providers,
		states:    states,
		tokens:    tokens,
		timeout:   timeout,
		logger:    logger,
	}
}

func (b *Bridge) provider(name string) (Provider, error) {
	p, ok := b.providers.Get(name)
	if !ok {
		return nil, apperror.NotFound("provider", name)
	}
	return p, nil
}

// BeginAuthorization returns the provider URL to redirect to and the nonce
// the caller must remember (in a cookie) until the callback.
func (b *Bridge) BeginAuthorization(ctx context.Context, providerName, next string) (redirectURL, nonce string, err error) {
	p, err := b.provider(providerName)
	if err != nil {
		return "", "", err
	}

	ticket, st, err := b.states.Sign(State{Provider: p.Name(), Next: next})
	if err != nil {
		return "", "", err
	}

	b.logger.DebugContext(ctx, "oauth authorization started",
		slog.String("provider", p.Name()),
		slog.String("next", st.Next),
	)
	return p.AuthURL(ticket), st.Nonce, nil
}

// CompleteAuthorization handles the provider's redirect.
//
//   - the state ticket must verify, name this provider and carry nonce
//   - error=access_denied, or no code at all, means the user declined:
//     the Callback has a nil Assertion and no error is returned
//   - otherwise the code is exchanged, the access token is held in the
//     session for the profile fetch, and cleared again before returning
//
// Failures are apperror.ErrProviderFailure rejections. Whenever the state
// ticket was valid the returned Callback is non-nil, even alongside an
// error, so the caller knows where to send the user back to.
func (b *Bridge) CompleteAuthorization(ctx context.Context, providerName string, query url.Values, nonce string) (*Callback, error) {
	p, err := b.provider(providerName)
	if err != nil {
		return nil, err
	}

	st, err := b.states.Verify(query.Get("state"))
	if err != nil {
		return nil, apperror.ProviderFailure(p.Name(), err)
	}
	if st.Provider != p.Name() || nonce == "" ||
		subtle.ConstantTimeCompare([]byte(st.Nonce), []byte(nonce)) != 1 {
		return nil, apperror.ProviderFailure(p.Name(), fmt.Errorf("%w: nonce or provider mismatch", ErrInvalidState))
	}

	cb := &Callback{Provider: p.Name(), Next: st.Next}

	if providerErr := query.Get("error"); providerErr != "" && providerErr != "access_denied" {
		return cb, apperror.ProviderFailure(p.Name(),
			fmt.Errorf("provider error %q: %s", providerErr, query.Get("error_description")))
	}
	code := query.Get("code")
	if code == "" {
		b.logger.InfoContext(ctx, "oauth authorization declined", slog.String("provider", p.Name()))
		return cb, nil
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, b.timeout)
	token, err := p.Exchange(exchangeCtx, code)
	cancel()
	if err != nil {
		return cb, apperror.ProviderFailure(p.Name(), err)
	}
	if token.AccessToken == "" {
		return cb, apperror.ProviderFailure(p.Name(), errors.New("empty access token"))
	}

	// The token only lives in the session for the duration of the handshake.
	b.tokens.PutProviderToken(ctx, p.Name(), token.AccessToken)
	defer b.tokens.ClearProviderToken(ctx, p.Name())

	assertion, err := b.FetchProfile(ctx, p.Name())
	if err != nil {
		return cb, err
	}
	cb.Assertion = assertion
	return cb, nil
}

// FetchProfile asks the provider for the profile behind the access token
// currently held in the session.
func (b *Bridge) FetchProfile(ctx context.Context, providerName string) (*model.FederatedAssertion, error) {
	p, err := b.provider(providerName)
	if err != nil {
		return nil, err
	}

	accessToken, ok := b.tokens.ProviderToken(ctx, p.Name())
	if !ok {
		return nil, apperror.ProviderFailure(p.Name(), errors.New("no access token in session"))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	assertion, err := p.FetchProfile(fetchCtx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	if err != nil {
		b.logger.WarnContext(ctx, "provider profile fetch failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		return nil, apperror.ProviderFailure(p.Name(), err)
	}
	return assertion, nil
}
