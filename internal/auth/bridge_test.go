package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/dreamteam/internal/apperror"
	"github.com/sakif/dreamteam/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeProvider records what the bridge asks of it.
type fakeProvider struct {
	name        string
	assertion   *model.FederatedAssertion
	exchangeErr error
	fetchErr    error
	blockFetch  bool

	tokens      *fakeTokenStore
	seenToken   string
	tokenInSess bool
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "tok-for-" + code}, nil
}

func (p *fakeProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.FederatedAssertion, error) {
	p.seenToken = token.AccessToken
	if p.tokens != nil {
		_, p.tokenInSess = p.tokens.ProviderToken(ctx, p.name)
	}
	if p.blockFetch {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	return p.assertion, nil
}

type fakeTokenStore struct {
	tokens map[string]string
}

func (s *fakeTokenStore) PutProviderToken(_ context.Context, provider, token string) {
	s.tokens[provider] = token
}

func (s *fakeTokenStore) ProviderToken(_ context.Context, provider string) (string, bool) {
	t, ok := s.tokens[provider]
	return t, ok
}

func (s *fakeTokenStore) ClearProviderToken(_ context.Context, provider string) {
	delete(s.tokens, provider)
}

type bridgeFixture struct {
	bridge   *Bridge
	provider *fakeProvider
	tokens   *fakeTokenStore
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	tokens := &fakeTokenStore{tokens: map[string]string{}}
	p := &fakeProvider{
		name: "facebook",
		assertion: &model.FederatedAssertion{
			ExternalID: "F1", Email: "new@x.com", FirstName: "Jane", LastName: "Doe", Verified: true,
		},
		tokens: tokens,
	}
	other := &fakeProvider{name: "github"}

	b := NewBridge(NewRegistry(p, other), newTestStateSigner(t), tokens, 50*time.Millisecond,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &bridgeFixture{bridge: b, provider: p, tokens: tokens}
}

// begin starts a flow and returns the state ticket and nonce.
func (f *bridgeFixture) begin(t *testing.T, provider, next string) (string, string) {
	t.Helper()
	redirect, nonce, err := f.bridge.BeginAuthorization(context.Background(), provider, next)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("redirect is not a URL: %v", err)
	}
	return u.Query().Get("state"), nonce
}

// =========================================================================
// BeginAuthorization TESTS
// =========================================================================

func TestBeginAuthorization(t *testing.T) {
	f := newBridgeFixture(t)

	state, nonce := f.begin(t, "facebook", "/dashboard")
	if state == "" || nonce == "" {
		t.Fatalf("state=%q nonce=%q, both must be set", state, nonce)
	}

	st, err := f.bridge.states.Verify(state)
	if err != nil {
		t.Fatalf("state does not verify: %v", err)
	}
	if st.Nonce != nonce || st.Next != "/dashboard" || st.Provider != "facebook" {
		t.Errorf("state = %+v", st)
	}
}

func TestBeginAuthorization_UnknownProvider(t *testing.T) {
	f := newBridgeFixture(t)

	_, _, err := f.bridge.BeginAuthorization(context.Background(), "myspace", "/")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// CompleteAuthorization TESTS
// =========================================================================

func TestCompleteAuthorization_Success(t *testing.T) {
	f := newBridgeFixture(t)
	state, nonce := f.begin(t, "facebook", "/dashboard")

	cb, err := f.bridge.CompleteAuthorization(context.Background(), "facebook",
		url.Values{"state": {state}, "code": {"abc"}}, nonce)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if cb.Declined() {
		t.Fatal("Declined() = true, want false")
	}
	if cb.Assertion.ExternalID != "F1" || cb.Next != "/dashboard" || cb.Provider != "facebook" {
		t.Errorf("callback = %+v", cb)
	}

	if f.provider.seenToken != "tok-for-abc" {
		t.Errorf("profile fetched with %q, want tok-for-abc", f.provider.seenToken)
	}
	if !f.provider.tokenInSess {
		t.Error("access token was not held in the session during the fetch")
	}
	if _, ok := f.tokens.ProviderToken(context.Background(), "facebook"); ok {
		t.Error("access token left in the session after the handshake")
	}
}

func TestCompleteAuthorization_Declined(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
	}{
		{"access denied", url.Values{"error": {"access_denied"}, "error_reason": {"user_denied"}}},
		{"no code", url.Values{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			state, nonce := f.begin(t, "facebook", "/somewhere")
			tt.query.Set("state", state)

			cb, err := f.bridge.CompleteAuthorization(context.Background(), "facebook", tt.query, nonce)
			if err != nil {
				t.Fatalf("CompleteAuthorization() error = %v", err)
			}
			if !cb.Declined() {
				t.Error("Declined() = false, want true")
			}
			if cb.Next != "/somewhere" {
				t.Errorf("Next = %q, want /somewhere", cb.Next)
			}
		})
	}
}

func TestCompleteAuthorization_ProviderError(t *testing.T) {
	f := newBridgeFixture(t)
	state, nonce := f.begin(t, "facebook", "/somewhere")

	cb, err := f.bridge.CompleteAuthorization(context.Background(), "facebook",
		url.Values{"state": {state}, "error": {"server_error"}}, nonce)
	if !errors.Is(err, apperror.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
	if cb == nil || cb.Next != "/somewhere" {
		t.Errorf("callback = %+v, want Next=/somewhere", cb)
	}
}

func TestCompleteAuthorization_BadState(t *testing.T) {
	f := newBridgeFixture(t)
	state, nonce := f.begin(t, "facebook", "/")
	githubState, githubNonce := f.begin(t, "github", "/")

	tests := []struct {
		name     string
		provider string
		state    string
		nonce    string
	}{
		{"missing state", "facebook", "", nonce},
		{"forged state", "facebook", state + "x", nonce},
		{"wrong nonce", "facebook", state, "someone-elses-nonce"},
		{"missing nonce cookie", "facebook", state, ""},
		{"state for another provider", "facebook", githubState, githubNonce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := f.bridge.CompleteAuthorization(context.Background(), tt.provider,
				url.Values{"state": {tt.state}, "code": {"abc"}}, tt.nonce)
			if !errors.Is(err, apperror.ErrProviderFailure) {
				t.Fatalf("error = %v, want ErrProviderFailure", err)
			}
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("error = %v, want it to wrap ErrInvalidState", err)
			}
			if cb != nil {
				t.Errorf("callback = %+v, want nil for an untrusted state", cb)
			}
		})
	}
}

func TestCompleteAuthorization_ExchangeFails(t *testing.T) {
	f := newBridgeFixture(t)
	f.provider.exchangeErr = errors.New("oauth2: invalid_grant")
	state, nonce := f.begin(t, "facebook", "/")

	_, err := f.bridge.CompleteAuthorization(context.Background(), "facebook",
		url.Values{"state": {state}, "code": {"abc"}}, nonce)
	if !errors.Is(err, apperror.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
	if !errors.Is(err, f.provider.exchangeErr) {
		t.Error("provider failure should keep its cause")
	}
	if len(f.tokens.tokens) != 0 {
		t.Error("no token should be stored when the exchange fails")
	}
}

func TestCompleteAuthorization_FetchTimesOut(t *testing.T) {
	f := newBridgeFixture(t)
	f.provider.blockFetch = true
	state, nonce := f.begin(t, "facebook", "/")

	start := time.Now()
	_, err := f.bridge.CompleteAuthorization(context.Background(), "facebook",
		url.Values{"state": {state}, "code": {"abc"}}, nonce)
	if !errors.Is(err, apperror.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want it to wrap context.DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not applied to the profile fetch")
	}
	if len(f.tokens.tokens) != 0 {
		t.Error("access token left in the session after a failed fetch")
	}
}

// =========================================================================
// FetchProfile TESTS
// =========================================================================

func TestFetchProfile_UsesSessionToken(t *testing.T) {
	f := newBridgeFixture(t)
	f.tokens.PutProviderToken(context.Background(), "facebook", "from-session")

	a, err := f.bridge.FetchProfile(context.Background(), "facebook")
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if a.ExternalID != "F1" {
		t.Errorf("ExternalID = %q, want F1", a.ExternalID)
	}
	if f.provider.seenToken != "from-session" {
		t.Errorf("token = %q, want from-session", f.provider.seenToken)
	}
}

func TestFetchProfile_NoToken(t *testing.T) {
	f := newBridgeFixture(t)

	_, err := f.bridge.FetchProfile(context.Background(), "facebook")
	if !errors.Is(err, apperror.ErrProviderFailure) {
		t.Errorf("error = %v, want ErrProviderFailure", err)
	}
}
