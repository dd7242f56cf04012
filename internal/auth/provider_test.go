package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

// newFakeProviderServer serves a token endpoint plus the given API routes.
// Every API route checks for the bearer token "access-123".
func newFakeProviderServer(t *testing.T, routes map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-123","token_type":"bearer"}`))
	})

	for path, body := range routes {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer access-123" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(body)
		})
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testEndpoint(srv *httptest.Server) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   srv.URL + "/authorize",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// =========================================================================
// REGISTRY TESTS
// =========================================================================

func TestRegistry(t *testing.T) {
	r := NewRegistry(
		NewGitHubProvider("id", "secret", "http://localhost/auth/callback/github"),
		NewFacebookProvider("id", "secret", "http://localhost/auth/callback/facebook", ""),
	)

	if got := r.Names(); len(got) != 2 || got[0] != "facebook" || got[1] != "github" {
		t.Errorf("Names() = %v, want [facebook github]", got)
	}
	if _, ok := r.Get("facebook"); !ok {
		t.Error("Get(facebook) not found")
	}
	if _, ok := r.Get("myspace"); ok {
		t.Error("Get(myspace) should not be found")
	}
}

// =========================================================================
// FACEBOOK TESTS
// =========================================================================

func TestFacebook_AuthURL(t *testing.T) {
	p := NewFacebookProvider("fb-client", "secret", "http://localhost/auth/callback/facebook", "")

	u, err := url.Parse(p.AuthURL("the-state"))
	if err != nil {
		t.Fatalf("AuthURL() is not a URL: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "the-state" || q.Get("client_id") != "fb-client" {
		t.Errorf("AuthURL() query = %v", q)
	}
	if q.Get("redirect_uri") != "http://localhost/auth/callback/facebook" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
}

func TestFacebook_ExchangeAndFetchProfile(t *testing.T) {
	srv := newFakeProviderServer(t, map[string]any{
		"/me": map[string]any{
			"id":         "F1",
			"email":      "new@x.com",
			"first_name": "Jane",
			"last_name":  "Doe",
			"verified":   true,
		},
	})
	p := NewFacebookProvider("id", "secret", "http://localhost/cb", "")
	p.config.Endpoint = testEndpoint(srv)
	p.graphBase = srv.URL

	ctx := context.Background()
	token, err := p.Exchange(ctx, "good-code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if token.AccessToken != "access-123" {
		t.Fatalf("AccessToken = %q, want access-123", token.AccessToken)
	}

	a, err := p.FetchProfile(ctx, token)
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if a.ExternalID != "F1" || a.Email != "new@x.com" || a.FirstName != "Jane" || a.LastName != "Doe" || !a.Verified {
		t.Errorf("FetchProfile() = %+v", a)
	}
}

func TestFacebook_MissingEmailIsNotAnError(t *testing.T) {
	srv := newFakeProviderServer(t, map[string]any{
		"/me": map[string]any{"id": "F2", "first_name": "No", "last_name": "Mail", "verified": true},
	})
	p := NewFacebookProvider("id", "secret", "http://localhost/cb", "")
	p.graphBase = srv.URL

	a, err := p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "access-123"})
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if a.Email != "" {
		t.Errorf("Email = %q, want empty", a.Email)
	}
}

func TestFacebook_BadCode(t *testing.T) {
	srv := newFakeProviderServer(t, nil)
	p := NewFacebookProvider("id", "secret", "http://localhost/cb", "")
	p.config.Endpoint = testEndpoint(srv)

	if _, err := p.Exchange(context.Background(), "bad-code"); err == nil {
		t.Fatal("Exchange() should fail for a rejected code")
	}
}

func TestFacebook_BadToken(t *testing.T) {
	srv := newFakeProviderServer(t, map[string]any{"/me": map[string]any{"id": "F1"}})
	p := NewFacebookProvider("id", "secret", "http://localhost/cb", "")
	p.graphBase = srv.URL

	_, err := p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "stolen"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("FetchProfile() error = %v, want a 401 failure", err)
	}
}

func TestFacebook_CustomFields(t *testing.T) {
	var gotFields string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFields = r.URL.Query().Get("fields")
		_, _ = w.Write([]byte(`{"id":"F1"}`))
	}))
	t.Cleanup(srv.Close)

	p := NewFacebookProvider("id", "secret", "http://localhost/cb", "id,email")
	p.graphBase = srv.URL
	if _, err := p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "x"}); err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if gotFields != "id,email" {
		t.Errorf("fields = %q, want id,email", gotFields)
	}
}

// =========================================================================
// GITHUB TESTS
// =========================================================================

func TestGitHub_FetchProfile(t *testing.T) {
	srv := newFakeProviderServer(t, map[string]any{
		"/user": map[string]any{"id": 42, "login": "octocat", "name": "Mona Lisa Octocat", "email": nil},
		"/user/emails": []map[string]any{
			{"email": "old@x.com", "primary": false, "verified": true},
			{"email": "mona@x.com", "primary": true, "verified": true},
		},
	})
	p := NewGitHubProvider("id", "secret", "http://localhost/cb")
	p.apiBase = srv.URL

	a, err := p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "access-123"})
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if a.ExternalID != "42" {
		t.Errorf("ExternalID = %q, want 42", a.ExternalID)
	}
	if a.Email != "mona@x.com" || !a.Verified {
		t.Errorf("email = %q verified=%v, want primary mona@x.com verified", a.Email, a.Verified)
	}
	if a.FirstName != "Mona" || a.LastName != "Lisa Octocat" {
		t.Errorf("names = %q / %q", a.FirstName, a.LastName)
	}
}

func TestGitHub_UnverifiedPrimaryEmail(t *testing.T) {
	srv := newFakeProviderServer(t, map[string]any{
		"/user":        map[string]any{"id": 7, "login": "ghost", "name": ""},
		"/user/emails": []map[string]any{{"email": "ghost@x.com", "primary": true, "verified": false}},
	})
	p := NewGitHubProvider("id", "secret", "http://localhost/cb")
	p.apiBase = srv.URL

	a, err := p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "access-123"})
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if a.Verified {
		t.Error("Verified = true for an unverified primary email")
	}
	if a.FirstName != "ghost" || a.LastName != "" {
		t.Errorf("names = %q / %q, want login as first name", a.FirstName, a.LastName)
	}
}

func TestGitHub_InvalidUser(t *testing.T) {
	srv := newFakeProviderServer(t, map[string]any{
		"/user":        map[string]any{"id": 0},
		"/user/emails": []map[string]any{},
	})
	p := NewGitHubProvider("id", "secret", "http://localhost/cb")
	p.apiBase = srv.URL

	if _, err := p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "access-123"}); err == nil {
		t.Fatal("FetchProfile() should reject a user with ID 0")
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in          string
		first, last string
	}{
		{"", "", ""},
		{"Jane", "Jane", ""},
		{"Jane Doe", "Jane", "Doe"},
		{"  Jane  van Doe ", "Jane", "van Doe"},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		if first != tt.first || last != tt.last {
			t.Errorf("splitName(%q) = %q, %q; want %q, %q", tt.in, first, last, tt.first, tt.last)
		}
	}
}
