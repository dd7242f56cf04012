package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/dreamteam/internal/model"
)

const githubAPIBase = "https://api.github.com"

// githubUser is the portion of the GitHub /user API response we care about.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	ID    int64  `json:"id"`    // stable, never changes
	Login string `json:"login"` // handle, e.g. "octocat"
	Name  string `json:"name"`  // display name, may be empty
	Email string `json:"email"` // public email, empty if hidden
}

// githubEmail is one entry of GET /user/emails.
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider signs users in with GitHub.
//
// GitHub has no "verified profile" flag; the assertion counts as verified
// when the primary email address is verified. That needs the user:email
// scope and a second call to /user/emails.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
//
// callbackURL must match the "Authorization callback URL" configured for the
// OAuth App exactly, e.g. "http://localhost:8080/auth/callback/github".
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: githubAPIBase,
	}
}

func (p *GitHubProvider) Name() string { return string(model.SourceGitHub) }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging GitHub code: %w", err)
	}
	return token, nil
}

// FetchProfile calls /user and /user/emails.
func (p *GitHubProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.FederatedAssertion, error) {
	client := p.config.Client(ctx, token)

	var u githubUser
	if err := getJSON(ctx, client, p.apiBase+"/user", &u); err != nil {
		return nil, fmt.Errorf("auth: GitHub profile: %w", err)
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, p.apiBase+"/user/emails", &emails); err != nil {
		return nil, fmt.Errorf("auth: GitHub emails: %w", err)
	}

	first, last := splitName(u.Name)
	if first == "" && last == "" {
		first = u.Login
	}

	assertion := &model.FederatedAssertion{
		ExternalID: strconv.FormatInt(u.ID, 10),
		Email:      u.Email,
		FirstName:  first,
		LastName:   last,
	}
	for _, e := range emails {
		if e.Primary {
			assertion.Email = e.Email
			assertion.Verified = e.Verified
			break
		}
	}
	return assertion, nil
}

// splitName splits a display name at the first space: "Jane van Doe" gives
// ("Jane", "van Doe").
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	first, last, _ = strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}
