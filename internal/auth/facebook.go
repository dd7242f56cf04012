package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"github.com/sakif/dreamteam/internal/model"
)

const (
	facebookGraphBase = "https://graph.facebook.com"

	// DefaultFacebookFields is the profile projection requested from /me.
	DefaultFacebookFields = "id,email,first_name,last_name,verified"
)

// facebookProfile is the Graph API /me response for DefaultFacebookFields.
type facebookProfile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Verified  bool   `json:"verified"`
}

// FacebookProvider signs users in with Facebook.
type FacebookProvider struct {
	config    *oauth2.Config
	graphBase string
	fields    string
}

// NewFacebookProvider creates a FacebookProvider. An empty fields list means
// DefaultFacebookFields.
func NewFacebookProvider(clientID, clientSecret, callbackURL, fields string) *FacebookProvider {
	fields = strings.TrimSpace(fields)
	if fields == "" {
		fields = DefaultFacebookFields
	}
	return &FacebookProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"email"},
			Endpoint:     facebook.Endpoint,
		},
		graphBase: facebookGraphBase,
		fields:    fields,
	}
}

func (p *FacebookProvider) Name() string { return string(model.SourceFacebook) }

func (p *FacebookProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *FacebookProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging Facebook code: %w", err)
	}
	return token, nil
}

// FetchProfile calls /me with the configured fields. A field the user did
// not grant (typically email) is simply absent from the response.
func (p *FacebookProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.FederatedAssertion, error) {
	client := p.config.Client(ctx, token)

	var profile facebookProfile
	endpoint := p.graphBase + "/me?fields=" + url.QueryEscape(p.fields)
	if err := getJSON(ctx, client, endpoint, &profile); err != nil {
		return nil, fmt.Errorf("auth: Facebook profile: %w", err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("auth: Facebook returned a profile without id")
	}

	return &model.FederatedAssertion{
		ExternalID: profile.ID,
		Email:      profile.Email,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
		Verified:   profile.Verified,
	}, nil
}
