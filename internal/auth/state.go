package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	stateIssuer   = "dreamteam"
	stateAudience = "oauth-state"

	// DefaultStateTTL bounds how long the user may sit on the provider's
	// consent screen.
	DefaultStateTTL = 10 * time.Minute
)

// ErrInvalidState is returned for a missing, expired, tampered or
// mismatched state parameter.
var ErrInvalidState = errors.New("auth: invalid OAuth state")

// State is what we round-trip through the provider in the OAuth state
// parameter.
//
// The ticket is a JWT signed with HS256, so it cannot be forged or edited.
// Nonce is also stored in a short-lived cookie by the handler; the callback
// must present both, which binds the ticket to the browser that started the
// flow (CSRF protection).
type State struct {
	Provider string
	Nonce    string
	Next     string
}

type stateClaims struct {
	Provider string `json:"prv"`
	Next     string `json:"nxt,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner issues and checks state tickets.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewStateSigner requires a secret of at least 16 characters. A
// non-positive ttl means DefaultStateTTL.
func NewStateSigner(secret string, ttl time.Duration) (*StateSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: state secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl}, nil
}

// NewNonce returns a fresh, globally unique nonce.
func NewNonce() string {
	return xid.New().String()
}

// Sign returns the signed ticket. Next is sanitised; an empty Nonce gets a
// fresh one, which is reflected in the returned State.
func (s *StateSigner) Sign(st State) (string, State, error) {
	if st.Provider == "" {
		return "", st, errors.New("auth: state needs a provider")
	}
	if st.Nonce == "" {
		st.Nonce = NewNonce()
	}
	st.Next = SanitizeNext(st.Next)

	now := time.Now()
	c := stateClaims{
		Provider: st.Provider,
		Next:     st.Next,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        st.Nonce,
			Issuer:    stateIssuer,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", st, fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, st, nil
}

// Verify parses and validates a ticket. Every failure wraps ErrInvalidState.
func (s *StateSigner) Verify(ticket string) (*State, error) {
	if ticket == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidState)
	}

	token, err := jwt.ParseWithClaims(
		ticket,
		&stateClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrInvalidState)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	c, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid || c.Provider == "" || c.ID == "" {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidState)
	}

	return &State{Provider: c.Provider, Nonce: c.ID, Next: SanitizeNext(c.Next)}, nil
}

// SanitizeNext keeps post-login redirects on this site. Only relative paths
// ("/dashboard?tab=1") survive; absolute URLs, scheme-relative "//host"
// forms and anything unparsable become "/".
func SanitizeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") {
		return "/"
	}
	if strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "/"
	}

	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}

// PathFromReferer reduces a Referer header to its path and query when it
// points at host, and returns "" otherwise.
func PathFromReferer(referer, host string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || (u.Host != "" && u.Host != host) {
		return ""
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return SanitizeNext(path)
}
