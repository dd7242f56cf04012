// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Source tags where an account's identity comes from: SourceNative for
// locally registered credentials, or the name of a federated provider.
type Source string

const (
	SourceNative   Source = "native"
	SourceFacebook Source = "facebook"
	SourceGitHub   Source = "github"
)

// IsFederated reports whether s names an external identity provider.
func (s Source) IsFederated() bool {
	return s != "" && s != SourceNative
}

// Account is the unit of identity: one employee, whichever way they sign in.
//
// An account is either native (Secret set, ExternalID nil) or federated
// (ExternalID set, Secret optional). The storage layer enforces this with a
// CHECK constraint and enforces uniqueness of Email, Username (when not nil)
// and the (Source, ExternalID) link.
//
// Username is a pointer because federated accounts start without one and the
// user picks it after their first login.
type Account struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Username   *string   `json:"username"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Secret     Secret    `json:"-"`
	Source     Source    `json:"source"`
	ExternalID *string   `json:"-"`
	IsAdmin    bool      `json:"isAdmin"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NeedsUsername is true until a handle has been assigned. Callers must send
// such a principal to username selection before anything else.
func (a *Account) NeedsUsername() bool {
	return a.Username == nil || *a.Username == ""
}

// DisplayName is used in log lines and greetings.
func (a *Account) DisplayName() string {
	if a.Username != nil && *a.Username != "" {
		return *a.Username
	}
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name != "" {
		return name
	}
	return a.Email
}

// FederatedAssertion is what an identity provider tells us about a user after
// a successful callback. It is consumed by the identity resolver and never
// stored.
type FederatedAssertion struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	Verified   bool
}

// NormalizeEmail trims and lowercases an address before it is stored or
// looked up, so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StringPtr returns a pointer to s; handy for Username and ExternalID.
func StringPtr(s string) *string {
	return &s
}
