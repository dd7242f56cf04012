// Package auth holds the credential and provider plumbing of sign-in:
// bcrypt password hashing, signed OAuth state tickets, the OAuth providers
// and the token bridge that drives the provider callback.
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 = 4096 iterations)
//	 version
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/dreamteam/internal/apperror"
	"github.com/sakif/dreamteam/internal/model"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 12

// maxPasswordBytes is bcrypt's input limit; longer inputs are silently
// truncated by the algorithm, so we reject them instead.
const maxPasswordBytes = 72

// PasswordService is the credential store: it turns plaintext into a
// model.Secret and checks plaintext against one.
//
// The cost is a field so tests can run at bcrypt.MinCost.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService. A cost outside bcrypt's
// accepted range falls back to DefaultCost.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest creates a PasswordService with bcrypt cost 4
// (the minimum allowed). Do NOT use in production.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{cost: bcrypt.MinCost}
}

// SetSecret hashes plaintext with a fresh random salt.
func (p *PasswordService) SetSecret(plaintext string) (model.Secret, error) {
	if plaintext == "" {
		return model.Secret{}, apperror.ValidationFailed("password", "password is required")
	}
	if len(plaintext) > maxPasswordBytes {
		return model.Secret{}, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", maxPasswordBytes))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return model.Secret{}, fmt.Errorf("auth: hashing password: %w", err)
	}

	return model.SecretFromHash(string(hashed)), nil
}

// Verify reports whether plaintext matches the secret. An unset secret
// (federated account without a password) never matches.
//
// bcrypt.CompareHashAndPassword compares in constant time.
func (p *PasswordService) Verify(secret model.Secret, plaintext string) bool {
	if !secret.IsSet() {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(secret.EncodedHash()), []byte(plaintext))
	return err == nil
}
