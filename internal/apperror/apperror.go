// Package apperror defines the error kinds shared by every layer.
//
// Services return *AppError values wrapping one of the sentinels below.
// Handlers match them with errors.Is and translate them to HTTP responses
// or flash notices; nothing below the handler layer knows about HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Authentication kinds.
var (
	// ErrInvalidCredentials covers both an unknown email and a wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrProfileUnverified = errors.New("federated profile unverified")
	ErrEmailMissing      = errors.New("federated email missing")
	ErrEmailConflict     = errors.New("federated email conflict")
	ErrFederatedRetry    = errors.New("federated sign-in must be retried")
	ErrProviderFailure   = errors.New("identity provider failure")

	// ErrUsernameConflict is raised by username probes. The allocator
	// recovers from it; it only reaches a client when the user picked
	// the name themselves.
	ErrUsernameConflict = errors.New("username conflict")

	// ErrReadOnlyField marks a programming defect: something tried to read
	// a write-only value such as an account secret.
	ErrReadOnlyField = errors.New("read-only field violation")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation on field (for example "email").
func Conflict(resource, field string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s with this %s already exists", resource, field),
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "valid authentication required",
	}
}

// InvalidCredentials never says whether the email or the password was wrong.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "Invalid email or password.",
	}
}

func ProfileUnverified() *AppError {
	return &AppError{
		Err:     ErrProfileUnverified,
		Message: "Your profile is not verified.",
	}
}

func EmailMissing() *AppError {
	return &AppError{
		Err:     ErrEmailMissing,
		Message: "Your account did not provide an email address.",
		Field:   "email",
	}
}

func EmailConflict() *AppError {
	return &AppError{
		Err:     ErrEmailConflict,
		Message: "User with this email already exists.",
		Field:   "email",
	}
}

func FederatedRetry() *AppError {
	return &AppError{
		Err:     ErrFederatedRetry,
		Message: "We could not complete your sign-in. Please try again.",
	}
}

// ProviderFailure wraps a failed exchange or profile fetch. The cause is kept
// for logs; Message stays generic.
func ProviderFailure(provider string, cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %s: %w", ErrProviderFailure, provider, cause),
		Message: "Sign-in with " + provider + " failed. Please try again.",
	}
}

func UsernameConflict(username string) *AppError {
	return &AppError{
		Err:     ErrUsernameConflict,
		Message: fmt.Sprintf("Username %q is already in use.", username),
		Field:   "username",
	}
}

func ReadOnlyField(field string) *AppError {
	return &AppError{
		Err:     ErrReadOnlyField,
		Message: fmt.Sprintf("%s is not a readable attribute", field),
		Field:   field,
	}
}

// IsFederatedRejection reports whether err is one of the kinds that end a
// federated login with a notice instead of a server error.
func IsFederatedRejection(err error) bool {
	switch {
	case errors.Is(err, ErrProfileUnverified),
		errors.Is(err, ErrEmailMissing),
		errors.Is(err, ErrEmailConflict),
		errors.Is(err, ErrFederatedRetry),
		errors.Is(err, ErrProviderFailure):
		return true
	}
	return false
}
