package model

import "github.com/sakif/dreamteam/internal/apperror"

// Secret is the stored form of an account password: a salted one-way hash.
//
// There is no way to get the plaintext back. Encoding a Secret on its own to
// JSON or text fails with apperror.ErrReadOnlyField; Account skips the field
// (json:"-"), so an encoded Account simply has no secret. Producing and
// checking secrets is the job of auth.PasswordService.
type Secret struct {
	hash string
}

// SecretFromHash rebuilds a Secret from its persisted encoding.
func SecretFromHash(hash string) Secret {
	return Secret{hash: hash}
}

// IsSet reports whether a password has ever been set.
func (s Secret) IsSet() bool {
	return s.hash != ""
}

// EncodedHash returns the value to persist. It is the hash, never the plaintext.
func (s Secret) EncodedHash() string {
	return s.hash
}

func (s Secret) String() string {
	if !s.IsSet() {
		return "[unset]"
	}
	return "[redacted]"
}

func (s Secret) GoString() string {
	return "model.Secret{" + s.String() + "}"
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return nil, apperror.ReadOnlyField("password")
}

func (s Secret) MarshalText() ([]byte, error) {
	return nil, apperror.ReadOnlyField("password")
}
