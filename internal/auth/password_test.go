package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/sakif/dreamteam/internal/apperror"
	"github.com/sakif/dreamteam/internal/model"
)

// =========================================================================
// SetSecret TESTS
// =========================================================================

func TestSetSecret_ReturnsSetSecret(t *testing.T) {
	ps := NewPasswordServiceForTest()

	secret, err := ps.SetSecret("my-secret-password")
	if err != nil {
		t.Fatalf("SetSecret() error = %v", err)
	}
	if !secret.IsSet() {
		t.Error("SetSecret() returned an unset Secret")
	}
}

func TestSetSecret_StoresBcryptNotPlaintext(t *testing.T) {
	ps := NewPasswordServiceForTest()

	secret, err := ps.SetSecret("password123")
	if err != nil {
		t.Fatalf("SetSecret() error = %v", err)
	}

	hash := secret.EncodedHash()
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("EncodedHash() does not look like a bcrypt hash: %q", hash)
	}
	if strings.Contains(hash, "password123") {
		t.Error("EncodedHash() contains the plaintext")
	}
}

func TestSetSecret_SamePasswordProducesDifferentHashes(t *testing.T) {
	ps := NewPasswordServiceForTest()

	s1, _ := ps.SetSecret("same-password")
	s2, _ := ps.SetSecret("same-password")

	if s1.EncodedHash() == s2.EncodedHash() {
		t.Error("SetSecret() produced identical hashes for the same password (salt must be random)")
	}
}

func TestSetSecret_RejectsEmpty(t *testing.T) {
	ps := NewPasswordServiceForTest()

	_, err := ps.SetSecret("")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("SetSecret(\"\") error = %v, want ErrValidation", err)
	}
}

func TestSetSecret_RejectsPasswordOver72Bytes(t *testing.T) {
	ps := NewPasswordServiceForTest()

	_, err := ps.SetSecret(strings.Repeat("a", 73))
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("SetSecret() error = %v, want ErrValidation for 73 bytes", err)
	}
}

func TestSetSecret_AcceptsPasswordExactly72Bytes(t *testing.T) {
	ps := NewPasswordServiceForTest()

	if _, err := ps.SetSecret(strings.Repeat("a", 72)); err != nil {
		t.Fatalf("SetSecret() should accept a 72-byte password, got error: %v", err)
	}
}

func TestNewPasswordService_FallsBackToDefaultCost(t *testing.T) {
	ps := NewPasswordService(0)
	if ps.cost != DefaultCost {
		t.Errorf("cost = %d, want %d", ps.cost, DefaultCost)
	}
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify_CorrectPassword(t *testing.T) {
	ps := NewPasswordServiceForTest()

	secret, err := ps.SetSecret("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("SetSecret() error = %v", err)
	}

	if !ps.Verify(secret, "correct-horse-battery-staple") {
		t.Error("Verify() = false for the correct password")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	ps := NewPasswordServiceForTest()

	secret, _ := ps.SetSecret("the-real-password")

	if ps.Verify(secret, "the-wrong-password") {
		t.Error("Verify() = true for a wrong password")
	}
}

func TestVerify_EmptyPassword(t *testing.T) {
	ps := NewPasswordServiceForTest()

	secret, _ := ps.SetSecret("some-password")

	if ps.Verify(secret, "") {
		t.Error("Verify() = true for an empty password")
	}
}

func TestVerify_UnsetSecret(t *testing.T) {
	ps := NewPasswordServiceForTest()

	if ps.Verify(model.Secret{}, "") {
		t.Error("Verify(unset, \"\") = true, want false")
	}
	if ps.Verify(model.Secret{}, "anything") {
		t.Error("Verify(unset, \"anything\") = true, want false")
	}
}

func TestVerify_GarbageHash(t *testing.T) {
	ps := NewPasswordServiceForTest()

	secret := model.SecretFromHash("not-a-valid-bcrypt-hash")
	if ps.Verify(secret, "password") {
		t.Error("Verify() = true for a garbage hash")
	}
}

// =========================================================================
// ROUND-TRIP TEST
// =========================================================================

func TestSetSecretVerify_RoundTrip(t *testing.T) {
	ps := NewPasswordServiceForTest()

	cases := []struct {
		name     string
		password string
	}{
		{"simple alphanumeric", "hello123"},
		{"special characters", "p@$$w0rd!#%"},
		{"unicode", "пароль-密码"},
		{"whitespace", "  leading and trailing  "},
		{"single space", " "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			secret, err := ps.SetSecret(tc.password)
			if err != nil {
				t.Fatalf("SetSecret(%q) error = %v", tc.password, err)
			}

			if !ps.Verify(secret, tc.password) {
				t.Errorf("Verify() failed for %q", tc.password)
			}
		})
	}
}
