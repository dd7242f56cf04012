// Package username derives a unique handle for accounts that signed up
// through a provider and have not picked one yet.
package username

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sakif/dreamteam/internal/apperror"
)

// fallbackBase is used when the provider gave us no name at all.
const fallbackBase = "employee"

// MaxLength is the longest username, in runes. Proposals are cut to fit.
const MaxLength = 64

// InvalidChars may not appear in a username.
const InvalidChars = "/\\\t\r\n"

// Checker reports whether a username is already taken.
// repository.AccountRepository satisfies it.
type Checker interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// Allocator proposes usernames. It never writes: the caller persists the
// chosen value, and the storage unique constraint is the final arbiter.
type Allocator struct {
	accounts Checker
}

func NewAllocator(accounts Checker) *Allocator {
	return &Allocator{accounts: accounts}
}

// Base builds the first candidate: lowercase "first_last". Line breaks and
// tabs become spaces and slashes are dropped.
func Base(first, last string) string {
	first = clean(first)
	last = clean(last)

	switch {
	case first == "" && last == "":
		return fallbackBase
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + "_" + last
}

func clean(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\r', '\n':
			return ' '
		case '/', '\\':
			return -1
		}
		return r
	}, name)
	return strings.ToLower(strings.TrimSpace(name))
}

// withSuffix returns base with suffix n (none for 0), with base cut so the
// result is at most MaxLength runes.
func withSuffix(base string, n int) string {
	suffix := ""
	if n > 0 {
		suffix = strconv.Itoa(n)
	}
	if room := MaxLength - len(suffix); utf8.RuneCountInString(base) > room {
		base = strings.TrimRight(string([]rune(base)[:room]), " _")
		if base == "" {
			base = fallbackBase
		}
	}
	return base + suffix
}

// Propose returns the first free candidate among base, base1, base2, ...
//
// The loop is unbounded: with finitely many accounts some suffix is always
// free.
func (a *Allocator) Propose(ctx context.Context, first, last string) (string, error) {
	base := Base(first, last)

	for n := 0; ; n++ {
		candidate := withSuffix(base, n)

		err := a.claimable(ctx, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, apperror.ErrUsernameConflict) {
			return "", err
		}
	}
}

// claimable returns apperror.UsernameConflict when candidate is taken.
func (a *Allocator) claimable(ctx context.Context, candidate string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	taken, err := a.accounts.UsernameExists(ctx, candidate)
	if err != nil {
		return fmt.Errorf("username: probing %q: %w", candidate, err)
	}
	if taken {
		return apperror.UsernameConflict(candidate)
	}
	return nil
}
