package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/dreamteam/internal/model"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow the values.
type contextKey string

const principalKey contextKey = "principal"

// UsernameChoicePath is where accounts without a username are sent.
const UsernameChoicePath = "/auth/username"

// PrincipalSource resolves the account bound to the request's session.
// *session.Authenticator satisfies it.
type PrincipalSource interface {
	CurrentPrincipal(ctx context.Context) (*model.Account, error)
}

// WithPrincipal stores the account in ctx.
func WithPrincipal(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, principalKey, account)
}

// PrincipalFromContext returns the account loaded by LoadPrincipal.
// Returns (nil, false) if the request is anonymous.
func PrincipalFromContext(ctx context.Context) (*model.Account, bool) {
	account, ok := ctx.Value(principalKey).(*model.Account)
	return account, ok && account != nil
}

// LoadPrincipal reads the session's account once per request and stores it
// in the context. It never blocks a request: anonymous requests continue
// without a principal. It must run inside the scs LoadAndSave middleware.
func LoadPrincipal(src PrincipalSource, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := src.CurrentPrincipal(r.Context())
			if err != nil {
				logger.ErrorContext(r.Context(), "loading session principal", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
				return
			}
			if account != nil {
				r = r.WithContext(WithPrincipal(r.Context(), account))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLogin rejects anonymous requests with 401.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp,
// so LoadPrincipal must come first.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUsername sends principals that have not chosen a username to the
// username choice page before anything else. Use after RequireLogin.
func RequireUsername(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := PrincipalFromContext(r.Context())
		if ok && account.NeedsUsername() {
			http.Redirect(w, r, UsernameChoicePath, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects principals without the administrative flag with 403.
// Use after RequireLogin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := PrincipalFromContext(r.Context())
		if !ok || !account.IsAdmin {
			writeJSONError(w, http.StatusForbidden, "forbidden", "administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","message":"` + message + `"}`))
}
