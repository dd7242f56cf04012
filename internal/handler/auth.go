package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/dreamteam/internal/apperror"
	"github.com/sakif/dreamteam/internal/auth"
	"github.com/sakif/dreamteam/internal/model"
	"github.com/sakif/dreamteam/internal/service"
)

// NonceCookie holds the OAuth state nonce between the redirect to the
// provider and its callback.
const NonceCookie = "dreamteam_oauth_nonce"

// Landing pages after login.
const (
	DashboardPath      = "/dashboard"
	AdminDashboardPath = "/admin/dashboard"
)

// Notices queues and drains one-time flash messages stored in the session.
// *session.Authenticator satisfies it.
type Notices interface {
	Flash(ctx context.Context, message string)
	PopFlashes(ctx context.Context) []string
}

// AuthHandler exposes registration, both login flows, username choice and
// logout over HTTP.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin      → native accounts (JSON)
//   - HandleProviderLogin               → redirect the browser to the provider
//   - HandleProviderCallback            → finish the federated login, redirect
//   - HandleUsernameForm / HandleChooseUsername → pick a handle after first login
//   - HandleLogout                      → drop the session binding
//   - HandleMe / HandleFlashes          → who am I, pending notices
type AuthHandler struct {
	auth         *service.AuthService
	notices      Notices
	cookieSecure bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected here;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(svc *service.AuthService, notices Notices, cookieSecure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:         svc,
		notices:      notices,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// LandingPath is where a freshly authenticated principal goes: username
// choice first, then the admin or regular dashboard.
func LandingPath(account *model.Account) string {
	switch {
	case account.NeedsUsername():
		return auth.UsernameChoicePath
	case account.IsAdmin:
		return AdminDashboardPath
	default:
		return DashboardPath
	}
}

// accountResponse is returned after a successful login or username choice.
type accountResponse struct {
	Account  *model.Account `json:"account"`
	Redirect string         `json:"redirect"`
}

// =========================================================================
// NATIVE
// =========================================================================

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

// HandleRegister creates a native account. It does not log the user in.
//
// HTTP: POST /auth/register
// REQUEST BODY: {"email","username","firstName","lastName","password"}
// 201 with the account, 409 when the email or username is taken. A caller
// who is already signed in gets 200 with their landing page instead.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if h.alreadySignedIn(w, r) {
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		h.logError(r, "register", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin checks native credentials and starts a session.
//
// HTTP: POST /auth/login
// A failure is always the same generic 401 (plus a flash notice), whether
// the email was unknown or the password wrong. A caller who is already
// signed in is answered with their own account without checking the body.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.alreadySignedIn(w, r) {
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidCredentials) {
			h.notices.Flash(r.Context(), apperror.InvalidCredentials().Message)
		}
		h.logError(r, "login", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{Account: account, Redirect: LandingPath(account)})
}

// alreadySignedIn writes the principal and its landing page when the
// request carries one, and reports whether it did.
func (h *AuthHandler) alreadySignedIn(w http.ResponseWriter, r *http.Request) bool {
	account, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return false
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: account, Redirect: LandingPath(account)})
	return true
}

// =========================================================================
// FEDERATED
// =========================================================================

// HandleProviderLogin redirects the browser to the identity provider.
//
// HTTP: GET /auth/login/{provider}?next=/path
//
// CSRF PROTECTION:
// The state parameter is a signed ticket carrying a random nonce. The nonce
// also goes into a short-lived cookie; the callback only proceeds when both
// agree, which proves the callback was started by this browser.
//
// When next is absent the Referer path is used, then "/".
func (h *AuthHandler) HandleProviderLogin(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if next == "" {
		next = auth.PathFromReferer(r.Referer(), r.Host)
	}
	if next == "" {
		next = "/"
	}

	redirect, nonce, err := h.auth.BeginFederated(r.Context(), chi.URLParam(r, "provider"), next)
	if err != nil {
		h.logError(r, "provider login", err)
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     NonceCookie,
		Value:    nonce,
		Path:     "/auth/callback",
		MaxAge:   int(auth.DefaultStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
}

// HandleProviderCallback completes a federated login.
//
// HTTP: GET /auth/callback/{provider}?code=xxx&state=yyy
//
// FLOW:
//  1. Read and clear the nonce cookie (single use)
//  2. Let the service verify state, exchange the code and resolve the account
//  3. Flash any notice (declined, unverified, email taken, provider error)
//  4. Redirect: username choice for a new account, else where the user was
func (h *AuthHandler) HandleProviderCallback(w http.ResponseWriter, r *http.Request) {
	var nonce string
	if c, err := r.Cookie(NonceCookie); err == nil {
		nonce = c.Value
	}
	http.SetCookie(w, &http.Cookie{
		Name:   NonceCookie,
		Value:  "",
		Path:   "/auth/callback",
		MaxAge: -1,
	})

	provider := chi.URLParam(r, "provider")
	result, err := h.auth.CompleteFederated(r.Context(), provider, r.URL.Query(), nonce)
	if err != nil {
		h.logError(r, "provider callback", err)
		writeError(w, err)
		return
	}

	if result.Notice != "" {
		h.notices.Flash(r.Context(), result.Notice)
	}
	if result.Created {
		h.logger.Info("federated account created",
			slog.String("provider", provider),
			slog.Int64("account_id", result.Account.ID),
		)
	}
	http.Redirect(w, r, result.Redirect, http.StatusSeeOther)
}

// =========================================================================
// USERNAME CHOICE
// =========================================================================

// HandleUsernameForm returns a proposed username for the principal.
//
// HTTP: GET /auth/username
// Auth: Required. A principal that already has a username is sent on.
func (h *AuthHandler) HandleUsernameForm(w http.ResponseWriter, r *http.Request) {
	account, _ := auth.PrincipalFromContext(r.Context())
	if !account.NeedsUsername() {
		http.Redirect(w, r, LandingPath(account), http.StatusSeeOther)
		return
	}

	proposed, err := h.auth.ProposeUsername(r.Context(), account)
	if err != nil {
		h.logError(r, "propose username", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"proposed": proposed})
}

type usernameRequest struct {
	Username string `json:"username"`
}

// HandleChooseUsername assigns the principal's username. An empty username
// accepts the proposal.
//
// HTTP: POST /auth/username
// Auth: Required. 409 when the name is taken.
func (h *AuthHandler) HandleChooseUsername(w http.ResponseWriter, r *http.Request) {
	account, _ := auth.PrincipalFromContext(r.Context())

	var req usernameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.auth.ChooseUsername(r.Context(), account, req.Username)
	if err != nil {
		h.logError(r, "choose username", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: updated, Redirect: LandingPath(updated)})
}

// =========================================================================
// SESSION
// =========================================================================

// HandleLogout ends the session and redirects home. It always succeeds
// from the user's point of view, even for an anonymous session.
//
// HTTP: POST /auth/logout (GET is accepted for plain links)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		h.logger.Error("logout failed", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleMe returns the currently authenticated account.
//
// HTTP: GET /api/me
// Auth: Required (RequireLogin)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized())
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// HandleFlashes pops the pending notices.
//
// HTTP: GET /api/flashes
func (h *AuthHandler) HandleFlashes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"flashes": h.notices.PopFlashes(r.Context())})
}

// logError logs server-side failures at error level and expected client
// errors at debug.
func (h *AuthHandler) logError(r *http.Request, op string, err error) {
	status, _ := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
		return
	}
	h.logger.DebugContext(r.Context(), op+" rejected", slog.String("error", err.Error()))
}
