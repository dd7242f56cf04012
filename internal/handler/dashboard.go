// Package handler contains HTTP request handlers for the employee directory.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc, a function with the right
// signature. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (path params, query, JSON body, cookies)
// 2. Call the service layer
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers do NOT contain business logic. Page rendering is left to the
// frontend; every endpoint here speaks JSON or redirects.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/dreamteam/internal/auth"
)

// DashboardHandler serves the landing endpoints behind the login guards.
type DashboardHandler struct {
	logger *slog.Logger
}

func NewDashboardHandler(logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{logger: logger}
}

type dashboardResponse struct {
	Greeting string `json:"greeting"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// HandleDashboard is the regular landing page.
//
// HTTP: GET /dashboard
// Auth: RequireLogin + RequireUsername
func (h *DashboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, r)
}

// HandleAdminDashboard is the landing page for administrators.
//
// HTTP: GET /admin/dashboard
// Auth: RequireLogin + RequireUsername + RequireAdmin
func (h *DashboardHandler) HandleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, r)
}

func (h *DashboardHandler) render(w http.ResponseWriter, r *http.Request) {
	account, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, dashboardResponse{
		Greeting: "Welcome, " + account.DisplayName(),
		Username: account.DisplayName(),
		Admin:    account.IsAdmin,
	})
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// HandleHealth returns 200 when the database answers within two seconds.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
