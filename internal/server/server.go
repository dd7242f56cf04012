// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects storage, sessions,
// identity providers, services, handlers and middleware, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and the logger, then calls server.New, which creates:
//
//	sqlstore.Store (sqlite or postgres)
//	  → scs.SessionManager (memstore, or scs's sqlite3store / postgresstore)
//	  → session.Authenticator → auth.Bridge (provider registry, state signer)
//	  → service.AuthService → handler.AuthHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place, rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/dreamteam/internal/auth"
	"github.com/sakif/dreamteam/internal/config"
	"github.com/sakif/dreamteam/internal/handler"
	"github.com/sakif/dreamteam/internal/middleware"
	"github.com/sakif/dreamteam/internal/repository/postgres"
	"github.com/sakif/dreamteam/internal/repository/sqlite"
	"github.com/sakif/dreamteam/internal/repository/sqlstore"
	"github.com/sakif/dreamteam/internal/service"
	"github.com/sakif/dreamteam/internal/session"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database pool. When the server shuts down, the
// session cleanup goroutine is stopped first and the pool closed last.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	store    *sqlstore.Store
	sessions *scs.SessionManager
	// sessionStore is nil when sessions live in memory.
	sessionStore sqlstore.SessionStore
}

// New opens the configured database, registers the enabled identity
// providers and wires the router.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s, err := newServer(cfg, store, Providers(cfg), logger)
	if err != nil {
		store.Close() // Clean up DB if wiring fails
		return nil, err
	}
	return s, nil
}

// OpenStore opens and migrates the account database named by cfg.
func OpenStore(cfg *config.Config) (*sqlstore.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.New(cfg.DatabaseURL)
	default:
		if cfg.DBPath != ":memory:" {
			// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return sqlite.New(cfg.DBPath)
	}
}

// Providers builds the identity provider registry. A provider is only
// registered when both its client id and secret are configured.
func Providers(cfg *config.Config) *auth.Registry {
	registry := auth.NewRegistry()
	if cfg.FacebookEnabled() {
		registry.Register(auth.NewFacebookProvider(
			cfg.FacebookClientID, cfg.FacebookClientSecret, cfg.CallbackURL("facebook"), cfg.FacebookFields))
	}
	if cfg.GitHubEnabled() {
		registry.Register(auth.NewGitHubProvider(
			cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.CallbackURL("github")))
	}
	return registry
}

func newServer(cfg *config.Config, store *sqlstore.Store, providers *auth.Registry, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	opts := session.Options{
		Lifetime:     cfg.SessionLifetime,
		IdleTimeout:  cfg.SessionIdleTimeout,
		CookieSecure: cfg.CookieSecure,
	}
	if cfg.SessionStore == config.SessionStoreSQL {
		// The store starts purging expired rows right away.
		s.sessionStore = store.Sessions(cfg.SessionCleanupInterval)
		opts.Store = s.sessionStore
	}
	s.sessions = session.NewManager(opts)

	if err := s.setupRoutes(providers); err != nil {
		s.stopSessionCleanup()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Close stops the expired-session purge and closes the database pool.
// Call it once, after the HTTP server has stopped.
func (s *Server) Close() error {
	s.stopSessionCleanup()
	return s.store.Close()
}

func (s *Server) stopSessionCleanup() {
	if s.sessionStore != nil {
		s.sessionStore.StopCleanup()
	}
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET      /healthz                   → liveness (no session)
// POST     /auth/register             → create native account
// POST     /auth/login                → native login
// GET      /auth/login/{provider}     → redirect to identity provider
// GET      /auth/callback/{provider}  → provider redirects back here
// GET|POST /auth/logout               → end session, redirect home
// GET      /api/flashes               → pop pending notices
// GET|POST /auth/username             → username choice          [login]
// GET      /api/me                    → current account          [login]
// GET      /dashboard                 → landing page             [login + username]
// GET      /admin/dashboard           → admin landing page       [login + username + admin]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info and the request ID
// Then, on every route but /healthz:
// 5. LoadAndSave: loads the scs session and writes it back after the handler
// 6. LoadPrincipal: resolves the session's account once per request
func (s *Server) setupRoutes(providers *auth.Registry) error {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// === Dependencies ===
	passwords := auth.NewPasswordService(s.config.BcryptCost)
	authenticator := session.NewAuthenticator(s.sessions, s.store, passwords, s.logger)

	states, err := auth.NewStateSigner(s.config.StateSecret, auth.DefaultStateTTL)
	if err != nil {
		return fmt.Errorf("creating state signer: %w", err)
	}
	bridge := auth.NewBridge(providers, states, authenticator, s.config.ProviderTimeout, s.logger)

	authService := service.NewAuthService(s.store, passwords, authenticator, bridge, s.logger)
	authHandler := handler.NewAuthHandler(authService, authenticator, s.config.CookieSecure, s.logger)
	dashboardHandler := handler.NewDashboardHandler(s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	s.logger.Info("identity providers registered", slog.Any("providers", providers.Names()))

	// === Health (no session) ===
	s.router.Get(middleware.HealthPath, healthHandler.HandleHealth)

	// === Session Routes ===
	s.router.Group(func(r chi.Router) {
		r.Use(s.sessions.LoadAndSave)
		r.Use(auth.LoadPrincipal(authenticator, s.logger))

		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Get("/auth/login/{provider}", authHandler.HandleProviderLogin)
		r.Get("/auth/callback/{provider}", authHandler.HandleProviderCallback)
		r.Get("/auth/logout", authHandler.HandleLogout)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Get("/api/flashes", authHandler.HandleFlashes)

		// === Login Required ===
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireLogin)

			r.Get(auth.UsernameChoicePath, authHandler.HandleUsernameForm)
			r.Post(auth.UsernameChoicePath, authHandler.HandleChooseUsername)
			r.Get("/api/me", authHandler.HandleMe)

			// === Username Required ===
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireUsername)

				r.Get(handler.DashboardPath, dashboardHandler.HandleDashboard)
				r.With(auth.RequireAdmin).Get(handler.AdminDashboardPath, dashboardHandler.HandleAdminDashboard)
			})
		})
	})

	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Stop the expired-session purge
// 4. Close the database pool
func (s *Server) Start() error {
	// Ensure the session purge stops and the database is closed when the
	// server stops.
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.store.Dialect()),
			slog.String("sessions", s.config.SessionStore),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give in-flight requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
