// Package main is the entry point for the employee directory server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (.env file, then environment variables)
// 2. Create the logger
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// This project has two: cmd/server (the HTTP server) and cmd/migrate
// (schema migrations). Each gets its own directory with its own main.go.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/sakif/dreamteam/internal/config"
	"github.com/sakif/dreamteam/internal/server"
)

func main() {
	// === 1. LOAD .env ===
	// A missing .env is fine (containers and CI set real env vars).
	// godotenv never overrides variables that are already set.
	_ = godotenv.Load()

	// === 2. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. SET UP LOGGING ===
	// slog.NewTextHandler outputs human-readable logs; LOG_LEVEL picks the
	// minimum level (debug, info, warn, error).
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if cfg.StateSecretGenerated {
		logger.Warn("STATE_SECRET not set, using a random one: sign-ins in progress will fail after a restart")
	}
	if !cfg.FacebookEnabled() && !cfg.GitHubEnabled() {
		logger.Warn("no identity provider configured, only native login is available")
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
