// migrate runs the embedded schema migrations against the configured
// database: go run ./cmd/migrate -direction up|down
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/sakif/dreamteam/internal/config"
	"github.com/sakif/dreamteam/internal/repository/postgres"
	"github.com/sakif/dreamteam/internal/repository/sqlite"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if err := run(cfg, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("%s migrations applied (%s)\n", cfg.DBDriver, *direction)
}

func run(cfg *config.Config, direction string) error {
	if cfg.DBDriver == config.DriverPostgres {
		return postgres.Migrate(cfg.DatabaseURL, direction)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	conn, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return sqlite.Migrate(conn, direction)
}
