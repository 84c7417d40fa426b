// migrate runs DB migrations from embedded SQL; use with go run ./cmd/migrate.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"registry-portal/backend/internal/config"
	"registry-portal/backend/internal/db/migrate"
	"registry-portal/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		logger.Fatal("migrate", zap.String("direction", *direction), zap.Error(err))
	}
	version, dirty, err := migrate.Version(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("migrate: read version", zap.Error(err))
	}
	logger.Info("migrate: done",
		zap.String("direction", *direction),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
}
