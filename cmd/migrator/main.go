package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
)

// migratorConfig is the subset of the service config the migrator needs, so
// it can run before secrets are provisioned.
type migratorConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`
}

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|version")
	steps := flag.Int("steps", 1, "number of migrations to roll back (for down)")
	flag.Parse()

	cfg, err := env.ParseAs[migratorConfig]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init("wallet-core-migrator", cfg.LogLevel, cfg.AppEnv).With("cmd", *cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	switch *cmd {
	case "up":
		err = repository.MigrateUp(db)
	case "down":
		err = repository.MigrateDown(db, *steps)
	case "version":
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	version, dirty, err := repository.MigrationVersion(db)
	if err != nil {
		logger.Error("failed to read schema version", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations done", "version", version, "dirty", dirty)
}
