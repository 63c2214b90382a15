package main

import (
	"flag"
	"fmt"
	"log/slog"

	"github.com/missionctl/missionctl/internal/config"
	"github.com/missionctl/missionctl/internal/store"
)

// runMigrate applies schema migrations and exits, for use in deploy
// pipelines that run schema changes ahead of rolling out new binaries.
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "optional YAML config file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, fs, args)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	slog.Info("migrations applied", "db_path", cfg.DBPath)
	return nil
}
