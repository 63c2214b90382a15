package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/missionctl/missionctl/internal/config"
	"github.com/missionctl/missionctl/internal/store"
	"github.com/missionctl/missionctl/internal/worker"
)

// runWorker starts only the delivery worker loop, for the spec's
// across-process or across-host multi-worker deployment model.
func runWorker(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "", "optional YAML config file")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version)
		return nil
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

	st := store.New(db)

	w := &worker.Worker{
		Store:           st,
		SendViaSessions: notImplementedSendViaSessions,
		GetMessageText:  st.GetMessageTextByID,
		Tunables: worker.Tunables{
			Limit:        cfg.ClaimLimit,
			MaxAttempts:  cfg.MaxAttempts,
			RetryDelayMs: cfg.RetryDelay,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx, time.Duration(cfg.PollInterval)*time.Millisecond)
}
