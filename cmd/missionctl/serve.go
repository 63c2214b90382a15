package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/missionctl/missionctl/internal/config"
	"github.com/missionctl/missionctl/internal/httpapi"
	"github.com/missionctl/missionctl/internal/store"
	"github.com/missionctl/missionctl/internal/worker"
)

// runServe starts the debug HTTP surface and the delivery worker loop in
// one process, mirroring the teacher's standalone mode.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	httpServer := httpapi.NewServer(cfg.Addr, st)
	go func() { errCh <- httpServer.Serve(ctx) }()

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
	go func() { errCh <- w.Run(ctx, time.Duration(cfg.PollInterval)*time.Millisecond) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
