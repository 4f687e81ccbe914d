package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"auditchain/internal/config"
	"auditchain/internal/infra/db"
	httpinfra "auditchain/internal/infra/http"
	"auditchain/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults to $"+config.ConfigPathEnv+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.NewStore(cfg)
	if err != nil {
		logger.Error("failed to init store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate store", "error", err)
		os.Exit(1)
	}

	srv := httpinfra.NewServer(cfg, store, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
