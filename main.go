package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"presswise/backend/internal/app"
	"presswise/backend/internal/config"
	"presswise/backend/internal/logger"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()

	a, err := app.New(cfg, deps.DB, deps.WeaviateClient, deps.Producer)
	if err != nil {
		return err
	}

	if err := a.StartConsumers(); err != nil {
		return err
	}
	defer a.StopConsumers()

	return a.Run(ctx)
}
