package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vdavid/werkbank/internal/app"
	"github.com/vdavid/werkbank/internal/config"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/logging"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := db.RunMigrations(cfg.GetDatabaseURL()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.CloseConnection(pool)

	a, err := app.New(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("werkbank mail engine starting", "environment", cfg.Environment)
	return a.Serve(ctx, cfg.Port)
}
