package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-essam23/go-chat/internal/server"
	"github.com/a-essam23/go-chat/pkg/config"
	"github.com/a-essam23/go-chat/pkg/logging"
	"github.com/a-essam23/go-chat/pkg/store"
	"github.com/a-essam23/go-chat/pkg/store/memstore"
	"github.com/a-essam23/go-chat/pkg/store/postgres"
	"github.com/a-essam23/go-chat/pkg/store/sqlite"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.NewWithFormat(os.Stdout, logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("Failed to open storage", slog.String("driver", cfg.Storage.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("Storage ready", slog.String("driver", cfg.Storage.Driver))

	app := server.NewApp(logger, ctx, cfg, repo)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		repo.Close()
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Repository, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath)
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresURL)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
