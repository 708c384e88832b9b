package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"

	"github.com/chartlock/chartlock/internal/config"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// Applies goose migrations from the migrations directory. Run as:
//
//	migrate -command up
//	migrate -command down
//	migrate -command status
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var (
		command = flag.String("command", "up", "goose command: up, down, status, version")
		dir     = flag.String("dir", "migrations", "directory with migration files")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("failed to set dialect", slog.Any("error", err))
		os.Exit(1)
	}

	switch *command {
	case "up":
		err = goose.UpContext(ctx, db, *dir)
	case "down":
		err = goose.DownContext(ctx, db, *dir)
	case "status":
		err = goose.StatusContext(ctx, db, *dir)
	case "version":
		err = goose.VersionContext(ctx, db, *dir)
	default:
		logger.Error("unknown command", slog.String("command", *command))
		os.Exit(1)
	}

	if err != nil {
		logger.Error("migration failed", slog.String("command", *command), slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("migration complete", slog.String("command", *command))
}
