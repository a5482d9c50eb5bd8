package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docstream/internal/api"
	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/config"
	"github.com/nikhilbhutani/docstream/internal/database"
	"github.com/nikhilbhutani/docstream/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Database is optional; without it documents are kept in memory.
	var db *pgxpool.Pool
	if cfg.Database.URL != "" {
		db, err = database.NewPool(ctx, cfg.Database)
		if err != nil {
			slog.Warn("database unavailable, running without DB", "error", err)
			db = nil
		} else {
			defer db.Close()
			var schema fs.FS = migrations.FS
			if cfg.Database.MigrationsPath != "" {
				schema = os.DirFS(cfg.Database.MigrationsPath)
			}
			if err := database.RunMigrations(ctx, db, schema); err != nil {
				slog.Warn("migrations failed", "error", err)
			}
		}
	}

	// Redis carries every request, so it is not optional here. A failed ping
	// is only logged because the broker may come up after the API.
	rdb := broker.NewClient(cfg.Redis)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable at startup", "addr", cfg.Redis.Addr(), "error", err)
	}
	defer rdb.Close()

	router := api.NewRouter(db, rdb, cfg)
	defer router.Close()

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router.Setup(),
		// Requests wait for workers, so writes may take up to the stream wait timeout.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Streams.WaitTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
