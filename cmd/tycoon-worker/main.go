package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tycoon/internal/config"
	"tycoon/internal/db"
	"tycoon/internal/ledger"
	"tycoon/internal/market"
	"tycoon/internal/store"
)

// The worker is the periodic trigger for the settlement engine. The loop is
// serial: a tick never overlaps the previous one.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgresStore(pool)
	if cfg.MigrateOnStart {
		if err := st.Migrate(ctx); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}
	led := ledger.NewService(st, logger)
	engine := market.NewEngine(st, led, logger)

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("TYCOON_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if _, err := engine.RunTick(ctx); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.TickEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if _, err := engine.RunTick(ctx); err != nil {
				logger.Error("settlement tick failed", "err", err)
				continue
			}
		}
	}
}
