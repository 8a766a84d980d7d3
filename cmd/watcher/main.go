package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sciserver-casjobs/internal/casjobs"
	"sciserver-casjobs/internal/config"
	"sciserver-casjobs/internal/queue"
	"sciserver-casjobs/internal/store"
	"sciserver-casjobs/internal/telemetry"
	"sciserver-casjobs/internal/watcher"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "watcher", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewRedisQueue(cfg)
	defer q.Close()

	// Polls with the service account token, so only that account's jobs are visible.
	client, err := casjobs.New(cfg, casjobs.WithLogger(logger))
	if err != nil {
		log.Fatalf("casjobs client: %v", err)
	}
	w := watcher.New(cfg, q, st, client, logger)

	open, err := st.OpenJobs(ctx)
	if err != nil {
		log.Fatalf("load open jobs: %v", err)
	}
	if err := w.Resume(ctx, open); err != nil {
		log.Fatalf("resume watches: %v", err)
	}

	metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	logger.Info("watcher started", "resumed", len(open), "batch", cfg.WatchBatchSize, "lease", cfg.WatchLease, "backoff_initial", cfg.BackoffInitial)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watcher stopped", "err", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metrics.Shutdown(shutdownCtx)
}
