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

	"sciserver-casjobs/internal/api"
	"sciserver-casjobs/internal/casjobs"
	"sciserver-casjobs/internal/config"
	"sciserver-casjobs/internal/queue"
	"sciserver-casjobs/internal/ratelimit"
	"sciserver-casjobs/internal/store"
	"sciserver-casjobs/internal/watcher"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "gateway", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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
	limiter := ratelimit.NewTokenBucket(q.Client(), cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	// Callers' tokens replace this one per request; the base client only carries the pool and templates.
	client, err := casjobs.New(cfg, casjobs.WithLogger(logger))
	if err != nil {
		log.Fatalf("casjobs client: %v", err)
	}
	tracker := watcher.New(cfg, q, st, client, logger)

	server := api.New(cfg, client, tracker, st, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway listening", "port", cfg.HTTPPort, "rest_uri", cfg.RESTURI)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
