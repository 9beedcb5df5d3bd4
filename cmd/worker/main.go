package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docrag/internal/app"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/queue"
	"github.com/nikhilbhutani/docrag/internal/queue/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	app.SetupLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: cfg.Ingestion.Concurrency,
			Queues: map[string]int{
				cfg.Ingestion.Queue: 6,
				"default":           1,
			},
			RetryDelayFunc:  retryDelay,
			ErrorHandler:    queue.ErrorHandler(),
			ShutdownTimeout: 30 * time.Second,
		},
	)

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeDocumentProcess, asynq.HandlerFunc(workers.NewDocumentWorker(a.Documents).ProcessTask))
	registry.Register(queue.TypeDocumentPurge, asynq.HandlerFunc(workers.NewPurgeWorker(a.Documents).ProcessTask))

	slog.Info("starting worker", "concurrency", cfg.Ingestion.Concurrency, "queue", cfg.Ingestion.Queue)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

// retryDelay backs off 10s, 20s, 40s... capped at five minutes.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	d := 10 * time.Second << min(n, 5)
	return min(d, 5*time.Minute)
}
