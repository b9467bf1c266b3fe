package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/nikhilbhutani/promptlib/internal/config"
	"github.com/nikhilbhutani/promptlib/internal/database"
	"github.com/nikhilbhutani/promptlib/internal/logging"
	"github.com/nikhilbhutani/promptlib/internal/queue"
	"github.com/nikhilbhutani/promptlib/internal/queue/workers"
	"github.com/nikhilbhutani/promptlib/internal/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg.LogLevel))

	db, err := database.NewPool(context.Background(), cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: cfg.Webhook.Concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			Logger: newAsynqLogger(slog.Default()),
		},
	)

	registry := queue.NewHandlersRegistry(slog.Default())

	// The worker only reads endpoints, so it needs no enqueuer.
	endpoints := webhook.NewService(db, nil)
	deliverer := webhook.NewDeliverer(endpoints, cfg.Webhook.Timeout, cfg.Webhook.MaxAttempts)
	registry.Register(queue.TypeWebhookDeliver, asynq.HandlerFunc(workers.NewWebhookWorker(deliverer).ProcessTask))

	slog.Info("starting worker", "concurrency", cfg.Webhook.Concurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
