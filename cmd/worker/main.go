package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"caraudiopos/backend/internal/config"
	"caraudiopos/backend/internal/inventory"
	"caraudiopos/backend/internal/jobs"
	"caraudiopos/backend/internal/observability"
	pgstore "caraudiopos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "pos-worker",
	})
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
	logger.Info().Msg("worker stopped")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	if err := validateWorkerConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	repo, err := pgstore.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn().Err(err).Msg("close postgres")
		}
	}()

	metrics := observability.NewMetrics()
	inv := inventory.New(repo, logger, inventory.WithRecorder(metrics))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Notify:      jobs.NewNotifyHandler(inv, metrics, logger),
	})
	if err != nil {
		return err
	}

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("consuming backorder notifications")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// validateWorkerConfig requires shared state: an in-memory repository would
// never see the backorders the server fulfilled.
func validateWorkerConfig(cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set for the worker")
	}
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR must be set for the worker")
	}
	return nil
}
