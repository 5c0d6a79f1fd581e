package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alevoro-com/alevoro/internal/config"
	"github.com/alevoro-com/alevoro/internal/db"
	"github.com/alevoro-com/alevoro/internal/jobs"
	"github.com/alevoro-com/alevoro/internal/observability"
	"github.com/alevoro-com/alevoro/internal/registry"
	postgresrepo "github.com/alevoro-com/alevoro/internal/repository/postgres"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	registryClient, err := registry.NewClientFromConfig(cfg)
	if err != nil {
		logger.Error("failed to build registry client", "err", err)
		os.Exit(1)
	}

	worker := jobs.NewEscrowWorker(
		postgresrepo.NewEscrowRepository(pool),
		registryClient,
		cfg.EscrowMaxAttempts,
	)

	interval := cfg.WorkerPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("escrow worker started", "interval", interval.String(), "batch_size", cfg.WorkerBatchSize)
	for {
		select {
		case <-sigCtx.Done():
			logger.Info("escrow worker stopped")
			return
		case <-ticker.C:
			runCtx, runCancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := worker.RunOnce(runCtx, cfg.WorkerBatchSize)
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("escrow worker run failed", "err", err)
			}
		}
	}
}
