package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alevoro-com/alevoro/internal/auth"
	"github.com/alevoro-com/alevoro/internal/config"
	"github.com/alevoro-com/alevoro/internal/db"
	"github.com/alevoro-com/alevoro/internal/domain/collateral"
	"github.com/alevoro-com/alevoro/internal/escrow"
	"github.com/alevoro-com/alevoro/internal/http/handlers"
	"github.com/alevoro-com/alevoro/internal/observability"
	"github.com/alevoro-com/alevoro/internal/payments"
	"github.com/alevoro-com/alevoro/internal/registry"
	postgresrepo "github.com/alevoro-com/alevoro/internal/repository/postgres"
	"github.com/alevoro-com/alevoro/internal/server"
	"github.com/alevoro-com/alevoro/internal/storagefee"
	"github.com/alevoro-com/alevoro/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("failed to apply migrations", "err", err)
		os.Exit(1)
	}

	pool, err := db.NewPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	byteCost, err := payments.ParseAmount(cfg.StorageByteCost)
	if err != nil {
		logger.Error("invalid STORAGE_BYTE_COST", "err", err)
		os.Exit(1)
	}

	storageRepo := postgresrepo.NewStorageRepository(pool)
	meter := storagefee.NewMeter(byteCost)
	if cfg.StorageOverheadBytes > 0 {
		meter.SetOverheadBytes(cfg.StorageOverheadBytes)
	} else if err := meter.MeasureOverhead(ctx, storageRepo, storageRepo); err != nil {
		logger.Error("failed to measure storage overhead", "err", err)
		os.Exit(1)
	}
	logger.Info("storage accounting ready", "overhead_bytes", meter.OverheadBytes())

	registryClient, err := registry.NewClientFromConfig(cfg)
	if err != nil {
		logger.Error("failed to build registry client", "err", err)
		os.Exit(1)
	}

	coordinator := escrow.NewCoordinator(postgresrepo.NewApprovalRepository(pool))
	marketService := collateral.NewService(
		postgresrepo.NewCollateralRepository(pool),
		postgresrepo.NewPaymentsRepository(pool),
		meter,
		cfg.MarketAccountID,
	)

	jwtManager := auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSigningKey)
	hub := ws.NewHub()
	notifier := ws.NewNotifier(postgresrepo.NewWSRepository(pool), hub, cfg.WSPollInterval)

	notifierCtx, notifierCancel := context.WithCancel(context.Background())
	defer notifierCancel()
	go func() {
		if err := notifier.Run(notifierCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event notifier stopped", "err", err)
		}
	}()

	r := server.NewRouter(cfg, logger, server.Dependencies{
		Pinger:          pool,
		MarketHandler:   handlers.NewMarketHandler(marketService),
		RegistryHandler: handlers.NewRegistryHandler(marketService, coordinator, registryClient),
		WSHandler:       ws.NewHandler(hub),
		JWTManager:      jwtManager,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api server starting", "addr", cfg.Addr(), "market_account", cfg.MarketAccountID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api server stopped")
}
