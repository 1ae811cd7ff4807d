// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-service/config"
	"ledger-service/internal/handler"
	"ledger-service/internal/provider/gateway"
	"ledger-service/internal/repository"
	"ledger-service/internal/router"
	"ledger-service/internal/usecase/fraud"
	"ledger-service/internal/usecase/ledger"
	"ledger-service/internal/usecase/webhook"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/client"
	"ledger-service/pkg/idempotency"
	"ledger-service/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting ledger service")

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	// Connect to database
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("connected to database",
		zap.String("database", cfg.Database.DBName))

	// Cache behind a circuit breaker
	breaker := cache.NewCircuitBreaker(cache.BreakerConfig{
		FailureRate:  cfg.Breaker.FailureRate,
		MinRequests:  cfg.Breaker.MinRequests,
		Window:       cfg.Breaker.Window,
		OpenTimeout:  cfg.Breaker.OpenTimeout,
		ProbeTimeout: time.Second,
	})
	redisCache := cache.NewRedisCache(cfg.Redis.Addrs, cfg.Redis.Password, cfg.Redis.Cluster, breaker)

	breakerCtx, stopBreakerGauge := context.WithCancel(context.Background())
	defer stopBreakerGauge()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-breakerCtx.Done():
				return
			case <-ticker.C:
				metrics.CacheBreakerState.Set(float64(breaker.State()))
			}
		}
	}()

	// Repositories
	ledgerStore := repository.NewPgLedgerStore(dbPool)
	settingsRepo := repository.NewUserSettingsRepository(dbPool)
	fraudRepo := repository.NewFraudAlertRepository(dbPool)
	attemptRepo := repository.NewWebhookAttemptRepository(dbPool)

	// Providers and clients
	paymentGateway := gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout, logger)
	webhookClient := client.NewWebhookClient(cfg.Webhook.SigningSecret, 10*time.Second, logger)

	// Fraud guard
	guard := fraud.NewGuard(fraud.Config{
		MaxAmount:   cfg.Fraud.MaxAmount,
		VelocityCap: cfg.Fraud.VelocityCap,
		DailyCap:    cfg.Fraud.DailyCap,
		Lookback:    cfg.Fraud.Lookback,
	}, redisCache, fraudRepo, logger)

	// Webhook delivery engine + background drainer
	engine := webhook.NewEngine(
		webhook.Config{
			URLs:          cfg.Webhook.URLs,
			MaxAttempts:   cfg.Webhook.MaxAttempts,
			RetryMinDelay: cfg.Webhook.RetryMinDelay,
			RetryMaxDelay: cfg.Webhook.RetryMaxDelay,
		},
		redisCache,
		attemptRepo,
		ledgerStore,
		webhookClient,
		webhook.NewLogNotifier(logger),
		logger,
	)
	drainer := webhook.NewDrainer(engine, cfg.Webhook.DrainWorkers, cfg.Webhook.DrainInterval, logger)
	drainer.Start(context.Background())

	// Ledger engine
	idemStore := idempotency.New(redisCache, logger)
	ledgerSvc := ledger.New(
		ledgerStore,
		settingsRepo,
		guard,
		paymentGateway,
		redisCache,
		engine,
		idemStore,
		logger,
	)

	// Handlers and routes
	ledgerHandler := handler.NewLedgerHandler(ledgerSvc, logger)
	callbackHandler := handler.NewCallbackHandler(ledgerSvc, cfg.Gateway.CallbackSecret, logger)
	r := router.SetupRoutes(ledgerHandler, callbackHandler, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("ledger service started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown: stop accepting requests, then drain the webhook
	// workers so in-flight deliveries are not cut off.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	drainer.Stop()

	logger.Info("server stopped")
}
