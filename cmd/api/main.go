package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bikeshop/internal/audit"
	"bikeshop/internal/config"
	"bikeshop/internal/database"
	"bikeshop/internal/handler"
	"bikeshop/internal/payment"
	"bikeshop/internal/repository"
	"bikeshop/internal/router"
	"bikeshop/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := config.NewLogger(cfg.Logger)
	logger.Info().Msg("starting bikeshop API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	// Repositories
	productRepo := repository.NewProductRepository(pool, logger)
	orderRepo := repository.NewOrderRepository(pool, logger)
	saleRepo := repository.NewCounterSaleRepository(pool, logger)
	ledger := service.NewStockLedger(productRepo, logger)

	// Payment gateway behind a circuit breaker
	gateway := payment.WithCircuitBreaker(
		payment.NewMercadoPagoGateway(cfg.Gateway, logger),
		payment.NewCircuitBreaker(payment.DefaultBreakerConfig(), logger),
	)
	if cfg.Gateway.WebhookSecret == "" {
		logger.Warn().Msg("webhook secret not set, payment callbacks are accepted unsigned")
	}

	// Callback archive with S3 and local fallback
	fileArchive := audit.NewFileArchive(cfg.Audit.LocalDir, logger)
	var s3Archive audit.Archive
	if cfg.Audit.S3Enabled {
		s3Archive, err = audit.NewS3Archive(ctx, cfg.Audit.Bucket, cfg.Audit.Region, cfg.Audit.Prefix, logger)
		if err != nil {
			logger.Warn().
				Err(err).
				Msg("failed to initialise S3 archive, falling back to local file system only")
			s3Archive = nil
		}
	} else {
		logger.Info().Str("dir", cfg.Audit.LocalDir).Msg("archiving payment callbacks to local file system (S3 disabled)")
	}
	archive := audit.NewFallbackArchive(s3Archive, fileArchive, cfg.Audit.S3Enabled, logger)

	// Services
	productService := service.NewProductService(productRepo, logger)
	orderService := service.NewOrderService(orderRepo, productRepo, ledger, gateway, service.CheckoutSettings{
		AppBaseURL:        cfg.Gateway.AppBaseURL,
		Currency:          cfg.Gateway.Currency,
		StalePendingAfter: cfg.Operations.StalePendingAfter,
	}, logger)
	saleService := service.NewCounterSaleService(saleRepo, productRepo, ledger, cfg.Payments.BalanceTolerance, logger)
	reconciler := service.NewReconciliationService(orderRepo, ledger, gateway, logger)

	mux := router.New(router.Handlers{
		Product:     handler.NewProductHandler(productService, logger),
		Order:       handler.NewOrderHandler(orderService, logger),
		CounterSale: handler.NewCounterSaleHandler(saleService, logger),
		Webhook:     handler.NewWebhookHandler(reconciler, archive, cfg.Gateway.WebhookSecret, logger),
	}, router.Options{
		APIKey:         cfg.Auth.APIKey,
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
	}, logger)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Info().
			Str("address", cfg.Server.Address()).
			Msg("HTTP server started")
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info().
			Str("signal", sig.String()).
			Msg("shutdown signal received, starting graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server gracefully")
			if closeErr := server.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close server")
			}
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info().Msg("server shutdown completed")
	}

	return nil
}
