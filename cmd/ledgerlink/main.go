package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/config"
	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/boddenberg/ledgerlink-go/internal/handler"
	"github.com/boddenberg/ledgerlink-go/internal/infra/cache"
	"github.com/boddenberg/ledgerlink-go/internal/infra/categorizer"
	"github.com/boddenberg/ledgerlink-go/internal/infra/observability"
	"github.com/boddenberg/ledgerlink-go/internal/infra/provider"
	"github.com/boddenberg/ledgerlink-go/internal/infra/resilience"
	"github.com/boddenberg/ledgerlink-go/internal/infra/secrets"
	"github.com/boddenberg/ledgerlink-go/internal/infra/supabase"
	"github.com/boddenberg/ledgerlink-go/internal/port"
	"github.com/boddenberg/ledgerlink-go/internal/service"
	"github.com/boddenberg/ledgerlink-go/internal/synclock"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("sync_interval", cfg.SyncInterval),
		zap.Duration("sync_timeout", cfg.SyncTimeout),
		zap.Int("sync_lookback_days", cfg.SyncLookbackDays),
		zap.Duration("lock_ttl", cfg.LockTTL),
		zap.Int("max_concurrent_syncs", cfg.MaxConcurrentSyncs),
		zap.Int("max_retries", cfg.MaxRetries),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "ledgerlink")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Token encryption ---
	cipher, err := secrets.NewTokenCipher([]byte(cfg.TokenCipherKey))
	if err != nil {
		logger.Fatal("invalid TOKEN_CIPHER_KEY", zap.Error(err))
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}
	providerCB := resilience.NewCircuitBreaker("bank-provider")
	storeCB := resilience.NewCircuitBreaker("supabase")
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrentSyncs)

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	if cfg.SupabaseURL == "" {
		logger.Fatal("SUPABASE_URL is required")
	}
	store := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		cipher,
		storeCB,
		resilienceCfg,
		logger,
	)

	bankProvider := provider.New(
		httpClient,
		cfg.ProviderAPIURL,
		cfg.ProviderClientID,
		cfg.ProviderClientSecret,
		providerCB,
		resilienceCfg,
		logger,
	)

	var classifier port.Categorizer
	if cfg.CategorizerAPIURL != "" {
		categoryCache := cache.New[*domain.CategoryAssignment](cfg.CacheTTL)
		classifier = categorizer.NewHTTPClient(httpClient, cfg.CategorizerAPIURL, categoryCache, logger)
		logger.Info("categorizer enabled", zap.String("url", cfg.CategorizerAPIURL))
	} else {
		classifier = categorizer.Noop{}
		logger.Info("categorizer not configured, transactions stay uncategorized")
	}

	// --- Services ---
	locks := synclock.New(cfg.LockTTL)
	connSvc := service.NewConnectionService(store, bankProvider, cfg.TokenRefreshMargin, metrics, logger)
	importer := service.NewImporter(store, bankProvider, classifier, cfg.SyncLookbackDays, metrics, logger)
	syncSvc := service.NewSyncService(store, bankProvider, connSvc, importer, locks, bulkhead, cfg.SyncTimeout, metrics, logger)

	// --- Scheduler ---
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	scheduler := service.NewScheduler(syncSvc, cfg.SyncInterval, logger)
	go scheduler.Run(schedulerCtx)

	// --- Router ---
	router := handler.NewRouter(connSvc, syncSvc, store, metrics, cfg.JWTSecret, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute, // manual syncs are synchronous
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
