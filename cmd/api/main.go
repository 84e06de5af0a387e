package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/casino-wallet-core/internal/config"
	"github.com/josh-kwaku/casino-wallet-core/internal/handler"
	"github.com/josh-kwaku/casino-wallet-core/internal/lock"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/router"
	"github.com/josh-kwaku/casino-wallet-core/internal/service"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/audit"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/cashier"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/ledger"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/reconciliation"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/txstate"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/wallet"
)

type jobLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*lock.Lease, error)
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info(".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("wallet-core-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		ConnectAttempts:  30,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.MigrateUp(db); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	// Redis only coordinates background jobs across replicas; a single
	// instance runs fine without it.
	var (
		rdb    *redis.Client
		locker jobLocker
	)
	if cfg.RedisURL != "" {
		rdb, err = lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb)
	} else {
		logger.Warn("REDIS_URL not set, background jobs run without a distributed lock")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(db, "wallet"))
	m := metrics.New(registry)

	ledgerRepo := repository.NewLedgerRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	manifestRepo := repository.NewArchiveManifestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)

	store := ledger.NewStore(ledgerRepo, m)
	walletSvc := wallet.NewService(repository.NewPlayerRepository(db), repository.NewWalletRepository(db), store, db, m)
	trail := audit.NewTrail(auditRepo, manifestRepo, db, m)

	objects, err := audit.NewFSObjectStore(cfg.AuditArchiveDir)
	if err != nil {
		logger.Error("failed to open audit archive store", "error", err)
		os.Exit(1)
	}
	archiver := audit.NewArchiver(auditRepo, manifestRepo, trail, objects, []byte(cfg.AuditArchiveHMACKey), db, m)

	provider := service.NewProviderClient(cfg.ProviderName, cfg.ProviderURL, 10*time.Second)
	cashierSvc := cashier.NewService(
		orderRepo,
		repository.NewPayoutAttemptRepository(db),
		walletSvc,
		txstate.NewMachine(orderRepo, m),
		trail,
		provider,
		db,
		cfg.ProviderName,
		m,
	)
	engine := reconciliation.NewEngine(
		repository.NewReconciliationRepository(db),
		ledgerRepo,
		provider,
		db,
		cfg.ReconDriftThreshold,
		m,
	)

	providers := cfg.ReconProviders
	if len(providers) == 0 {
		providers = []string{cfg.ProviderName}
	}

	jobs := []interface{ Start(context.Context) }{
		service.NewWebhookProcessor(webhookRepo, cashierSvc, logger, cfg.WebhookInterval),
		audit.NewRetentionJob(auditRepo, manifestRepo, archiver, locker, cfg.AuditRetention(), cfg.AuditRetentionEvery, logger),
		reconciliation.NewScheduler(engine, locker, providers, cfg.ReconInterval, logger),
	}
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.Start(ctx)
		}()
	}

	r := router.New(router.Handlers{
		Health:         handler.NewHealthHandler(db, rdb),
		Webhook:        handler.NewWebhookHandler(webhookRepo, cfg.ProviderName, cfg.WebhookSecret),
		Wallet:         handler.NewWalletHandler(walletSvc, store),
		Orders:         handler.NewOrderHandler(cashierSvc),
		Audit:          handler.NewAuditHandler(trail, archiver),
		Reconciliation: handler.NewReconciliationHandler(engine),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		Metrics:   m,
		Registry:  registry,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	wg.Wait()
	logger.Info("server stopped")
}
