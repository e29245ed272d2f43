package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielvey/a2ubridge/internal/assembler"
	"github.com/danielvey/a2ubridge/internal/payouts"
	"github.com/danielvey/a2ubridge/internal/reconciler"
	"github.com/danielvey/a2ubridge/internal/resolver"
	"github.com/danielvey/a2ubridge/pkg/config"
	"github.com/danielvey/a2ubridge/pkg/db"
	"github.com/danielvey/a2ubridge/pkg/instance"
	"github.com/danielvey/a2ubridge/pkg/ledger"
	"github.com/danielvey/a2ubridge/pkg/logger"
	"github.com/danielvey/a2ubridge/pkg/metrics"
	"github.com/danielvey/a2ubridge/pkg/migrate"
	"github.com/danielvey/a2ubridge/pkg/outbox"
	"github.com/danielvey/a2ubridge/pkg/platform"
	"github.com/danielvey/a2ubridge/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "reconciler"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reconciler",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	platformClient, err := platform.NewClient(cfg.Platform, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create platform client", err)
		os.Exit(1)
	}

	ledgerClient, err := ledger.NewClient(cfg.Ledger, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger client", err)
		os.Exit(1)
	}

	recipientResolver, err := resolver.New(ledgerClient, cfg.Payout.MinReserve, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create recipient resolver", err)
		os.Exit(1)
	}

	signer, err := assembler.New(cfg.Payout.SourceSecretSeed, cfg.Ledger.NetworkPassphrase, cfg.Payout.TxValidity)
	if err != nil {
		logg.Error(context.Background(), "failed to create transaction assembler", err)
		os.Exit(1)
	}

	repo := payouts.NewRepository(dbClient.DB())
	events := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	payoutMetrics := metrics.NewPayoutMetrics(prometheus.DefaultRegisterer)

	orchestrator, err := payouts.NewOrchestrator(
		repo,
		dbClient.DB(),
		platformClient,
		ledgerClient,
		recipientResolver,
		signer,
		events,
		payoutMetrics,
		logg,
		payouts.Options{
			SkipCompletion:  cfg.Platform.SkipCompletion,
			CompleteRetries: cfg.Payout.CompleteRetries,
		},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payout orchestrator", err)
		os.Exit(1)
	}

	lock, err := reconciler.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Reconciler.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler lock", err)
		os.Exit(1)
	}

	registry := reconciler.NewRegistry(
		reconciler.NewCompletionRetryJob(repo, orchestrator, cfg.Reconciler.BatchSize),
		reconciler.NewStaleRecoveryJob(orchestrator, cfg.Reconciler.StaleAfter, cfg.Reconciler.BatchSize),
	)

	service, err := reconciler.NewService(reconciler.ServiceParams{
		Logger:       logg,
		Registry:     registry,
		Lock:         lock,
		Metrics:      metrics.NewSweepMetrics(prometheus.DefaultRegisterer),
		Interval:     cfg.Reconciler.Interval,
		RunOnStartup: cfg.Reconciler.RunOnStartup,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting reconciler")

	metricsServer := startMetricsServer(ctx, cfg.Reconciler.MetricsPort, logg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "error shutting down metrics server", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reconciler stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "reconciler shutting down gracefully")
}

func startMetricsServer(ctx context.Context, port string, logg *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics server stopped unexpectedly", err)
		}
	}()
	return srv
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("reconciler:%s", env)
}
