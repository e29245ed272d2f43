package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielvey/a2ubridge/api"
	"github.com/danielvey/a2ubridge/api/routes"
	"github.com/danielvey/a2ubridge/internal/assembler"
	"github.com/danielvey/a2ubridge/internal/payouts"
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

const recoverBatchSize = 100

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	payoutService, err := payouts.NewService(orchestrator, repo, platformClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payout service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Sagas interrupted by the previous process are resolved before the
	// server starts accepting new ones.
	if err := orchestrator.Recover(ctx, recoverBatchSize); err != nil {
		logg.Error(ctx, "startup recovery sweep failed", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	router := routes.NewRouter(routes.RouterParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		PayoutService: payoutService,
	})

	server := api.NewServer(addr, router, logg)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
