package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mediaforge-ai/mediaforge-backend/internal/assets"
	"github.com/mediaforge-ai/mediaforge-backend/internal/cron"
	"github.com/mediaforge-ai/mediaforge-backend/internal/demo"
	"github.com/mediaforge-ai/mediaforge-backend/internal/generations"
	"github.com/mediaforge-ai/mediaforge-backend/internal/ledger"
	"github.com/mediaforge-ai/mediaforge-backend/internal/settlement"
	"github.com/mediaforge-ai/mediaforge-backend/internal/transactions"
	"github.com/mediaforge-ai/mediaforge-backend/internal/wallets"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/circle"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/db"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/metrics"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/migrate"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/redis"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/storage/gcs"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors/meshy"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors/novita"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors/openai"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors/replicate"
)

const lockKeyFormat = "mf:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}

	circleClient, err := circle.NewClient(
		cfg.Circle.APIKey,
		cfg.Circle.EntitySecret,
		circle.WithBaseURL(cfg.Circle.BaseURL),
		circle.WithTimeout(cfg.Circle.RequestTimeout),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap circle client", err)
		os.Exit(1)
	}

	registry, err := buildVendorRegistry(cfg.Vendors)
	if err != nil {
		logg.Error(context.Background(), "failed to build vendor registry", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	walletRepo := wallets.NewRepository(dbClient.DB())
	transactionRepo := transactions.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	generationRepo := generations.NewRepository(dbClient.DB())
	assetRepo := assets.NewRepository(dbClient.DB())

	demoService, err := demo.NewService(redisClient, cfg.Demo)
	if err != nil {
		logg.Error(context.Background(), "failed to create demo service", err)
		os.Exit(1)
	}

	walletService, err := wallets.NewService(wallets.ServiceParams{
		DB:           dbClient,
		Repo:         walletRepo,
		Transactions: transactionRepo,
		Ledger:       ledgerRepo,
		Circle:       circleClient,
		Cache:        redisClient,
		Events:       outboxService,
		CircleConfig: cfg.Circle,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	assetService, err := assets.NewService(assets.ServiceParams{
		Repo:        assetRepo,
		Store:       gcsClient.BucketHandle(cfg.GCS.BucketName),
		Generations: generationRepo,
		GCSConfig:   cfg.GCS,
		AccessMode:  cfg.FeatureFlags.GCSAccessMode,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create asset service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		DB:               dbClient,
		Generations:      generationRepo,
		Transactions:     transactionRepo,
		Wallets:          walletRepo,
		Ledger:           ledgerRepo,
		Circle:           circleClient,
		Registry:         registry,
		Invalidator:      walletService,
		Assets:           assetService,
		Demo:             demoService,
		Events:           outboxService,
		Metrics:          metrics.NewGenerationMetrics(prometheus.DefaultRegisterer),
		CircleConfig:     cfg.Circle,
		GenerationConfig: cfg.Generation,
		Logger:           logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	reaperJob, err := cron.NewGenerationReaperJob(cron.GenerationReaperJobParams{
		Logger:     logg,
		Settlement: settlementService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create generation reaper job", err)
		os.Exit(1)
	}

	cleanupJob, err := cron.NewAssetCleanupJob(cron.AssetCleanupJobParams{
		Logger: logg,
		Assets: assetService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create asset cleanup job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(reaperJob, cleanupJob, retentionJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Generation.ReaperInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	poller, err := settlement.NewPoller(settlementService, cfg.Generation, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement poller", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	errCh := make(chan error, 2)
	go func() {
		errCh <- poller.Run(ctx)
	}()
	go func() {
		errCh <- service.Run(ctx)
	}()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

func buildVendorRegistry(cfg config.VendorsConfig) (*vendors.Registry, error) {
	var adapters []vendors.Adapter

	if cfg.OpenAIAPIKey != "" {
		adapter, err := openai.NewAdapter(cfg.OpenAIAPIKey,
			openai.WithBaseURL(cfg.OpenAIBaseURL),
			openai.WithModels(cfg.OpenAIChatModel, cfg.OpenAIImageModel),
		)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	if cfg.ReplicateAPIKey != "" {
		adapter, err := replicate.NewAdapter(cfg.ReplicateAPIKey, replicate.WithBaseURL(cfg.ReplicateBaseURL))
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	if cfg.MeshyAPIKey != "" {
		adapter, err := meshy.NewAdapter(cfg.MeshyAPIKey, meshy.WithBaseURL(cfg.MeshyBaseURL))
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	if cfg.NovitaAPIKey != "" {
		adapter, err := novita.NewAdapter(cfg.NovitaAPIKey, novita.WithBaseURL(cfg.NovitaBaseURL))
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}

	return vendors.NewRegistry(adapters...), nil
}
