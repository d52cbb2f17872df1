package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mediaforge-ai/mediaforge-backend/api/routes"
	"github.com/mediaforge-ai/mediaforge-backend/internal/assets"
	"github.com/mediaforge-ai/mediaforge-backend/internal/auth"
	"github.com/mediaforge-ai/mediaforge-backend/internal/demo"
	"github.com/mediaforge-ai/mediaforge-backend/internal/generations"
	"github.com/mediaforge-ai/mediaforge-backend/internal/ledger"
	"github.com/mediaforge-ai/mediaforge-backend/internal/profiles"
	"github.com/mediaforge-ai/mediaforge-backend/internal/realtime"
	"github.com/mediaforge-ai/mediaforge-backend/internal/settlement"
	"github.com/mediaforge-ai/mediaforge-backend/internal/transactions"
	"github.com/mediaforge-ai/mediaforge-backend/internal/usage"
	"github.com/mediaforge-ai/mediaforge-backend/internal/wallets"
	circlewebhook "github.com/mediaforge-ai/mediaforge-backend/internal/webhooks/circle"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/auth/session"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/bigquery"
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

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}

	bigqueryClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bigqueryClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery", err)
		}
	}()

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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	registry, err := buildVendorRegistry(cfg.Vendors)
	if err != nil {
		logg.Error(context.Background(), "failed to build vendor registry", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	generationMetrics := metrics.NewGenerationMetrics(prometheus.DefaultRegisterer)

	profileRepo := profiles.NewRepository(dbClient.DB())
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
		Metrics:          generationMetrics,
		CircleConfig:     cfg.Circle,
		GenerationConfig: cfg.Generation,
		Logger:           logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	generationService, err := generations.NewService(generations.ServiceParams{
		DB:               dbClient,
		Repo:             generationRepo,
		Registry:         registry,
		Wallets:          walletService,
		Demo:             demoService,
		Settler:          settlementService,
		Events:           outboxService,
		Assets:           assetService,
		Metrics:          generationMetrics,
		GenerationConfig: cfg.Generation,
		DemoConfig:       cfg.Demo,
		Logger:           logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create generation service", err)
		os.Exit(1)
	}

	transactionService, err := transactions.NewService(transactionRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create transaction service", err)
		os.Exit(1)
	}

	usageService, err := usage.NewService(bigqueryClient, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		ProfileRepo:    profileRepo,
		Wallets:        walletService,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	hub, err := realtime.NewHub(redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create realtime hub", err)
		os.Exit(1)
	}

	webhookService, err := circlewebhook.NewService(circlewebhook.ServiceParams{
		DB:           dbClient,
		Transactions: transactionRepo,
		Wallets:      walletRepo,
		Ledger:       ledgerRepo,
		Invalidator:  walletService,
		Events:       outboxService,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create circle webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			GCS:            gcsClient,
			BigQuery:       bigqueryClient,
			SessionChecker: sessionManager,
			AuthService:    authService,
			Profiles:       profileRepo,
			Generations:    generationService,
			Wallets:        walletService,
			Transactions:   transactionService,
			Demo:           demoService,
			Assets:         assetService,
			Settlement:     settlementService,
			Usage:          usageService,
			RealtimeHub:    hub,
			CircleWebhook:  webhookService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
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
