package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/mediaforge-ai/mediaforge-backend/internal/realtime"
	"github.com/mediaforge-ai/mediaforge-backend/internal/usage"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/bigquery"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox/idempotency"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pubsub"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	walletSubscription := pubsubClient.WalletSubscription()
	if walletSubscription == nil {
		requireResource(ctx, logg, "wallet subscription", errors.New("subscription not configured"))
	}

	realtimeConsumer, err := realtime.NewConsumer(redisClient, walletSubscription, manager, cfg.Circle.BalanceCacheTTL, logg)
	requireResource(ctx, logg, "realtime consumer", err)

	usageConsumer, err := usage.NewConsumer(bqClient, cfg.BigQuery, manager, logg)
	requireResource(ctx, logg, "usage consumer", err)

	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		Redis:            redisClient,
		PubSub:           pubsubClient,
		BigQuery:         bqClient,
		RealtimeConsumer: realtimeConsumer,
		UsageConsumer:    usageConsumer,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
