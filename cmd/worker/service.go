package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mediaforge-ai/mediaforge-backend/internal/realtime"
	"github.com/mediaforge-ai/mediaforge-backend/internal/usage"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/bigquery"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pubsub"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/redis"
)

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	Redis            *redis.Client
	PubSub           *pubsub.Client
	BigQuery         *bigquery.Client
	RealtimeConsumer *realtime.Consumer
	UsageConsumer    *usage.Consumer
}

// Service runs the push-event and usage consumers side by side.
type Service struct {
	cfg      *config.Config
	logg     *logger.Logger
	redis    *redis.Client
	pubsub   *pubsub.Client
	bigquery *bigquery.Client
	realtime *realtime.Consumer
	usage    *usage.Consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.BigQuery == nil {
		return nil, errors.New("bigquery client is required")
	}
	if params.RealtimeConsumer == nil {
		return nil, errors.New("realtime consumer is required")
	}
	if params.UsageConsumer == nil {
		return nil, errors.New("usage consumer is required")
	}

	return &Service{
		cfg:      params.Config,
		logg:     params.Logger,
		redis:    params.Redis,
		pubsub:   params.PubSub,
		bigquery: params.BigQuery,
		realtime: params.RealtimeConsumer,
		usage:    params.UsageConsumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "bigquery", s.bigquery.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 3)
	go func() {
		errCh <- s.realtime.Run(ctx)
	}()
	go func() {
		errCh <- s.usage.Run(ctx, s.pubsub.GenerationSubscription())
	}()
	go func() {
		errCh <- s.usage.Run(ctx, s.pubsub.UsageSubscription())
	}()

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "consumer stopped unexpectedly", err)
			return err
		}
		return err
	}
}
