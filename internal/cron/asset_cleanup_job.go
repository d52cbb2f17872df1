package cron

import (
	"context"
	"fmt"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

type AssetCleanupJobParams struct {
	Logger *logger.Logger
	Assets assetCleaner
}

type assetCleaner interface {
	CleanupOnce(ctx context.Context) (int, error)
}

// NewAssetCleanupJob removes deletion-flagged objects and abandons
// ingestions that stalled mid-download.
func NewAssetCleanupJob(params AssetCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Assets == nil {
		return nil, fmt.Errorf("assets service required")
	}
	return &assetCleanupJob{
		logg:   params.Logger,
		assets: params.Assets,
	}, nil
}

type assetCleanupJob struct {
	logg   *logger.Logger
	assets assetCleaner
}

func (j *assetCleanupJob) Name() string { return "asset-cleanup" }

func (j *assetCleanupJob) Run(ctx context.Context) error {
	cleaned, err := j.assets.CleanupOnce(ctx)
	if err != nil {
		return fmt.Errorf("asset cleanup: %w", err)
	}
	logCtx := j.logg.WithField(ctx, "assets_cleaned", cleaned)
	j.logg.Info(logCtx, "asset cleanup complete")
	return nil
}
