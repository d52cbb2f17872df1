package cron

import (
	"context"
	"fmt"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

type GenerationReaperJobParams struct {
	Logger     *logger.Logger
	Settlement generationReaper
}

type generationReaper interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// NewGenerationReaperJob expires tasks whose vendors never produced a
// terminal verdict before the deadline.
func NewGenerationReaperJob(params GenerationReaperJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	return &generationReaperJob{
		logg:       params.Logger,
		settlement: params.Settlement,
	}, nil
}

type generationReaperJob struct {
	logg       *logger.Logger
	settlement generationReaper
}

func (j *generationReaperJob) Name() string { return "generation-reaper" }

func (j *generationReaperJob) Run(ctx context.Context) error {
	expired, err := j.settlement.ExpireOverdue(ctx)
	if err != nil {
		return fmt.Errorf("generation reaper: %w", err)
	}
	logCtx := j.logg.WithField(ctx, "generations_expired", expired)
	j.logg.Info(logCtx, "generation reaper complete")
	return nil
}
