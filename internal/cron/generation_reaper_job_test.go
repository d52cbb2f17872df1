package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

type fakeGenerationReaper struct {
	expired int
	called  int
	err     error
}

func (f *fakeGenerationReaper) ExpireOverdue(ctx context.Context) (int, error) {
	f.called++
	if f.err != nil {
		return 0, f.err
	}
	return f.expired, nil
}

func TestGenerationReaperJobExpiresOverdueTasks(t *testing.T) {
	reaper := &fakeGenerationReaper{expired: 3}
	job, err := NewGenerationReaperJob(GenerationReaperJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Settlement: reaper,
	})
	if err != nil {
		t.Fatalf("NewGenerationReaperJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reaper.called != 1 {
		t.Fatalf("expected one reap cycle, got %d", reaper.called)
	}
	if job.Name() != "generation-reaper" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
}

func TestGenerationReaperJobPropagatesError(t *testing.T) {
	job, err := NewGenerationReaperJob(GenerationReaperJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Settlement: &fakeGenerationReaper{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewGenerationReaperJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
