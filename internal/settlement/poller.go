package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

// Poller drives PollOnce on a fixed cadence so vendor verdicts land without
// any client having to ask for them.
type Poller struct {
	settlement Service
	interval   time.Duration
	logg       *logger.Logger
}

// NewPoller builds the settlement poll loop.
func NewPoller(settlement Service, cfg config.GenerationConfig, logg *logger.Logger) (*Poller, error) {
	if settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{settlement: settlement, interval: interval, logg: logg}, nil
}

// Run polls until the context is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logg.Info(ctx, "settlement poller context canceled")
			return ctx.Err()
		case <-ticker.C:
			settled, err := p.settlement.PollOnce(ctx)
			if err != nil {
				p.logg.Error(ctx, "settlement poll cycle failed", err)
				continue
			}
			if settled > 0 {
				p.logg.Info(p.logg.WithField(ctx, "generations_settled", settled), "settlement poll cycle complete")
			}
		}
	}
}
