package promocodes

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/truespace/backend/internal/metrics"
)

// StatsSource reports promo code counts by state.
type StatsSource interface {
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// GaugeJob publishes promo code counts to prometheus. It runs on the scheduler.
type GaugeJob struct {
	source StatsSource
	now    func() time.Time
	logger *zap.Logger
}

// NewGaugeJob creates the promo code gauge refresher.
func NewGaugeJob(source StatsSource, logger *zap.Logger) *GaugeJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GaugeJob{source: source, now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

// Run refreshes the gauges once.
func (j *GaugeJob) Run(ctx context.Context) error {
	stats, err := j.source.Stats(ctx, j.now())
	if err != nil {
		return err
	}
	metrics.SetPromoCodeCount("active", stats.Active)
	metrics.SetPromoCodeCount("exhausted", stats.Exhausted)
	metrics.SetPromoCodeCount("expired", stats.Expired)
	metrics.SetPromoCodeCount("inactive", stats.Inactive)
	j.logger.Debug("promo code gauges refreshed",
		zap.Int64("active", stats.Active),
		zap.Int64("exhausted", stats.Exhausted),
		zap.Int64("expired", stats.Expired),
		zap.Int64("inactive", stats.Inactive),
	)
	return nil
}
