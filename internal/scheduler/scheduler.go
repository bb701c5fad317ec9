package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	specPromoGauges = "0 * * * * *"

	jobTimeout = 30 * time.Second
)

// PromoGaugeTask refreshes the promo code gauges.
type PromoGaugeTask interface {
	Run(ctx context.Context) error
}

type Deps struct {
	PromoGauges PromoGaugeTask
}

// NewScheduler registers the periodic jobs. The caller starts and stops the returned cron.
func NewScheduler(deps Deps, logger *zap.Logger) *cron.Cron {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	if deps.PromoGauges != nil {
		addFunc(c, specPromoGauges, "promocodes.refresh_gauges", logger, withTimeout(deps.PromoGauges.Run, "promocodes.refresh_gauges", logger))
	}

	return c
}

func withTimeout(run func(ctx context.Context) error, name string, logger *zap.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			logger.Warn("scheduler job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

func addFunc(c *cron.Cron, spec string, name string, logger *zap.Logger, fn func()) {
	if c == nil || fn == nil {
		return
	}

	if _, err := c.AddFunc(spec, func() {
		defer recoverJobPanic(name, logger)
		start := time.Now()
		fn()
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}); err != nil {
		logger.Error("register scheduler job failed",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}

func recoverJobPanic(jobName string, logger *zap.Logger) {
	if recovered := recover(); recovered != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
}
