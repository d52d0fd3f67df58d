package job

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Pruner drops expired cache entries and reports how many it removed.
type Pruner interface {
	Prune() int
}

// CacheJanitor periodically evicts expired entries so idle keys do not pin
// memory until their next read.
type CacheJanitor struct {
	tracer   trace.Tracer
	logger   zerolog.Logger
	pruner   Pruner
	interval time.Duration
}

func NewCacheJanitor(tracer trace.Tracer, logger zerolog.Logger, pruner Pruner, interval time.Duration) *CacheJanitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CacheJanitor{tracer: tracer, logger: logger, pruner: pruner, interval: interval}
}

// Start prunes on every tick. Blocks until ctx is cancelled.
func (j *CacheJanitor) Start(ctx context.Context) {
	if j.pruner == nil {
		j.logger.Info().Msg("cache janitor disabled: no cache")
		<-ctx.Done()
		return
	}
	j.logger.Info().Dur("interval", j.interval).Msg("cache janitor starting")
	pollLoop(ctx, j.logger, "cache-janitor", j.interval, func(ctx context.Context) error {
		j.runOnce(ctx)
		return nil
	})
	j.logger.Info().Msg("cache janitor stopped")
}

func (j *CacheJanitor) runOnce(ctx context.Context) int {
	_, span := j.tracer.Start(ctx, "cache-janitor.run-once")
	defer span.End()

	removed := j.pruner.Prune()
	span.SetAttributes(attribute.Int("cache.pruned", removed))
	if removed > 0 {
		j.logger.Debug().Int("removed", removed).Msg("pruned expired cache entries")
	}
	return removed
}

// pollLoop runs fn immediately and then on every tick until ctx is done.
func pollLoop(ctx context.Context, logger zerolog.Logger, name string, interval time.Duration, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		logger.Warn().Err(err).Str("job", name).Msg("initial run failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Warn().Err(err).Str("job", name).Msg("run failed")
			}
		}
	}
}
