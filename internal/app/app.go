// Package app wires the shared components every smartflow binary needs.
package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"smartflow/internal/cache"
	"smartflow/internal/config"
	"smartflow/internal/db"
	"smartflow/internal/provider"
	"smartflow/internal/ratelimit"
	"smartflow/internal/repository"
	"smartflow/internal/service"
	"smartflow/internal/signallog"
	"smartflow/internal/toolclient"
	"smartflow/pkg/metrics"
)

var (
	newRedisClient = cache.NewRedisClient
	newPool        = db.NewPool
)

// App holds the long-lived components built from Config.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Recorder

	Limiter *ratelimit.Limiter
	Cache   *cache.TTL[json.RawMessage]
	Signals *signallog.Log
	Intel   *service.IntelService

	// Optional, nil when not configured or unreachable.
	Pool          *pgxpool.Pool
	SignalRepo    *repository.SignalRepository
	Conversations *repository.ConversationRepository

	redis *redis.Client
}

// Build opens the signal log and connects optional backends. Redis and
// Postgres failures are logged and the app runs without them.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, tracer trace.Tracer) (*App, error) {
	preset, ok := ratelimit.Preset(cfg.RateLimitPreset)
	if !ok {
		return nil, fmt.Errorf("unknown rate limit preset %q", cfg.RateLimitPreset)
	}

	signals, err := signallog.Open(cfg.SignalLogPath, cfg.SignalLogAutosave, signallog.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open signal log: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics.New(),
		Limiter: ratelimit.New(preset),
		Cache:   cache.New[json.RawMessage](cfg.CacheTTL),
		Signals: signals,
	}

	svcCfg := service.IntelServiceConfig{
		Tracer:       tracer,
		Logger:       logger,
		Limiter:      a.Limiter,
		Cache:        a.Cache,
		Signals:      signals,
		Prices:       provider.NewCoinGeckoProvider(tracer, cfg.CoinGeckoBaseURL),
		Metrics:      a.Metrics,
		RecentWindow: cfg.SignalRecentWindow,
	}
	if cfg.ToolEndpoint != "" {
		svcCfg.Tools = toolclient.New(cfg.ToolEndpoint,
			toolclient.WithTimeout(cfg.ToolTimeout),
			toolclient.WithAPIKey(cfg.ToolAPIKeyHeader, cfg.ToolAPIKey),
			toolclient.WithTracer(tracer),
		)
	}
	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, shared cache disabled")
		} else {
			a.redis = client
			svcCfg.Shared = cache.NewRedis(client, cfg.RedisPrefix)
		}
	}
	if cfg.DatabaseURL != "" {
		if err := a.connectPostgres(ctx); err != nil {
			logger.Warn().Err(err).Msg("postgres unavailable, signal archive disabled")
		}
	}

	a.Intel = service.NewIntelService(svcCfg)
	for _, w := range cfg.Warnings() {
		logger.Info().Msg(w)
	}
	logger.Info().
		Str("preset", cfg.RateLimitPreset).
		Dur("cache_ttl", cfg.CacheTTL).
		Str("signal_log", cfg.SignalLogPath).
		Int("signals", signals.Len()).
		Bool("tools", svcCfg.Tools != nil).
		Msg("smartflow core ready")
	return a, nil
}

func (a *App) connectPostgres(ctx context.Context) error {
	pool, err := newPool(ctx, db.PoolConfig{DSN: a.Config.DatabaseURL})
	if err != nil {
		return err
	}
	signalRepo := repository.NewSignalRepository(pool, a.Tracer)
	convRepo := repository.NewConversationRepository(pool, a.Tracer)
	if err := signalRepo.RunMigrations(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("signal archive migrations: %w", err)
	}
	if err := convRepo.RunMigrations(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("conversation migrations: %w", err)
	}
	a.Pool = pool
	a.SignalRepo = signalRepo
	a.Conversations = convRepo
	return nil
}

// Close releases backend connections.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis")
		}
	}
}
