package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"smartflow/internal/cache"
	"smartflow/internal/domain"
	"smartflow/internal/ratelimit"
	"smartflow/internal/signallog"
	"smartflow/internal/toolclient"
	"smartflow/pkg/metrics"
)

var (
	ErrSignalNotFound = errors.New("signal not found")
	ErrToolsDisabled  = errors.New("tool endpoint not configured")
	ErrNoPriceSource  = errors.New("no price source configured")
	ErrInvalidLeg     = errors.New("leg must be entry or exit")
)

// ToolCaller performs remote tool calls.
type ToolCaller interface {
	CallTool(ctx context.Context, tool string, arguments any) (json.RawMessage, error)
	Credits(tool string) int
	ListTools() []toolclient.ToolInfo
}

// SharedCache is a cross-process second-level cache.
type SharedCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// PriceQuoter supplies USD prices for recordOutcome legs.
type PriceQuoter interface {
	FetchTokenPrice(ctx context.Context, chain, address string) (float64, error)
}

// Notifier is told about every newly logged signal.
type Notifier interface {
	NotifySignal(ctx context.Context, sig domain.LoggedSignal) error
}

// IntelServiceConfig wires an IntelService. Limiter, Cache and Signals are
// required; everything else is optional.
type IntelServiceConfig struct {
	Tracer       trace.Tracer
	Logger       zerolog.Logger
	Limiter      *ratelimit.Limiter
	Cache        *cache.TTL[json.RawMessage]
	Shared       SharedCache
	Tools        ToolCaller
	Signals      *signallog.Log
	Prices       PriceQuoter
	Notifier     Notifier
	Metrics      *metrics.Recorder
	RecentWindow time.Duration
}

// IntelService governs outbound tool calls (rate limit, cache) and owns the
// signal log.
type IntelService struct {
	tracer       trace.Tracer
	logger       zerolog.Logger
	limiter      *ratelimit.Limiter
	cache        *cache.TTL[json.RawMessage]
	shared       SharedCache
	tools        ToolCaller
	signals      *signallog.Log
	prices       PriceQuoter
	notifier     Notifier
	metrics      *metrics.Recorder
	recentWindow time.Duration
}

func NewIntelService(cfg IntelServiceConfig) *IntelService {
	s := &IntelService{
		tracer:       cfg.Tracer,
		logger:       cfg.Logger,
		limiter:      cfg.Limiter,
		cache:        cfg.Cache,
		shared:       cfg.Shared,
		tools:        cfg.Tools,
		signals:      cfg.Signals,
		prices:       cfg.Prices,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		recentWindow: cfg.RecentWindow,
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("intel-service")
	}
	s.registerMetrics()
	return s
}

// SetNotifier installs the new-signal notifier after construction.
func (s *IntelService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Signals exposes the signal log for read-only collaborators.
func (s *IntelService) Signals() *signallog.Log {
	return s.signals
}

// CallTool returns the tool's payload, from the in-memory cache, the shared
// cache, or the endpoint, in that order. Only endpoint calls are throttled.
func (s *IntelService) CallTool(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	ctx, span := s.tracer.Start(ctx, "intel-service.call-tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", tool))

	if s.tools == nil {
		return nil, ErrToolsDisabled
	}

	key := cache.MakeKey("tool:"+tool, args)
	credits := s.tools.Credits(tool)
	var hit bool

	out, err := s.cache.GetOrFetch(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		return s.fetchTool(ctx, key, tool, args, credits)
	}, cache.WithCreditCost(credits), cache.WithHitReport(&hit))

	switch {
	case err != nil:
		s.metrics.RecordToolCall(tool, "error")
		s.logger.Warn().Err(err).Str("tool", tool).Msg("tool call failed")
		span.RecordError(err)
		return nil, err
	case hit:
		s.metrics.RecordToolCall(tool, "hit")
	default:
		s.metrics.RecordToolCall(tool, "miss")
	}
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	return out, nil
}

func (s *IntelService) fetchTool(ctx context.Context, key, tool string, args map[string]any, credits int) (json.RawMessage, error) {
	if s.shared != nil {
		var raw json.RawMessage
		ok, err := s.shared.GetJSON(ctx, key, &raw)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("shared cache read failed")
		}
		if ok {
			s.metrics.RecordToolCall(tool, "shared_hit")
			return raw, nil
		}
	}

	waited, err := s.limiter.Acquire(ctx, s.admissionCost(credits))
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", tool, err)
	}
	if waited > 0 {
		s.logger.Debug().Str("tool", tool).Dur("waited", waited).Msg("tool call throttled")
	}

	start := time.Now()
	raw, err := s.tools.CallTool(ctx, tool, args)
	s.metrics.ObserveToolLatency(tool, time.Since(start))
	if err != nil {
		return nil, err
	}

	if s.shared != nil {
		if err := s.shared.SetJSON(ctx, key, raw, s.cache.DefaultTTL()); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("shared cache write failed")
		}
	}
	return raw, nil
}

// admissionCost caps a tool's credits at the bucket size so expensive tools
// still get admitted on small presets.
func (s *IntelService) admissionCost(credits int) float64 {
	return math.Max(1, math.Min(float64(credits), s.limiter.Config().MaxTokens))
}

// ListTools returns the tool catalogue, or nil when tools are disabled.
func (s *IntelService) ListTools() []toolclient.ToolInfo {
	if s.tools == nil {
		return nil
	}
	return s.tools.ListTools()
}

// IngestResult summarises one RecordSignals call.
type IngestResult struct {
	Logged        []domain.LoggedSignal `json:"logged"`
	Created       int                   `json:"created"`
	SkippedRecent int                   `json:"skippedRecent"`
}

// RecordSignals logs scanner output. Signals already logged within the
// recent window are skipped; new records are pushed to the notifier.
func (s *IntelService) RecordSignals(ctx context.Context, sigs []domain.OpportunitySignal) (IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "intel-service.record-signals")
	defer span.End()
	span.SetAttributes(attribute.Int("signals", len(sigs)))

	res := IngestResult{Logged: make([]domain.LoggedSignal, 0, len(sigs))}
	fresh := make([]domain.OpportunitySignal, 0, len(sigs))
	known := make(map[string]bool, len(sigs))
	for i, sig := range sigs {
		if strings.TrimSpace(sig.Token) == "" || strings.TrimSpace(sig.Chain) == "" || strings.TrimSpace(string(sig.Type)) == "" {
			return res, fmt.Errorf("signal %d: type, token and chain are required", i)
		}
		if s.signals.HasRecentSignal(sig, s.recentWindow) {
			res.SkippedRecent++
			s.metrics.RecordSignal("recent")
			continue
		}
		id := domain.SignalID(sig.Chain, sig.Token, sig.Type)
		if _, ok := s.signals.Get(id); ok {
			known[id] = true
		}
		fresh = append(fresh, sig)
	}

	logged, err := s.signals.LogBatch(fresh)
	res.Logged = append(res.Logged, logged...)
	if err != nil {
		s.logger.Error().Err(err).Msg("persist signal log")
	}

	for _, rec := range logged {
		if known[rec.ID] {
			s.metrics.RecordSignal("duplicate")
			continue
		}
		known[rec.ID] = true
		res.Created++
		s.metrics.RecordSignal("logged")
		s.logger.Info().
			Str("id", rec.ID).
			Str("chain", rec.Chain).
			Str("token", rec.Token).
			Str("type", string(rec.Type)).
			Float64("score", rec.Score).
			Msg("signal logged")
		if s.notifier != nil {
			if nerr := s.notifier.NotifySignal(ctx, rec); nerr != nil {
				s.logger.Warn().Err(nerr).Str("id", rec.ID).Msg("signal notification failed")
			}
		}
	}
	return res, err
}

// GetSignal returns one record.
func (s *IntelService) GetSignal(id string) (domain.LoggedSignal, error) {
	rec, ok := s.signals.Get(id)
	if !ok {
		return domain.LoggedSignal{}, ErrSignalNotFound
	}
	return rec, nil
}

// FindSignals queries the log.
func (s *IntelService) FindSignals(f signallog.Filter) []domain.LoggedSignal {
	return s.signals.Find(f)
}

// SignalStats returns log-wide statistics.
func (s *IntelService) SignalStats() signallog.Stats {
	return s.signals.Stats()
}

// TokenHistory returns every record for token, optionally on one chain.
func (s *IntelService) TokenHistory(token, chain string) []domain.LoggedSignal {
	return s.signals.TokenHistory(token, chain)
}

// ExportSignals serialises the matching records.
func (s *IntelService) ExportSignals(f signallog.Filter) ([]byte, error) {
	return s.signals.Export(f)
}

// MarkActed records what the agent did about a signal.
func (s *IntelService) MarkActed(ctx context.Context, id string, action domain.Action, notes string) (domain.LoggedSignal, error) {
	_, span := s.tracer.Start(ctx, "intel-service.mark-acted")
	defer span.End()

	rec, ok, err := s.signals.MarkActed(id, action, notes)
	if !ok {
		return domain.LoggedSignal{}, ErrSignalNotFound
	}
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("persist signal log")
		return rec, err
	}
	s.logger.Info().Str("id", id).Str("action", string(action)).Msg("signal acted on")
	return rec, nil
}

// RecordOutcome merges prices, pnl and notes into a record.
func (s *IntelService) RecordOutcome(ctx context.Context, id string, upd signallog.OutcomeUpdate) (domain.LoggedSignal, error) {
	_, span := s.tracer.Start(ctx, "intel-service.record-outcome")
	defer span.End()

	rec, ok, err := s.signals.RecordOutcome(id, upd)
	if !ok {
		return domain.LoggedSignal{}, ErrSignalNotFound
	}
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("persist signal log")
		return rec, err
	}
	ev := s.logger.Info().Str("id", id)
	if rec.Outcome != nil && rec.Outcome.PnL != nil {
		ev = ev.Float64("pnl", *rec.Outcome.PnL)
	}
	ev.Msg("signal outcome recorded")
	return rec, nil
}

// RecordOutcomeAtMarket quotes the token now and records it as the entry or
// exit price.
func (s *IntelService) RecordOutcomeAtMarket(ctx context.Context, id, leg string) (domain.LoggedSignal, error) {
	ctx, span := s.tracer.Start(ctx, "intel-service.record-outcome-at-market")
	defer span.End()

	if s.prices == nil {
		return domain.LoggedSignal{}, ErrNoPriceSource
	}
	leg = strings.ToLower(strings.TrimSpace(leg))
	if leg != "entry" && leg != "exit" {
		return domain.LoggedSignal{}, ErrInvalidLeg
	}
	rec, ok := s.signals.Get(id)
	if !ok {
		return domain.LoggedSignal{}, ErrSignalNotFound
	}

	price, err := s.prices.FetchTokenPrice(ctx, rec.Chain, rec.Token)
	if err != nil {
		return domain.LoggedSignal{}, fmt.Errorf("quote %s: %w", rec.Token, err)
	}
	upd := signallog.OutcomeUpdate{ExitPrice: &price}
	if leg == "entry" {
		upd = signallog.OutcomeUpdate{EntryPrice: &price}
	}
	return s.RecordOutcome(ctx, id, upd)
}

// Governance is a snapshot of the rate limiter, cache and signal log.
type Governance struct {
	RateLimit       ratelimit.Stats  `json:"rateLimit"`
	RateLimitConfig ratelimit.Config `json:"rateLimitConfig"`
	Cache           cache.Stats      `json:"cache"`
	CacheEntries    int              `json:"cacheEntries"`
	Signals         signallog.Stats  `json:"signals"`
	ToolsEnabled    bool             `json:"toolsEnabled"`
}

// GovernanceStats reports budget use and cache effectiveness.
func (s *IntelService) GovernanceStats() Governance {
	return Governance{
		RateLimit:       s.limiter.Stats(),
		RateLimitConfig: s.limiter.Config(),
		Cache:           s.cache.Stats(),
		CacheEntries:    s.cache.Len(),
		Signals:         s.signals.Stats(),
		ToolsEnabled:    s.tools != nil,
	}
}

func (s *IntelService) registerMetrics() {
	m := s.metrics
	if m == nil {
		return
	}
	m.GaugeFunc("ratelimit_tokens", "Tokens currently available in the outbound bucket",
		func() float64 { return s.limiter.Stats().CurrentTokens })
	m.CounterFunc("ratelimit_requests_total", "Outbound admissions requested",
		func() float64 { return float64(s.limiter.Stats().TotalRequests) })
	m.CounterFunc("ratelimit_throttled_total", "Outbound admissions that had to wait",
		func() float64 { return float64(s.limiter.Stats().ThrottledRequests) })
	m.CounterFunc("ratelimit_wait_seconds_total", "Time spent waiting for admission",
		func() float64 { return s.limiter.Stats().TotalWait.Seconds() })
	m.CounterFunc("cache_hits_total", "In-memory cache hits",
		func() float64 { return float64(s.cache.Stats().Hits) })
	m.CounterFunc("cache_misses_total", "In-memory cache misses",
		func() float64 { return float64(s.cache.Stats().Misses) })
	m.CounterFunc("cache_credits_saved_total", "Provider credits not spent thanks to cache hits",
		func() float64 { return float64(s.cache.Stats().CreditsSaved) })
	m.GaugeFunc("cache_entries", "Entries held in the in-memory cache",
		func() float64 { return float64(s.cache.Len()) })
	m.GaugeFunc("signals_total", "Records in the signal log",
		func() float64 { return float64(s.signals.Len()) })
	m.GaugeFunc("signals_acted", "Signals the agent acted on",
		func() float64 { return float64(s.signals.Stats().ActedOn) })
	m.GaugeFunc("signals_win_rate", "Share of closed signals with positive pnl",
		func() float64 { return s.signals.Stats().WinRate })
}
