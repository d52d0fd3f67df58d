package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"
)

// ErrInvalidCost is returned when a cost can never be admitted.
var ErrInvalidCost = errors.New("ratelimit: cost must be > 0 and <= max tokens")

// Config describes a token bucket with a minimum spacing floor.
type Config struct {
	MaxTokens  float64       `json:"maxTokens"`
	RefillRate float64       `json:"refillRate"` // tokens per second
	MinDelay   time.Duration `json:"minDelay"`
}

var (
	Conservative = Config{MaxTokens: 5, RefillRate: 1, MinDelay: 500 * time.Millisecond}
	Standard     = Config{MaxTokens: 10, RefillRate: 2, MinDelay: 200 * time.Millisecond}
	Aggressive   = Config{MaxTokens: 20, RefillRate: 5, MinDelay: 50 * time.Millisecond}
	Burst        = Config{MaxTokens: 30, RefillRate: 3, MinDelay: 100 * time.Millisecond}
)

var presets = map[string]Config{
	"conservative": Conservative,
	"standard":     Standard,
	"aggressive":   Aggressive,
	"burst":        Burst,
}

// Preset looks up a named preset, case-insensitively.
func Preset(name string) (Config, bool) {
	cfg, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return cfg, ok
}

// PresetNames lists the preset names in a stable order.
func PresetNames() []string {
	return []string{"conservative", "standard", "aggressive", "burst"}
}

// Stats is a snapshot of limiter counters.
type Stats struct {
	TotalRequests     int64         `json:"totalRequests"`
	ThrottledRequests int64         `json:"throttledRequests"`
	TotalWait         time.Duration `json:"totalWaitTime"`
	CurrentTokens     float64       `json:"currentTokens"`
}

// Limiter implements a token bucket rate limiter for outbound API calls.
type Limiter struct {
	mu  sync.Mutex
	cfg Config

	tokens        float64
	lastRefill    time.Time
	lastAcquire   time.Time
	totalRequests int64
	throttled     int64
	totalWait     time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter that starts with a full bucket.
func New(cfg Config) *Limiter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = Standard.MaxTokens
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = Standard.RefillRate
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	l := &Limiter{
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}
	l.tokens = cfg.MaxTokens
	l.lastRefill = l.now()
	return l
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Acquire blocks until cost tokens are available and the minimum delay since
// the previous acquire has elapsed, then consumes them. It returns the total
// time spent waiting. Every call counts toward TotalRequests, including
// rejected and cancelled ones.
func (l *Limiter) Acquire(ctx context.Context, cost float64) (time.Duration, error) {
	l.mu.Lock()
	l.totalRequests++
	l.mu.Unlock()

	if cost <= 0 || cost > l.cfg.MaxTokens {
		return 0, ErrInvalidCost
	}

	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.now()
		l.refill(now)
		wait := l.waitFor(now, cost)
		if wait <= 0 {
			l.tokens -= cost
			l.lastAcquire = now
			if waited > 0 {
				l.throttled++
				l.totalWait += waited
			}
			l.mu.Unlock()
			return waited, nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// CanAcquire reports whether cost tokens are available right now, without
// consuming them or waiting.
func (l *Limiter) CanAcquire(cost float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.projected(l.now()) >= cost
}

// Stats returns counters and the current (refilled) token count.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		TotalRequests:     l.totalRequests,
		ThrottledRequests: l.throttled,
		TotalWait:         l.totalWait,
		CurrentTokens:     l.projected(l.now()),
	}
}

// Reset refills the bucket and clears the minimum-delay timestamp. Counters
// are kept.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = l.cfg.MaxTokens
	l.lastRefill = l.now()
	l.lastAcquire = time.Time{}
}

func (l *Limiter) refill(now time.Time) {
	l.tokens = l.projected(now)
	if now.After(l.lastRefill) {
		l.lastRefill = now
	}
}

func (l *Limiter) projected(now time.Time) float64 {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return l.tokens
	}
	return math.Min(l.cfg.MaxTokens, l.tokens+elapsed*l.cfg.RefillRate)
}

// waitFor returns how long the caller must wait before cost can be deducted.
// Caller holds mu and has refilled.
func (l *Limiter) waitFor(now time.Time, cost float64) time.Duration {
	var wait time.Duration
	if deficit := cost - l.tokens; deficit > 0 {
		wait = time.Duration(math.Ceil(deficit / l.cfg.RefillRate * float64(time.Second)))
	}
	if !l.lastAcquire.IsZero() && l.cfg.MinDelay > 0 {
		if floor := l.cfg.MinDelay - now.Sub(l.lastAcquire); floor > wait {
			wait = floor
		}
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
