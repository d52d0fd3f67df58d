package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is used when a cache is built without a positive default.
	DefaultTTL = 5 * time.Minute
	// DefaultFetchTimeout bounds a shared fetch once it no longer follows
	// any caller's cancellation.
	DefaultFetchTimeout = 2 * time.Minute
)

// ErrInvalidTTL is returned for negative TTLs.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	CreditsSaved int64 `json:"creditsSaved"`
}

// TTL is an in-memory key/value cache with per-entry expiry. Expired entries
// are dropped lazily on read or eagerly by Prune.
type TTL[V any] struct {
	mu           sync.Mutex
	entries      map[string]entry[V]
	defaultTTL   time.Duration
	fetchTimeout time.Duration
	stats        Stats
	group        singleflight.Group

	now func() time.Time
}

// New creates a cache whose entries live for defaultTTL unless overridden.
func New[V any](defaultTTL time.Duration) *TTL[V] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &TTL[V]{
		entries:      make(map[string]entry[V]),
		defaultTTL:   defaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
}

// SetFetchTimeout changes the bound on shared fetches. Non-positive values
// restore DefaultFetchTimeout.
func (c *TTL[V]) SetFetchTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultFetchTimeout
	}
	c.mu.Lock()
	c.fetchTimeout = d
	c.mu.Unlock()
}

// DefaultTTL returns the TTL applied when none is given.
func (c *TTL[V]) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Get returns the value for key if it exists and has not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lookup(key)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return v, ok
}

// Set stores value under key. A zero ttl uses the cache default.
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) error {
	ttl, err := c.resolveTTL(ttl)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// FetchOption tunes GetOrFetch.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	ttl        time.Duration
	creditCost int64
	hit        *bool
}

// WithTTL overrides the TTL of the stored result.
func WithTTL(ttl time.Duration) FetchOption {
	return func(o *fetchOptions) { o.ttl = ttl }
}

// WithCreditCost records how many provider credits a hit avoids spending.
func WithCreditCost(credits int) FetchOption {
	return func(o *fetchOptions) { o.creditCost = int64(credits) }
}

// WithHitReport sets *hit to whether the value was served from the cache.
// Callers that joined another caller's fetch count as misses.
func WithHitReport(hit *bool) FetchOption {
	return func(o *fetchOptions) { o.hit = hit }
}

// GetOrFetch returns the cached value for key, or calls fetcher, stores its
// result and returns it. Concurrent misses on the same key share one fetch.
// The shared fetch is detached from any single caller's cancellation and
// bounded by the fetch timeout; each caller still returns as soon as its own
// ctx is done. Fetcher errors are returned and nothing is cached.
func (c *TTL[V]) GetOrFetch(ctx context.Context, key string, fetcher func(context.Context) (V, error), opts ...FetchOption) (V, error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}
	ttl, err := c.resolveTTL(o.ttl)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	if v, ok := c.lookup(key); ok {
		c.stats.Hits++
		c.stats.CreditsSaved += o.creditCost
		c.mu.Unlock()
		if o.hit != nil {
			*o.hit = true
		}
		return v, nil
	}
	c.stats.Misses++
	timeout := c.fetchTimeout
	c.mu.Unlock()
	if o.hit != nil {
		*o.hit = false
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(flightCtx, timeout)
		defer cancel()
		v, err := fetcher(fctx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		c.entries[key] = entry[V]{value: v, expiresAt: c.now().Add(ttl)}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// Invalidate removes key and reports whether it was present.
func (c *TTL[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// InvalidatePattern removes every key matching re.
func (c *TTL[V]) InvalidatePattern(re *regexp.Regexp) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if re.MatchString(key) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Prune drops all expired entries.
func (c *TTL[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, including expired ones not yet pruned.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters.
func (c *TTL[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// lookup must be called with mu held.
func (c *TTL[V]) lookup(key string) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTL[V]) resolveTTL(ttl time.Duration) (time.Duration, error) {
	switch {
	case ttl < 0:
		return 0, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	case ttl == 0:
		return c.defaultTTL, nil
	default:
		return ttl, nil
	}
}

// MakeKey builds a deterministic key from a prefix and a parameter set.
// encoding/json writes map keys in sorted order, so two maps with the same
// entries produce the same key however they were built.
func MakeKey(prefix string, params map[string]any) string {
	if len(params) == 0 {
		return prefix
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%v", prefix, params)
	}
	return prefix + ":" + string(data)
}
