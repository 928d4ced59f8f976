package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/brandnexus-mcp/internal/metrics"
)

// Backend stores computed values with a per-entry TTL
type Backend[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Purge(ctx context.Context) error
}

// Stats reports cache counters
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
}

// Cache memoizes computations by key. Concurrent misses for one key share a
// single computation. Errors are never cached.
type Cache[V any] struct {
	backend Backend[V]
	group   singleflight.Group
	logger  *zap.Logger
	metrics *metrics.Metrics

	// generation is bumped by Invalidate; a value computed under an older
	// generation is returned to its waiters but never stored
	generation atomic.Uint64

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// Option configures a Cache
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger used for backend failures
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records hits and misses
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a cache over backend
func New[V any](backend Backend[V], opts ...Option) *Cache[V] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Cache[V]{
		backend: backend,
		logger:  o.logger,
		metrics: o.metrics,
	}
}

// GetOrCompute returns the cached value for key or computes it with fn.
// A backend failure is logged and treated as a miss.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	v, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	if ok && err == nil {
		c.hits.Add(1)
		c.metrics.CacheRequest(metrics.CacheHit)
		return v, nil
	}

	c.misses.Add(1)
	c.metrics.CacheRequest(metrics.CacheMiss)

	gen := c.generation.Load()
	flightKey := strconv.FormatUint(gen, 10) + "/" + key
	res, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		value, err := fn(ctx)
		if err != nil {
			return value, err
		}
		if c.generation.Load() == gen {
			if err := c.backend.Set(ctx, key, value, ttl); err != nil {
				c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
			}
		}
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	value, _ := res.(V)
	return value, nil
}

// Invalidate drops every entry. Computations already in flight finish but
// their results are not stored.
func (c *Cache[V]) Invalidate(ctx context.Context) {
	c.generation.Add(1)
	c.invalidations.Add(1)
	if err := c.backend.Purge(ctx); err != nil {
		c.logger.Warn("cache purge failed", zap.Error(err))
	}
}

// Stats returns the hit, miss and invalidation counters
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
