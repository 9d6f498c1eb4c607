// Package cache is the short-TTL result cache: an in-memory layer with an
// optional redis layer shared between replicas.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/riderwatch/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Entry is a cached payload and the time it was produced
type Entry[V any] struct {
	Payload    V         `json:"payload"`
	InsertedAt time.Time `json:"insertedAt"`
}

// Stats represents cache statistics
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	L2Hits  int64   `json:"l2Hits"`
	HitRate float64 `json:"hitRate"`
}

type options struct {
	redis   redis.Cmdable
	prefix  string
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Cache
type Option func(*options)

// WithRedis mirrors entries into redis under prefix
func WithRedis(client redis.Cmdable, prefix string) Option {
	return func(o *options) {
		o.redis = client
		o.prefix = prefix
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics records hits and misses under the cache name
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Cache maps keys to entries. An entry is never returned once
// now - InsertedAt exceeds the TTL, whichever layer it comes from.
type Cache[V any] struct {
	logger *zap.Logger
	name   string
	ttl    time.Duration
	opts   options

	mu    sync.RWMutex
	items map[string]Entry[V]

	hits   atomic.Int64
	misses atomic.Int64
	l2Hits atomic.Int64
}

// New creates a cache named for logs and metrics
func New[V any](logger *zap.Logger, name string, ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		logger: logger.Named("cache." + name),
		name:   name,
		ttl:    ttl,
		opts:   o,
		items:  make(map[string]Entry[V]),
	}
}

// Key joins key parts
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

func (c *Cache[V]) expired(e Entry[V]) bool {
	return c.opts.now().Sub(e.InsertedAt) > c.ttl
}

// Get returns the payload of a live entry, checking memory first, then redis
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	if e, ok := c.getL1(key); ok {
		c.hit()
		return e.Payload, true
	}
	if e, ok := c.getL2(ctx, key); ok {
		c.mu.Lock()
		c.items[key] = e
		c.mu.Unlock()
		c.l2Hits.Add(1)
		c.hit()
		return e.Payload, true
	}
	c.misses.Add(1)
	c.opts.metrics.CacheMiss(c.name)
	var zero V
	return zero, false
}

func (c *Cache[V]) hit() {
	c.hits.Add(1)
	c.opts.metrics.CacheHit(c.name)
}

func (c *Cache[V]) getL1(key string) (Entry[V], bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return e, false
	}
	if c.expired(e) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.InsertedAt.Equal(e.InsertedAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return e, false
	}
	return e, true
}

func (c *Cache[V]) getL2(ctx context.Context, key string) (Entry[V], bool) {
	var e Entry[V]
	if c.opts.redis == nil {
		return e, false
	}
	data, err := c.opts.redis.Get(ctx, c.opts.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return e, false
	}
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("dropping undecodable redis entry", zap.String("key", key), zap.Error(err))
		return e, false
	}
	if c.expired(e) {
		return e, false
	}
	return e, true
}

// Set stores a payload stamped with the current time
func (c *Cache[V]) Set(ctx context.Context, key string, payload V) {
	e := Entry[V]{Payload: payload, InsertedAt: c.opts.now()}
	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()

	if c.opts.redis == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("failed to encode entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.opts.redis.Set(ctx, c.opts.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes a key from both layers
func (c *Cache[V]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()

	if c.opts.redis == nil {
		return
	}
	if err := c.opts.redis.Del(ctx, c.opts.prefix+key).Err(); err != nil {
		c.logger.Warn("redis delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Sweep drops expired in-memory entries and returns how many were removed
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.items {
		if c.expired(e) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Stats returns the hit/miss counters
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	entries := len(c.items)
	c.mu.RUnlock()

	s := Stats{
		Entries: entries,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		L2Hits:  c.l2Hits.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
