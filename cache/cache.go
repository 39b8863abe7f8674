// Package cache is the read-through cache fronting the resolver (spec
// §4.6): an L1 in-process map backed by Redis, keyed by (tenant, code),
// with explicit invalidation and time-based expiry.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/errorsx"
	"github.com/shortenerhq/shortener/linkstore"
	"github.com/shortenerhq/shortener/resolver"
)

// Config holds cache tuning knobs (spec §6 configuration surface).
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{TTL: time.Hour, MaxEntries: 100_000}
}

type entry struct {
	snapshot  resolver.Snapshot
	expiresAt time.Time
}

// Cache implements resolver.Cache: an L1 in-process namespace map in
// front of Redis, with exact (tenant, code) lookup — no similarity
// search, no embeddings, just a fingerprint index.
type Cache struct {
	mu     sync.RWMutex
	logger zerolog.Logger
	config Config
	redis  *redis.Client

	l1 map[string]*entry

	hits      int64
	misses    int64
	evictions int64
}

// New builds a Cache. redisClient may be nil, in which case the cache
// operates purely as an in-process L1 (useful in tests and in a
// single-instance deployment).
func New(redisClient *redis.Client, logger zerolog.Logger, config Config) *Cache {
	return &Cache{
		logger: logger.With().Str("component", "cache").Logger(),
		config: config,
		redis:  redisClient,
		l1:     make(map[string]*entry),
	}
}

func key(tenantID int64, code string) string {
	return fmt.Sprintf("shortlink:%d:%s", tenantID, code)
}

// Get returns the cached snapshot, or errorsx.NotFound on a miss (in L1
// and, if configured, in Redis).
func (c *Cache) Get(ctx context.Context, tenantID int64, code string) (resolver.Snapshot, error) {
	k := key(tenantID, code)

	c.mu.RLock()
	e, ok := c.l1[k]
	c.mu.RUnlock()
	if ok {
		if time.Now().Before(e.expiresAt) {
			atomic.AddInt64(&c.hits, 1)
			return e.snapshot, nil
		}
		c.mu.Lock()
		delete(c.l1, k)
		c.mu.Unlock()
	}

	if c.redis != nil {
		raw, err := c.redis.Get(ctx, k).Bytes()
		if err == nil {
			var snap resolver.Snapshot
			if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
				c.storeL1(k, snap)
				atomic.AddInt64(&c.hits, 1)
				return snap, nil
			}
		}
	}

	atomic.AddInt64(&c.misses, 1)
	return resolver.Snapshot{}, errorsx.NotFound
}

// Put populates a positive entry for (tenantID, code), in L1 and — when
// configured — in Redis with the configured TTL.
func (c *Cache) Put(ctx context.Context, tenantID int64, code string, link *linkstore.ShortLink) {
	k := key(tenantID, code)
	snap := resolver.SnapshotFromLink(link)
	c.storeL1(k, snap)

	if c.redis != nil {
		raw, err := json.Marshal(snap)
		if err != nil {
			return
		}
		if err := c.redis.Set(ctx, k, raw, c.config.TTL).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("cache put to redis failed")
		}
	}
}

func (c *Cache) storeL1(k string, snap resolver.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config.MaxEntries > 0 && len(c.l1) >= c.config.MaxEntries {
		c.evictOne()
	}
	c.l1[k] = &entry{snapshot: snap, expiresAt: time.Now().Add(c.config.TTL)}
}

// evictOne drops an arbitrary entry. Called with c.mu held.
func (c *Cache) evictOne() {
	for k := range c.l1 {
		delete(c.l1, k)
		atomic.AddInt64(&c.evictions, 1)
		return
	}
}

// Invalidate removes the (tenant, code) entry from both L1 and Redis.
// C3 writers call this on every update, delete, or metadata change.
func (c *Cache) Invalidate(ctx context.Context, tenantID int64, code string) {
	k := key(tenantID, code)

	c.mu.Lock()
	delete(c.l1, k)
	c.mu.Unlock()

	if c.redis != nil {
		if err := c.redis.Del(ctx, k).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("cache invalidate on redis failed")
		}
	}
}

// FlushNamespace drops every L1 entry for a tenant. Redis entries expire
// naturally via TTL; this core does not scan Redis keyspaces.
func (c *Cache) FlushNamespace(tenantID int64) int {
	prefix := fmt.Sprintf("shortlink:%d:", tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.l1 {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.l1, k)
			n++
		}
	}
	return n
}

// FlushAll clears the entire L1 cache.
func (c *Cache) FlushAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.l1)
	c.l1 = make(map[string]*entry)
	return n
}

// Stats reports hit-rate metrics for observability.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int64   `json:"entries"`
	HitRate   float64 `json:"hit_rate_pct"`
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := int64(len(c.l1))
	c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadInt64(&c.evictions),
		Entries:   entries,
		HitRate:   rate,
	}
}
