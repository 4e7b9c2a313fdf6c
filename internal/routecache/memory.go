package routecache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

// defaultShards is a power of two chosen the same way the circuit breaker's
// per-provider locks are chosen upstream: enough buckets that hot keys don't
// contend, few enough that per-shard overhead stays negligible.
const defaultShards = 32

// entry is one cached (user_token, requested_model) resolution.
type entry struct {
	configs       []models.RouteConfig
	createdAt     time.Time
	expiresAt     time.Time // sliding
	hardExpiresAt time.Time // fixed
}

// shard holds one partition of the key space behind its own lock, modeled on
// the per-provider locking in the circuit breaker this system's failover
// logic is descended from: one mutex per bucket rather than one global lock.
type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// ShardedMemoryCache is the default, in-process Cache backend. It is safe
// for concurrent use; per-key operations are atomic, but operations on
// different keys never block each other beyond shard collisions.
type ShardedMemoryCache struct {
	shards      []*shard
	ttl         time.Duration
	maxLifetime time.Duration

	done chan struct{}
}

// NewShardedMemoryCache creates a cache with the given sliding ttl and hard
// max lifetime, and starts a background sweep that drops entries whose hard
// expiry has already passed (a pure memory-bound; correctness never depends
// on it since Get also checks expiry lazily).
func NewShardedMemoryCache(ttl, maxLifetime time.Duration) *ShardedMemoryCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxLifetime <= 0 {
		maxLifetime = 24 * time.Hour
	}

	c := &ShardedMemoryCache{
		shards:      make([]*shard, defaultShards),
		ttl:         ttl,
		maxLifetime: maxLifetime,
		done:        make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	go c.sweep()
	return c
}

func (c *ShardedMemoryCache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get implements Cache.
func (c *ShardedMemoryCache) Get(_ context.Context, token, model string) ([]models.RouteConfig, bool) {
	key := cacheKey(token, model)
	sh := c.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil, false
	}

	now := time.Now()
	if !now.Before(e.hardExpiresAt) || !now.Before(e.expiresAt) {
		delete(sh.entries, key)
		return nil, false
	}

	newExpiry := now.Add(c.ttl)
	if newExpiry.After(e.hardExpiresAt) {
		newExpiry = e.hardExpiresAt
	}
	e.expiresAt = newExpiry

	return snapshot(e.configs), true
}

// Set implements Cache.
func (c *ShardedMemoryCache) Set(_ context.Context, token, model string, configs []models.RouteConfig) error {
	key := cacheKey(token, model)
	sh := c.shardFor(key)

	now := time.Now()
	hardExpiry := now.Add(c.maxLifetime)
	expiry := now.Add(c.ttl)
	if expiry.After(hardExpiry) {
		expiry = hardExpiry
	}

	sh.mu.Lock()
	sh.entries[key] = &entry{
		configs:       snapshot(configs),
		createdAt:     now,
		expiresAt:     expiry,
		hardExpiresAt: hardExpiry,
	}
	sh.mu.Unlock()

	return nil
}

// RemoveConfig implements Cache. The filter and the entry-level delete both
// happen under the one shard lock, so there is no per-key lock to release
// before a separate map-level remove and no lock upgrade to deadlock on (see
// the Redis backend, where the read and the write genuinely are separate
// round-trips).
func (c *ShardedMemoryCache) RemoveConfig(_ context.Context, token, model string, failed models.RouteConfig) error {
	key := cacheKey(token, model)
	sh := c.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil
	}

	remaining := withoutFailed(e.configs, failed)
	if len(remaining) == 0 {
		delete(sh.entries, key)
		return nil
	}
	e.configs = remaining
	return nil
}

// Clear implements Cache.
func (c *ShardedMemoryCache) Clear(_ context.Context) error {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*entry)
		sh.mu.Unlock()
	}
	return nil
}

// Close stops the background sweep goroutine.
func (c *ShardedMemoryCache) Close() {
	close(c.done)
}

func (c *ShardedMemoryCache) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			for _, sh := range c.shards {
				sh.mu.Lock()
				for k, e := range sh.entries {
					if now.After(e.hardExpiresAt) {
						delete(sh.entries, k)
					}
				}
				sh.mu.Unlock()
			}
		case <-c.done:
			return
		}
	}
}
