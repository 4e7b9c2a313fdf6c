package routecache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

// getAndSlideScript atomically reads the cached entry's hard_expires_at and,
// if it has not yet passed, slides the key's own TTL forward by up to ttl
// (capped at hard_expires_at) — the Redis equivalent of the sharded memory
// cache's expires_at refresh, done as one round trip so two concurrent Gets
// on the same key never race on the expiry decision. Modeled on the atomic
// sliding-window script the rate limiter uses: plain Redis commands only, no
// scripting-engine extensions.
var getAndSlideScript = redis.NewScript(`
	local hard = redis.call('HGET', KEYS[1], 'hard_expires_at')
	if not hard then
		return false
	end
	hard = tonumber(hard)
	local now = tonumber(redis.call('TIME')[1])
	if now >= hard then
		redis.call('DEL', KEYS[1])
		return false
	end
	local ttl = tonumber(ARGV[1])
	local newExpiry = now + ttl
	if newExpiry > hard then
		newExpiry = hard
	end
	local remaining = newExpiry - now
	if remaining < 1 then
		remaining = 1
	end
	redis.call('EXPIRE', KEYS[1], remaining)
	return redis.call('HGET', KEYS[1], 'configs')
`)

const (
	fieldConfigs   = "configs"
	fieldHardExp   = "hard_expires_at"
	fieldCreatedAt = "created_at"
)

// RedisCache shares cached route resolutions across gateway replicas. TTL
// semantics match ShardedMemoryCache; unavailability degrades to cache
// misses rather than request failures, the same posture the teacher's
// Redis-backed cache takes.
type RedisCache struct {
	client      *redis.Client
	ttl         time.Duration
	maxLifetime time.Duration
}

// NewRedisCache wraps an existing, already-connected client.
func NewRedisCache(client *redis.Client, ttl, maxLifetime time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxLifetime <= 0 {
		maxLifetime = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl, maxLifetime: maxLifetime}
}

func (c *RedisCache) Get(ctx context.Context, token, model string) ([]models.RouteConfig, bool) {
	key := cacheKey(token, model)

	res, err := getAndSlideScript.Run(ctx, c.client, []string{key}, int64(c.ttl.Seconds())).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "route_cache_get_error", slog.String("error", err.Error()))
		}
		return nil, false
	}

	raw, ok := res.(string)
	if !ok || raw == "" {
		return nil, false
	}

	var configs []models.RouteConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		slog.WarnContext(ctx, "route_cache_decode_error", slog.String("error", err.Error()))
		return nil, false
	}

	return snapshot(configs), true
}

func (c *RedisCache) Set(ctx context.Context, token, model string, configs []models.RouteConfig) error {
	key := cacheKey(token, model)
	now := time.Now()

	data, err := json.Marshal(snapshot(configs))
	if err != nil {
		return err
	}

	expiry := c.ttl
	if expiry > c.maxLifetime {
		expiry = c.maxLifetime
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldConfigs:   string(data),
		fieldHardExp:   now.Add(c.maxLifetime).Unix(),
		fieldCreatedAt: now.Unix(),
	})
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "route_cache_set_error", slog.String("error", err.Error()))
	}
	return nil
}

// RemoveConfig reads the current list, filters out the failed candidate, and
// writes back the remainder while preserving the key's remaining TTL. This
// is a read-modify-write rather than a single atomic script because the
// filter logic operates on a JSON array, which is not something to parse
// inside a Lua script without cjson; the window is small and a lost update
// here only means a config survives one extra failed attempt before the
// next eviction clears it.
func (c *RedisCache) RemoveConfig(ctx context.Context, token, model string, failed models.RouteConfig) error {
	key := cacheKey(token, model)

	raw, err := c.client.HGet(ctx, key, fieldConfigs).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "route_cache_remove_read_error", slog.String("error", err.Error()))
		}
		return nil
	}

	var configs []models.RouteConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		slog.WarnContext(ctx, "route_cache_remove_decode_error", slog.String("error", err.Error()))
		return nil
	}

	remaining := withoutFailed(configs, failed)
	if len(remaining) == 0 {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			slog.WarnContext(ctx, "route_cache_remove_delete_error", slog.String("error", err.Error()))
		}
		return nil
	}

	data, err := json.Marshal(remaining)
	if err != nil {
		return nil
	}

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = c.ttl
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, fieldConfigs, string(data))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "route_cache_remove_write_error", slog.String("error", err.Error()))
	}
	return nil
}

func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
