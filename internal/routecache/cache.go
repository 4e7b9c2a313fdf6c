// Package routecache holds the resolved upstream candidate list for a
// (user_token, requested_model) pair behind a sliding+hard TTL cache.
//
// Two interchangeable backends are provided: ShardedMemoryCache (the
// default, in-process) and RedisCache (shared across gateway replicas).
// Both implement Cache.
package routecache

import (
	"context"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

// Cache resolves and evicts RouteConfig candidate lists.
type Cache interface {
	// Get returns a snapshot copy of the candidate list for (token, model).
	// The bool is false on a miss (absent, or either expiry passed).
	Get(ctx context.Context, token, model string) ([]models.RouteConfig, bool)

	// Set unconditionally replaces the candidate list for (token, model).
	Set(ctx context.Context, token, model string, configs []models.RouteConfig) error

	// RemoveConfig retains only candidates whose (token, api_endpoint) differs
	// from failed. If the retained list is empty the whole entry is removed.
	RemoveConfig(ctx context.Context, token, model string, failed models.RouteConfig) error

	// Clear drops every entry.
	Clear(ctx context.Context) error
}

func cacheKey(token, model string) string {
	return token + ":" + model
}

// snapshot returns a defensive copy of configs — callers (forwarders
// iterating candidates while other requests may concurrently mutate the live
// entry) must never observe a slice backed by cache-owned memory.
func snapshot(configs []models.RouteConfig) []models.RouteConfig {
	out := make([]models.RouteConfig, len(configs))
	copy(out, configs)
	return out
}

func withoutFailed(configs []models.RouteConfig, failed models.RouteConfig) []models.RouteConfig {
	out := make([]models.RouteConfig, 0, len(configs))
	for _, c := range configs {
		if !c.SameUpstream(failed) {
			out = append(out, c)
		}
	}
	return out
}
