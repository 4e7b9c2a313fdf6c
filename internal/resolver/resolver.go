// Package resolver turns (user_token, requested_model) into an ordered list
// of upstream candidates, consulting the route cache before calling out to
// the business backend.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/internal/models"
	"github.com/nulpointcorp/inference-gateway/internal/routecache"
)

// ErrNoRoute wraps the last error once every retry attempt on a retryable
// failure (transport error or 5xx) was exhausted. A 4xx or a success=false
// body is returned as a plain error, and a success=true body with no data
// yields an empty list and a nil error.
var ErrNoRoute = errors.New("resolver: no route available")

// Resolver resolves routes against a cache, falling back to the business
// backend's /v1/route/resolve endpoint on a miss.
type Resolver struct {
	cache         routecache.Cache
	client        *http.Client
	baseURL       string
	retryAttempts int
	log           *slog.Logger
	metrics       *metrics.Registry
}

// New builds a Resolver. client should be scoped with the business API's
// configured timeout, the same way the teacher's providers build one
// *http.Client per upstream rather than sharing the default client.
func New(cache routecache.Cache, client *http.Client, baseURL string, retryAttempts int, log *slog.Logger, reg *metrics.Registry) *Resolver {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Resolver{
		cache: cache, client: client, baseURL: baseURL, retryAttempts: retryAttempts,
		log: log, metrics: reg,
	}
}

// Resolve implements spec §4.2's resolve(user_token, requested_model).
// requestID is logged alongside the cache hit/miss outcome so the two
// events can be correlated with the rest of a request's log lines.
func (r *Resolver) Resolve(ctx context.Context, requestID, token, model string) ([]models.RouteConfig, error) {
	if configs, ok := r.cache.Get(ctx, token, model); ok && len(configs) > 0 {
		r.metrics.CacheHit()
		r.log.InfoContext(ctx, "route_cache_hit", "request_id", requestID, "model", model)
		return configs, nil
	}

	r.metrics.CacheMiss()
	r.log.InfoContext(ctx, "route_cache_miss", "request_id", requestID, "model", model)

	configs, err := r.fetchWithRetry(ctx, token, model)
	if err != nil {
		return nil, err
	}

	if len(configs) > 0 {
		if err := r.cache.Set(ctx, token, model, configs); err != nil {
			r.metrics.CacheSetError()
			return nil, err
		}
		r.metrics.CacheSetOK()
	}

	return configs, nil
}

// RemoveFailedRoute forwards to cache eviction, per spec §4.2's
// remove_failed_route.
func (r *Resolver) RemoveFailedRoute(ctx context.Context, token, model string, failed models.RouteConfig) error {
	return r.cache.RemoveConfig(ctx, token, model, failed)
}

func (r *Resolver) fetchWithRetry(ctx context.Context, token, model string) ([]models.RouteConfig, error) {
	var lastErr error

	for attempt := 1; attempt <= r.retryAttempts; attempt++ {
		configs, retryable, err := r.fetchOnce(ctx, token, model)
		if err == nil {
			return configs, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if attempt == r.retryAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrNoRoute, lastErr)
}

// fetchOnce performs one attempt against /v1/route/resolve. The second
// return value reports whether the error is worth retrying: transport
// errors and 5xx responses are; 4xx responses and success=false bodies are
// not.
func (r *Resolver) fetchOnce(ctx context.Context, token, model string) ([]models.RouteConfig, bool, error) {
	payload, err := json.Marshal(models.RouteRequest{Token: token, Model: model})
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/route/resolve", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("route resolve: upstream status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("route resolve: upstream status %d", resp.StatusCode)
	}

	var parsed models.RouteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("route resolve: decode response: %w", err)
	}

	if !parsed.Success {
		return nil, false, fmt.Errorf("route resolve: %s", parsed.Message)
	}

	return parsed.Data, false, nil
}
