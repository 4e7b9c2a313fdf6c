package resolver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/internal/models"
	"github.com/nulpointcorp/inference-gateway/internal/routecache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newResolver(t *testing.T, srv *httptest.Server, retryAttempts int) *Resolver {
	t.Helper()
	cache := routecache.NewShardedMemoryCache(time.Minute, time.Hour)
	t.Cleanup(cache.Close)
	return New(cache, srv.Client(), srv.URL, retryAttempts, discardLogger(), metrics.New())
}

func TestResolver_CacheHitSkipsBackend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cache := routecache.NewShardedMemoryCache(time.Minute, time.Hour)
	defer cache.Close()
	want := []models.RouteConfig{{Token: "tok", Endpoint: "https://a.example", Protocol: models.OpenAI}}
	_ = cache.Set(context.Background(), "user", "gpt-4", want)

	r := New(cache, srv.Client(), srv.URL, 1, discardLogger(), metrics.New())
	got, err := r.Resolve(context.Background(), "req-1", "user", "gpt-4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].Endpoint != "https://a.example" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no backend calls on cache hit, got %d", calls.Load())
	}
}

func TestResolver_MissFetchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req models.RouteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Token != "user" || req.Model != "gpt-4" {
			t.Errorf("unexpected request body: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(models.RouteResponse{
			Success: true,
			Data:    []models.RouteConfig{{Token: "tok", Endpoint: "https://a.example", Protocol: models.OpenAI}},
		})
	}))
	defer srv.Close()

	r := newResolver(t, srv, 3)
	got, err := r.Resolve(context.Background(), "req-1", "user", "gpt-4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 config, got %+v", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one backend call, got %d", calls.Load())
	}

	// Second resolve should now hit the cache.
	calls.Store(0)
	if _, err := r.Resolve(context.Background(), "req-1", "user", "gpt-4"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected cached result on second resolve, got %d backend calls", calls.Load())
	}
}

func TestResolver_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(models.RouteResponse{
			Success: true,
			Data:    []models.RouteConfig{{Token: "tok", Endpoint: "https://a.example", Protocol: models.OpenAI}},
		})
	}))
	defer srv.Close()

	r := newResolver(t, srv, 5)
	got, err := r.Resolve(context.Background(), "req-1", "user", "gpt-4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestResolver_DoesNotRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := newResolver(t, srv, 5)
	if _, err := r.Resolve(context.Background(), "req-1", "user", "gpt-4"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt for a 4xx, got %d", calls.Load())
	}
}

func TestResolver_DoesNotRetryOnSuccessFalse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(models.RouteResponse{Success: false, Message: "no route for model"})
	}))
	defer srv.Close()

	r := newResolver(t, srv, 5)
	if _, err := r.Resolve(context.Background(), "req-1", "user", "gpt-4"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt on success=false, got %d", calls.Load())
	}
}

func TestResolver_ExhaustsRetriesOnPersistent5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newResolver(t, srv, 3)
	if _, err := r.Resolve(context.Background(), "req-1", "user", "gpt-4"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected exactly retry_attempts=3 calls, got %d", calls.Load())
	}
}

func TestResolver_EmptyDataNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(models.RouteResponse{Success: true, Data: nil})
	}))
	defer srv.Close()

	r := newResolver(t, srv, 1)
	got, err := r.Resolve(context.Background(), "req-1", "user", "gpt-4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %+v", got)
	}

	if _, err := r.Resolve(context.Background(), "req-1", "user", "gpt-4"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a fresh backend call since empty data must not be cached, got %d", calls.Load())
	}
}

func TestResolver_RemoveFailedRouteForwardsToCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cache := routecache.NewShardedMemoryCache(time.Minute, time.Hour)
	defer cache.Close()

	a := models.RouteConfig{Token: "a", Endpoint: "https://a.example", Protocol: models.OpenAI}
	b := models.RouteConfig{Token: "b", Endpoint: "https://b.example", Protocol: models.OpenAI}
	_ = cache.Set(context.Background(), "user", "gpt-4", []models.RouteConfig{a, b})

	r := New(cache, srv.Client(), srv.URL, 1, discardLogger(), metrics.New())
	if err := r.RemoveFailedRoute(context.Background(), "user", "gpt-4", a); err != nil {
		t.Fatalf("RemoveFailedRoute: %v", err)
	}

	got, ok := cache.Get(context.Background(), "user", "gpt-4")
	if !ok || len(got) != 1 || got[0].Token != "b" {
		t.Fatalf("expected only b to remain, got %+v ok=%v", got, ok)
	}
}
