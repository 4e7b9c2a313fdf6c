package routecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

func newTestRedisCache(t *testing.T, ttl, maxLifetime time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	return NewRedisCache(cli, ttl, maxLifetime), mr
}

func TestRedisCache_SetGetRoundTrip(t *testing.T) {
	c, _ := newTestRedisCache(t, time.Hour, 24*time.Hour)
	ctx := context.Background()

	want := []models.RouteConfig{cfg("tok", "https://a.example")}
	if err := c.Set(ctx, "user", "model", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := c.Get(ctx, "user", "model")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 1 || got[0].Endpoint != "https://a.example" {
		t.Fatalf("unexpected configs: %+v", got)
	}
}

func TestRedisCache_GetMiss(t *testing.T) {
	c, _ := newTestRedisCache(t, time.Hour, 24*time.Hour)

	if _, ok := c.Get(context.Background(), "nobody", "nothing"); ok {
		t.Fatal("expected miss")
	}
}

func TestRedisCache_HardExpiryEvicts(t *testing.T) {
	c, mr := newTestRedisCache(t, time.Hour, 5*time.Second)
	ctx := context.Background()

	_ = c.Set(ctx, "user", "model", []models.RouteConfig{cfg("tok", "https://a.example")})
	mr.FastForward(6 * time.Second)

	if _, ok := c.Get(ctx, "user", "model"); ok {
		t.Fatal("expected miss after hard expiry")
	}
}

func TestRedisCache_SlidingExpiryEvicts(t *testing.T) {
	c, mr := newTestRedisCache(t, 3*time.Second, time.Hour)
	ctx := context.Background()

	_ = c.Set(ctx, "user", "model", []models.RouteConfig{cfg("tok", "https://a.example")})
	mr.FastForward(4 * time.Second)

	if _, ok := c.Get(ctx, "user", "model"); ok {
		t.Fatal("expected miss once the sliding TTL lapses without a refreshing Get")
	}
}

func TestRedisCache_RemoveConfig_RemovesOnlyMatching(t *testing.T) {
	c, _ := newTestRedisCache(t, time.Hour, 24*time.Hour)
	ctx := context.Background()

	a := cfg("a", "https://a.example")
	b := cfg("b", "https://b.example")
	_ = c.Set(ctx, "user", "model", []models.RouteConfig{a, b})

	if err := c.RemoveConfig(ctx, "user", "model", a); err != nil {
		t.Fatalf("RemoveConfig: %v", err)
	}

	got, ok := c.Get(ctx, "user", "model")
	if !ok || len(got) != 1 || got[0].Token != "b" {
		t.Fatalf("expected only b to remain, got %+v ok=%v", got, ok)
	}
}

func TestRedisCache_RemoveConfig_EmptyingListRemovesEntry(t *testing.T) {
	c, _ := newTestRedisCache(t, time.Hour, 24*time.Hour)
	ctx := context.Background()

	a := cfg("a", "https://a.example")
	_ = c.Set(ctx, "user", "model", []models.RouteConfig{a})
	_ = c.RemoveConfig(ctx, "user", "model", a)

	if _, ok := c.Get(ctx, "user", "model"); ok {
		t.Fatal("expected entry to be gone once its config list is empty")
	}
}

func TestRedisCache_GracefulDegradationOnUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = cli.Close() }()
	c := NewRedisCache(cli, time.Hour, 24*time.Hour)

	mr.Close()

	if _, ok := c.Get(context.Background(), "user", "model"); ok {
		t.Fatal("expected miss when redis is down")
	}
	if err := c.Set(context.Background(), "user", "model", []models.RouteConfig{cfg("a", "https://a.example")}); err != nil {
		t.Fatalf("Set must degrade gracefully, got: %v", err)
	}
}

func TestRedisCache_ImplementsInterface(t *testing.T) {
	var _ Cache = (*RedisCache)(nil)
}
