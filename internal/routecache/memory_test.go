package routecache

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

func cfg(token, endpoint string) models.RouteConfig {
	return models.RouteConfig{Token: token, Endpoint: endpoint, Model: "m", Protocol: models.OpenAI}
}

func TestMemoryCache_SetGetRoundTrip(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 24*time.Hour)
	defer c.Close()
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

func TestMemoryCache_SetTwiceReturnsLatest(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 24*time.Hour)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "user", "model", []models.RouteConfig{cfg("v1", "https://a.example")})
	_ = c.Set(ctx, "user", "model", []models.RouteConfig{cfg("v2", "https://b.example")})

	got, ok := c.Get(ctx, "user", "model")
	if !ok || got[0].Token != "v2" {
		t.Fatalf("expected v2, got %+v ok=%v", got, ok)
	}
}

func TestMemoryCache_GetOnMissReturnsFalse(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 24*time.Hour)
	defer c.Close()

	if _, ok := c.Get(context.Background(), "nobody", "nothing"); ok {
		t.Fatal("expected miss")
	}
}

func TestMemoryCache_SnapshotIsolation(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 24*time.Hour)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "user", "model", []models.RouteConfig{cfg("tok", "https://a.example")})
	got, _ := c.Get(ctx, "user", "model")
	got[0].Token = "mutated"

	got2, _ := c.Get(ctx, "user", "model")
	if got2[0].Token != "tok" {
		t.Fatalf("cache entry was mutated through a returned snapshot: %+v", got2[0])
	}
}

func TestMemoryCache_HardExpiryEvicts(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 10*time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "user", "model", []models.RouteConfig{cfg("tok", "https://a.example")})
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(ctx, "user", "model"); ok {
		t.Fatal("expected miss after hard expiry")
	}
}

func TestMemoryCache_SlidingExpiryNeverPassesHardExpiry(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 20*time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "user", "model", []models.RouteConfig{cfg("tok", "https://a.example")})

	for i := 0; i < 3; i++ {
		if _, ok := c.Get(ctx, "user", "model"); !ok {
			break
		}
		time.Sleep(8 * time.Millisecond)
	}

	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get(ctx, "user", "model"); ok {
		t.Fatal("sliding refresh must not outlive hard_expires_at")
	}
}

func TestMemoryCache_RemoveConfig_RemovesOnlyMatching(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 24*time.Hour)
	defer c.Close()
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

func TestMemoryCache_RemoveConfig_EmptyingListRemovesEntry(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 24*time.Hour)
	defer c.Close()
	ctx := context.Background()

	a := cfg("a", "https://a.example")
	_ = c.Set(ctx, "user", "model", []models.RouteConfig{a})
	_ = c.RemoveConfig(ctx, "user", "model", a)

	if _, ok := c.Get(ctx, "user", "model"); ok {
		t.Fatal("expected entry to be gone once its config list is empty")
	}
}

func TestMemoryCache_EvictedCandidateNotReturnedBeforeNextSet(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 24*time.Hour)
	defer c.Close()
	ctx := context.Background()

	a := cfg("a", "https://a.example")
	b := cfg("b", "https://b.example")
	_ = c.Set(ctx, "user", "model", []models.RouteConfig{a, b})
	_ = c.RemoveConfig(ctx, "user", "model", a)

	got, _ := c.Get(ctx, "user", "model")
	for _, r := range got {
		if r.SameUpstream(a) {
			t.Fatal("evicted candidate reappeared before the next resolver refresh")
		}
	}
}

func TestMemoryCache_Clear(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 24*time.Hour)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "u1", "m1", []models.RouteConfig{cfg("a", "https://a.example")})
	_ = c.Set(ctx, "u2", "m2", []models.RouteConfig{cfg("b", "https://b.example")})

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := c.Get(ctx, "u1", "m1"); ok {
		t.Fatal("expected u1/m1 gone after Clear")
	}
	if _, ok := c.Get(ctx, "u2", "m2"); ok {
		t.Fatal("expected u2/m2 gone after Clear")
	}
}

func TestMemoryCache_ConcurrentAccessDoesNotRace(t *testing.T) {
	c := NewShardedMemoryCache(time.Hour, 24*time.Hour)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "user", "model", []models.RouteConfig{cfg("a", "https://a.example")})

	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			c.Get(ctx, "user", "model")
			_ = c.RemoveConfig(ctx, "user", "model", cfg("nonexistent", "https://nowhere.example"))
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}
}
