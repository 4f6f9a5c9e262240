package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "cache:"), s
}

func TestSetAndGet(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "pexels:cats", payload{Name: "cats", Count: 3}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	var got payload
	hit, err := c.Get(ctx, "pexels:cats", &got)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit || got.Count != 3 || got.Name != "cats" {
		t.Fatalf("unexpected result hit=%v got=%+v", hit, got)
	}
}

func TestMissReturnsFalse(t *testing.T) {
	c, _ := setupCache(t)
	var got payload
	hit, err := c.Get(context.Background(), "missing", &got)
	if err != nil || hit {
		t.Fatalf("expected clean miss, hit=%v err=%v", hit, err)
	}
}

func TestEntriesExpire(t *testing.T) {
	c, s := setupCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "k", payload{Name: "v"}, time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.FastForward(2 * time.Second)
	var got payload
	hit, err := c.Get(ctx, "k", &got)
	if err != nil || hit {
		t.Fatalf("expected expiry, hit=%v err=%v", hit, err)
	}
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	if err := c.Set(context.Background(), "k", 1, time.Minute); err != nil {
		t.Fatalf("nil cache Set should be a no-op: %v", err)
	}
	var v int
	if hit, err := c.Get(context.Background(), "k", &v); hit || err != nil {
		t.Fatalf("nil cache Get should miss: hit=%v err=%v", hit, err)
	}
}

func TestDelete(t *testing.T) {
	c, s := setupCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", 1, time.Minute)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Exists("cache:k") {
		t.Fatal("expected key removed")
	}
}
