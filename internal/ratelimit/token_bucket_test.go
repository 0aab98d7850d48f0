package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, capacity int, refill float64) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, capacity, refill, time.Minute)
}

func TestAllowConsumesTokens(t *testing.T) {
	l := newTestLimiter(t, 3, 0.0001)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "rl:create:1.2.3.4")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d, err := l.Allow(ctx, "rl:create:1.2.3.4")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("request over capacity should be rejected")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("rejected decision should estimate RetryAfter, got %v", d.RetryAfter)
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l := newTestLimiter(t, 1, 0.0001)
	ctx := context.Background()

	if d, err := l.Allow(ctx, "rl:create:a"); err != nil || !d.Allowed {
		t.Fatalf("first key: allowed=%v err=%v", d.Allowed, err)
	}
	if d, err := l.Allow(ctx, "rl:create:a"); err != nil || d.Allowed {
		t.Fatalf("first key second take: allowed=%v err=%v", d.Allowed, err)
	}
	if d, err := l.Allow(ctx, "rl:create:b"); err != nil || !d.Allowed {
		t.Fatalf("second key: allowed=%v err=%v", d.Allowed, err)
	}
}

// The Lua script takes its clock from Go, not from Redis, so refill is
// tested with real sleeps rather than miniredis.FastForward().
func TestAllowRefillsOverTime(t *testing.T) {
	l := newTestLimiter(t, 1, 50) // one token back every 20ms
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d, _ := l.Allow(ctx, "k"); d.Allowed {
		t.Fatal("bucket should be empty immediately after")
	}

	time.Sleep(50 * time.Millisecond)
	if d, _ := l.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("bucket should have refilled")
	}
}

func TestAllowErrorWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l := New(client, 5, 1, time.Minute)

	mr.Close()
	if _, err := l.Allow(context.Background(), "k"); err == nil {
		t.Fatal("expected an error when redis is unreachable")
	}
}
