package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter creates a Limiter against a local Redis instance and removes
// leftover test keys. Tests that call this helper require a running Redis on
// localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		for _, pattern := range []string{"rl:msg:test_*", "rl:queue:test_*", "rl:tiny:test_*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_WithinLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < RuleMessage.Limit; i++ {
		ok, err := limiter.Allow(ctx, "test_u1", RuleMessage)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !ok {
			t.Fatalf("request %d unexpectedly rate limited", i+1)
		}
	}
}

func TestAllow_BlocksOverLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < RuleQueueJoin.Limit; i++ {
		if ok, _ := limiter.Allow(ctx, "test_u2", RuleQueueJoin); !ok {
			t.Fatalf("request %d unexpectedly rate limited", i+1)
		}
	}

	ok, err := limiter.Allow(ctx, "test_u2", RuleQueueJoin)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ok {
		t.Error("expected request over the limit to be blocked")
	}
}

func TestAllow_IndependentIdentifiers(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < RuleMessage.Limit; i++ {
		limiter.Allow(ctx, "test_u3", RuleMessage)
	}

	ok, err := limiter.Allow(ctx, "test_u4", RuleMessage)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !ok {
		t.Error("a different user must not be affected by another user's counter")
	}
}

func TestAllow_WindowExpires(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "rl:tiny:", Limit: 1, Window: 500 * time.Millisecond}

	if ok, _ := limiter.Allow(ctx, "test_u5", rule); !ok {
		t.Fatal("first request unexpectedly blocked")
	}
	if ok, _ := limiter.Allow(ctx, "test_u5", rule); ok {
		t.Fatal("second request in the window should be blocked")
	}

	time.Sleep(600 * time.Millisecond)

	if ok, _ := limiter.Allow(ctx, "test_u5", rule); !ok {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRemaining(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "test_u6", RuleMessage)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != RuleMessage.Limit {
		t.Errorf("expected full limit %d, got %d", RuleMessage.Limit, remaining)
	}

	limiter.Allow(ctx, "test_u6", RuleMessage)
	limiter.Allow(ctx, "test_u6", RuleMessage)

	remaining, err = limiter.Remaining(ctx, "test_u6", RuleMessage)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != RuleMessage.Limit-2 {
		t.Errorf("expected %d remaining, got %d", RuleMessage.Limit-2, remaining)
	}
}
