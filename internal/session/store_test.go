package session

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and
// removes leftover test session keys before returning. Tests that call this
// helper require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, SessionPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return &Store{client: client, serverName: "gw-test"}
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_u1", "org-1", false); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.UserID != "test_u1" {
		t.Errorf("expected user_id %q, got %q", "test_u1", sess.UserID)
	}
	if sess.OrgID != "org-1" {
		t.Errorf("expected org_id %q, got %q", "org-1", sess.OrgID)
	}
	if sess.Status != StatusIdle {
		t.Errorf("expected status %q, got %q", StatusIdle, sess.Status)
	}
	if sess.Server != "gw-test" {
		t.Errorf("expected server %q, got %q", "gw-test", sess.Server)
	}
	if sess.ChatID != "" {
		t.Errorf("expected empty chat_id, got %q", sess.ChatID)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Get(context.Background(), "test_missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil for missing session, got %+v", sess)
	}
}

func TestCreate_ReplacesPreviousSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Create(ctx, "test_dup", "org-1", false)
	store.SetChatID(ctx, "test_dup", "chat-1")

	// A duplicate connection creates a fresh session for the same user.
	if err := store.Create(ctx, "test_dup", "org-1", false); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_dup")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess.Status != StatusIdle {
		t.Errorf("expected status reset to %q, got %q", StatusIdle, sess.Status)
	}
	if sess.ChatID != "" {
		t.Errorf("expected chat_id cleared, got %q", sess.ChatID)
	}
}

func TestStatusTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Create(ctx, "test_status", "org-1", false)

	if err := store.UpdateStatus(ctx, "test_status", StatusQueued); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	sess, _ := store.Get(ctx, "test_status")
	if sess.Status != StatusQueued {
		t.Errorf("expected status %q, got %q", StatusQueued, sess.Status)
	}

	if err := store.SetChatID(ctx, "test_status", "chat-42"); err != nil {
		t.Fatalf("SetChatID() error: %v", err)
	}
	sess, _ = store.Get(ctx, "test_status")
	if sess.Status != StatusChatting {
		t.Errorf("expected status %q, got %q", StatusChatting, sess.Status)
	}
	if sess.ChatID != "chat-42" {
		t.Errorf("expected chat_id %q, got %q", "chat-42", sess.ChatID)
	}

	if err := store.ClearChatID(ctx, "test_status"); err != nil {
		t.Fatalf("ClearChatID() error: %v", err)
	}
	sess, _ = store.Get(ctx, "test_status")
	if sess.Status != StatusIdle {
		t.Errorf("expected status %q, got %q", StatusIdle, sess.Status)
	}
	if sess.ChatID != "" {
		t.Errorf("expected chat_id cleared, got %q", sess.ChatID)
	}
}

func TestTouch_RefreshesTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Create(ctx, "test_touch", "", true)
	if err := store.Touch(ctx, "test_touch"); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}

	ttl, err := store.client.TTL(ctx, SessionPrefix+"test_touch").Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= 0 || ttl > SessionTTL {
		t.Errorf("expected TTL in (0,%v], got %v", SessionTTL, ttl)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Create(ctx, "test_del", "org-1", false)
	if err := store.Delete(ctx, "test_del"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_del")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil after delete, got %+v", sess)
	}
}
