package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all connection-session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis. Heartbeats
	// and state changes refresh it; a crashed gateway's sessions age out.
	SessionTTL = 1 * time.Hour

	// Status constants for the connection state machine.
	StatusIdle     = "idle"
	StatusQueued   = "queued"
	StatusChatting = "chatting"
)

// Session represents a user's live connection state stored in Redis.
type Session struct {
	UserID      string `redis:"user_id"`
	OrgID       string `redis:"org_id"`  // empty for service accounts
	Service     bool   `redis:"service"` // service account flag
	Status      string `redis:"status"`  // idle | queued | chatting
	ChatID      string `redis:"chat_id"` // empty if not in chat
	Server      string `redis:"server"`  // which gateway instance
	ConnectedAt int64  `redis:"connected_at"`
	LastActive  int64  `redis:"last_active"`
}

// Store manages connection-session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this gateway instance
}

// NewStore creates a session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create registers a fresh connection session with idle status and 1h TTL.
// Creating again for the same user overwrites the previous session, which
// is the desired behavior when a duplicate connection replaces an old one.
func (s *Store) Create(ctx context.Context, userID, orgID string, service bool) error {
	key := SessionPrefix + userID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"user_id":      userID,
		"org_id":       orgID,
		"service":      service,
		"status":       StatusIdle,
		"chat_id":      "",
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, userID string) (*Session, error) {
	key := SessionPrefix + userID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.UserID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// UpdateStatus updates the session status and refreshes the TTL.
func (s *Store) UpdateStatus(ctx context.Context, userID string, status string) error {
	key := SessionPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", status, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetChatID records the active chat and marks the session chatting.
func (s *Store) SetChatID(ctx context.Context, userID string, chatID string) error {
	key := SessionPrefix + userID
	return s.client.HSet(ctx, key, "chat_id", chatID, "status", StatusChatting, "last_active", time.Now().Unix()).Err()
}

// ClearChatID removes the active chat and resets status to idle.
func (s *Store) ClearChatID(ctx context.Context, userID string) error {
	key := SessionPrefix + userID
	return s.client.HSet(ctx, key, "chat_id", "", "status", StatusIdle, "last_active", time.Now().Unix()).Err()
}

// Touch refreshes the session's TTL and last-active time. Called on
// heartbeat.
func (s *Store) Touch(ctx context.Context, userID string) error {
	key := SessionPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session from Redis. Called on disconnect.
func (s *Store) Delete(ctx context.Context, userID string) error {
	key := SessionPrefix + userID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
