// Package messaging provides a NATS client wrapper for pub/sub fan-out
// across CloakTalk gateway instances. It handles connection lifecycle and
// the user, scope, and chat channel subjects. Delivery is at-most-once:
// events published while a user is disconnected are dropped.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject prefixes. The full subjects are user.<user_id>,
// scope.<org_id> (or scope.service), and chat.<chat_id>.
const (
	SubjectUser  = "user"
	SubjectScope = "scope"
	SubjectChat  = "chat"
)

// Client wraps the NATS connection with helper methods for the three
// channel kinds. Per-connection subscriptions are keyed by user ID so that
// multiple users on the same gateway can follow the same chat without
// overwriting each other.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "cloaktalk",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// ---------------------------------------------------------------------------
// User channel: direct events for one user (match notifications).
// ---------------------------------------------------------------------------

// SubscribeUser subscribes to the user's direct channel.
func (c *Client) SubscribeUser(userID string, handler func(data []byte)) error {
	return c.subscribe("usersub:"+userID, SubjectUser+"."+userID, handler)
}

// PublishUser publishes an event to one user's direct channel.
func (c *Client) PublishUser(userID string, data []byte) error {
	return c.conn.Publish(SubjectUser+"."+userID, data)
}

// ---------------------------------------------------------------------------
// Scope channel: broadcasts for everyone in an organization pool.
// ---------------------------------------------------------------------------

// SubscribeScope subscribes a user to a scope's broadcast channel. The
// channel argument is the scope channel name ("service" or the org ID).
func (c *Client) SubscribeScope(userID, channel string, handler func(data []byte)) error {
	return c.subscribe("scopesub:"+userID, SubjectScope+"."+channel, handler)
}

// PublishScope publishes an event to a scope's broadcast channel.
func (c *Client) PublishScope(channel string, data []byte) error {
	return c.conn.Publish(SubjectScope+"."+channel, data)
}

// ---------------------------------------------------------------------------
// Chat channel: events for both participants of one chat.
// ---------------------------------------------------------------------------

// SubscribeChat subscribes a user to a chat's channel. A user follows at
// most one chat at a time; subscribing again replaces the previous chat
// subscription.
func (c *Client) SubscribeChat(userID, chatID string, handler func(data []byte)) error {
	key := "chatsub:" + userID
	if err := c.unsubscribe(key); err == nil {
		log.Printf("[nats] replaced chat subscription for %s", userID)
	}
	return c.subscribe(key, SubjectChat+"."+chatID, handler)
}

// UnsubscribeChat drops a user's chat subscription. Dropping an absent
// subscription is not an error.
func (c *Client) UnsubscribeChat(userID string) {
	if err := c.unsubscribe("chatsub:" + userID); err != nil {
		return
	}
}

// PublishChat publishes an event to a chat's channel.
func (c *Client) PublishChat(chatID string, data []byte) error {
	return c.conn.Publish(SubjectChat+"."+chatID, data)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// UnsubscribeAll drops every subscription held for a user. Called on
// disconnect.
func (c *Client) UnsubscribeAll(userID string) {
	for _, prefix := range []string{"usersub:", "scopesub:", "chatsub:"} {
		_ = c.unsubscribe(prefix + userID)
	}
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// subscribe registers a handler and stores the subscription under key for
// later cleanup. An existing subscription under the same key is replaced.
func (c *Client) subscribe(key, subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// unsubscribe removes and unsubscribes the subscription stored under key.
func (c *Client) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
