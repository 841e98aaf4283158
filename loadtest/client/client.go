// Package client provides a reusable WebSocket load test client for the
// CloakTalk gateway. It connects using gobwas/ws (the same library the
// gateway uses), authenticates via a JWT in the URL query string, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol constants (local equivalents of internal/protocol)
// ---------------------------------------------------------------------------

// Client -> Server actions.
const (
	ActionJoinQueue   = "join_queue"
	ActionLeaveQueue  = "leave_queue"
	ActionJoinChat    = "join_chat"
	ActionLeaveChat   = "leave_chat"
	ActionSendMessage = "send_message"
	ActionEndChat     = "end_chat"
	ActionTypingStart = "typing_start"
	ActionTypingStop  = "typing_stop"
	ActionHeartbeat   = "heartbeat"
	ActionRefresh     = "refresh"
)

// Server -> Client event types.
const (
	EventInitialState   = "initial_state"
	EventQueueStatus    = "queue_status"
	EventChatMatched    = "chat_matched"
	EventChatJoined     = "chat_joined"
	EventChatLeft       = "chat_left"
	EventMessage        = "message"
	EventChatEnded      = "chat_ended"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventActivityUpdate = "activity_update"
	EventPresenceUpdate = "presence_update"
	EventError          = "error"
	EventPong           = "pong"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the CloakTalk
// gateway. It manages the WebSocket lifecycle and dispatches incoming events
// to registered handlers.
type Client struct {
	conn      net.Conn
	userID    string
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	ready     bool
	done      chan struct{}
	closeOnce sync.Once
}

// New connects a simulated user to the gateway. baseURL is the gateway's
// WebSocket endpoint (e.g. ws://localhost:8080/ws); the token is appended as
// the token query parameter. A background goroutine reads events until the
// connection closes.
func New(ctx context.Context, baseURL, userID, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		userID:   userID,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends an action frame to the gateway. The fields map is merged with
// the action key. It is goroutine-safe.
func (c *Client) Send(action string, fields map[string]interface{}) error {
	frame := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		frame[k] = v
	}
	frame["action"] = action

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// JoinQueue sends a join_queue action.
func (c *Client) JoinQueue() error {
	return c.Send(ActionJoinQueue, nil)
}

// SendMessage sends a chat message.
func (c *Client) SendMessage(content string) error {
	return c.Send(ActionSendMessage, map[string]interface{}{"content": content})
}

// EndChat ends the user's active chat.
func (c *Client) EndChat() error {
	return c.Send(ActionEndChat, nil)
}

// Heartbeat sends a heartbeat frame.
func (c *Client) Heartbeat() error {
	return c.Send(ActionHeartbeat, nil)
}

// On registers a handler for a server event type. The handler receives the
// full raw JSON of the event. Handlers run on the read loop goroutine, so
// they should not block. Registering a second handler for the same type
// replaces the first.
func (c *Client) On(eventType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[eventType] = handler
	c.mu.Unlock()
}

// WaitForReady blocks until the gateway has sent the initial_state event or
// the context is cancelled.
func (c *Client) WaitForReady(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("connection closed before initial state arrived")
		case <-ticker.C:
			c.mu.Lock()
			ready := c.ready
			c.mu.Unlock()
			if ready {
				return nil
			}
		}
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// UserID returns the simulated user's ID.
func (c *Client) UserID() string {
	return c.userID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop continuously reads events from the gateway and dispatches them to
// registered handlers. It runs until the connection closes.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Intentional close, not an error.
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		if envelope.Type == EventInitialState {
			c.ready = true
		}
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
