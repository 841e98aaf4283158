package ws

import (
	"log"
	"time"

	"github.com/cloaktalk/cloaktalk/internal/protocol"
)

// FrameHandler is the callback signature for handling a parsed client frame.
// The msg parameter is the concrete struct returned by
// protocol.ParseClientFrame (e.g., protocol.SendMessageFrame).
type FrameHandler func(conn *Connection, msg interface{})

// Dispatcher routes incoming WebSocket frames to registered handlers based
// on the frame's action. It answers the heartbeat action internally and
// sends structured error events for malformed or unsupported frames.
type Dispatcher struct {
	handlers    map[string]FrameHandler
	server      *Server
	onHeartbeat func(conn *Connection)
}

// NewDispatcher creates a Dispatcher bound to the given server. The server
// reference is used to send responses back to clients.
func NewDispatcher(server *Server) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]FrameHandler),
		server:   server,
	}
}

// SetServer assigns the Server reference on the dispatcher. This supports
// the initialization pattern where the dispatcher is created before the
// server (since NewServer requires the Dispatch callback).
func (d *Dispatcher) SetServer(server *Server) {
	d.server = server
}

// SetOnHeartbeat registers a hook invoked on every client heartbeat, before
// the pong is sent. The gateway uses it to refresh the Redis session TTL.
func (d *Dispatcher) SetOnHeartbeat(fn func(conn *Connection)) {
	d.onHeartbeat = fn
}

// Register associates a FrameHandler with an action. If a handler was
// already registered for the given action, it is silently replaced.
func (d *Dispatcher) Register(action string, handler FrameHandler) {
	d.handlers[action] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed frame, handles heartbeat internally, and routes all other
// actions to the registered handler. Parse errors and unregistered actions
// result in an error event sent back to the client.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	action, msg, err := protocol.ParseClientFrame(data)
	if err != nil {
		log.Printf("ws: dispatch parse error user=%s: %v", conn.UserID(), err)
		d.sendError(conn, protocol.ErrCodeBadFrame, "invalid frame format")
		return
	}

	// Built-in heartbeat handler: respond immediately without requiring
	// registration.
	if action == protocol.ActionHeartbeat {
		if d.onHeartbeat != nil {
			d.onHeartbeat(conn)
		}
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[action]
	if !ok {
		log.Printf("ws: unsupported action=%q user=%s", action, conn.UserID())
		d.sendError(conn, protocol.ErrCodeBadFrame, "unsupported action")
		return
	}

	handler(conn, msg)
}

// sendError sends a structured error event back to the client. Errors during
// frame construction or transmission are logged but not propagated.
func (d *Dispatcher) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewErrorEvent(code, message)
	if err != nil {
		log.Printf("ws: failed to build error event user=%s: %v", conn.UserID(), err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error event user=%s: %v", conn.UserID(), err)
	}
}

// sendPong responds to a client heartbeat with a pong event and updates the
// connection's LastPing timestamp to reflect the most recent keepalive.
func (d *Dispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewEvent(protocol.EventPong, protocol.PongEvent{})
	if err != nil {
		log.Printf("ws: failed to build pong event user=%s: %v", conn.UserID(), err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send pong event user=%s: %v", conn.UserID(), err)
	}
}
