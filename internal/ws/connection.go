package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Identity is the authenticated principal behind a connection, resolved by
// the AuthFunc at upgrade time.
type Identity struct {
	UserID  string
	OrgID   *string // nil for service accounts
	Service bool
}

// Connection represents a single WebSocket client connection with its
// associated identity and a write mutex for serializing outbound frames.
// Connections are keyed by user ID: one live connection per user.
type Connection struct {
	Identity   Identity
	Conn       net.Conn  // underlying TCP connection
	Fd         int       // file descriptor for epoll lookups
	CreatedAt  time.Time // when the connection was established
	LastPing   time.Time // last activity observed from the client
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// UserID returns the authenticated user behind this connection.
func (c *Connection) UserID() string {
	return c.Identity.UserID
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry that maps user IDs and file
// descriptors to their respective Connection objects. It supports O(1)
// lookups by both user ID and fd.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection // user_id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.UserID()] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by user ID, closes the underlying network
// connection, and removes it from both lookup maps. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(userID string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[userID]
	if ok {
		delete(cm.byID, userID)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// RemoveConn removes a specific connection object. Unlike Remove, it is a
// no-op when the user's registered connection is a different object, which
// happens when a duplicate connection has already replaced this one.
func (cm *ConnectionManager) RemoveConn(c *Connection) bool {
	cm.mu.Lock()
	current, ok := cm.byID[c.UserID()]
	if ok && current == c {
		delete(cm.byID, c.UserID())
		delete(cm.byFd, c.Fd)
	} else {
		ok = false
	}
	cm.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

// Get returns the connection for the given user ID, or nil if not found.
func (cm *ConnectionManager) Get(userID string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[userID]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return cm.GetByFd(fd)
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
