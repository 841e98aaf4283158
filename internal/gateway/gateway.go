// Package gateway is the real-time boundary of CloakTalk: one long-lived
// WebSocket connection per authenticated user. It authenticates upgrades,
// manages the user/scope/chat channel memberships on the NATS bus,
// translates client actions into matchmaking calls, schedules delayed
// re-match attempts, and fans chat, queue, and presence events out to all
// relevant connections.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cloaktalk/cloaktalk/internal/auth"
	"github.com/cloaktalk/cloaktalk/internal/matchmaking"
	"github.com/cloaktalk/cloaktalk/internal/messaging"
	"github.com/cloaktalk/cloaktalk/internal/model"
	"github.com/cloaktalk/cloaktalk/internal/protocol"
	"github.com/cloaktalk/cloaktalk/internal/ratelimit"
	"github.com/cloaktalk/cloaktalk/internal/session"
	"github.com/cloaktalk/cloaktalk/internal/store"
	"github.com/cloaktalk/cloaktalk/internal/ws"
)

// opTimeout bounds each store/bus operation triggered by a client frame.
const opTimeout = 5 * time.Second

// RematchDelay is how long after an unmatched join_queue the gateway retries
// the match on the joiner's behalf. Long enough for the tier-4 repeat wait
// threshold to have elapsed.
const RematchDelay = 6 * time.Second

// Stores bundles the read/write paths the gateway needs beyond the
// matchmaking service.
type Stores struct {
	Users    *store.UserStore
	Orgs     *store.OrganizationStore
	Chats    *store.ChatStore
	Messages *store.MessageStore
	Waiting  *store.WaitingListStore
}

// Gateway wires the WebSocket server, the matchmaking service, the Redis
// session registry, and the NATS bus into the per-connection state machine.
type Gateway struct {
	svc        *matchmaking.Service
	stores     Stores
	sessions   *session.Store
	bus        *messaging.Client
	verifier   *auth.Verifier
	limiter    *ratelimit.Limiter
	server     *ws.Server
	dispatcher *ws.Dispatcher
	rematch    *rematchScheduler
}

// New assembles a Gateway and its WebSocket server. Call Start to begin
// serving.
func New(cfg ws.ServerConfig, svc *matchmaking.Service, stores Stores, sessions *session.Store, bus *messaging.Client, verifier *auth.Verifier) *Gateway {
	g := &Gateway{
		svc:      svc,
		stores:   stores,
		sessions: sessions,
		bus:      bus,
		verifier: verifier,
		limiter:  ratelimit.NewLimiter(sessions.Client()),
	}
	g.rematch = newRematchScheduler(RematchDelay, stores.Waiting, g.retryMatch)

	d := ws.NewDispatcher(nil)
	srv := ws.NewServer(cfg, sessions, g.authenticate, d.Dispatch)
	d.SetServer(srv)

	g.server = srv
	g.dispatcher = d

	srv.SetOnConnect(g.handleConnect)
	srv.SetOnDisconnect(g.handleDisconnect)
	d.SetOnHeartbeat(g.handleHeartbeat)
	g.registerHandlers()

	return g
}

// Start runs the WebSocket server. It blocks until the server stops.
func (g *Gateway) Start() error {
	return g.server.Start()
}

// Shutdown stops the re-match scheduler and shuts the WebSocket server down.
func (g *Gateway) Shutdown() error {
	g.rematch.Stop()
	return g.server.Shutdown()
}

// authenticate resolves the upgrade request's token to a user identity.
// Invalid or missing credentials close with CloseUnauthorized; a non-service
// user without an organization closes with CloseNoOrganization. Both codes
// are observable client contract.
func (g *Gateway) authenticate(r *http.Request) (*ws.Identity, uint16, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return nil, protocol.CloseUnauthorized, errors.New("gateway: missing token")
	}

	userID, err := g.verifier.Verify(token)
	if err != nil {
		return nil, protocol.CloseUnauthorized, fmt.Errorf("gateway: %w", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()
	user, err := g.stores.Users.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.CloseUnauthorized, fmt.Errorf("gateway: unknown user %s", userID)
	}
	if err != nil {
		return nil, protocol.CloseUnauthorized, err
	}

	if !user.ServiceAccount && user.OrganizationID == nil {
		return nil, protocol.CloseNoOrganization, fmt.Errorf("gateway: user %s has no organization", userID)
	}

	return &ws.Identity{
		UserID:  user.ID,
		OrgID:   user.OrganizationID,
		Service: user.ServiceAccount,
	}, 0, nil
}

// scopeFor returns the matchmaking scope for a connection: the shared
// service scope for service accounts, the home organization otherwise.
func scopeFor(id ws.Identity) model.Scope {
	if id.Service {
		return model.ServiceScope
	}
	return model.ScopeOf(id.OrgID)
}

// handleConnect joins the user and scope channels and sends the initial
// state snapshot, auto-joining an existing active chat.
func (g *Gateway) handleConnect(c *ws.Connection) {
	userID := c.UserID()
	scope := scopeFor(c.Identity)

	if err := g.bus.SubscribeUser(userID, g.onUserEvent(c)); err != nil {
		log.Printf("[gateway] user channel subscribe failed user=%s: %v", userID, err)
	}
	if err := g.bus.SubscribeScope(userID, scope.Channel(), g.onScopeEvent(c)); err != nil {
		log.Printf("[gateway] scope channel subscribe failed user=%s: %v", userID, err)
	}

	g.sendInitialState(c)
}

// handleDisconnect tears down the user's channel memberships, cancels any
// pending re-match, and announces the user offline on the scope channel.
// The waiting entry, if any, survives the disconnect: the stale-entry purge
// and the sweeper own its cleanup.
func (g *Gateway) handleDisconnect(c *ws.Connection) {
	userID := c.UserID()
	scope := scopeFor(c.Identity)

	g.rematch.Cancel(userID)
	g.bus.UnsubscribeAll(userID)

	g.publishScope(scope, busEvent{
		Kind:   protocol.EventPresenceUpdate,
		UserID: userID,
		Status: "offline",
	})
}

// handleHeartbeat refreshes the Redis session TTL on each client heartbeat.
func (g *Gateway) handleHeartbeat(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := g.sessions.Touch(ctx, c.UserID()); err != nil {
		log.Printf("[gateway] session touch failed user=%s: %v", c.UserID(), err)
	}
}

// send marshals and writes one event to a connection, logging failures. A
// write failure is not fatal here: the epoll read path or the heartbeat
// monitor will reap the connection.
func (g *Gateway) send(c *ws.Connection, eventType string, payload interface{}) {
	data, err := protocol.NewEvent(eventType, payload)
	if err != nil {
		log.Printf("[gateway] build %s event failed user=%s: %v", eventType, c.UserID(), err)
		return
	}
	if err := c.WriteMessage(data); err != nil {
		log.Printf("[gateway] send %s event failed user=%s: %v", eventType, c.UserID(), err)
	}
}

// sendError sends a non-fatal error event to a connection.
func (g *Gateway) sendError(c *ws.Connection, code, message string) {
	data, err := protocol.NewErrorEvent(code, message)
	if err != nil {
		log.Printf("[gateway] build error event failed user=%s: %v", c.UserID(), err)
		return
	}
	if err := c.WriteMessage(data); err != nil {
		log.Printf("[gateway] send error event failed user=%s: %v", c.UserID(), err)
	}
}
