package gateway

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/cloaktalk/cloaktalk/internal/metrics"
	"github.com/cloaktalk/cloaktalk/internal/model"
	"github.com/cloaktalk/cloaktalk/internal/protocol"
	"github.com/cloaktalk/cloaktalk/internal/ratelimit"
	"github.com/cloaktalk/cloaktalk/internal/session"
	"github.com/cloaktalk/cloaktalk/internal/store"
	"github.com/cloaktalk/cloaktalk/internal/ws"
)

// registerHandlers binds every client action to its handler. Heartbeat is
// handled inside the dispatcher.
func (g *Gateway) registerHandlers() {
	g.dispatcher.Register(protocol.ActionJoinQueue, func(c *ws.Connection, _ interface{}) { g.handleJoinQueue(c) })
	g.dispatcher.Register(protocol.ActionLeaveQueue, func(c *ws.Connection, _ interface{}) { g.handleLeaveQueue(c) })
	g.dispatcher.Register(protocol.ActionJoinChat, func(c *ws.Connection, msg interface{}) {
		frame, ok := msg.(protocol.JoinChatFrame)
		if !ok || frame.ChatID == "" {
			g.sendError(c, protocol.ErrCodeBadFrame, "join_chat requires a chat_id")
			return
		}
		g.handleJoinChat(c, frame.ChatID)
	})
	g.dispatcher.Register(protocol.ActionLeaveChat, func(c *ws.Connection, _ interface{}) { g.handleLeaveChat(c) })
	g.dispatcher.Register(protocol.ActionSendMessage, func(c *ws.Connection, msg interface{}) {
		frame, ok := msg.(protocol.SendMessageFrame)
		if !ok {
			g.sendError(c, protocol.ErrCodeBadFrame, "malformed send_message frame")
			return
		}
		g.handleSendMessage(c, frame.Content)
	})
	g.dispatcher.Register(protocol.ActionEndChat, func(c *ws.Connection, _ interface{}) { g.handleEndChat(c) })
	g.dispatcher.Register(protocol.ActionTypingStart, func(c *ws.Connection, _ interface{}) { g.handleTyping(c, true) })
	g.dispatcher.Register(protocol.ActionTypingStop, func(c *ws.Connection, _ interface{}) { g.handleTyping(c, false) })
	g.dispatcher.Register(protocol.ActionRefresh, func(c *ws.Connection, _ interface{}) { g.sendInitialState(c) })
}

// handleJoinQueue enqueues the user and attempts an immediate match. A user
// who already holds an active chat is steered back into it instead of being
// enqueued. When no match is possible yet, a delayed re-match attempt is
// scheduled so the tier-4 wait threshold can run out.
func (g *Gateway) handleJoinQueue(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userID := c.UserID()
	scope := scopeFor(c.Identity)

	if ok, _ := g.limiter.Allow(ctx, userID, ratelimit.RuleQueueJoin); !ok {
		g.sendError(c, protocol.ErrCodeRateLimited, "Too many queue joins. Please wait a moment.")
		return
	}

	active, err := g.svc.ActiveChat(ctx, userID)
	if err != nil {
		log.Printf("[gateway] active chat lookup user=%s: %v", userID, err)
		return
	}
	if active != nil {
		g.deliverChatMatched(c, active.ID, "You already have an active chat.")
		return
	}

	user := &model.User{
		ID:             userID,
		OrganizationID: c.Identity.OrgID,
		ServiceAccount: c.Identity.Service,
	}
	if _, err := g.svc.AddToWaitingList(ctx, user, scope); err != nil {
		log.Printf("[gateway] join queue user=%s: %v", userID, err)
		g.sendError(c, protocol.ErrCodeBadFrame, "could not join the queue")
		return
	}

	g.send(c, protocol.EventQueueStatus, protocol.QueueStatusEvent{
		IsInQueue: true,
		Message:   "You joined the queue. Looking for a match...",
	})
	if err := g.sessions.UpdateStatus(ctx, userID, session.StatusQueued); err != nil {
		log.Printf("[gateway] session status user=%s: %v", userID, err)
	}
	g.broadcastActivity(scope)

	chat, err := g.svc.TryMatch(ctx, scope, true)
	if err != nil {
		log.Printf("[gateway] try match user=%s: %v", userID, err)
		return
	}
	if chat != nil {
		g.notifyMatch(chat, scope)
		return
	}
	g.rematch.Schedule(userID, scope)
}

// handleLeaveQueue removes the user from the queue. Leaving when not queued
// is a no-op confirmation, not an error.
func (g *Gateway) handleLeaveQueue(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userID := c.UserID()
	scope := scopeFor(c.Identity)

	g.rematch.Cancel(userID)
	removed, err := g.svc.RemoveFromWaitingList(ctx, userID, &scope)
	if err != nil {
		log.Printf("[gateway] leave queue user=%s: %v", userID, err)
		return
	}

	g.send(c, protocol.EventQueueStatus, protocol.QueueStatusEvent{
		IsInQueue: false,
		Message:   "You left the queue.",
	})
	if err := g.sessions.UpdateStatus(ctx, userID, session.StatusIdle); err != nil {
		log.Printf("[gateway] session status user=%s: %v", userID, err)
	}
	if removed {
		g.broadcastActivity(scope)
	}
}

// handleJoinChat subscribes the connection to a chat it participates in and
// returns the chat snapshot.
func (g *Gateway) handleJoinChat(c *ws.Connection, chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userID := c.UserID()

	chat, err := g.stores.Chats.Get(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendError(c, protocol.ErrCodeChatNotFound, "Chat not found.")
		return
	}
	if err != nil {
		log.Printf("[gateway] load chat %s user=%s: %v", chatID, userID, err)
		return
	}
	if !chat.IsParticipant(userID) {
		g.sendError(c, protocol.ErrCodeNotParticipant, "You are not a participant of this chat.")
		return
	}

	// SubscribeChat replaces any previous chat subscription.
	if err := g.bus.SubscribeChat(userID, chat.ID, g.onChatEvent(c)); err != nil {
		log.Printf("[gateway] chat channel subscribe failed user=%s: %v", userID, err)
	}
	if err := g.sessions.SetChatID(ctx, userID, chat.ID); err != nil {
		log.Printf("[gateway] set chat session user=%s: %v", userID, err)
	}

	snapshot, err := g.chatSnapshot(ctx, chat, userID)
	if err != nil {
		log.Printf("[gateway] chat snapshot user=%s: %v", userID, err)
		return
	}
	g.send(c, protocol.EventChatJoined, protocol.ChatJoinedEvent{Chat: *snapshot})
}

// handleLeaveChat drops the connection's chat subscription without ending
// the chat itself.
func (g *Gateway) handleLeaveChat(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userID := c.UserID()
	g.bus.UnsubscribeChat(userID)
	if err := g.sessions.ClearChatID(ctx, userID); err != nil {
		log.Printf("[gateway] clear chat session user=%s: %v", userID, err)
	}
	g.send(c, protocol.EventChatLeft, protocol.ChatLeftEvent{})
}

// handleSendMessage persists a text message in the user's active chat and
// broadcasts it to both participants via the chat channel.
func (g *Gateway) handleSendMessage(c *ws.Connection, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		g.sendError(c, protocol.ErrCodeEmptyMessage, "Message content must not be empty.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userID := c.UserID()
	if ok, _ := g.limiter.Allow(ctx, userID, ratelimit.RuleMessage); !ok {
		g.sendError(c, protocol.ErrCodeRateLimited, "You are sending messages too quickly.")
		return
	}

	chat, err := g.svc.ActiveChat(ctx, userID)
	if err != nil {
		log.Printf("[gateway] active chat lookup user=%s: %v", userID, err)
		return
	}
	if chat == nil {
		g.sendError(c, protocol.ErrCodeNotInChat, "Not in a chat.")
		return
	}

	msg, err := g.stores.Messages.Append(ctx, chat.ID, &userID, content, model.MessageTypeText)
	if err != nil {
		log.Printf("[gateway] append message user=%s: %v", userID, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues(model.MessageTypeText).Inc()

	g.publishChat(chat.ID, busEvent{
		Kind:      protocol.EventMessage,
		MessageID: msg.ID,
		Content:   msg.Content,
		SenderID:  userID,
		Timestamp: msg.CreatedAt.Format(time.RFC3339),
	})
}

// handleEndChat ends the user's active chat for both participants.
func (g *Gateway) handleEndChat(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userID := c.UserID()
	chat, err := g.svc.ActiveChat(ctx, userID)
	if err != nil {
		log.Printf("[gateway] active chat lookup user=%s: %v", userID, err)
		return
	}
	if chat == nil {
		g.sendError(c, protocol.ErrCodeNotInChat, "Not in a chat.")
		return
	}

	ended, err := g.svc.EndChat(ctx, chat.ID)
	if err != nil {
		log.Printf("[gateway] end chat %s user=%s: %v", chat.ID, userID, err)
		return
	}
	if !ended {
		return
	}
	metrics.MessagesTotal.WithLabelValues(model.MessageTypeSystem).Inc()

	g.publishChat(chat.ID, busEvent{
		Kind:    protocol.EventChatEnded,
		Message: "Chat has been ended.",
	})
	g.broadcastActivity(scopeFor(c.Identity))
}

// handleTyping broadcasts a typing indicator to the chat channel. Typing
// outside an active chat is silently ignored.
func (g *Gateway) handleTyping(c *ws.Connection, typing bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userID := c.UserID()
	chat, err := g.svc.ActiveChat(ctx, userID)
	if err != nil || chat == nil {
		return
	}

	kind := protocol.EventTypingStop
	if typing {
		kind = protocol.EventTypingStart
	}
	g.publishChat(chat.ID, busEvent{Kind: kind, UserID: userID})
}

// retryMatch is the delayed re-match callback: it runs once the rematch
// timer fires and the user is confirmed still queued.
func (g *Gateway) retryMatch(userID string, scope model.Scope) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	chat, err := g.svc.TryMatch(ctx, scope, true)
	if err != nil {
		log.Printf("[gateway] delayed match user=%s: %v", userID, err)
		return
	}
	if chat != nil {
		g.notifyMatch(chat, scope)
	}
}
