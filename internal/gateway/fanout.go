package gateway

import (
	"context"
	"encoding/json"
	"log"

	"github.com/cloaktalk/cloaktalk/internal/model"
	"github.com/cloaktalk/cloaktalk/internal/protocol"
	"github.com/cloaktalk/cloaktalk/internal/ws"
)

// busEvent is the internal fan-out envelope published on the NATS channels.
// Recipient gateways translate it into per-connection protocol events, which
// is where viewer-dependent fields like is_own get computed. Delivery is
// at-most-once; a user who is offline when an event fires simply misses it.
type busEvent struct {
	Kind      string                 `json:"kind"`
	ChatID    string                 `json:"chat_id,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	SenderID  string                 `json:"sender_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Activity  *protocol.ActivityInfo `json:"activity,omitempty"`
}

// publishScope publishes an envelope to a scope's broadcast channel.
func (g *Gateway) publishScope(scope model.Scope, ev busEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[gateway] marshal %s envelope: %v", ev.Kind, err)
		return
	}
	if err := g.bus.PublishScope(scope.Channel(), data); err != nil {
		log.Printf("[gateway] publish %s to scope %s: %v", ev.Kind, scope.Channel(), err)
	}
}

// publishUser publishes an envelope to one user's direct channel.
func (g *Gateway) publishUser(userID string, ev busEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[gateway] marshal %s envelope: %v", ev.Kind, err)
		return
	}
	if err := g.bus.PublishUser(userID, data); err != nil {
		log.Printf("[gateway] publish %s to user %s: %v", ev.Kind, userID, err)
	}
}

// publishChat publishes an envelope to a chat's channel.
func (g *Gateway) publishChat(chatID string, ev busEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[gateway] marshal %s envelope: %v", ev.Kind, err)
		return
	}
	if err := g.bus.PublishChat(chatID, data); err != nil {
		log.Printf("[gateway] publish %s to chat %s: %v", ev.Kind, chatID, err)
	}
}

// onUserEvent handles envelopes from the user's direct channel. The only
// direct event is chat_matched: the recipient loads its own chat snapshot so
// viewer-dependent fields are correct on both sides.
func (g *Gateway) onUserEvent(c *ws.Connection) func(data []byte) {
	return func(data []byte) {
		var ev busEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[gateway] bad user envelope user=%s: %v", c.UserID(), err)
			return
		}
		if ev.Kind != protocol.EventChatMatched {
			return
		}
		g.deliverChatMatched(c, ev.ChatID, "Match found! Starting chat...")
	}
}

// onScopeEvent handles envelopes from the scope broadcast channel: activity
// stats refreshes and presence changes. A user's own presence echo is
// suppressed.
func (g *Gateway) onScopeEvent(c *ws.Connection) func(data []byte) {
	return func(data []byte) {
		var ev busEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[gateway] bad scope envelope user=%s: %v", c.UserID(), err)
			return
		}
		switch ev.Kind {
		case protocol.EventActivityUpdate:
			if ev.Activity == nil {
				return
			}
			g.send(c, protocol.EventActivityUpdate, protocol.ActivityUpdateEvent{Activity: *ev.Activity})
		case protocol.EventPresenceUpdate:
			if ev.UserID == c.UserID() {
				return
			}
			g.send(c, protocol.EventPresenceUpdate, protocol.PresenceUpdateEvent{
				UserID: ev.UserID,
				Status: ev.Status,
			})
		}
	}
}

// onChatEvent handles envelopes from the chat channel a connection follows:
// messages, typing indicators, and the chat ending. Typing echoes from the
// user themself are suppressed; messages are not, since the sender's client
// renders its own message from the broadcast.
func (g *Gateway) onChatEvent(c *ws.Connection) func(data []byte) {
	return func(data []byte) {
		var ev busEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[gateway] bad chat envelope user=%s: %v", c.UserID(), err)
			return
		}
		switch ev.Kind {
		case protocol.EventMessage:
			sender := ev.SenderID
			g.send(c, protocol.EventMessage, protocol.MessageEvent{
				MessageID:   ev.MessageID,
				Content:     ev.Content,
				SenderID:    &sender,
				Timestamp:   ev.Timestamp,
				MessageType: model.MessageTypeText,
				IsOwn:       ev.SenderID == c.UserID(),
			})
		case protocol.EventChatEnded:
			g.bus.UnsubscribeChat(c.UserID())
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			if err := g.sessions.ClearChatID(ctx, c.UserID()); err != nil {
				log.Printf("[gateway] clear chat session user=%s: %v", c.UserID(), err)
			}
			cancel()
			g.send(c, protocol.EventChatEnded, protocol.ChatEndedEvent{Message: ev.Message})
		case protocol.EventTypingStart, protocol.EventTypingStop:
			if ev.UserID == c.UserID() {
				return
			}
			g.send(c, ev.Kind, protocol.TypingEvent{UserID: ev.UserID})
		}
	}
}

// deliverChatMatched subscribes the connection to the chat channel, records
// the chat on the session, and sends the chat_matched event with a snapshot
// built for this viewer.
func (g *Gateway) deliverChatMatched(c *ws.Connection, chatID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	chat, err := g.stores.Chats.Get(ctx, chatID)
	if err != nil {
		log.Printf("[gateway] load matched chat %s user=%s: %v", chatID, c.UserID(), err)
		return
	}
	if !chat.IsParticipant(c.UserID()) {
		return
	}

	if err := g.bus.SubscribeChat(c.UserID(), chat.ID, g.onChatEvent(c)); err != nil {
		log.Printf("[gateway] chat channel subscribe failed user=%s: %v", c.UserID(), err)
	}
	if err := g.sessions.SetChatID(ctx, c.UserID(), chat.ID); err != nil {
		log.Printf("[gateway] set chat session user=%s: %v", c.UserID(), err)
	}

	snapshot, err := g.chatSnapshot(ctx, chat, c.UserID())
	if err != nil {
		log.Printf("[gateway] chat snapshot user=%s: %v", c.UserID(), err)
		return
	}
	g.send(c, protocol.EventChatMatched, protocol.ChatMatchedEvent{
		Chat:    *snapshot,
		Message: message,
	})
	g.rematch.Cancel(c.UserID())
}

// notifyMatch tells both participants about a freshly committed chat via
// their direct channels and refreshes the scope's activity stats.
func (g *Gateway) notifyMatch(chat *model.Chat, scope model.Scope) {
	ev := busEvent{Kind: protocol.EventChatMatched, ChatID: chat.ID}
	g.publishUser(chat.Participant1, ev)
	g.publishUser(chat.Participant2, ev)
	g.broadcastActivity(scope)
}

// broadcastActivity publishes refreshed activity stats to a scope channel.
func (g *Gateway) broadcastActivity(scope model.Scope) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	activity, err := g.activityInfo(ctx, scope)
	if err != nil {
		log.Printf("[gateway] activity stats for scope %s: %v", scope.Channel(), err)
		return
	}
	g.publishScope(scope, busEvent{
		Kind:     protocol.EventActivityUpdate,
		Activity: activity,
	})
}
