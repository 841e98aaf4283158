// Package protocol defines the WebSocket frame types exchanged between the
// CloakTalk client and the gateway. Client frames carry an "action"
// discriminator, server frames a "type" discriminator; everything is JSON.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame type constants
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

// WebSocket close codes sent when a connection is rejected at upgrade.
const (
	CloseUnauthorized   = 4001
	CloseNoOrganization = 4002
)

// Error codes carried by EventError frames. These are non-fatal: the
// connection stays open.
const (
	ErrCodeNotParticipant = "not_participant"
	ErrCodeChatNotFound   = "chat_not_found"
	ErrCodeNotInChat      = "not_in_chat"
	ErrCodeEmptyMessage   = "empty_message"
	ErrCodeBadFrame       = "bad_frame"
	ErrCodeRateLimited    = "rate_limited"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds a client frame's action and the raw JSON payload for
// deferred parsing into a concrete struct.
type Envelope struct {
	Action string          `json:"action"`
	Raw    json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "action"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Action == "" {
		return fmt.Errorf("protocol: missing or empty \"action\" field")
	}
	e.Action = partial.Action
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frames
// ---------------------------------------------------------------------------

// JoinQueueFrame enqueues the user for matching in their scope.
type JoinQueueFrame struct {
	Action string `json:"action"`
}

// LeaveQueueFrame removes the user from the waiting queue.
type LeaveQueueFrame struct {
	Action string `json:"action"`
}

// JoinChatFrame subscribes the connection to a chat it participates in.
type JoinChatFrame struct {
	Action string `json:"action"`
	ChatID string `json:"chat_id"`
}

// LeaveChatFrame unsubscribes the connection from its current chat without
// ending it.
type LeaveChatFrame struct {
	Action string `json:"action"`
}

// SendMessageFrame carries a text message for the current chat.
type SendMessageFrame struct {
	Action  string `json:"action"`
	Content string `json:"content"`
}

// EndChatFrame ends the user's current chat for both participants.
type EndChatFrame struct {
	Action string `json:"action"`
}

// TypingFrame signals a typing indicator change. Used for both typing_start
// and typing_stop.
type TypingFrame struct {
	Action string `json:"action"`
}

// HeartbeatFrame is a client keepalive; the server answers with pong.
type HeartbeatFrame struct {
	Action string `json:"action"`
}

// RefreshFrame asks the server to re-send the full initial state.
type RefreshFrame struct {
	Action string `json:"action"`
}

// ---------------------------------------------------------------------------
// Server -> Client event payloads
// ---------------------------------------------------------------------------

// UserInfo identifies the connected user in the initial state.
type UserInfo struct {
	ID               string `json:"id"`
	IsServiceAccount bool   `json:"is_service_account"`
}

// AccessInfo reports whether the user may chat right now and why not
// otherwise. Window fields are "HH:MM:SS".
type AccessInfo struct {
	CanAccess            bool   `json:"can_access"`
	Reason               string `json:"reason,omitempty"`
	Message              string `json:"message"`
	IsServiceAccount     bool   `json:"is_service_account,omitempty"`
	OrganizationName     string `json:"organization_name,omitempty"`
	WindowStart          string `json:"window_start,omitempty"`
	WindowEnd            string `json:"window_end,omitempty"`
	TimeRemainingSeconds int    `json:"time_remaining_seconds,omitempty"`
}

// AccessInfo reason values.
const (
	AccessNoOrganization       = "no_organization"
	AccessOrganizationInactive = "organization_inactive"
	AccessOutsideWindow        = "outside_window"
)

// ActivityInfo summarizes an organization's current usage.
type ActivityInfo struct {
	Organization    string `json:"organization"`
	OrganizationID  string `json:"organization_id,omitempty"`
	ActiveChats     int    `json:"active_chats"`
	WaitingCount    int    `json:"waiting_count"`
	RegisteredUsers int    `json:"registered_users"`
}

// QueueInfo reports queue membership in the initial state.
type QueueInfo struct {
	IsInQueue bool `json:"is_in_queue"`
}

// MessageInfo is one chat message in a chat snapshot.
type MessageInfo struct {
	ID          string  `json:"id"`
	Content     string  `json:"content"`
	SenderID    *string `json:"sender_id"`
	MessageType string  `json:"message_type"`
	Timestamp   string  `json:"timestamp"`
	IsOwn       bool    `json:"is_own"`
}

// ChatInfo is a full chat snapshot including its message history.
type ChatInfo struct {
	ChatID       string        `json:"chat_id"`
	Organization string        `json:"organization"`
	CreatedAt    string        `json:"created_at"`
	IsActive     bool          `json:"is_active"`
	Messages     []MessageInfo `json:"messages"`
}

// InitialStateEvent is sent on connect and on refresh.
type InitialStateEvent struct {
	Type     string       `json:"type"`
	User     UserInfo     `json:"user"`
	Access   AccessInfo   `json:"access"`
	Activity ActivityInfo `json:"activity"`
	Queue    QueueInfo    `json:"queue"`
	Chat     *ChatInfo    `json:"chat"`
}

// QueueStatusEvent confirms a queue join or leave.
type QueueStatusEvent struct {
	Type      string `json:"type"`
	IsInQueue bool   `json:"is_in_queue"`
	Message   string `json:"message"`
}

// ChatMatchedEvent delivers a freshly created chat to a participant.
type ChatMatchedEvent struct {
	Type    string   `json:"type"`
	Chat    ChatInfo `json:"chat"`
	Message string   `json:"message"`
}

// ChatJoinedEvent confirms a join_chat with the chat snapshot.
type ChatJoinedEvent struct {
	Type string   `json:"type"`
	Chat ChatInfo `json:"chat"`
}

// ChatLeftEvent confirms a leave_chat.
type ChatLeftEvent struct {
	Type string `json:"type"`
}

// MessageEvent relays one chat message. IsOwn is computed per recipient at
// delivery time.
type MessageEvent struct {
	Type        string  `json:"type"`
	MessageID   string  `json:"message_id"`
	Content     string  `json:"content"`
	SenderID    *string `json:"sender_id"`
	Timestamp   string  `json:"timestamp"`
	MessageType string  `json:"message_type"`
	IsOwn       bool    `json:"is_own"`
}

// ChatEndedEvent tells participants their chat is over.
type ChatEndedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TypingEvent relays the peer's typing indicator. Used for both typing_start
// and typing_stop.
type TypingEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// ActivityUpdateEvent broadcasts refreshed activity stats to a scope.
type ActivityUpdateEvent struct {
	Type     string       `json:"type"`
	Activity ActivityInfo `json:"activity"`
}

// PresenceUpdateEvent announces a user going offline.
type PresenceUpdateEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// ErrorEvent reports a non-fatal error to the client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PongEvent answers a heartbeat.
type PongEvent struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientFrame parses raw WebSocket bytes into a typed client frame.
// It returns the action string, the decoded struct, and any error
// encountered. An error is returned for unknown actions.
func ParseClientFrame(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Action {
	case ActionJoinQueue:
		var m JoinQueueFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case ActionLeaveQueue:
		var m LeaveQueueFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case ActionJoinChat:
		var m JoinChatFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case ActionLeaveChat:
		var m LeaveChatFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case ActionSendMessage:
		var m SendMessageFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case ActionEndChat:
		var m EndChatFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case ActionTypingStart, ActionTypingStop:
		var m TypingFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case ActionHeartbeat:
		var m HeartbeatFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case ActionRefresh:
		var m RefreshFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Action, nil, fmt.Errorf("protocol: unknown client action: %q", env.Action)
	}

	if err != nil {
		return env.Action, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Action, err)
	}
	return env.Action, msg, nil
}

// NewEvent creates a JSON-encoded byte slice for a server event. The
// eventType is injected into the payload under the "type" key so callers
// cannot ship an event with a missing or mismatched discriminator.
func NewEvent(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = eventType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal event: %w", err)
	}
	return out, nil
}

// NewErrorEvent builds an error event frame.
func NewErrorEvent(code, message string) ([]byte, error) {
	return NewEvent(EventError, ErrorEvent{Code: code, Message: message})
}
