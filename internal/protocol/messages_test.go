package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message frame
// ---------------------------------------------------------------------------

func TestParseClientFrame_SendMessage(t *testing.T) {
	input := []byte(`{"action":"send_message","content":"Hello!"}`)

	action, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionSendMessage {
		t.Fatalf("expected action %q, got %q", ActionSendMessage, action)
	}

	sm, ok := msg.(SendMessageFrame)
	if !ok {
		t.Fatalf("expected SendMessageFrame, got %T", msg)
	}
	if sm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", sm.Content)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_chat frame
// ---------------------------------------------------------------------------

func TestParseClientFrame_JoinChat(t *testing.T) {
	input := []byte(`{"action":"join_chat","chat_id":"abc-123"}`)

	action, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionJoinChat {
		t.Fatalf("expected action %q, got %q", ActionJoinChat, action)
	}

	jc, ok := msg.(JoinChatFrame)
	if !ok {
		t.Fatalf("expected JoinChatFrame, got %T", msg)
	}
	if jc.ChatID != "abc-123" {
		t.Errorf("expected chat_id %q, got %q", "abc-123", jc.ChatID)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a chat_matched event
// ---------------------------------------------------------------------------

func TestNewEvent_ChatMatched(t *testing.T) {
	payload := ChatMatchedEvent{
		Chat: ChatInfo{
			ChatID:       "uuid-456",
			Organization: "Acme College",
			IsActive:     true,
		},
		Message: "Match found! Starting chat...",
	}

	data, err := NewEvent(EventChatMatched, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != EventChatMatched {
		t.Errorf("expected type %q, got %v", EventChatMatched, result["type"])
	}

	chat, ok := result["chat"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected chat to be an object, got %T", result["chat"])
	}
	if chat["chat_id"] != "uuid-456" {
		t.Errorf("expected chat_id %q, got %v", "uuid-456", chat["chat_id"])
	}
	if chat["is_active"] != true {
		t.Errorf("expected is_active true, got %v", chat["is_active"])
	}
	if result["message"] != "Match found! Starting chat..." {
		t.Errorf("unexpected message: %v", result["message"])
	}
}

// ---------------------------------------------------------------------------
// Test: NewEvent overrides a stale type discriminator
// ---------------------------------------------------------------------------

func TestNewEvent_InjectsType(t *testing.T) {
	data, err := NewEvent(EventPong, PongEvent{Type: "bogus"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != EventPong {
		t.Errorf("expected type %q, got %v", EventPong, result["type"])
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown action returns an error
// ---------------------------------------------------------------------------

func TestParseClientFrame_UnknownAction(t *testing.T) {
	input := []byte(`{"action":"unknown_action","data":"something"}`)

	action, msg, err := ParseClientFrame(input)
	if err == nil {
		t.Fatal("expected an error for unknown action, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown action, got %v", msg)
	}
	if action != "unknown_action" {
		t.Errorf("expected returned action %q, got %q", "unknown_action", action)
	}
}

// ---------------------------------------------------------------------------
// Test: Error event helper
// ---------------------------------------------------------------------------

func TestNewErrorEvent(t *testing.T) {
	data, err := NewErrorEvent(ErrCodeNotParticipant, "You are not a participant of this chat.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded ErrorEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != EventError {
		t.Errorf("expected type %q, got %q", EventError, decoded.Type)
	}
	if decoded.Code != ErrCodeNotParticipant {
		t.Errorf("expected code %q, got %q", ErrCodeNotParticipant, decoded.Code)
	}
	if decoded.Message == "" {
		t.Error("expected non-empty message")
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingAction(t *testing.T) {
	input := []byte(`{"data":"no action field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing action field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client actions succeeds
// ---------------------------------------------------------------------------

func TestParseClientFrame_AllActions(t *testing.T) {
	cases := []struct {
		name       string
		input      string
		wantAction string
	}{
		{"join_queue", `{"action":"join_queue"}`, ActionJoinQueue},
		{"leave_queue", `{"action":"leave_queue"}`, ActionLeaveQueue},
		{"join_chat", `{"action":"join_chat","chat_id":"id1"}`, ActionJoinChat},
		{"leave_chat", `{"action":"leave_chat"}`, ActionLeaveChat},
		{"send_message", `{"action":"send_message","content":"hi"}`, ActionSendMessage},
		{"end_chat", `{"action":"end_chat"}`, ActionEndChat},
		{"typing_start", `{"action":"typing_start"}`, ActionTypingStart},
		{"typing_stop", `{"action":"typing_stop"}`, ActionTypingStop},
		{"heartbeat", `{"action":"heartbeat"}`, ActionHeartbeat},
		{"refresh", `{"action":"refresh"}`, ActionRefresh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, msg, err := ParseClientFrame([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if action != tc.wantAction {
				t.Errorf("expected action %q, got %q", tc.wantAction, action)
			}
			if msg == nil {
				t.Error("expected non-nil frame")
			}
		})
	}
}
