package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

// MessageStore is the append-only message log. Messages are never updated
// or deleted; ordering is by creation time.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a message store on the given handle.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append persists one message. senderID is nil for system messages.
func (s *MessageStore) Append(ctx context.Context, chatID string, senderID *string, content, msgType string) (*model.Message, error) {
	msg := &model.Message{
		ID:       uuid.New().String(),
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		Type:     msgType,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, message_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.Type,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	return msg, nil
}

// ListByChat returns all messages of a chat in chronological order.
func (s *MessageStore) ListByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, content, message_type, created_at, read
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var (
			msg      model.Message
			senderID sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &senderID, &msg.Content, &msg.Type, &msg.CreatedAt, &msg.Read); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if senderID.Valid {
			msg.SenderID = &senderID.String
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return messages, nil
}
