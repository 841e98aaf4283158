package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

// ChatStore manages chat rows and the chat-history read path used by the
// matcher (has-any-chat, last-chat-between).
type ChatStore struct {
	db *sql.DB
}

// NewChatStore creates a chat store on the given handle.
func NewChatStore(db *sql.DB) *ChatStore {
	return &ChatStore{db: db}
}

// CreateChatParams describes the match transaction: the two participants,
// the resolved chat organization, and the opening system message.
type CreateChatParams struct {
	Participant1   string
	Participant2   string
	OrganizationID *string
	OpeningMessage string
}

// CreateChat commits a match as one transaction: it takes advisory locks on
// both participants, verifies neither holds an active chat, deletes their
// waiting entries across all scopes, inserts the chat, and appends the
// opening system message. Returns ErrActiveChatExists if either participant
// is already in an active chat.
//
// The per-user advisory locks serialize concurrent match commits that share
// a participant, so two racing TryMatch calls can never both succeed.
func (s *ChatStore) CreateChat(ctx context.Context, p CreateChatParams) (*model.Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin create chat: %w", err)
	}
	defer tx.Rollback()

	// Lock both users in a stable order to avoid deadlock between
	// concurrent commits.
	a, b := p.Participant1, p.Participant2
	if b < a {
		a, b = b, a
	}
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0)), pg_advisory_xact_lock(hashtextextended($2, 0))`,
		a, b); err != nil {
		return nil, fmt.Errorf("store: lock participants: %w", err)
	}

	var conflict bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chats
			WHERE active AND (participant1 IN ($1, $2) OR participant2 IN ($1, $2))
		)`, p.Participant1, p.Participant2).Scan(&conflict)
	if err != nil {
		return nil, fmt.Errorf("store: check active chats: %w", err)
	}
	if conflict {
		return nil, ErrActiveChatExists
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM waiting_list WHERE user_id IN ($1, $2)`,
		p.Participant1, p.Participant2); err != nil {
		return nil, fmt.Errorf("store: clear matched waiting entries: %w", err)
	}

	chat := &model.Chat{
		ID:             uuid.New().String(),
		OrganizationID: p.OrganizationID,
		Participant1:   p.Participant1,
		Participant2:   p.Participant2,
		Active:         true,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chats (id, organization_id, participant1, participant2)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		chat.ID, chat.OrganizationID, chat.Participant1, chat.Participant2,
	).Scan(&chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert chat: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, message_type)
		VALUES ($1, $2, NULL, $3, 'system')`,
		uuid.New().String(), chat.ID, p.OpeningMessage); err != nil {
		return nil, fmt.Errorf("store: insert opening message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit create chat: %w", err)
	}
	return chat, nil
}

// EndChat flips an active chat to inactive and appends the closing system
// message. Returns false without writing anything if the chat is already
// inactive or does not exist (idempotent).
func (s *ChatStore) EndChat(ctx context.Context, chatID, closingMessage string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin end chat: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE chats SET active = FALSE WHERE id = $1 AND active`, chatID)
	if err != nil {
		return false, fmt.Errorf("store: deactivate chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: deactivate chat: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, message_type)
		VALUES ($1, $2, NULL, $3, 'system')`,
		uuid.New().String(), chatID, closingMessage); err != nil {
		return false, fmt.Errorf("store: insert closing message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit end chat: %w", err)
	}
	return true, nil
}

// Get loads a chat by ID. Returns ErrNotFound if it does not exist.
func (s *ChatStore) Get(ctx context.Context, chatID string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, participant1, participant2, created_at, active
		FROM chats WHERE id = $1`, chatID)
	return scanChat(row)
}

// ActiveChatFor returns the user's active chat, or nil if they have none.
// By invariant there is at most one.
func (s *ChatStore) ActiveChatFor(ctx context.Context, userID string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, participant1, participant2, created_at, active
		FROM chats
		WHERE active AND (participant1 = $1 OR participant2 = $1)
		ORDER BY created_at DESC
		LIMIT 1`, userID)
	chat, err := scanChat(row)
	if err == ErrNotFound {
		return nil, nil
	}
	return chat, err
}

// HasAnyChat reports whether the user has ever participated in any chat.
// Users with no history at all are "fresh" to the matcher.
func (s *ChatStore) HasAnyChat(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chats WHERE participant1 = $1 OR participant2 = $1
		)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: has any chat: %w", err)
	}
	return exists, nil
}

// LastChatBetween returns the creation time of the most recent chat shared
// by the two users, in either participant order, or nil if they have never
// chatted.
func (s *ChatStore) LastChatBetween(ctx context.Context, userA, userB string) (*time.Time, error) {
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM chats
		WHERE (participant1 = $1 AND participant2 = $2)
		   OR (participant1 = $2 AND participant2 = $1)
		ORDER BY created_at DESC
		LIMIT 1`, userA, userB).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last chat between: %w", err)
	}
	return &createdAt, nil
}

// ActiveCount returns the number of active chats in an organization.
func (s *ChatStore) ActiveCount(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chats WHERE organization_id = $1 AND active`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: active chat count: %w", err)
	}
	return count, nil
}

// DeactivateAll ends every active chat, appending the closing system message
// to each, and returns the number of chats ended. Used by the sweeper when
// the daily window closes.
func (s *ChatStore) DeactivateAll(ctx context.Context, closingMessage string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin deactivate all: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, message_type)
		SELECT gen_random_uuid(), id, NULL, $1, 'system'
		FROM chats WHERE active`, closingMessage); err != nil {
		return 0, fmt.Errorf("store: insert closing messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE chats SET active = FALSE WHERE active`)
	if err != nil {
		return 0, fmt.Errorf("store: deactivate all chats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: deactivate all chats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit deactivate all: %w", err)
	}
	return n, nil
}

func scanChat(row *sql.Row) (*model.Chat, error) {
	var (
		chat  model.Chat
		orgID sql.NullString
	)
	err := row.Scan(&chat.ID, &orgID, &chat.Participant1, &chat.Participant2, &chat.CreatedAt, &chat.Active)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan chat: %w", err)
	}
	if orgID.Valid {
		chat.OrganizationID = &orgID.String
	}
	return &chat, nil
}
