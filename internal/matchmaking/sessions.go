package matchmaking

import (
	"context"

	"github.com/cloaktalk/cloaktalk/internal/model"
	"github.com/cloaktalk/cloaktalk/internal/store"
)

// ChatTransactions is the transactional write surface the session manager
// commits through. Implemented by store.ChatStore.
type ChatTransactions interface {
	CreateChat(ctx context.Context, p store.CreateChatParams) (*model.Chat, error)
	EndChat(ctx context.Context, chatID, closingMessage string) (bool, error)
}

// SessionManager turns matcher decisions into durable chat transitions. It
// resolves the chat's organization and supplies the system messages; the
// atomicity itself lives in the store transaction.
type SessionManager struct {
	chats ChatTransactions
}

// NewSessionManager creates a session manager committing through chats.
func NewSessionManager(chats ChatTransactions) *SessionManager {
	return &SessionManager{chats: chats}
}

// CreateChat commits a matched pair: both waiting entries are removed (for
// every scope they were queued under), the chat row is created, and the
// opening system message is appended, all in one transaction. The chat's
// organization is the match scope when one was given, otherwise the
// non-service participant's organization, otherwise none (two service
// accounts).
func (m *SessionManager) CreateChat(ctx context.Context, pair Pair, scope model.Scope) (*model.Chat, error) {
	orgID := scope.OrgID()
	if orgID == nil {
		if !pair.A.ServiceAccount && pair.A.OrganizationID != nil {
			orgID = pair.A.OrganizationID
		} else if !pair.B.ServiceAccount && pair.B.OrganizationID != nil {
			orgID = pair.B.OrganizationID
		}
	}

	return m.chats.CreateChat(ctx, store.CreateChatParams{
		Participant1:   pair.A.UserID,
		Participant2:   pair.B.UserID,
		OrganizationID: orgID,
		OpeningMessage: model.ChatStartedMessage,
	})
}

// EndChat deactivates a chat and appends the closing system message. It
// returns false if the chat was already inactive (idempotent no-op).
// Participant authorization is the gateway's responsibility.
func (m *SessionManager) EndChat(ctx context.Context, chatID string) (bool, error) {
	return m.chats.EndChat(ctx, chatID, model.ChatEndedMessage)
}
