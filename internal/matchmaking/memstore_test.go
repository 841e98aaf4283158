package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloaktalk/cloaktalk/internal/model"
	"github.com/cloaktalk/cloaktalk/internal/store"
)

// memStore is an in-memory stand-in for the Postgres stores, implementing
// WaitingList, ChatIndex, and ChatTransactions for tests.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	entries  []memEntry
	chats    []*model.Chat
	messages []model.Message
}

type memEntry struct {
	userID    string
	scope     model.Scope
	createdAt time.Time
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]*model.User)}
}

func (m *memStore) addUser(id string, orgID *string, service bool) *model.User {
	u := &model.User{ID: id, OrganizationID: orgID, ServiceAccount: service}
	m.users[id] = u
	return u
}

// enqueueAt inserts a waiting entry with an explicit creation time, letting
// tests control tier-4 wait eligibility.
func (m *memStore) enqueueAt(userID string, scope model.Scope, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, memEntry{userID: userID, scope: scope, createdAt: createdAt})
}

// addChat records a prior chat between two users.
func (m *memStore) addChat(a, b string, createdAt time.Time, active bool) *model.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat := &model.Chat{
		ID:           uuid.New().String(),
		Participant1: a,
		Participant2: b,
		CreatedAt:    createdAt,
		Active:       active,
	}
	m.chats = append(m.chats, chat)
	return chat
}

func (m *memStore) systemMessages(chatID string) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID && msg.Type == model.MessageTypeSystem {
			out = append(out, msg)
		}
	}
	return out
}

// ---- WaitingList ----

func (m *memStore) Add(_ context.Context, userID string, scope model.Scope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.userID == userID && e.scope == scope {
			return false, nil
		}
	}
	m.entries = append(m.entries, memEntry{userID: userID, scope: scope, createdAt: time.Now()})
	return true, nil
}

func (m *memStore) Remove(_ context.Context, userID string, scope *model.Scope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	removed := false
	for _, e := range m.entries {
		if e.userID == userID && (scope == nil || e.scope == *scope) {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

func (m *memStore) Pool(_ context.Context, scope model.Scope, includeCrossScope bool) ([]model.WaitingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pool []model.WaitingEntry
	for _, e := range m.entries {
		u := m.users[e.userID]
		include := false
		switch {
		case scope.IsService() && includeCrossScope:
			include = true
		case scope.IsService():
			include = u.ServiceAccount
		case e.scope == scope:
			include = true
		case includeCrossScope && u.ServiceAccount:
			include = true
		}
		if include {
			pool = append(pool, model.WaitingEntry{
				UserID:         u.ID,
				OrganizationID: u.OrganizationID,
				ServiceAccount: u.ServiceAccount,
				CreatedAt:      e.createdAt,
			})
		}
	}
	// entries are appended in join order; stable by construction
	return pool, nil
}

// ---- ChatIndex ----

func (m *memStore) HasAnyChat(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		if c.IsParticipant(userID) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) LastChatBetween(_ context.Context, a, b string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, c := range m.chats {
		if c.IsParticipant(a) && c.IsParticipant(b) {
			if last == nil || c.CreatedAt.After(*last) {
				t := c.CreatedAt
				last = &t
			}
		}
	}
	return last, nil
}

func (m *memStore) ActiveChatFor(_ context.Context, userID string) (*model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		if c.Active && c.IsParticipant(userID) {
			return c, nil
		}
	}
	return nil, nil
}

// ---- ChatTransactions ----

func (m *memStore) CreateChat(_ context.Context, p store.CreateChatParams) (*model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.chats {
		if c.Active && (c.IsParticipant(p.Participant1) || c.IsParticipant(p.Participant2)) {
			return nil, store.ErrActiveChatExists
		}
	}

	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.userID == p.Participant1 || e.userID == p.Participant2 {
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept

	chat := &model.Chat{
		ID:             uuid.New().String(),
		OrganizationID: p.OrganizationID,
		Participant1:   p.Participant1,
		Participant2:   p.Participant2,
		CreatedAt:      time.Now(),
		Active:         true,
	}
	m.chats = append(m.chats, chat)
	m.messages = append(m.messages, model.Message{
		ID:      uuid.New().String(),
		ChatID:  chat.ID,
		Content: p.OpeningMessage,
		Type:    model.MessageTypeSystem,
	})
	return chat, nil
}

func (m *memStore) EndChat(_ context.Context, chatID, closingMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		if c.ID == chatID && c.Active {
			c.Active = false
			m.messages = append(m.messages, model.Message{
				ID:      uuid.New().String(),
				ChatID:  chatID,
				Content: closingMessage,
				Type:    model.MessageTypeSystem,
			})
			return true, nil
		}
	}
	return false, nil
}
