package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

func newTestService(ms *memStore) *Service {
	return NewService(ms, ms, NewSessionManager(ms))
}

func strptr(s string) *string { return &s }

func TestAddToWaitingList_Idempotent(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	org := strptr("org-1")
	alice := ms.addUser("alice", org, false)

	added, err := svc.AddToWaitingList(context.Background(), alice, model.ScopeOf(org))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.AddToWaitingList(context.Background(), alice, model.ScopeOf(org))
	require.NoError(t, err)
	assert.False(t, added, "second join must report already queued")
}

func TestAddToWaitingList_RejectsScopelessRegularUser(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	alice := ms.addUser("alice", nil, false)

	_, err := svc.AddToWaitingList(context.Background(), alice, model.ServiceScope)
	assert.ErrorIs(t, err, ErrNoOrganization)
}

func TestRemoveFromWaitingList_Idempotent(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	org := strptr("org-1")
	alice := ms.addUser("alice", org, false)
	scope := model.ScopeOf(org)

	_, err := svc.AddToWaitingList(context.Background(), alice, scope)
	require.NoError(t, err)

	removed, err := svc.RemoveFromWaitingList(context.Background(), "alice", &scope)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = svc.RemoveFromWaitingList(context.Background(), "alice", &scope)
	require.NoError(t, err)
	assert.False(t, removed, "second leave must report nothing removed")
}

func TestTryMatch_TwoFreshUsers(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	org := strptr("org-1")
	scope := model.ScopeOf(org)
	ms.addUser("alice", org, false)
	ms.addUser("bob", org, false)
	now := time.Now()
	ms.enqueueAt("alice", scope, now.Add(-100*time.Millisecond))
	ms.enqueueAt("bob", scope, now)

	chat, err := svc.TryMatch(context.Background(), scope, true)
	require.NoError(t, err)
	require.NotNil(t, chat)

	assert.True(t, chat.IsParticipant("alice"))
	assert.True(t, chat.IsParticipant("bob"))
	require.NotNil(t, chat.OrganizationID)
	assert.Equal(t, "org-1", *chat.OrganizationID)

	pool, err := ms.Pool(context.Background(), scope, true)
	require.NoError(t, err)
	assert.Empty(t, pool, "both waiting entries must be consumed")

	msgs := ms.systemMessages(chat.ID)
	require.Len(t, msgs, 1, "exactly one opening system message")
	assert.Equal(t, model.ChatStartedMessage, msgs[0].Content)
}

func TestTryMatch_PurgesStaleEntryInsteadOfPairing(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	org := strptr("org-1")
	scope := model.ScopeOf(org)
	ms.addUser("alice", org, false)
	ms.addUser("carol", org, false)

	// alice already holds an active chat but a stale waiting entry
	// survived alongside fresh carol.
	ms.addChat("alice", "bob", time.Now().Add(-time.Minute), true)
	ms.enqueueAt("alice", scope, time.Now().Add(-10*time.Second))
	ms.enqueueAt("carol", scope, time.Now())

	chat, err := svc.TryMatch(context.Background(), scope, true)
	require.NoError(t, err)
	assert.Nil(t, chat, "must not produce a bogus alice/carol pairing")

	pool, err := ms.Pool(context.Background(), scope, true)
	require.NoError(t, err)
	require.Len(t, pool, 1, "alice's stale entry must be purged")
	assert.Equal(t, "carol", pool[0].UserID)
}

func TestTryMatch_RepeatPairOnlyAfterThreshold(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	org := strptr("org-1")
	scope := model.ScopeOf(org)
	ms.addUser("alice", org, false)
	ms.addUser("bob", org, false)
	ms.addChat("alice", "bob", time.Now().Add(-time.Hour), false)

	ms.enqueueAt("alice", scope, time.Now())
	ms.enqueueAt("bob", scope, time.Now())

	chat, err := svc.TryMatch(context.Background(), scope, true)
	require.NoError(t, err)
	assert.Nil(t, chat, "repeat pair must wait out the threshold")

	// Re-date the entries as if both joined six seconds ago.
	ms.mu.Lock()
	for i := range ms.entries {
		ms.entries[i].createdAt = time.Now().Add(-6 * time.Second)
	}
	ms.mu.Unlock()

	chat, err = svc.TryMatch(context.Background(), scope, true)
	require.NoError(t, err)
	require.NotNil(t, chat)
	assert.True(t, chat.IsParticipant("alice"))
	assert.True(t, chat.IsParticipant("bob"))
}

func TestTryMatch_ServiceAccountJoinsOrgPool(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	org := strptr("org-1")
	scope := model.ScopeOf(org)
	ms.addUser("alice", org, false)
	ms.addUser("svc", nil, true)

	ms.enqueueAt("alice", scope, time.Now().Add(-time.Second))
	ms.enqueueAt("svc", model.ServiceScope, time.Now())

	chat, err := svc.TryMatch(context.Background(), scope, true)
	require.NoError(t, err)
	require.NotNil(t, chat)
	assert.True(t, chat.IsParticipant("alice"))
	assert.True(t, chat.IsParticipant("svc"))
	require.NotNil(t, chat.OrganizationID)
	assert.Equal(t, "org-1", *chat.OrganizationID, "chat org comes from the scope")
}

func TestEndChat_Idempotent(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	chat := ms.addChat("alice", "bob", time.Now(), true)

	ended, err := svc.EndChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.True(t, ended)

	msgs := ms.systemMessages(chat.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.ChatEndedMessage, msgs[0].Content)

	ended, err = svc.EndChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.False(t, ended, "ending an ended chat is a no-op")
	assert.Len(t, ms.systemMessages(chat.ID), 1, "no second closing message")
}

func TestQueueStats_ReadyWithFreshUser(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	org := strptr("org-1")
	scope := model.ScopeOf(org)
	ms.addUser("alice", org, false)
	ms.addUser("bob", org, false)
	ms.addChat("bob", "x", time.Now().Add(-time.Hour), false)

	ms.enqueueAt("alice", scope, time.Now())
	ms.enqueueAt("bob", scope, time.Now())

	stats, err := svc.QueueStats(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalWaiting)
	assert.Equal(t, 1, stats.FreshUsers)
	assert.Equal(t, 1, stats.ExperiencedUsers)
	assert.True(t, stats.ReadyForMatching)
}
