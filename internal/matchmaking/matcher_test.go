package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

func entry(userID string, waited time.Duration, now time.Time) model.WaitingEntry {
	return model.WaitingEntry{UserID: userID, CreatedAt: now.Add(-waited)}
}

func TestFindMatch_NeedsTwoEntries(t *testing.T) {
	ms := newMemStore()
	m := NewMatcher(ms)
	now := time.Now()

	pair, err := m.FindMatch(context.Background(), nil, now)
	require.NoError(t, err)
	assert.Nil(t, pair)

	pair, err = m.FindMatch(context.Background(), []model.WaitingEntry{entry("alice", time.Minute, now)}, now)
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestFindMatch_TwoFreshUsersWin(t *testing.T) {
	ms := newMemStore()
	now := time.Now()
	// carol is experienced and joined first; fresh users still win.
	ms.addChat("carol", "dave", now.Add(-time.Hour), false)

	pool := []model.WaitingEntry{
		entry("carol", 10*time.Second, now),
		entry("alice", 5*time.Second, now),
		entry("bob", time.Second, now),
	}

	pair, err := NewMatcher(ms).FindMatch(context.Background(), pool, now)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, TierFreshPair, pair.Tier)
	assert.Equal(t, "alice", pair.A.UserID)
	assert.Equal(t, "bob", pair.B.UserID)
}

func TestFindMatch_SingleFreshPairsWithOldestExperienced(t *testing.T) {
	ms := newMemStore()
	now := time.Now()
	ms.addChat("carol", "x", now.Add(-time.Hour), false)
	ms.addChat("dave", "y", now.Add(-time.Hour), false)

	pool := []model.WaitingEntry{
		entry("carol", 10*time.Second, now),
		entry("dave", 8*time.Second, now),
		entry("alice", time.Second, now), // fresh
	}

	pair, err := NewMatcher(ms).FindMatch(context.Background(), pool, now)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, TierFreshExperienced, pair.Tier)
	assert.Equal(t, "alice", pair.A.UserID)
	assert.Equal(t, "carol", pair.B.UserID, "pairs with first experienced user in pool order")
}

func TestFindMatch_NovelPairBeatsOldestRepeat(t *testing.T) {
	ms := newMemStore()
	now := time.Now()
	// alice/bob chatted long ago, alice/carol never did. Everyone has
	// waited past the repeat threshold, so the repeat tier is reachable,
	// but the novel pair must win first.
	ms.addChat("alice", "bob", now.Add(-24*time.Hour), false)
	ms.addChat("carol", "dave", now.Add(-24*time.Hour), false)

	pool := []model.WaitingEntry{
		entry("alice", 10*time.Second, now),
		entry("bob", 10*time.Second, now),
		entry("carol", 10*time.Second, now),
	}

	pair, err := NewMatcher(ms).FindMatch(context.Background(), pool, now)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, TierNovelPair, pair.Tier)
	assert.Equal(t, "alice", pair.A.UserID)
	assert.Equal(t, "carol", pair.B.UserID)
}

func TestFindMatch_RepeatPairRequiresWaitThreshold(t *testing.T) {
	ms := newMemStore()
	now := time.Now()
	ms.addChat("alice", "bob", now.Add(-time.Hour), false)

	fresh := []model.WaitingEntry{
		entry("alice", 2*time.Second, now),
		entry("bob", 2*time.Second, now),
	}
	pair, err := NewMatcher(ms).FindMatch(context.Background(), fresh, now)
	require.NoError(t, err)
	assert.Nil(t, pair, "repeat pair must not match before the wait threshold")

	waited := []model.WaitingEntry{
		entry("alice", 6*time.Second, now),
		entry("bob", 6*time.Second, now),
	}
	pair, err = NewMatcher(ms).FindMatch(context.Background(), waited, now)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, TierOldestRepeat, pair.Tier)
}

func TestFindMatch_RepeatTierPicksLeastRecentPair(t *testing.T) {
	ms := newMemStore()
	now := time.Now()
	// All three pairs have chatted; alice/carol least recently.
	ms.addChat("alice", "bob", now.Add(-1*time.Hour), false)
	ms.addChat("alice", "carol", now.Add(-48*time.Hour), false)
	ms.addChat("bob", "carol", now.Add(-2*time.Hour), false)

	pool := []model.WaitingEntry{
		entry("alice", 10*time.Second, now),
		entry("bob", 10*time.Second, now),
		entry("carol", 10*time.Second, now),
	}

	pair, err := NewMatcher(ms).FindMatch(context.Background(), pool, now)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, TierOldestRepeat, pair.Tier)
	assert.Equal(t, "alice", pair.A.UserID)
	assert.Equal(t, "carol", pair.B.UserID)
}

func TestFindMatch_RepeatTierSkipsRecentJoiners(t *testing.T) {
	ms := newMemStore()
	now := time.Now()
	ms.addChat("alice", "bob", now.Add(-48*time.Hour), false)
	ms.addChat("bob", "carol", now.Add(-1*time.Hour), false)
	ms.addChat("alice", "carol", now.Add(-1*time.Hour), false)

	// alice/bob is the least recent pair, but alice just joined; the
	// eligible pair bob/carol must be chosen instead.
	pool := []model.WaitingEntry{
		entry("bob", 10*time.Second, now),
		entry("carol", 10*time.Second, now),
		entry("alice", time.Second, now),
	}

	pair, err := NewMatcher(ms).FindMatch(context.Background(), pool, now)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "bob", pair.A.UserID)
	assert.Equal(t, "carol", pair.B.UserID)
}
