// Package matchmaking implements the CloakTalk pairing engine: the tiered
// fairness matcher, the transactional session manager, and the orchestration
// service that defends against stale waiting entries.
package matchmaking

import (
	"context"
	"time"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

// RepeatWaitThreshold is how long experienced users must have waited before
// the oldest-repeat tier may pair them. Freshly-joined users get a chance at
// a better match first.
const RepeatWaitThreshold = 5 * time.Second

// Match tiers, in evaluation order. Used as metric labels.
const (
	TierFreshPair        = "fresh_pair"
	TierFreshExperienced = "fresh_experienced"
	TierNovelPair        = "novel_pair"
	TierOldestRepeat     = "oldest_repeat"
)

// History is the chat-history read path the matcher consults. It is a pure
// query surface; the matcher never mutates anything.
type History interface {
	// HasAnyChat reports whether the user has any chat record at all.
	HasAnyChat(ctx context.Context, userID string) (bool, error)
	// LastChatBetween returns the creation time of the most recent chat
	// shared by the two users, or nil if they have never chatted.
	LastChatBetween(ctx context.Context, userA, userB string) (*time.Time, error)
}

// Pair is the matcher's decision: two waiting entries to join, and the tier
// that selected them.
type Pair struct {
	A    model.WaitingEntry
	B    model.WaitingEntry
	Tier string
}

// Matcher makes pairing decisions over a waiting pool. It holds no state of
// its own beyond the history index it queries.
type Matcher struct {
	history History
}

// NewMatcher creates a matcher over the given history index.
func NewMatcher(history History) *Matcher {
	return &Matcher{history: history}
}

// FindMatch picks the best pair from the pool, or nil if no pair is
// currently allowed. The pool must be ordered by creation time, oldest
// first. Tiers are evaluated strictly in order:
//
//  1. Two fresh users (no chat history at all).
//  2. The single fresh user with the oldest experienced user.
//  3. The first experienced pair, in pool order, that has never chatted.
//  4. Among experienced users waiting at least RepeatWaitThreshold, the
//     pair whose most recent shared chat is oldest; ties by pool order.
func (m *Matcher) FindMatch(ctx context.Context, pool []model.WaitingEntry, now time.Time) (*Pair, error) {
	if len(pool) < 2 {
		return nil, nil
	}

	var fresh, experienced []model.WaitingEntry
	for _, entry := range pool {
		chatted, err := m.history.HasAnyChat(ctx, entry.UserID)
		if err != nil {
			return nil, err
		}
		if chatted {
			experienced = append(experienced, entry)
		} else {
			fresh = append(fresh, entry)
		}
	}

	if len(fresh) >= 2 {
		return &Pair{A: fresh[0], B: fresh[1], Tier: TierFreshPair}, nil
	}
	if len(fresh) == 1 && len(experienced) >= 1 {
		return &Pair{A: fresh[0], B: experienced[0], Tier: TierFreshExperienced}, nil
	}

	// All waiting users are experienced from here on.
	for i := range experienced {
		for j := i + 1; j < len(experienced); j++ {
			last, err := m.history.LastChatBetween(ctx, experienced[i].UserID, experienced[j].UserID)
			if err != nil {
				return nil, err
			}
			if last == nil {
				return &Pair{A: experienced[i], B: experienced[j], Tier: TierNovelPair}, nil
			}
		}
	}

	return m.oldestRepeat(ctx, experienced, now)
}

// oldestRepeat selects, among experienced users past the wait threshold, the
// pair that repeated least recently. A pair with no resolvable shared chat
// time sorts as oldest possible.
func (m *Matcher) oldestRepeat(ctx context.Context, experienced []model.WaitingEntry, now time.Time) (*Pair, error) {
	var (
		best     *Pair
		bestTime *time.Time
		haveBest bool
	)

	for i := range experienced {
		if now.Sub(experienced[i].CreatedAt) < RepeatWaitThreshold {
			continue
		}
		for j := i + 1; j < len(experienced); j++ {
			if now.Sub(experienced[j].CreatedAt) < RepeatWaitThreshold {
				continue
			}

			last, err := m.history.LastChatBetween(ctx, experienced[i].UserID, experienced[j].UserID)
			if err != nil {
				return nil, err
			}

			if haveBest && !olderThan(last, bestTime) {
				continue
			}
			best = &Pair{A: experienced[i], B: experienced[j], Tier: TierOldestRepeat}
			bestTime = last
			haveBest = true
		}
	}
	return best, nil
}

// olderThan reports whether candidate is strictly older than current, where
// a nil time means "no shared chat could be resolved" and counts as oldest.
func olderThan(candidate, current *time.Time) bool {
	if candidate == nil {
		return current != nil
	}
	if current == nil {
		return false
	}
	return candidate.Before(*current)
}
