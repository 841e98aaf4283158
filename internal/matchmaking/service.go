package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloaktalk/cloaktalk/internal/metrics"
	"github.com/cloaktalk/cloaktalk/internal/model"
	"github.com/cloaktalk/cloaktalk/internal/store"
)

// maxMatchAttempts caps the purge-and-retry loop in TryMatch. Each iteration
// either commits, exits, or strictly shrinks the waiting pool, so the cap is
// only reached if the store is inconsistent.
const maxMatchAttempts = 16

// ErrNoOrganization is returned when a non-service user is enqueued without
// an organization scope. This is a caller contract violation, not a
// retryable condition: the accounts collaborator must have assigned one.
var ErrNoOrganization = errors.New("matchmaking: non-service user has no organization")

// WaitingList is the durable queue surface the service orchestrates.
// Implemented by store.WaitingListStore.
type WaitingList interface {
	Add(ctx context.Context, userID string, scope model.Scope) (bool, error)
	Remove(ctx context.Context, userID string, scope *model.Scope) (bool, error)
	Pool(ctx context.Context, scope model.Scope, includeCrossScope bool) ([]model.WaitingEntry, error)
}

// ChatIndex extends the matcher's history queries with the active-chat
// lookup the staleness defense needs. Implemented by store.ChatStore.
type ChatIndex interface {
	History
	ActiveChatFor(ctx context.Context, userID string) (*model.Chat, error)
}

// Service orchestrates the matcher and the session manager over the waiting
// list, defending against stale entries: a user who already holds an active
// chat must never be matched again.
type Service struct {
	waiting  WaitingList
	chats    ChatIndex
	matcher  *Matcher
	sessions *SessionManager
}

// NewService wires the orchestration service. The matcher shares the
// service's chat index as its history source.
func NewService(waiting WaitingList, chats ChatIndex, sessions *SessionManager) *Service {
	return &Service{
		waiting:  waiting,
		chats:    chats,
		matcher:  NewMatcher(chats),
		sessions: sessions,
	}
}

// AddToWaitingList enqueues a user under the given scope. It is idempotent:
// false means the user was already waiting there. Non-service users must
// carry an organization scope.
func (s *Service) AddToWaitingList(ctx context.Context, user *model.User, scope model.Scope) (bool, error) {
	if !user.ServiceAccount && scope.IsService() {
		return false, ErrNoOrganization
	}
	return s.waiting.Add(ctx, user.ID, scope)
}

// RemoveFromWaitingList dequeues a user, from one scope or (with nil) from
// all scopes. Returns whether anything was removed; removing an absent
// entry is not an error.
func (s *Service) RemoveFromWaitingList(ctx context.Context, userID string, scope *model.Scope) (bool, error) {
	return s.waiting.Remove(ctx, userID, scope)
}

// TryMatch asks the matcher for the best pair in the scope's pool and
// commits it. Candidates that already hold an active chat are purged from
// the waiting list and the decision is re-evaluated, so a stale entry can
// never produce a duplicate pairing. Returns nil when no pair is currently
// allowed.
func (s *Service) TryMatch(ctx context.Context, scope model.Scope, includeCrossScope bool) (*model.Chat, error) {
	start := time.Now()

	for attempt := 0; attempt < maxMatchAttempts; attempt++ {
		pool, err := s.waiting.Pool(ctx, scope, includeCrossScope)
		if err != nil {
			return nil, err
		}
		metrics.QueueDepth.WithLabelValues(scope.Channel()).Set(float64(len(pool)))

		pair, err := s.matcher.FindMatch(ctx, pool, time.Now())
		if err != nil {
			return nil, err
		}
		if pair == nil {
			return nil, nil
		}

		stale, err := s.purgeIfActive(ctx, pair.A.UserID)
		if err != nil {
			return nil, err
		}
		if staleB, err := s.purgeIfActive(ctx, pair.B.UserID); err != nil {
			return nil, err
		} else if staleB {
			stale = true
		}
		if stale {
			continue
		}

		chat, err := s.sessions.CreateChat(ctx, *pair, scope)
		if errors.Is(err, store.ErrActiveChatExists) {
			// Lost a commit race; the next iteration purges the loser.
			log.Printf("[matchmaking] commit conflict for %s/%s, retrying", pair.A.UserID, pair.B.UserID)
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.MatchesTotal.WithLabelValues(pair.Tier).Inc()
		metrics.MatchCommitDuration.Observe(time.Since(start).Seconds())
		log.Printf("[matchmaking] matched %s and %s (tier=%s chat=%s)",
			pair.A.UserID, pair.B.UserID, pair.Tier, chat.ID)
		return chat, nil
	}

	return nil, fmt.Errorf("matchmaking: match retry limit reached for scope %q", scope.Channel())
}

// purgeIfActive removes every waiting entry of a user who already holds an
// active chat. Returns whether the user was stale.
func (s *Service) purgeIfActive(ctx context.Context, userID string) (bool, error) {
	active, err := s.chats.ActiveChatFor(ctx, userID)
	if err != nil {
		return false, err
	}
	if active == nil {
		return false, nil
	}

	if _, err := s.waiting.Remove(ctx, userID, nil); err != nil {
		return false, err
	}
	metrics.StaleEntriesPurged.Inc()
	log.Printf("[matchmaking] purged stale waiting entry for %s (active chat %s)", userID, active.ID)
	return true, nil
}

// ActiveChat returns the user's active chat, or nil. By invariant there is
// at most one.
func (s *Service) ActiveChat(ctx context.Context, userID string) (*model.Chat, error) {
	return s.chats.ActiveChatFor(ctx, userID)
}

// EndChat deactivates a chat through the session manager. Returns false for
// an already-ended chat.
func (s *Service) EndChat(ctx context.Context, chatID string) (bool, error) {
	return s.sessions.EndChat(ctx, chatID)
}

// QueueStats summarizes the scope's pool for activity broadcasts: how many
// are waiting, the fresh/experienced split, and whether a match is currently
// possible.
func (s *Service) QueueStats(ctx context.Context, scope model.Scope) (model.QueueStats, error) {
	pool, err := s.waiting.Pool(ctx, scope, false)
	if err != nil {
		return model.QueueStats{}, err
	}

	stats := model.QueueStats{TotalWaiting: len(pool)}
	var experienced []model.WaitingEntry
	for _, entry := range pool {
		chatted, err := s.chats.HasAnyChat(ctx, entry.UserID)
		if err != nil {
			return model.QueueStats{}, err
		}
		if chatted {
			experienced = append(experienced, entry)
			stats.ExperiencedUsers++
		} else {
			stats.FreshUsers++
		}
	}

	if len(pool) < 2 {
		return stats, nil
	}
	if stats.FreshUsers >= 1 {
		stats.ReadyForMatching = true
		return stats, nil
	}

	now := time.Now()
	waitedLongEnough := 0
	for _, entry := range experienced {
		if now.Sub(entry.CreatedAt) >= RepeatWaitThreshold {
			waitedLongEnough++
		}
	}
	if waitedLongEnough >= 2 {
		stats.ReadyForMatching = true
		return stats, nil
	}

	for i := range experienced {
		for j := i + 1; j < len(experienced); j++ {
			last, err := s.chats.LastChatBetween(ctx, experienced[i].UserID, experienced[j].UserID)
			if err != nil {
				return model.QueueStats{}, err
			}
			if last == nil {
				stats.ReadyForMatching = true
				return stats, nil
			}
		}
	}
	return stats, nil
}
