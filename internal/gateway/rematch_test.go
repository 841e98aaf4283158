package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

// fakeQueue is an in-memory queueChecker.
type fakeQueue struct {
	mu     sync.Mutex
	queued map[string]bool
}

func newFakeQueue(userIDs ...string) *fakeQueue {
	q := &fakeQueue{queued: make(map[string]bool)}
	for _, id := range userIDs {
		q.queued[id] = true
	}
	return q
}

func (q *fakeQueue) Exists(_ context.Context, userID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued[userID], nil
}

func (q *fakeQueue) leave(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queued, userID)
}

// collectAttempts returns an attempt callback that records fired user IDs on
// a channel.
func collectAttempts() (func(string, model.Scope), chan string) {
	fired := make(chan string, 8)
	return func(userID string, _ model.Scope) { fired <- userID }, fired
}

func TestRematch_FiresForQueuedUser(t *testing.T) {
	attempt, fired := collectAttempts()
	r := newRematchScheduler(10*time.Millisecond, newFakeQueue("alice"), attempt)

	r.Schedule("alice", model.Scope("org-1"))

	select {
	case userID := <-fired:
		assert.Equal(t, "alice", userID)
	case <-time.After(time.Second):
		t.Fatal("expected rematch attempt to fire")
	}
}

func TestRematch_SkipsUserWhoLeftQueue(t *testing.T) {
	attempt, fired := collectAttempts()
	queue := newFakeQueue("alice")
	r := newRematchScheduler(10*time.Millisecond, queue, attempt)

	r.Schedule("alice", model.Scope("org-1"))
	queue.leave("alice")

	select {
	case <-fired:
		t.Fatal("attempt must not fire for a user no longer queued")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRematch_CancelDisarmsTimer(t *testing.T) {
	attempt, fired := collectAttempts()
	r := newRematchScheduler(10*time.Millisecond, newFakeQueue("alice"), attempt)

	r.Schedule("alice", model.Scope("org-1"))
	r.Cancel("alice")

	select {
	case <-fired:
		t.Fatal("attempt must not fire after cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRematch_RescheduleResetsTimer(t *testing.T) {
	attempt, fired := collectAttempts()
	r := newRematchScheduler(50*time.Millisecond, newFakeQueue("alice"), attempt)

	r.Schedule("alice", model.Scope("org-1"))
	time.Sleep(30 * time.Millisecond)
	r.Schedule("alice", model.Scope("org-1"))

	// The original timer would have fired by now; the reset one must not
	// have yet.
	select {
	case <-fired:
		t.Fatal("timer fired before the reset delay elapsed")
	case <-time.After(30 * time.Millisecond):
	}

	select {
	case userID := <-fired:
		assert.Equal(t, "alice", userID)
	case <-time.After(time.Second):
		t.Fatal("expected the rescheduled attempt to fire")
	}
}

func TestRematch_StopDisarmsAllTimers(t *testing.T) {
	attempt, fired := collectAttempts()
	r := newRematchScheduler(10*time.Millisecond, newFakeQueue("alice", "bob"), attempt)

	r.Schedule("alice", model.Scope("org-1"))
	r.Schedule("bob", model.Scope("org-1"))
	r.Stop()

	select {
	case <-fired:
		t.Fatal("no attempt may fire after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}
