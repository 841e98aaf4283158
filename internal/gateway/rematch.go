package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

// queueChecker re-validates queue membership when a rematch timer fires.
// Implemented by store.WaitingListStore.
type queueChecker interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// rematchScheduler holds at most one pending delayed match attempt per user.
// Scheduling again resets the timer; a match delivery or a queue leave
// cancels it. The attempt only runs if the user is still queued when the
// timer fires, so a user who left or got matched in the meantime is never
// re-matched on a stale timer.
type rematchScheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	delay   time.Duration
	queue   queueChecker
	attempt func(userID string, scope model.Scope)
}

func newRematchScheduler(delay time.Duration, queue queueChecker, attempt func(userID string, scope model.Scope)) *rematchScheduler {
	return &rematchScheduler{
		timers:  make(map[string]*time.Timer),
		delay:   delay,
		queue:   queue,
		attempt: attempt,
	}
}

// Schedule arms (or re-arms) the user's rematch timer.
func (r *rematchScheduler) Schedule(userID string, scope model.Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[userID]; ok {
		t.Stop()
	}
	r.timers[userID] = time.AfterFunc(r.delay, func() {
		r.fire(userID, scope)
	})
}

// Cancel disarms the user's rematch timer if one is pending.
func (r *rematchScheduler) Cancel(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[userID]; ok {
		t.Stop()
		delete(r.timers, userID)
	}
}

// Stop disarms every pending timer. Called on shutdown.
func (r *rematchScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, t := range r.timers {
		t.Stop()
		delete(r.timers, userID)
	}
}

// fire runs when a timer elapses: drop the timer entry, confirm the user is
// still queued, then run the attempt.
func (r *rematchScheduler) fire(userID string, scope model.Scope) {
	r.mu.Lock()
	delete(r.timers, userID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	stillQueued, err := r.queue.Exists(ctx, userID)
	cancel()
	if err != nil {
		log.Printf("[gateway] rematch queue check user=%s: %v", userID, err)
		return
	}
	if !stillQueued {
		return
	}

	r.attempt(userID, scope)
}
