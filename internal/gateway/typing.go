package gateway

import (
	"sync"
	"time"
)

// pairKey identifies one directed typing indicator.
type pairKey struct {
	senderID   string
	receiverID string
}

// TypingTracker owns the auto-expiring typing indicators: at most one
// pending timer per (sender, receiver) pair. Refreshing replaces the
// pending timer instead of stacking a new one, so a burst of
// typing_start events produces exactly one expiry, measured from the
// last refresh.
type TypingTracker struct {
	mu     sync.Mutex
	timers map[pairKey]*time.Timer
	expiry time.Duration
}

// NewTypingTracker creates a tracker with the given quiet period.
func NewTypingTracker(expiry time.Duration) *TypingTracker {
	return &TypingTracker{
		timers: make(map[pairKey]*time.Timer),
		expiry: expiry,
	}
}

// Refresh schedules (or reschedules) the expiry for the pair. expire runs
// once, after the quiet period, unless the pair is refreshed or cancelled
// first.
func (t *TypingTracker) Refresh(senderID, receiverID string, expire func()) {
	key := pairKey{senderID, receiverID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[key]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(t.expiry, func() {
		t.mu.Lock()
		// A timer that lost a Stop race must not fire for a newer
		// registration of the same pair.
		if t.timers[key] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		t.mu.Unlock()

		expire()
	})
	t.timers[key] = timer
}

// Cancel drops the pending timer for the pair. Idempotent.
func (t *TypingTracker) Cancel(senderID, receiverID string) bool {
	key := pairKey{senderID, receiverID}

	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// CancelAll drops every pending timer where senderID is the typist. Runs
// on disconnect so no timer outlives its owning connection.
func (t *TypingTracker) CancelAll(senderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.timers {
		if key.senderID == senderID {
			timer.Stop()
			delete(t.timers, key)
		}
	}
}

// Pending reports whether a timer is outstanding for the pair.
func (t *TypingTracker) Pending(senderID, receiverID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[pairKey{senderID, receiverID}]
	return ok
}

// Stop cancels everything. Used at gateway shutdown.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
