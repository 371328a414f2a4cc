package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// sendLimiter throttles send_message per user id. Token bucket per user,
// created on first send, dropped when the user goes offline.
type sendLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newSendLimiter(perMinute, burst int) *sendLimiter {
	return &sendLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether userID may send another message now.
func (l *sendLimiter) Allow(userID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Forget drops the per-user state. Called when a user disconnects so the
// map tracks only live users.
func (l *sendLimiter) Forget(userID string) {
	l.mu.Lock()
	delete(l.limiters, userID)
	l.mu.Unlock()
}
