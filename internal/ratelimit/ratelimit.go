package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrLimited is returned by callers that refuse a request the limiter denied.
var ErrLimited = errors.New("too many manual digest requests")

// TriggerLimiter throttles manual digest requests. It is shared by every
// chat, so one user spamming /digest cannot start a run per message.
type TriggerLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration

	mu       sync.Mutex
	allowed  int
	rejected int
	lastDeny time.Time
}

// NewTriggerLimiter allows burst requests at once and then one every
// minInterval. A minInterval of 0 disables limiting.
func NewTriggerLimiter(minInterval time.Duration, burst int) *TriggerLimiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &TriggerLimiter{
		limiter:  rate.NewLimiter(limit, max(burst, 1)),
		interval: minInterval,
	}
}

// Allow reports whether a request may proceed now and counts the outcome.
func (l *TriggerLimiter) Allow() bool {
	return l.AllowAt(time.Now())
}

// AllowAt is Allow with an explicit clock.
func (l *TriggerLimiter) AllowAt(now time.Time) bool {
	ok := l.limiter.AllowN(now, 1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if ok {
		l.allowed++
	} else {
		l.rejected++
		l.lastDeny = now
	}
	return ok
}

// GetStats returns current limiter statistics
func (l *TriggerLimiter) GetStats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := map[string]interface{}{
		"allowed":  l.allowed,
		"rejected": l.rejected,
		"burst":    l.limiter.Burst(),
	}
	if l.interval > 0 {
		stats["min_interval_ms"] = l.interval.Milliseconds()
	}
	if !l.lastDeny.IsZero() {
		stats["last_rejected"] = l.lastDeny.Format(time.RFC3339)
	}
	return stats
}
