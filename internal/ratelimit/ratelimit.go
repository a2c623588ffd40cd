package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/callsight/callsight/internal/pipeline"
)

// Limiter is an in-memory sliding-window rate limiter keyed by caller id.
// It implements pipeline.Authorizer: a caller may start at most Limit
// pipeline runs per Window.
type Limiter struct {
	Limit  int
	Window time.Duration

	mu    sync.Mutex
	seen  map[string][]time.Time
	clock func() time.Time
}

// New creates a limiter allowing limit invocations per window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		Limit:  limit,
		Window: window,
		seen:   make(map[string][]time.Time),
		clock:  time.Now,
	}
}

// Authorize records the attempt and denies callers over their budget.
// Callers with an empty id share one bucket.
func (l *Limiter) Authorize(_ context.Context, callerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	cutoff := now.Add(-l.Window)

	recent := l.seen[callerID][:0]
	for _, t := range l.seen[callerID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.Limit {
		l.seen[callerID] = recent
		return &pipeline.AuthError{Reason: "rate limit exceeded"}
	}

	l.seen[callerID] = append(recent, now)
	return nil
}

// Prune drops buckets with no activity inside the window. Called from the
// cleanup scheduler so long-lived processes do not accumulate dead callers.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock().Add(-l.Window)
	removed := 0
	for id, stamps := range l.seen {
		live := false
		for _, t := range stamps {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.seen, id)
			removed++
		}
	}
	return removed
}
