package memory

import (
	"context"
	"sync"
	"time"
)

// RateLimiterImpl is a sliding-window limiter: at most limit reservations in
// any window.
type RateLimiterImpl struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	stamps []time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiterImpl {
	return &RateLimiterImpl{limit: limit, window: window, now: time.Now}
}

func (l *RateLimiterImpl) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *RateLimiterImpl) Reserve(context.Context) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	l.stamps = l.stamps[i:]
	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0, nil
	}
	return l.stamps[0].Add(l.window).Sub(now), nil
}
