package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Rendezvous/internal/core"
)

// ConnRateLimiter is a sliding-window limiter keyed by connection.
type ConnRateLimiter struct {
	mu       sync.Mutex
	history  map[core.SessionID][]time.Time
	muted    map[core.SessionID]bool
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewConnRateLimiter(limit int, interval time.Duration) *ConnRateLimiter {
	return &ConnRateLimiter{
		history:  make(map[core.SessionID][]time.Time),
		muted:    make(map[core.SessionID]bool),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt by sid. notify is true only for the first
// rejection since sid was last allowed through, so a flood earns one reply.
func (rl *ConnRateLimiter) Allow(sid core.SessionID) (ok, notify bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sid] = fresh
		notify = !rl.muted[sid]
		rl.muted[sid] = true
		return false, notify
	}
	rl.history[sid] = append(fresh, now)
	delete(rl.muted, sid)
	return true, false
}

// Forget drops the history of a closed connection.
func (rl *ConnRateLimiter) Forget(sid core.SessionID) {
	rl.mu.Lock()
	delete(rl.history, sid)
	delete(rl.muted, sid)
	rl.mu.Unlock()
}
