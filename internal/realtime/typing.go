package realtime

import (
	"context"
	"sync"
	"time"
)

// DefaultTypingInterval is the minimum gap between two typing broadcasts
// for one user in one room.
const DefaultTypingInterval = time.Second

type typingKey struct{ user, room string }

// TypingThrottle rate-limits typing notifications per (user, room).
type TypingThrottle struct {
	mu   sync.Mutex
	last map[typingKey]time.Time
	now  func() time.Time
}

// NewTypingThrottle returns a throttle that reads the wall clock and starts
// with no recorded events.
func NewTypingThrottle() *TypingThrottle {
	return &TypingThrottle{last: make(map[typingKey]time.Time), now: time.Now}
}

// Allow reports whether a typing event from userID in roomID may be
// broadcast. A true result records the current time; a false result leaves
// the entry untouched.
func (t *TypingThrottle) Allow(userID, roomID string, interval time.Duration) bool {
	now := t.now()
	k := typingKey{userID, roomID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[k]; ok && now.Sub(last) < interval {
		return false
	}
	t.last[k] = now
	return true
}

// Prune forgets entries last used more than maxAge ago and returns how many
// were dropped.
func (t *TypingThrottle) Prune(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, last := range t.last {
		if last.Before(cutoff) {
			delete(t.last, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked (user, room) pairs.
func (t *TypingThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}

// RunJanitor prunes stale entries every maxAge until ctx is done.
func (t *TypingThrottle) RunJanitor(ctx context.Context, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	tick := time.NewTicker(maxAge)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.Prune(maxAge)
		}
	}
}
