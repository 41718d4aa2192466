package realtime

import (
	"sort"
	"sync"
)

// roomLocks hands out one mutex per chat. Entries are created on first use
// and dropped once nobody holds or waits for them, so a slow writer in one
// chat never delays another chat.
type roomLocks struct {
	mu    sync.Mutex
	rooms map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{rooms: make(map[string]*roomLock)}
}

// lock acquires the lock of every chat in chatIDs and returns the function
// that releases them. Locks are taken in sorted order, so callers holding
// overlapping sets cannot deadlock.
func (l *roomLocks) lock(chatIDs ...string) (unlock func()) {
	ids := make([]string, 0, len(chatIDs))
	seen := make(map[string]struct{}, len(chatIDs))
	for _, id := range chatIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	held := make([]*roomLock, len(ids))
	l.mu.Lock()
	for i, id := range ids {
		rl := l.rooms[id]
		if rl == nil {
			rl = &roomLock{}
			l.rooms[id] = rl
		}
		rl.refs++
		held[i] = rl
	}
	l.mu.Unlock()

	for _, rl := range held {
		rl.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
		l.mu.Lock()
		for i, id := range ids {
			if held[i].refs--; held[i].refs == 0 {
				delete(l.rooms, id)
			}
		}
		l.mu.Unlock()
	}
}

// size reports how many chats currently have a lock entry.
func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
