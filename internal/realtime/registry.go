package realtime

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one authenticated live connection. Its subscription set is
// owned by the Registry and only read or written under the registry lock.
type Session struct {
	ID     string
	UserID string

	transport Transport
	rooms     map[string]struct{}
}

// Send queues payload on the session's transport.
func (s *Session) Send(payload []byte) error { return s.transport.Send(payload) }

// Close closes the session's transport with the given close code.
func (s *Session) Close(code int, reason string) error { return s.transport.Close(code, reason) }

// Registry tracks at most one live session per user, the rooms each session
// listens to, and the reverse index room -> users.
//
// A single mutex guards both maps and the session gauge, so the gauge moves
// in step with the session map. No method performs transport I/O while
// holding it; transports being replaced or shut down are closed after the
// lock is released.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	rooms    map[string]map[string]struct{}
}

// NewRegistry returns an empty registry. Every registry reports its live
// session count through the chat_ws_sessions_active gauge.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Register installs a new session for userID with an empty subscription set.
// An existing session for the same user is detached and its transport is
// closed with a normal-closure code.
func (r *Registry) Register(userID string, t Transport) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		transport: t,
		rooms:     make(map[string]struct{}),
	}

	r.mu.Lock()
	old := r.sessions[userID]
	if old != nil {
		r.detachLocked(old)
	} else {
		wsSessions.Inc()
	}
	r.sessions[userID] = s
	r.mu.Unlock()

	if old != nil {
		_ = old.transport.Close(websocket.CloseNormalClosure, "superseded by a newer connection")
	}
	return s
}

// Unregister drops whatever session userID has. It is a no-op when absent.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[userID]; s != nil {
		r.detachLocked(s)
		wsSessions.Dec()
	}
}

// Remove drops s only if it is still the user's current session, and returns
// the rooms it was subscribed to at that moment. ok is false when s was
// already removed or superseded, so exactly one caller ever observes ok.
func (r *Registry) Remove(s *Session) (rooms []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.UserID] != s {
		return nil, false
	}
	rooms = sortedKeys(s.rooms)
	r.detachLocked(s)
	wsSessions.Dec()
	return rooms, true
}

// Lookup returns the current session for userID.
func (r *Registry) Lookup(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Subscribe adds roomID to the user's session. It reports whether the
// subscription is new; a user without a session is ignored.
func (r *Registry) Subscribe(userID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[userID]
	if s == nil {
		return false
	}
	return r.subscribeLocked(s, roomID)
}

// SubscribeMany seeds several rooms at once.
func (r *Registry) SubscribeMany(userID string, roomIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[userID]
	if s == nil {
		return
	}
	for _, id := range roomIDs {
		r.subscribeLocked(s, id)
	}
}

// Unsubscribe removes roomID from the user's session and reports whether it
// was subscribed.
func (r *Registry) Unsubscribe(userID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[userID]
	if s == nil {
		return false
	}
	if _, ok := s.rooms[roomID]; !ok {
		return false
	}
	delete(s.rooms, roomID)
	r.unindexLocked(roomID, userID)
	return true
}

// ListSubscribers returns the users currently listening to roomID, sorted.
func (r *Registry) ListSubscribers(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.rooms[roomID])
}

// Snapshot returns the rooms userID currently listens to, sorted. It is empty
// when the user has no session.
func (r *Registry) Snapshot(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[userID]
	if s == nil {
		return []string{}
	}
	return sortedKeys(s.rooms)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll detaches every session and then closes their transports.
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.rooms = make(map[string]map[string]struct{})
	wsSessions.Sub(float64(len(all)))
	r.mu.Unlock()

	for _, s := range all {
		_ = s.transport.Close(code, reason)
	}
	return len(all)
}

// recipients copies the sessions subscribed to roomID, minus exclude.
func (r *Registry) recipients(roomID, exclude string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := r.rooms[roomID]
	out := make([]*Session, 0, len(users))
	for uid := range users {
		if uid == exclude {
			continue
		}
		if s := r.sessions[uid]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// onlineByRoom maps each of roomIDs to its subscribers other than self.
func (r *Registry) onlineByRoom(roomIDs []string, self string) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(roomIDs))
	for _, id := range roomIDs {
		others := make([]string, 0, len(r.rooms[id]))
		for uid := range r.rooms[id] {
			if uid != self {
				others = append(others, uid)
			}
		}
		sort.Strings(others)
		out[id] = others
	}
	return out
}

func (r *Registry) subscribeLocked(s *Session, roomID string) bool {
	if roomID == "" {
		return false
	}
	if _, ok := s.rooms[roomID]; ok {
		return false
	}
	s.rooms[roomID] = struct{}{}
	users := r.rooms[roomID]
	if users == nil {
		users = make(map[string]struct{})
		r.rooms[roomID] = users
	}
	users[s.UserID] = struct{}{}
	return true
}

func (r *Registry) detachLocked(s *Session) {
	for roomID := range s.rooms {
		r.unindexLocked(roomID, s.UserID)
	}
	delete(r.sessions, s.UserID)
}

func (r *Registry) unindexLocked(roomID, userID string) {
	users := r.rooms[roomID]
	delete(users, userID)
	if len(users) == 0 {
		delete(r.rooms, roomID)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
