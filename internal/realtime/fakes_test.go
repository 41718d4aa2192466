package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// ---------- transport ----------

type fakeTransport struct {
	in   chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	out      [][]byte
	code     int
	reason   string
	failSend bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeTransport) Read() ([]byte, error) {
	select {
	case d := <-f.in:
		return d, nil
	case <-f.done:
		return nil, ErrClosed
	}
}

func (f *fakeTransport) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return ErrClosed
	default:
	}
	if f.failSend {
		return ErrSendQueueFull
	}
	f.out = append(f.out, p)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.code, f.reason = code, reason
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

func (f *fakeTransport) push(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	f.in <- b
}

func (f *fakeTransport) closed() (bool, int) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return true, f.code
	default:
		return false, 0
	}
}

// frames decodes everything sent so far into generic maps.
func (f *fakeTransport) frames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.out))
	for _, b := range f.out {
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) framesOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range f.frames() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// messages returns frames without a type field, i.e. message objects.
func (f *fakeTransport) messages() []map[string]any {
	var out []map[string]any
	for _, m := range f.frames() {
		if _, typed := m["type"]; !typed {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---------- collaborators ----------

type fakeVerifier map[string]string

func (v fakeVerifier) Verify(token string) (string, error) {
	if uid, ok := v[token]; ok {
		return uid, nil
	}
	return "", errors.New("bad token")
}

type fakeMembers struct {
	mu    sync.Mutex
	chats map[string]map[string]bool // chat -> user
	err   error
}

func newFakeMembers() *fakeMembers { return &fakeMembers{chats: map[string]map[string]bool{}} }

func (m *fakeMembers) add(chatID string, users ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chats[chatID] == nil {
		m.chats[chatID] = map[string]bool{}
	}
	for _, u := range users {
		m.chats[chatID][u] = true
	}
}

func (m *fakeMembers) remove(chatID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats[chatID], userID)
}

func (m *fakeMembers) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.chats[chatID][userID], nil
}

func (m *fakeMembers) ListMemberships(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []string
	for chatID, users := range m.chats {
		if users[userID] {
			out = append(out, chatID)
		}
	}
	sort.Strings(out)
	return out, nil
}

var (
	errNotMember = errors.New("not a member")
	errKeyTaken  = errors.New("key owned by another sender")
)

// fakeStore is an in-memory MessageStore with the same idempotency and
// read-authorization rules as the database-backed service.
type fakeStore struct {
	members *fakeMembers

	mu    sync.Mutex
	byKey map[string]*domain.Message
	byID  map[string]*domain.Message
	sends int

	// When set, MarkRead signals readEntered after its writes and then
	// waits for readRelease.
	readEntered chan struct{}
	readRelease chan struct{}
}

func newFakeStore(m *fakeMembers) *fakeStore {
	return &fakeStore{members: m, byKey: map[string]*domain.Message{}, byID: map[string]*domain.Message{}}
}

func (s *fakeStore) Send(ctx context.Context, userID, chatID, text, key string) (*domain.Message, bool, error) {
	if ok, _ := s.members.IsMember(ctx, chatID, userID); !ok {
		return nil, false, errNotMember
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	if m, ok := s.byKey[key]; ok {
		if m.SenderID != userID {
			return nil, false, errKeyTaken
		}
		cp := *m
		return &cp, false, nil
	}
	m := &domain.Message{
		ID: uuid.NewString(), ChatID: chatID, SenderID: userID, Text: text,
		ClientMsgID: key, Timestamp: time.Now().UTC(),
	}
	s.byKey[key], s.byID[m.ID] = m, m
	cp := *m
	return &cp, true, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, userID string, ids []string) ([]domain.Message, error) {
	out := s.markRead(ctx, userID, ids)
	if s.readEntered != nil {
		s.readEntered <- struct{}{}
		<-s.readRelease
	}
	return out, nil
}

func (s *fakeStore) ChatIDsOf(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, id := range ids {
		if m, ok := s.byID[id]; ok && !seen[m.ChatID] {
			seen[m.ChatID] = true
			out = append(out, m.ChatID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeStore) markRead(ctx context.Context, userID string, ids []string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Message{}
	for _, id := range ids {
		m, ok := s.byID[id]
		if !ok || m.IsRead || m.SenderID == userID {
			continue
		}
		if member, _ := s.members.IsMember(ctx, m.ChatID, userID); !member {
			continue
		}
		m.IsRead = true
		out = append(out, *m)
	}
	return out
}

func (s *fakeStore) rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
