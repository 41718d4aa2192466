package realtime

import (
	"reflect"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_SupersedesPreviousSession(t *testing.T) {
	r := NewRegistry()
	first, second := newFakeTransport(), newFakeTransport()

	s1 := r.Register("u1", first)
	r.SubscribeMany("u1", []string{"a", "b"})

	s2 := r.Register("u1", second)
	if s1.ID == s2.ID {
		t.Fatalf("expected a new session id")
	}
	if closed, code := first.closed(); !closed || code != websocket.CloseNormalClosure {
		t.Fatalf("old transport closed=%v code=%d; want normal closure", closed, code)
	}
	if closed, _ := second.closed(); closed {
		t.Fatalf("new transport must stay open")
	}
	if got := r.Snapshot("u1"); len(got) != 0 {
		t.Fatalf("new session should start empty, got %v", got)
	}
	if got := r.ListSubscribers("a"); len(got) != 0 {
		t.Fatalf("old subscriptions leaked into reverse index: %v", got)
	}
	if cur, _ := r.Lookup("u1"); cur != s2 {
		t.Fatalf("Lookup returned stale session")
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d; want 1", r.Count())
	}
}

func TestRemove_OnlyCurrentSessionOnce(t *testing.T) {
	r := NewRegistry()
	old := r.Register("u1", newFakeTransport())
	cur := r.Register("u1", newFakeTransport())
	r.Subscribe("u1", "room")

	if _, ok := r.Remove(old); ok {
		t.Fatalf("superseded session must not remove its replacement")
	}
	if got := r.ListSubscribers("room"); !reflect.DeepEqual(got, []string{"u1"}) {
		t.Fatalf("replacement lost subscriptions: %v", got)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rooms, ok := r.Remove(cur); ok {
				mu.Lock()
				wins++
				mu.Unlock()
				if !reflect.DeepEqual(rooms, []string{"room"}) {
					t.Errorf("captured rooms = %v", rooms)
				}
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("Remove succeeded %d times; want exactly 1", wins)
	}
	if r.Count() != 0 || len(r.ListSubscribers("room")) != 0 {
		t.Fatalf("registry not empty after remove")
	}
}

func TestSubscriptions_AndReverseIndex(t *testing.T) {
	r := NewRegistry()

	// no session: everything is a no-op
	if r.Subscribe("ghost", "a") {
		t.Fatalf("subscribe without session should be ignored")
	}
	r.SubscribeMany("ghost", []string{"a"})
	if r.Unsubscribe("ghost", "a") {
		t.Fatalf("unsubscribe without session should be ignored")
	}
	if got := r.Snapshot("ghost"); got == nil || len(got) != 0 {
		t.Fatalf("Snapshot(ghost) = %v; want empty", got)
	}

	r.Register("u1", newFakeTransport())
	r.Register("u2", newFakeTransport())
	r.SubscribeMany("u1", []string{"b", "a", "", "a"})
	if !r.Subscribe("u2", "a") {
		t.Fatalf("first subscribe should report new")
	}
	if r.Subscribe("u2", "a") {
		t.Fatalf("repeat subscribe should report existing")
	}

	if got := r.Snapshot("u1"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Snapshot(u1) = %v", got)
	}
	if got := r.ListSubscribers("a"); !reflect.DeepEqual(got, []string{"u1", "u2"}) {
		t.Fatalf("ListSubscribers(a) = %v", got)
	}

	if !r.Unsubscribe("u1", "a") || r.Unsubscribe("u1", "a") {
		t.Fatalf("unsubscribe should succeed once")
	}
	if got := r.ListSubscribers("a"); !reflect.DeepEqual(got, []string{"u2"}) {
		t.Fatalf("after unsubscribe ListSubscribers(a) = %v", got)
	}

	r.Unregister("u2")
	r.Unregister("u2")
	if got := r.ListSubscribers("a"); len(got) != 0 {
		t.Fatalf("unregister should clear reverse index, got %v", got)
	}

	online := r.onlineByRoom([]string{"b"}, "u1")
	if got := online["b"]; got == nil || len(got) != 0 {
		t.Fatalf("onlineByRoom should exclude self and be non-nil, got %v", got)
	}
}

func TestRecipients_ExcludeAndScope(t *testing.T) {
	r := NewRegistry()
	for _, u := range []string{"u1", "u2", "u3"} {
		r.Register(u, newFakeTransport())
	}
	r.SubscribeMany("u1", []string{"a"})
	r.SubscribeMany("u2", []string{"a", "b"})
	r.SubscribeMany("u3", []string{"b"})

	got := map[string]bool{}
	for _, s := range r.recipients("a", "u1") {
		got[s.UserID] = true
	}
	if !reflect.DeepEqual(got, map[string]bool{"u2": true}) {
		t.Fatalf("recipients(a, -u1) = %v", got)
	}
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeTransport(), newFakeTransport()
	r.Register("u1", a)
	r.Register("u2", b)
	r.Subscribe("u1", "room")

	if n := r.CloseAll(websocket.CloseGoingAway, "bye"); n != 2 {
		t.Fatalf("CloseAll = %d; want 2", n)
	}
	for _, tr := range []*fakeTransport{a, b} {
		if closed, code := tr.closed(); !closed || code != websocket.CloseGoingAway {
			t.Fatalf("transport closed=%v code=%d", closed, code)
		}
	}
	if r.Count() != 0 || len(r.ListSubscribers("room")) != 0 {
		t.Fatalf("registry should be empty")
	}
}

func TestRegistry_SessionGaugeFollowsSessions(t *testing.T) {
	base := testutil.ToFloat64(wsSessions)
	gauge := func() float64 { return testutil.ToFloat64(wsSessions) - base }
	r := NewRegistry()

	old := r.Register("u1", newFakeTransport())
	cur := r.Register("u1", newFakeTransport())
	r.Register("u2", newFakeTransport())
	if g := gauge(); g != 2 {
		t.Fatalf("gauge after supersede = %v; want 2", g)
	}

	// the superseded session's own teardown must not count again
	if _, ok := r.Remove(old); ok {
		t.Fatalf("superseded session should not be removable")
	}
	if g := gauge(); g != 2 {
		t.Fatalf("gauge after stale remove = %v; want 2", g)
	}
	if _, ok := r.Remove(cur); !ok {
		t.Fatalf("current session should be removable")
	}
	if _, ok := r.Remove(cur); ok {
		t.Fatalf("second remove of the same session reported ok")
	}
	r.Unregister("u2")
	r.Unregister("u2")
	if g := gauge(); g != 0 {
		t.Fatalf("gauge after removals = %v; want 0", g)
	}

	r.Register("u3", newFakeTransport())
	r.Register("u4", newFakeTransport())
	if n := r.CloseAll(websocket.CloseGoingAway, "bye"); n != 2 {
		t.Fatalf("CloseAll = %d", n)
	}
	if g := gauge(); g != 0 {
		t.Fatalf("gauge after CloseAll = %v; want 0", g)
	}
}
