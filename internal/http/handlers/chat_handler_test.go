package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/services"
)

func chatHandlers(f *fakeChats) *Handlers {
	return New(&fakeUsers{}, f, &fakeMessages{}, &fakeLive{})
}

func TestCreateChat(t *testing.T) {
	peer := uuid.NewString()
	var gotType domain.ChatType
	var existing bool
	f := &fakeChats{
		create: func(userID, title string, typ domain.ChatType, ids []string) (*domain.Chat, bool, error) {
			gotType = typ
			if typ == "bogus" {
				return nil, false, services.ErrInvalidChatType
			}
			if typ == domain.ChatPersonal && len(ids) != 1 {
				return nil, false, services.ErrPersonalChatPeers
			}
			return &domain.Chat{ID: uuid.NewString(), Title: title, Type: typ}, existing, nil
		},
	}
	r := newTestEngine(chatHandlers(f))

	w := call(r, http.MethodPost, "/chats", "u1", map[string]any{"type": " Group ", "title": "Team"})
	expect(t, w, http.StatusCreated)
	if gotType != domain.ChatGroup {
		t.Fatalf("type should be normalized, got %q", gotType)
	}

	existing = true
	w = call(r, http.MethodPost, "/chats", "u1", map[string]any{"type": "personal", "participant_ids": []string{peer}})
	expect(t, w, http.StatusOK)

	w = call(r, http.MethodPost, "/chats", "u1", map[string]any{"type": "personal"})
	expect(t, w, http.StatusBadRequest)
	if errCode(t, w) != ErrCodeBadRequest {
		t.Fatalf("personal without peer: %s", w.Body.String())
	}

	w = call(r, http.MethodPost, "/chats", "u1", map[string]any{"type": "bogus"})
	expect(t, w, http.StatusBadRequest)

	w = call(r, http.MethodPost, "/chats", "u1", "{not json")
	expect(t, w, http.StatusBadRequest)

	w = call(r, http.MethodPost, "/chats", "u1", map[string]any{"title": "missing type"})
	expect(t, w, http.StatusBadRequest)
}

func TestListMyChats(t *testing.T) {
	f := &fakeChats{
		listMine: func(userID string) ([]domain.Chat, error) {
			return []domain.Chat{{ID: "c1", Title: userID}}, nil
		},
	}
	r := newTestEngine(chatHandlers(f))

	w := call(r, http.MethodGet, "/chats/my", "u1", nil)
	expect(t, w, http.StatusOK)
	var resp ListChatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Chats) != 1 || resp.Chats[0].Title != "u1" {
		t.Fatalf("unexpected chats: %+v", resp.Chats)
	}
}

func TestGetChat_ErrorMapping(t *testing.T) {
	member, outsider, missing := uuid.NewString(), uuid.NewString(), uuid.NewString()
	f := &fakeChats{
		get: func(userID, chatID string) (*domain.Chat, error) {
			switch chatID {
			case missing:
				return nil, services.ErrChatNotFound
			case outsider:
				return nil, services.ErrNotMember
			}
			return &domain.Chat{ID: chatID}, nil
		},
	}
	r := newTestEngine(chatHandlers(f))

	expect(t, call(r, http.MethodGet, "/chats/"+member, "u1", nil), http.StatusOK)

	w := call(r, http.MethodGet, "/chats/"+outsider, "u1", nil)
	expect(t, w, http.StatusForbidden)
	if errCode(t, w) != ErrCodeNotMember {
		t.Fatalf("code: %s", w.Body.String())
	}

	w = call(r, http.MethodGet, "/chats/"+missing, "u1", nil)
	expect(t, w, http.StatusNotFound)

	w = call(r, http.MethodGet, "/chats/not-a-uuid", "u1", nil)
	expect(t, w, http.StatusBadRequest)
}

func TestListParticipants_EmptyIsArray(t *testing.T) {
	f := &fakeChats{
		participants: func(string, string) ([]domain.ChatParticipant, error) { return nil, nil },
	}
	r := newTestEngine(chatHandlers(f))

	w := call(r, http.MethodGet, "/chats/"+uuid.NewString()+"/participants", "u1", nil)
	expect(t, w, http.StatusOK)
	if got := w.Body.String(); got != `{"participants":[]}` {
		t.Fatalf("body = %s", got)
	}
}

func TestMembershipEndpoints(t *testing.T) {
	chatID := uuid.NewString()
	var removed, left []string
	f := &fakeChats{
		addMember: func(actorID, cid, userID string) (*domain.ChatParticipant, error) {
			switch userID {
			case "dup":
				return nil, services.ErrAlreadyMember
			case "ghost":
				return nil, services.ErrUserNotFound
			}
			if actorID != "owner" {
				return nil, services.ErrNotManager
			}
			return &domain.ChatParticipant{ChatID: cid, UserID: userID, Role: domain.RoleMember}, nil
		},
		removeMember: func(actorID, cid, userID string) error {
			if userID == "owner" {
				return services.ErrCannotRemoveOwner
			}
			removed = append(removed, userID)
			return nil
		},
		leave: func(userID, cid string) error {
			left = append(left, userID)
			return nil
		},
	}
	r := newTestEngine(chatHandlers(f))
	base := "/chats/" + chatID

	expect(t, call(r, http.MethodPost, base+"/members", "owner", map[string]string{"user_id": "bob"}), http.StatusCreated)
	expect(t, call(r, http.MethodPost, base+"/members", "owner", map[string]string{"user_id": "dup"}), http.StatusConflict)
	expect(t, call(r, http.MethodPost, base+"/members", "owner", map[string]string{"user_id": "ghost"}), http.StatusNotFound)
	expect(t, call(r, http.MethodPost, base+"/members", "bob", map[string]string{"user_id": "carol"}), http.StatusForbidden)
	expect(t, call(r, http.MethodPost, base+"/members", "owner", map[string]string{"user_id": "  "}), http.StatusBadRequest)

	expect(t, call(r, http.MethodDelete, base+"/members/bob", "owner", nil), http.StatusNoContent)
	expect(t, call(r, http.MethodDelete, base+"/members/owner", "owner", nil), http.StatusForbidden)
	expect(t, call(r, http.MethodDelete, base+"/leave", "bob", nil), http.StatusNoContent)

	if len(removed) != 1 || removed[0] != "bob" || len(left) != 1 || left[0] != "bob" {
		t.Fatalf("removed=%v left=%v", removed, left)
	}
}
