package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/services"
)

// Each fake answers through an optional func field; unset fields return zero values.

type fakeUsers struct {
	register func(name, email, password string) (*domain.User, error)
	login    func(email, password string) (string, *domain.User, error)
	get      func(id string) (*domain.User, error)
	list     func(offset, limit int) ([]domain.User, error)
}

func (f *fakeUsers) Register(_ context.Context, name, email, password string) (*domain.User, error) {
	return f.register(name, email, password)
}
func (f *fakeUsers) Login(_ context.Context, email, password string) (string, *domain.User, error) {
	return f.login(email, password)
}
func (f *fakeUsers) Get(_ context.Context, id string) (*domain.User, error) { return f.get(id) }
func (f *fakeUsers) List(_ context.Context, offset, limit int) ([]domain.User, error) {
	return f.list(offset, limit)
}

type fakeChats struct {
	create       func(userID, title string, typ domain.ChatType, ids []string) (*domain.Chat, bool, error)
	listMine     func(userID string) ([]domain.Chat, error)
	get          func(userID, chatID string) (*domain.Chat, error)
	participants func(userID, chatID string) ([]domain.ChatParticipant, error)
	addMember    func(actorID, chatID, userID string) (*domain.ChatParticipant, error)
	removeMember func(actorID, chatID, userID string) error
	leave        func(userID, chatID string) error
}

func (f *fakeChats) Create(_ context.Context, userID, title string, typ domain.ChatType, ids []string) (*domain.Chat, bool, error) {
	return f.create(userID, title, typ, ids)
}
func (f *fakeChats) ListMine(_ context.Context, userID string) ([]domain.Chat, error) {
	return f.listMine(userID)
}
func (f *fakeChats) Get(_ context.Context, userID, chatID string) (*domain.Chat, error) {
	return f.get(userID, chatID)
}
func (f *fakeChats) Participants(_ context.Context, userID, chatID string) ([]domain.ChatParticipant, error) {
	return f.participants(userID, chatID)
}
func (f *fakeChats) AddMember(_ context.Context, actorID, chatID, userID string) (*domain.ChatParticipant, error) {
	return f.addMember(actorID, chatID, userID)
}
func (f *fakeChats) RemoveMember(_ context.Context, actorID, chatID, userID string) error {
	return f.removeMember(actorID, chatID, userID)
}
func (f *fakeChats) Leave(_ context.Context, userID, chatID string) error {
	return f.leave(userID, chatID)
}

type fakeMessages struct {
	history func(userID, chatID string, limit, offset int) ([]domain.Message, int64, int, int, error)
	search  func(userID, chatID, q string, k int) ([]services.SearchHit, error)
	stats   func(userID, chatID string) (int64, *time.Time, error)
}

func (f *fakeMessages) History(_ context.Context, userID, chatID string, limit, offset int) ([]domain.Message, int64, int, int, error) {
	return f.history(userID, chatID, limit, offset)
}
func (f *fakeMessages) Search(_ context.Context, userID, chatID, q string, k int) ([]services.SearchHit, error) {
	return f.search(userID, chatID, q, k)
}
func (f *fakeMessages) Stats(_ context.Context, userID, chatID string) (int64, *time.Time, error) {
	if f.stats == nil {
		return 0, nil, services.ErrNotMember
	}
	return f.stats(userID, chatID)
}

type fakeLive struct {
	send     func(userID, chatID, text, key string) (*domain.Message, bool, error)
	markRead func(userID string, ids []string) ([]domain.Message, error)
}

func (f *fakeLive) SendMessage(_ context.Context, userID, chatID, text, key string) (*domain.Message, bool, error) {
	return f.send(userID, chatID, text, key)
}
func (f *fakeLive) MarkRead(_ context.Context, userID string, ids []string) ([]domain.Message, error) {
	return f.markRead(userID, ids)
}

const testUserHeader = "X-Test-User"

// newTestEngine mounts h's routes behind a stand-in for RequireAuth that
// trusts the X-Test-User header.
func newTestEngine(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/users/register", h.Register)
	r.POST("/users/login", h.Login)

	a := r.Group("", func(c *gin.Context) {
		if uid := c.GetHeader(testUserHeader); uid != "" {
			c.Set(middleware.UserIDKey, uid)
		}
		c.Next()
	}, middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	a.GET("/users", h.ListUsers)
	a.GET("/users/me", h.Me)
	a.GET("/users/:id", h.GetUser)
	a.POST("/chats", h.CreateChat)
	a.GET("/chats/my", h.ListMyChats)
	a.GET("/chats/:id", h.GetChat)
	a.GET("/chats/:id/participants", h.ListParticipants)
	a.POST("/chats/:id/members", h.AddMember)
	a.DELETE("/chats/:id/members/:user_id", h.RemoveMember)
	a.DELETE("/chats/:id/leave", h.LeaveChat)
	a.POST("/messages", h.PostMessage)
	a.PATCH("/messages/read", h.MarkRead)
	a.GET("/messages/:chat_id", h.ListMessages)
	a.GET("/messages/:chat_id/search", h.SearchMessages)
	return r
}

func call(r *gin.Engine, method, path, uid string, body any, hdr ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.Header.Set(testUserHeader, uid)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error envelope: %v (%s)", err, w.Body.String())
	}
	if e.RequestID == "" {
		t.Fatalf("envelope missing request_id: %s", w.Body.String())
	}
	return e.Code
}

func expect(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, status, w.Body.String())
	}
}
