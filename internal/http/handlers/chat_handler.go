// Chat HTTP handlers.
//
// This file exposes REST endpoints for chat resources:
//   - POST   /chats                          (create group or personal chat)
//   - GET    /chats/my                       (list, ETag support)
//   - GET    /chats/{id}                     (member only)
//   - GET    /chats/{id}/participants        (member only)
//   - POST   /chats/{id}/members             (owner/admin)
//   - DELETE /chats/{id}/members/{user_id}   (owner/admin)
//   - DELETE /chats/{id}/leave
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/repo"
	"github.com/tbourn/go-realtime-chat/internal/services"
)

//
// Service contracts (context-aware)
//

// UserService defines account operations consumed by HTTP handlers.
type UserService interface {
	Register(ctx context.Context, name, email, password string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (string, *domain.User, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context, offset, limit int) ([]domain.User, error)
}

// ChatService defines chat lifecycle and membership operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatService interface {
	// Create makes a chat owned by userID; existing is true when a personal
	// chat for the same pair already existed and was returned instead.
	Create(ctx context.Context, userID, title string, typ domain.ChatType, participantIDs []string) (*domain.Chat, bool, error)
	ListMine(ctx context.Context, userID string) ([]domain.Chat, error)
	Get(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	Participants(ctx context.Context, userID, chatID string) ([]domain.ChatParticipant, error)
	AddMember(ctx context.Context, actorID, chatID, userID string) (*domain.ChatParticipant, error)
	RemoveMember(ctx context.Context, actorID, chatID, userID string) error
	Leave(ctx context.Context, userID, chatID string) error
}

// MessageService defines the read side of messages: history, search and
// the stats behind history ETags.
type MessageService interface {
	History(ctx context.Context, userID, chatID string, limit, offset int) ([]domain.Message, int64, int, int, error)
	Search(ctx context.Context, userID, chatID, query string, k int) ([]services.SearchHit, error)
	Stats(ctx context.Context, userID, chatID string) (int64, *time.Time, error)
}

// LiveMessenger is the write side shared with the socket layer. Messages and
// read receipts posted over REST go through it so that live subscribers see
// them exactly as if they had arrived on a socket.
type LiveMessenger interface {
	SendMessage(ctx context.Context, userID, chatID, text, clientMsgID string) (*domain.Message, bool, error)
	MarkRead(ctx context.Context, userID string, ids []string) ([]domain.Message, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for users, chats, and messages.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	userSvc UserService
	chatSvc ChatService
	msgSvc  MessageService
	live    LiveMessenger

	tokenTTL     time.Duration
	secureCookie bool
}

// Option customizes Handlers.
type Option func(*Handlers)

// WithTokenCookie makes Login also set the access_token cookie with the given
// lifetime. secure marks the cookie HTTPS-only.
func WithTokenCookie(ttl time.Duration, secure bool) Option {
	return func(h *Handlers) {
		h.tokenTTL = ttl
		h.secureCookie = secure
	}
}

// New constructs and returns a Handlers instance bound to the given services.
func New(userSvc UserService, chatSvc ChatService, msgSvc MessageService, live LiveMessenger, opts ...Option) *Handlers {
	h := &Handlers{userSvc: userSvc, chatSvc: chatSvc, msgSvc: msgSvc, live: live}
	for _, o := range opts {
		o(h)
	}
	return h
}

// userID returns the authenticated caller set by middleware.RequireAuth.
func userID(c *gin.Context) string {
	uid, _ := middleware.UserID(c)
	return uid
}

//
// DTOs
//

// CreateChatRequest is the JSON payload for creating a chat.
type CreateChatRequest struct {
	// Title optionally sets the chat title; a default is used when empty.
	Title string `json:"title" example:"Weekend plans"`
	// Type is "group" or "personal".
	Type domain.ChatType `json:"type" binding:"required" example:"group"`
	// ParticipantIDs are the other members; the caller is added as owner.
	ParticipantIDs []string `json:"participant_ids" example:"4c8a0f2e-6b1d-4b4e-9a55-2f0d1c3e7b90"`
}

// AddMemberRequest is the JSON payload for adding a member to a group chat.
type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required" example:"4c8a0f2e-6b1d-4b4e-9a55-2f0d1c3e7b90"`
}

// ListChatsResponse wraps the caller's chats.
type ListChatsResponse struct {
	Chats []domain.Chat `json:"chats"`
}

// ListParticipantsResponse wraps a chat's participants.
type ListParticipantsResponse struct {
	Participants []domain.ChatParticipant `json:"participants"`
}

//
// Helpers
//

// chatIDParam reads and validates a UUID path parameter.
func chatIDParam(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a UUID")
		return "", false
	}
	return id, true
}

// weakETag sets a weak ETag and reports whether the client copy is current,
// in which case a 304 has already been written.
func weakETag(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Create a chat
// @Description Creates a group or personal chat with the caller as owner. A personal chat for an existing pair is returned with 200 instead of being created twice.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateChatRequest  true  "Create chat payload"
//
// @Success     201  {object}  domain.Chat
// @Success     200  {object}  domain.Chat  "Existing personal chat"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Participant not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	typ := domain.ChatType(strings.ToLower(strings.TrimSpace(string(req.Type))))

	ch, existing, err := h.chatSvc.Create(c.Request.Context(), userID(c), req.Title, typ, req.ParticipantIDs)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	if existing {
		ok(c, http.StatusOK, ch)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// ListMyChats godoc
// @ID          listMyChats
// @Summary     List my chats
// @Description Returns every chat the caller participates in, most recently active first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/my [get]
func (h *Handlers) ListMyChats(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.chatSvc.(*services.ChatService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.ChatsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			if weakETag(c, fmt.Sprintf(`W/"chats:%s:%d:%d"`, uid, count, ts)) {
				return
			}
		}
	}

	items, err := h.chatSvc.ListMine(ctx, uid)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListChatsResponse{Chats: items})
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	chatID, valid := chatIDParam(c, "id")
	if !valid {
		return
	}
	ch, err := h.chatSvc.Get(c.Request.Context(), userID(c), chatID)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, ch)
}

// ListParticipants godoc
// @ID          listParticipants
// @Summary     List chat participants
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.ListParticipantsResponse
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/participants [get]
func (h *Handlers) ListParticipants(c *gin.Context) {
	chatID, valid := chatIDParam(c, "id")
	if !valid {
		return
	}
	ps, err := h.chatSvc.Participants(c.Request.Context(), userID(c), chatID)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if ps == nil {
		ps = []domain.ChatParticipant{}
	}
	ok(c, http.StatusOK, ListParticipantsResponse{Participants: ps})
}

// AddMember godoc
// @ID          addChatMember
// @Summary     Add a member to a group chat
// @Description Owners and admins only. Personal chats cannot gain members.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                     true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.AddMemberRequest  true  "Member to add"
//
// @Success     201  {object} domain.ChatParticipant
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not allowed"
// @Failure     404  {object} handlers.ErrorResponse "Chat or user not found"
// @Failure     409  {object} handlers.ErrorResponse "Already a member"
// @Router      /chats/{id}/members [post]
func (h *Handlers) AddMember(c *gin.Context) {
	chatID, valid := chatIDParam(c, "id")
	if !valid {
		return
	}
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id required")
		return
	}
	p, err := h.chatSvc.AddMember(c.Request.Context(), userID(c), chatID, strings.TrimSpace(req.UserID))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusCreated, p)
}

// RemoveMember godoc
// @ID          removeChatMember
// @Summary     Remove a member from a chat
// @Description Owners and admins only; the owner cannot be removed. The removed user's live session stops receiving the room immediately.
// @Tags        Chats
// @Security    BearerAuth
//
// @Param       id       path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       user_id  path  string  true  "User ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not allowed"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/members/{user_id} [delete]
func (h *Handlers) RemoveMember(c *gin.Context) {
	chatID, valid := chatIDParam(c, "id")
	if !valid {
		return
	}
	if err := h.chatSvc.RemoveMember(c.Request.Context(), userID(c), chatID, c.Param("user_id")); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// LeaveChat godoc
// @ID          leaveChat
// @Summary     Leave a chat
// @Description Removes the caller from the chat. The owner cannot leave.
// @Tags        Chats
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not allowed"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/leave [delete]
func (h *Handlers) LeaveChat(c *gin.Context) {
	chatID, valid := chatIDParam(c, "id")
	if !valid {
		return
	}
	if err := h.chatSvc.Leave(c.Request.Context(), userID(c), chatID); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
