// Package realtime is the live side of the chat backend: it authenticates
// websocket connections, tracks which users listen to which chats, and fans
// out new messages, read receipts, typing and presence to exactly the
// sessions subscribed to a chat.
//
// Message creation and read receipts are delegated to a MessageStore, which
// owns idempotency and authorization; the hub only sequences each accepted
// change with its broadcast.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// ErrUnauthorized is returned when a connection fails authentication.
var ErrUnauthorized = errors.New("unauthorized")

// TokenVerifier maps a bearer token to a user ID.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Membership answers who belongs to which chat. It is consulted on every
// call; the hub caches nothing.
type Membership interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	ListMemberships(ctx context.Context, userID string) ([]string, error)
}

// MessageStore persists messages and read state on behalf of a user.
// Send must be idempotent on clientMsgID, enforce membership, and refuse a
// clientMsgID owned by another sender; MarkRead must return only the
// messages it changed. ChatIDsOf names the chats a MarkRead over the same
// ids could touch.
type MessageStore interface {
	Send(ctx context.Context, userID, chatID, text, clientMsgID string) (*domain.Message, bool, error)
	MarkRead(ctx context.Context, userID string, ids []string) ([]domain.Message, error)
	ChatIDsOf(ctx context.Context, ids []string) ([]string, error)
}

// Hub owns the session registry and the typing throttle and drives every
// connection's protocol.
type Hub struct {
	reg      *Registry
	typing   *TypingThrottle
	tokens   TokenVerifier
	members  Membership
	messages MessageStore
	log      zerolog.Logger

	authTimeout    time.Duration
	typingInterval time.Duration
	frameRPS       float64
	frameBurst     int

	// rooms serializes persist+broadcast per chat so every subscriber sees
	// a chat's events in the order the store accepted them.
	rooms *roomLocks
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's base logger.
func WithLogger(l zerolog.Logger) Option { return func(h *Hub) { h.log = l } }

// WithAuthTimeout bounds how long a new connection may take to send its
// auth frame. Zero disables the bound.
func WithAuthTimeout(d time.Duration) Option { return func(h *Hub) { h.authTimeout = d } }

// WithTypingInterval sets the per-(user, chat) typing broadcast interval.
func WithTypingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.typingInterval = d
		}
	}
}

// WithFrameLimit caps inbound frames per connection; rps <= 0 disables it.
func WithFrameLimit(rps float64, burst int) Option {
	return func(h *Hub) { h.frameRPS, h.frameBurst = rps, burst }
}

// WithTypingThrottle replaces the hub's throttle, e.g. to share a clock in tests.
func WithTypingThrottle(t *TypingThrottle) Option {
	return func(h *Hub) {
		if t != nil {
			h.typing = t
		}
	}
}

// NewHub wires a hub to its collaborators.
func NewHub(tokens TokenVerifier, members Membership, messages MessageStore, opts ...Option) *Hub {
	h := &Hub{
		reg:            NewRegistry(),
		typing:         NewTypingThrottle(),
		tokens:         tokens,
		members:        members,
		messages:       messages,
		log:            log.Logger,
		authTimeout:    10 * time.Second,
		typingInterval: DefaultTypingInterval,
		rooms:          newRoomLocks(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Registry exposes the hub's session registry.
func (h *Hub) Registry() *Registry { return h.reg }

// Typing exposes the hub's typing throttle.
func (h *Hub) Typing() *TypingThrottle { return h.typing }

// Broadcast sends v to every session subscribed to chatID except exclude.
// A failed delivery does not stop the loop; failed sessions are dropped
// after every recipient has been tried. It returns the number of sessions
// the frame was queued for.
func (h *Hub) Broadcast(chatID string, v any, exclude string) int {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("broadcast encode failed")
		return 0
	}

	var dead []*Session
	sent := 0
	for _, s := range h.reg.recipients(chatID, exclude) {
		if err := s.Send(payload); err != nil {
			wsBroadcastFailures.Inc()
			h.log.Info().Err(err).Str("user_id", s.UserID).Str("chat_id", chatID).Msg("dropping unreachable session")
			dead = append(dead, s)
			continue
		}
		sent++
	}
	for _, s := range dead {
		h.disconnect(s, websocket.CloseGoingAway, "unreachable")
	}
	return sent
}

// SendMessage stores a message through the gate and broadcasts the
// canonical row to every subscriber of its chat, sender included. A replay
// of an existing client_msg_id broadcasts the original row again. A replay
// naming a different chat than the original returns the original row
// without broadcasting it.
func (h *Hub) SendMessage(ctx context.Context, userID, chatID, text, clientMsgID string) (*domain.Message, bool, error) {
	unlock := h.rooms.lock(chatID)
	defer unlock()

	msg, created, err := h.messages.Send(ctx, userID, chatID, text, clientMsgID)
	if err != nil {
		return nil, false, err
	}
	if msg.ChatID == chatID {
		h.Broadcast(chatID, msg, "")
	}
	return msg, created, nil
}

// MarkRead applies read receipts for userID and broadcasts each changed
// message to its chat. The chats involved stay locked from the store write
// until the last broadcast, so a receipt cannot overtake or fall behind a
// message sent to the same chat.
func (h *Hub) MarkRead(ctx context.Context, userID string, ids []string) ([]domain.Message, error) {
	chatIDs, err := h.messages.ChatIDsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(chatIDs) == 0 {
		return []domain.Message{}, nil
	}
	unlock := h.rooms.lock(chatIDs...)
	defer unlock()

	updated, err := h.messages.MarkRead(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	for i := range updated {
		h.Broadcast(updated[i].ChatID, &updated[i], "")
	}
	return updated, nil
}

// Revoke stops userID's live session from listening to chatID, after the
// user has left or been removed, and tells the remaining subscribers.
func (h *Hub) Revoke(userID, chatID string) {
	if h.reg.Unsubscribe(userID, chatID) {
		h.Broadcast(chatID, presence(chatID, userID, StatusOffline), userID)
	}
}

// Shutdown closes every live session with a going-away code.
func (h *Hub) Shutdown() int {
	return h.reg.CloseAll(websocket.CloseGoingAway, "server shutting down")
}

// disconnect removes s if it is still current, closes its transport, and
// announces the user offline in every chat it was listening to. Only the
// first caller for a given session broadcasts.
func (h *Hub) disconnect(s *Session, code int, reason string) {
	rooms, ok := h.reg.Remove(s)
	_ = s.Close(code, reason)
	if !ok {
		return
	}
	for _, chatID := range rooms {
		h.Broadcast(chatID, presence(chatID, s.UserID, StatusOffline), s.UserID)
	}
}
