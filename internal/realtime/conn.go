package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Serve runs one connection through its lifecycle: authenticate, register
// and announce, then dispatch frames until the transport fails. It returns
// once the connection is closed.
func (h *Hub) Serve(ctx context.Context, t Transport, l zerolog.Logger) {
	userID, err := h.authenticate(t)
	if err != nil {
		wsAuthFailures.Inc()
		l.Warn().Err(err).Msg("ws auth rejected")
		_ = t.Close(websocket.ClosePolicyViolation, "unauthorized")
		return
	}
	l = l.With().Str("user_id", userID).Logger()

	s := h.reg.Register(userID, t)
	defer h.disconnect(s, websocket.CloseNormalClosure, "")

	h.activate(ctx, s, l)

	var limiter *rate.Limiter
	if h.frameRPS > 0 {
		burst := h.frameBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.frameRPS), burst)
	}

	for {
		data, err := t.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.Info().Err(err).Msg("ws closed unexpectedly")
			} else {
				l.Debug().Err(err).Msg("ws closed")
			}
			return
		}
		if limiter != nil && !limiter.Allow() {
			l.Debug().Msg("ws frame over rate limit; dropped")
			continue
		}
		f, err := parseFrame(data)
		if err != nil {
			l.Debug().Err(err).Msg("ws malformed frame ignored")
			continue
		}
		wsFrames.WithLabelValues(frameLabel(f.Action)).Inc()
		h.dispatch(ctx, s, f, l)
	}
}

// authenticate reads the first frame, which must be an auth action carrying
// a token the verifier accepts.
func (h *Hub) authenticate(t Transport) (string, error) {
	var timer *time.Timer
	if h.authTimeout > 0 {
		timer = time.AfterFunc(h.authTimeout, func() {
			_ = t.Close(websocket.ClosePolicyViolation, "auth timeout")
		})
	}
	data, err := t.Read()
	if timer != nil && !timer.Stop() {
		return "", fmt.Errorf("%w: no auth frame within %s", ErrUnauthorized, h.authTimeout)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	f, err := parseFrame(data)
	if err != nil {
		return "", fmt.Errorf("%w: malformed auth frame", ErrUnauthorized)
	}
	wsFrames.WithLabelValues(frameLabel(f.Action)).Inc()
	if f.Action != ActionAuth {
		return "", fmt.Errorf("%w: first frame must be auth, got %q", ErrUnauthorized, f.Action)
	}
	token := strings.TrimSpace(f.Token)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	userID, err := h.tokens.Verify(token)
	if err != nil || userID == "" {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return userID, nil
}

// activate subscribes the session to all of the user's chats, sends the
// presence snapshot, and announces the user online.
func (h *Hub) activate(ctx context.Context, s *Session, l zerolog.Logger) {
	chats, err := h.members.ListMemberships(ctx, s.UserID)
	if err != nil {
		l.Error().Err(err).Msg("load memberships failed; starting with no subscriptions")
		chats = nil
	}
	h.reg.SubscribeMany(s.UserID, chats)

	subscribed := h.reg.Snapshot(s.UserID)
	snap := PresenceSnapshot{
		Type:         TypePresenceSnapshot,
		OnlineByChat: h.reg.onlineByRoom(subscribed, s.UserID),
	}
	if payload, err := json.Marshal(snap); err == nil {
		if err := s.Send(payload); err != nil {
			l.Debug().Err(err).Msg("presence snapshot not delivered")
		}
	}

	for _, chatID := range subscribed {
		h.Broadcast(chatID, presence(chatID, s.UserID, StatusOnline), s.UserID)
	}
	l.Info().Int("chats", len(subscribed)).Msg("ws session active")
}

func (h *Hub) dispatch(ctx context.Context, s *Session, f clientFrame, l zerolog.Logger) {
	switch f.Action {
	case ActionSubscribe:
		if !h.allowed(ctx, f.ChatID, s.UserID, l) {
			return
		}
		if h.reg.Subscribe(s.UserID, f.ChatID) {
			h.Broadcast(f.ChatID, presence(f.ChatID, s.UserID, StatusOnline), s.UserID)
		}

	case ActionUnsubscribe:
		if !h.allowed(ctx, f.ChatID, s.UserID, l) {
			return
		}
		if h.reg.Unsubscribe(s.UserID, f.ChatID) {
			h.Broadcast(f.ChatID, presence(f.ChatID, s.UserID, StatusOffline), s.UserID)
		}

	case ActionSendMessage:
		if f.ChatID == "" || strings.TrimSpace(f.ClientMsgID) == "" {
			return
		}
		if _, _, err := h.SendMessage(ctx, s.UserID, f.ChatID, f.Text, f.ClientMsgID); err != nil {
			l.Warn().Err(err).Str("chat_id", f.ChatID).Msg("send_message rejected")
		}

	case ActionTyping:
		if !h.allowed(ctx, f.ChatID, s.UserID, l) {
			return
		}
		if !h.typing.Allow(s.UserID, f.ChatID, h.typingInterval) {
			return
		}
		h.Broadcast(f.ChatID, TypingEvent{
			Type:     TypeTyping,
			ChatID:   f.ChatID,
			UserID:   s.UserID,
			IsTyping: f.typing(),
		}, s.UserID)

	case ActionReadMessages:
		if len(f.MessageIDs) == 0 {
			return
		}
		if _, err := h.MarkRead(ctx, s.UserID, f.MessageIDs); err != nil {
			l.Error().Err(err).Msg("read_messages failed")
		}

	default:
		// Unknown actions, and auth after authentication, are ignored.
	}
}

// allowed checks membership against the store on every call.
func (h *Hub) allowed(ctx context.Context, chatID, userID string, l zerolog.Logger) bool {
	if chatID == "" {
		return false
	}
	ok, err := h.members.IsMember(ctx, chatID, userID)
	if err != nil {
		l.Error().Err(err).Str("chat_id", chatID).Msg("membership check failed")
		return false
	}
	return ok
}
