package realtime

import "encoding/json"

// Client actions.
const (
	ActionAuth         = "auth"
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
	ActionSendMessage  = "send_message"
	ActionTyping       = "typing"
	ActionReadMessages = "read_messages"
)

// Server frame types. Message frames carry no type field; they are the
// stored message object itself.
const (
	TypePresenceSnapshot = "presence.snapshot_all"
	TypePresenceUpdate   = "presence.update"
	TypeTyping           = "typing"
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// clientFrame is the union of every inbound frame shape.
type clientFrame struct {
	Action      string   `json:"action"`
	Token       string   `json:"token,omitempty"`
	ChatID      string   `json:"chat_id,omitempty"`
	Text        string   `json:"text,omitempty"`
	ClientMsgID string   `json:"client_msg_id,omitempty"`
	IsTyping    *bool    `json:"is_typing,omitempty"`
	MessageIDs  []string `json:"message_ids,omitempty"`
}

func parseFrame(data []byte) (clientFrame, error) {
	var f clientFrame
	err := json.Unmarshal(data, &f)
	return f, err
}

// typing reports the is_typing flag; an absent flag means typing started.
func (f clientFrame) typing() bool {
	if f.IsTyping == nil {
		return true
	}
	return *f.IsTyping
}

// PresenceSnapshot is sent once to a freshly authenticated connection.
type PresenceSnapshot struct {
	Type         string              `json:"type"`
	OnlineByChat map[string][]string `json:"online_by_chat"`
}

// PresenceUpdate announces a user going online or offline in a chat.
type PresenceUpdate struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// TypingEvent relays a typing indicator to the other members of a chat.
type TypingEvent struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

func presence(chatID, userID, status string) PresenceUpdate {
	return PresenceUpdate{Type: TypePresenceUpdate, ChatID: chatID, UserID: userID, Status: status}
}
