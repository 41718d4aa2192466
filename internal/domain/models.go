// Package domain defines the persistence models for users, chats, chat
// participants, and messages. These types are mapped with GORM and form the
// core data layer of the chat backend; the real-time layer references them but
// never owns them.
package domain

import (
	"time"
)

// ChatType distinguishes one-to-one conversations from group rooms.
type ChatType string

const (
	ChatPersonal ChatType = "personal"
	ChatGroup    ChatType = "group"
)

// Valid reports whether t is a known chat type.
func (t ChatType) Valid() bool {
	return t == ChatPersonal || t == ChatGroup
}

// ParticipantRole is the role a user holds inside a chat.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// CanManageMembers reports whether the role may add or remove participants.
func (r ParticipantRole) CanManageMembers() bool {
	return r == RoleOwner || r == RoleAdmin
}

// User is a registered account.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Name: display name.
//   - Email: login identifier, unique across users.
//   - PasswordHash: bcrypt hash, never serialized.
type User struct {
	ID           string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name         string    `json:"name"       gorm:"type:varchar(255);not null"`
	Email        string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Chat is a room that messages are exchanged in. Who may read or write in it
// is decided by its ChatParticipant rows.
type Chat struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null"`
	Type      ChatType  `json:"type"       gorm:"type:varchar(16);not null;check:type IN ('personal','group')"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// ChatParticipant is the membership edge between a user and a chat. A user
// appears at most once per chat (enforced by unique index).
type ChatParticipant struct {
	ID        string          `json:"id"      gorm:"type:char(36);primaryKey"`
	ChatID    string          `json:"chat_id" gorm:"type:char(36);not null;uniqueIndex:ux_participant_chat_user,priority:1"`
	UserID    string          `json:"user_id" gorm:"type:char(36);not null;index:idx_participant_user;uniqueIndex:ux_participant_chat_user,priority:2"`
	Role      ParticipantRole `json:"role"    gorm:"type:varchar(16);not null;default:'member';check:role IN ('owner','admin','member')"`
	CreatedAt time.Time       `json:"joined_at"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatParticipant.
func (ChatParticipant) TableName() string { return "chat_participants" }

// Message is a single utterance in a chat.
//
// Fields:
//   - ID: server-assigned UUID primary key.
//   - ChatID: owning chat (indexed together with Timestamp for history paging).
//   - SenderID: author.
//   - Text: message body.
//   - ClientMsgID: client-assigned idempotency key, unique across all messages.
//   - Timestamp: creation time, used for oldest-first history ordering.
//   - IsRead: single read flag per message (not per reader).
type Message struct {
	ID          string    `json:"id"                      gorm:"type:char(36);primaryKey"`
	ChatID      string    `json:"chat_id"                 gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	SenderID    string    `json:"sender_id"               gorm:"type:char(36);not null;index"`
	Text        string    `json:"text"                    gorm:"type:text;not null"`
	ClientMsgID string    `json:"client_msg_id,omitempty" gorm:"type:varchar(200);not null;uniqueIndex:ux_messages_client_msg_id"`
	Timestamp   time.Time `json:"timestamp"               gorm:"not null;index:idx_chat_msgs,priority:2"`
	IsRead      bool      `json:"is_read"                 gorm:"not null;default:false"`
	UpdatedAt   time.Time `json:"-"`

	Chat   Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Sender User `json:"-" gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
