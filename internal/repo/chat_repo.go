// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for chats and their
// participants.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a row is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Unique violations on participants are mapped to ErrDuplicate.
//   - On other DB errors, the raw gorm error is propagated.
//
// Usage:
//
//	// Within a service layer
//	ok, err := repo.IsParticipant(ctx, db, chatID, userID)
//	if err != nil {
//	    // handle DB failure
//	}
//
// Membership rules (who may add whom, personal vs group) live in
// services.ChatService; this file only persists them.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateChat inserts a chat and its participant rows in one transaction.
// ownerID becomes RoleOwner; every other memberIDs entry becomes RoleMember.
// Duplicates in memberIDs (or the owner listed again) are ignored.
func CreateChat(ctx context.Context, db *gorm.DB, title string, typ domain.ChatType, ownerID string, memberIDs []string) (*domain.Chat, error) {
	now := time.Now().UTC()
	c := &domain.Chat{
		ID:        uuid.NewString(),
		Title:     title,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		seen := map[string]struct{}{ownerID: {}}
		parts := []domain.ChatParticipant{{
			ID: uuid.NewString(), ChatID: c.ID, UserID: ownerID, Role: domain.RoleOwner, CreatedAt: now,
		}}
		for _, uid := range memberIDs {
			if _, dup := seen[uid]; dup || uid == "" {
				continue
			}
			seen[uid] = struct{}{}
			parts = append(parts, domain.ChatParticipant{
				ID: uuid.NewString(), ChatID: c.ID, UserID: uid, Role: domain.RoleMember, CreatedAt: now,
			})
		}
		return tx.Omit("Chat", "User").Create(&parts).Error
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetChat fetches a single chat by its ID, or ErrNotFound.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListUserChats returns every chat userID participates in, most recent first.
func ListUserChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Joins("JOIN chat_participants p ON p.chat_id = chats.id").
		Where("p.user_id = ?", userID).
		Order("chats.created_at DESC, chats.id ASC").
		Find(&out).Error
	return out, err
}

// ListUserChatIDs returns the IDs of the chats userID participates in.
func ListUserChatIDs(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	ids := []string{}
	err := db.WithContext(ctx).
		Model(&domain.ChatParticipant{}).
		Where("user_id = ?", userID).
		Order("chat_id ASC").
		Pluck("chat_id", &ids).Error
	return ids, err
}

// IsParticipant reports whether userID currently belongs to chatID.
func IsParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error
	return n > 0, err
}

// GetParticipant fetches the membership row for (chatID, userID), or ErrNotFound.
func GetParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) (*domain.ChatParticipant, error) {
	var p domain.ChatParticipant
	err := db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListParticipants returns the members of chatID in join order.
func ListParticipants(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatParticipant, error) {
	var out []domain.ChatParticipant
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// AddParticipant inserts a membership row; ErrDuplicate if already a member.
func AddParticipant(ctx context.Context, db *gorm.DB, chatID, userID string, role domain.ParticipantRole) (*domain.ChatParticipant, error) {
	p := &domain.ChatParticipant{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit("Chat", "User").Create(p).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p, nil
}

// RemoveParticipant deletes the membership row, or returns ErrNotFound if
// userID was not a member of chatID.
func RemoveParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) error {
	res := db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Delete(&domain.ChatParticipant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindPersonalChat returns the personal chat shared by userA and userB, or
// ErrNotFound.
func FindPersonalChat(ctx context.Context, db *gorm.DB, userA, userB string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Joins("JOIN chat_participants pa ON pa.chat_id = chats.id AND pa.user_id = ?", userA).
		Joins("JOIN chat_participants pb ON pb.chat_id = chats.id AND pb.user_id = ?", userB).
		Where("chats.type = ?", domain.ChatPersonal).
		Order("chats.created_at ASC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// TouchChat bumps the chat's UpdatedAt so list ETags change when a room sees
// new activity.
func TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at.UTC()).Error
}

// Chats adapts the package-level chat and participant functions to the
// method set the service layer depends on.
type Chats struct{}

func (Chats) CreateChat(ctx context.Context, db *gorm.DB, title string, typ domain.ChatType, ownerID string, memberIDs []string) (*domain.Chat, error) {
	return CreateChat(ctx, db, title, typ, ownerID, memberIDs)
}

func (Chats) GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	return GetChat(ctx, db, id)
}

func (Chats) ListUserChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error) {
	return ListUserChats(ctx, db, userID)
}

func (Chats) ListUserChatIDs(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	return ListUserChatIDs(ctx, db, userID)
}

func (Chats) IsParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) (bool, error) {
	return IsParticipant(ctx, db, chatID, userID)
}

func (Chats) GetParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) (*domain.ChatParticipant, error) {
	return GetParticipant(ctx, db, chatID, userID)
}

func (Chats) ListParticipants(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatParticipant, error) {
	return ListParticipants(ctx, db, chatID)
}

func (Chats) AddParticipant(ctx context.Context, db *gorm.DB, chatID, userID string, role domain.ParticipantRole) (*domain.ChatParticipant, error) {
	return AddParticipant(ctx, db, chatID, userID, role)
}

func (Chats) RemoveParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) error {
	return RemoveParticipant(ctx, db, chatID, userID)
}

func (Chats) FindPersonalChat(ctx context.Context, db *gorm.DB, userA, userB string) (*domain.Chat, error) {
	return FindPersonalChat(ctx, db, userA, userB)
}

func (Chats) CountExistingUsers(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	return CountExistingUsers(ctx, db, ids)
}
