// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessagesPage returns a page of a chat's history, oldest first
// (Timestamp ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	out := []domain.Message{}
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).Scan(&total).Error
	return total, err
}

// ListRecentMessages returns up to n of the newest messages in a chat, newest
// first.
func ListRecentMessages(ctx context.Context, db *gorm.DB, chatID string, n int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp DESC, id DESC").
		Limit(n).
		Find(&out).Error
	return out, err
}

// ChatIDsOfMessages returns the distinct chat ids of the messages in ids,
// sorted.
func ChatIDsOfMessages(ctx context.Context, db *gorm.DB, ids []string) ([]string, error) {
	out := []string{}
	if len(ids) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id IN ?", ids).
		Distinct().
		Order("chat_id ASC").
		Pluck("chat_id", &out).Error
	return out, err
}

// MarkReadWhereMemberAndUnread flips is_read for the subset of ids that
// exist, sit in a chat userID belongs to, were written by someone else, and
// are still unread. It returns exactly the rows this call changed, oldest
// first; everything else in ids is skipped without error.
//
// Candidate selection is a single set query (id list intersected with the
// requester's memberships), independent of len(ids).
func MarkReadWhereMemberAndUnread(ctx context.Context, db *gorm.DB, ids []string, userID string) ([]domain.Message, error) {
	out := []domain.Message{}
	if len(ids) == 0 {
		return out, nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		memberOf := tx.Model(&domain.ChatParticipant{}).Select("chat_id").Where("user_id = ?", userID)

		var candidates []string
		if err := tx.Model(&domain.Message{}).
			Where("id IN ?", ids).
			Where("is_read = ?", false).
			Where("sender_id <> ?", userID).
			Where("chat_id IN (?)", memberOf).
			Pluck("id", &candidates).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		if err := tx.Model(&domain.Message{}).
			Where("id IN ? AND is_read = ?", candidates, false).
			UpdateColumns(map[string]any{"is_read": true, "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", candidates).Order("timestamp ASC, id ASC").Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
