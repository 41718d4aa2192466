// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the conditional-insert primitives behind
// idempotent message creation: a message row is keyed by its client_msg_id,
// and a second insert with the same key never produces a second row.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// ErrDuplicate indicates a unique constraint rejected the write (e.g. an
// email that is already registered, or a user already in a chat).
var ErrDuplicate = errors.New("duplicate")

// FindMessageByClientMsgID returns the message stored under key or ErrNotFound.
func FindMessageByClientMsgID(ctx context.Context, db *gorm.DB, key string) (*domain.Message, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var m domain.Message
	err := db.WithContext(ctx).Where("client_msg_id = ?", key).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMessageIfAbsent stores m unless a row with the same ClientMsgID already
// exists. It returns the canonical row and whether this call created it.
//
// The insert is a single INSERT ... ON CONFLICT(client_msg_id) DO NOTHING, so
// concurrent callers racing on one key are arbitrated by the database: exactly
// one insert lands and the others read the winner's committed row.
//
// ID and Timestamp are filled in when empty.
func InsertMessageIfAbsent(ctx context.Context, db *gorm.DB, m *domain.Message) (*domain.Message, bool, error) {
	if strings.TrimSpace(m.ClientMsgID) == "" {
		return nil, false, errors.New("client_msg_id is required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	res := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_msg_id"}},
			DoNothing: true,
		}).
		Create(m)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return m, true, nil
	}

	existing, err := FindMessageByClientMsgID(ctx, db, m.ClientMsgID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// isDuplicate reports whether err is a unique-constraint violation.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
