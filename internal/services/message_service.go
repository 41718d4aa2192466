// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the lifecycle of chat messages. It hosts the two persistence-facing
// parts of the real-time core:
//
//   - the dedup ingestion gate (Create): a message is stored at most once per
//     client_msg_id and every caller gets the canonical row back;
//   - the read-receipt authorizer (MarkRead): only messages the requester may
//     mark, and that actually changed, are returned.
//
// It also serves paginated history and keyword search over a chat's recent
// messages for the REST surface.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include chat/user identifiers and pagination parameters where applicable.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/repo"
	"github.com/tbourn/go-realtime-chat/internal/search"
	"github.com/tbourn/go-realtime-chat/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Defaults applied when the corresponding MessageService field is zero.
const (
	defaultMaxTextRunes  = 4000
	defaultHistoryLimit  = 50
	defaultHistoryMax    = 200
	defaultSearchWindow  = 500
	defaultSearchResults = 5
	maxReadBatch         = 500
)

// MessageService coordinates message persistence, read state, and history.
type MessageService struct {
	DB *gorm.DB

	// MaxTextRunes caps message bodies; 0 means defaultMaxTextRunes.
	MaxTextRunes int

	// History paging bounds.
	HistoryDefaultLimit int
	HistoryMaxLimit     int

	// Search settings: how many recent messages are indexed per query and
	// the minimum Jaccard score a hit needs.
	SearchWindow    int
	SearchThreshold float64
}

// SearchHit is a message matched by Search together with its score.
type SearchHit struct {
	Message domain.Message `json:"message"`
	Score   float64        `json:"score"`
}

// Create stores a message keyed by clientMsgID, or returns the message
// already stored under that key. created reports whether this call inserted
// the row. A replay by the same sender returns the original row unchanged,
// even when chatID or text differ from the first submission. A key held by
// another sender yields ErrClientMsgIDTaken and reveals nothing of that row.
//
// Create performs no membership check; callers that act on behalf of a user
// go through Send.
func (s *MessageService) Create(ctx context.Context, chatID, senderID, text, clientMsgID string) (msg *domain.Message, created bool, err error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	clientMsgID = strings.TrimSpace(clientMsgID)
	if clientMsgID == "" {
		return nil, false, ErrMissingClientMsgID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > s.maxTextRunes() {
		return nil, false, ErrTooLong
	}

	m := &domain.Message{
		ChatID:      chatID,
		SenderID:    senderID,
		Text:        text,
		ClientMsgID: clientMsgID,
		Timestamp:   time.Now().UTC(),
	}
	msg, created, err = repo.InsertMessageIfAbsent(ctx, s.DB, m)
	if err != nil {
		return nil, false, err
	}
	if !created && msg.SenderID != senderID {
		span.SetAttributes(attribute.Bool("message.key_conflict", true))
		return nil, false, ErrClientMsgIDTaken
	}
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.Bool("message.created", created),
	)

	if !created {
		messagesDeduplicated.Inc()
		return msg, false, nil
	}
	// Chat listings are ordered by activity; a failed touch must not undo
	// an accepted message.
	_ = repo.TouchChat(ctx, s.DB, chatID, msg.Timestamp)
	return msg, true, nil
}

// Send checks that userID belongs to chatID and then runs Create.
func (s *MessageService) Send(ctx context.Context, userID, chatID, text, clientMsgID string) (*domain.Message, bool, error) {
	if err := s.ensureMember(ctx, chatID, userID); err != nil {
		return nil, false, err
	}
	return s.Create(ctx, chatID, userID, text, clientMsgID)
}

// MarkRead marks ids read on behalf of userID and returns only the messages
// this call changed. Unknown ids, messages in chats the user is not in,
// messages the user wrote, and already-read messages are skipped silently.
func (s *MessageService) MarkRead(ctx context.Context, userID string, ids []string) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("ids.requested", len(ids)),
		),
	)
	defer span.End()

	ids = uniqueIDs(ids, maxReadBatch)
	if len(ids) == 0 {
		return []domain.Message{}, nil
	}
	out, err := repo.MarkReadWhereMemberAndUnread(ctx, s.DB, ids, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("ids.updated", len(out)))
	return out, nil
}

// ChatIDsOf returns the distinct chats holding any of ids, sorted. Unknown ids
// are ignored. The id list is bounded the same way MarkRead bounds it.
func (s *MessageService) ChatIDsOf(ctx context.Context, ids []string) ([]string, error) {
	ids = uniqueIDs(ids, maxReadBatch)
	if len(ids) == 0 {
		return []string{}, nil
	}
	return repo.ChatIDsOfMessages(ctx, s.DB, ids)
}

// History returns a page of a chat's messages, oldest first, with the total
// row count and the effective limit/offset after clamping.
func (s *MessageService) History(ctx context.Context, userID, chatID string, limit, offset int) ([]domain.Message, int64, int, int, error) {
	limit, offset = utils.ClampWindow(limit, offset, s.historyDefault(), s.historyMax())

	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("limit", limit),
			attribute.Int("offset", offset),
		),
	)
	defer span.End()

	if err := s.ensureChatMember(ctx, chatID, userID); err != nil {
		return nil, 0, limit, offset, err
	}

	total, err := repo.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, limit, offset, err
	}
	if total == 0 {
		return []domain.Message{}, 0, limit, offset, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, chatID, offset, limit)
	return items, total, limit, offset, err
}

// Stats returns the message count and latest update time of a chat, for
// conditional history responses.
func (s *MessageService) Stats(ctx context.Context, userID, chatID string) (int64, *time.Time, error) {
	if err := s.ensureChatMember(ctx, chatID, userID); err != nil {
		return 0, nil, err
	}
	return repo.MessagesStats(ctx, s.DB, chatID)
}

// Search ranks the chat's most recent messages against query and returns up
// to k hits, best first.
func (s *MessageService) Search(ctx context.Context, userID, chatID, query string, k int) ([]SearchHit, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("k", k),
		),
	)
	defer span.End()

	if err := s.ensureChatMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = defaultSearchResults
	}
	if strings.TrimSpace(query) == "" {
		return []SearchHit{}, nil
	}

	window := s.SearchWindow
	if window <= 0 {
		window = defaultSearchWindow
	}
	recent, err := repo.ListRecentMessages(ctx, s.DB, chatID, window)
	if err != nil {
		return nil, err
	}

	// recent is newest first, so equal scores favor the latest message.
	idx := search.New(
		search.WithStopwords(search.DefaultStopwords),
		search.WithMinScore(s.SearchThreshold),
	)
	byID := make(map[string]domain.Message, len(recent))
	for _, m := range recent {
		byID[m.ID] = m
		idx.Add(m.ID, m.Text)
	}

	hits := []SearchHit{}
	for _, r := range idx.Search(query, k) {
		if m, ok := byID[r.ID]; ok {
			hits = append(hits, SearchHit{Message: m, Score: r.Score})
		}
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

// ensureChatMember distinguishes a missing chat from a chat the user is not
// in, for the REST surface.
func (s *MessageService) ensureChatMember(ctx context.Context, chatID, userID string) error {
	if _, err := repo.GetChat(ctx, s.DB, chatID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrChatNotFound
		}
		return err
	}
	return s.ensureMember(ctx, chatID, userID)
}

func (s *MessageService) ensureMember(ctx context.Context, chatID, userID string) error {
	ok, err := repo.IsParticipant(ctx, s.DB, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func (s *MessageService) maxTextRunes() int {
	if s.MaxTextRunes > 0 {
		return s.MaxTextRunes
	}
	return defaultMaxTextRunes
}

func (s *MessageService) historyDefault() int {
	if s.HistoryDefaultLimit > 0 {
		return s.HistoryDefaultLimit
	}
	return defaultHistoryLimit
}

func (s *MessageService) historyMax() int {
	if s.HistoryMaxLimit > 0 {
		return s.HistoryMaxLimit
	}
	return defaultHistoryMax
}

// uniqueIDs trims, drops blanks and duplicates, and keeps at most max ids.
func uniqueIDs(ids []string, max int) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
