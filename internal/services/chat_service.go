// Package services – ChatService
//
// This file implements the ChatService, which manages chats and their
// participants. It validates chat types and titles, enforces the membership
// and role rules (owner/admin/member), and keeps the live real-time layer in
// step when a membership is revoked.
//
// Service-level errors (e.g., ErrChatNotFound, ErrNotMember) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/repo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ChatRepo defines the repository contract required by ChatService.
// repo.Chats is the GORM-backed implementation.
type ChatRepo interface {
	CreateChat(ctx context.Context, db *gorm.DB, title string, typ domain.ChatType, ownerID string, memberIDs []string) (*domain.Chat, error)
	GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error)
	ListUserChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error)
	ListUserChatIDs(ctx context.Context, db *gorm.DB, userID string) ([]string, error)
	IsParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) (bool, error)
	GetParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) (*domain.ChatParticipant, error)
	ListParticipants(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatParticipant, error)
	AddParticipant(ctx context.Context, db *gorm.DB, chatID, userID string, role domain.ParticipantRole) (*domain.ChatParticipant, error)
	RemoveParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) error
	FindPersonalChat(ctx context.Context, db *gorm.DB, userA, userB string) (*domain.Chat, error)
	CountExistingUsers(ctx context.Context, db *gorm.DB, ids []string) (int64, error)
}

// MembershipRevoker is notified after a user stops being a member of a chat,
// so that a live connection stops receiving that room's events immediately.
type MembershipRevoker interface {
	Revoke(userID, chatID string)
}

// ChatService provides chat-level operations: creation, listing, and
// membership management.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the chat repository used by this service.
	Repo ChatRepo
	// Live is optional; when set it is told about revoked memberships.
	Live MembershipRevoker

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale drives casing of generated default titles.
	TitleLocale language.Tag
}

// NewChatService constructs a ChatService with sane defaults for title handling.
func NewChatService(db *gorm.DB, r ChatRepo) *ChatService {
	return &ChatService{
		DB:          db,
		Repo:        r,
		TitleMaxLen: 100,
		TitleLocale: language.English,
	}
}

// Create makes a chat owned by userID. For a personal chat exactly one other
// participant is required, and an existing personal chat for the same pair is
// returned instead of creating a second one (existing=true).
func (s *ChatService) Create(ctx context.Context, userID, title string, typ domain.ChatType, participantIDs []string) (chat *domain.Chat, existing bool, err error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("chat.type", string(typ)),
		),
	)
	defer span.End()

	if !typ.Valid() {
		return nil, false, ErrInvalidChatType
	}
	others := uniqueOthers(userID, participantIDs)

	if len(others) > 0 {
		n, err := s.Repo.CountExistingUsers(ctx, s.DB, others)
		if err != nil {
			return nil, false, err
		}
		if int(n) != len(others) {
			return nil, false, ErrUserNotFound
		}
	}

	if typ == domain.ChatPersonal {
		if len(others) != 1 {
			return nil, false, ErrPersonalChatPeers
		}
		found, err := s.Repo.FindPersonalChat(ctx, s.DB, userID, others[0])
		if err == nil {
			return found, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	title = normalizeTitle(title)
	if title == "" {
		title = s.defaultTitle(typ)
	}
	chat, err = s.Repo.CreateChat(ctx, s.DB, s.clip(title), typ, userID, others)
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.String("chat.id", chat.ID))
	return chat, false, nil
}

// ListMine returns every chat the user participates in.
func (s *ChatService) ListMine(ctx context.Context, userID string) ([]domain.Chat, error) {
	out, err := s.Repo.ListUserChats(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Chat{}
	}
	return out, nil
}

// Get returns a chat the user belongs to.
func (s *ChatService) Get(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	chat, err := s.Repo.GetChat(ctx, s.DB, chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.EnsureMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return chat, nil
}

// Participants lists the members of a chat the user belongs to.
func (s *ChatService) Participants(ctx context.Context, userID, chatID string) ([]domain.ChatParticipant, error) {
	if _, err := s.Get(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.Repo.ListParticipants(ctx, s.DB, chatID)
}

// AddMember adds userID to a group chat as a member. actorID must be an
// owner or admin of the chat.
func (s *ChatService) AddMember(ctx context.Context, actorID, chatID, userID string) (*domain.ChatParticipant, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "AddMember",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	chat, err := s.requireManager(ctx, actorID, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Type == domain.ChatPersonal {
		return nil, ErrPersonalChatMembers
	}
	if n, err := s.Repo.CountExistingUsers(ctx, s.DB, []string{userID}); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrUserNotFound
	}

	p, err := s.Repo.AddParticipant(ctx, s.DB, chatID, userID, domain.RoleMember)
	if err != nil {
		if isDuplicateErr(err) {
			return nil, ErrAlreadyMember
		}
		return nil, err
	}
	return p, nil
}

// RemoveMember removes userID from a chat. actorID must be an owner or
// admin; the owner cannot be removed.
func (s *ChatService) RemoveMember(ctx context.Context, actorID, chatID, userID string) error {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "RemoveMember",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.requireManager(ctx, actorID, chatID); err != nil {
		return err
	}
	target, err := s.Repo.GetParticipant(ctx, s.DB, chatID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotMember
	}
	if err != nil {
		return err
	}
	if target.Role == domain.RoleOwner {
		return ErrCannotRemoveOwner
	}
	return s.revoke(ctx, chatID, userID)
}

// Leave removes the caller from a chat. The owner cannot leave.
func (s *ChatService) Leave(ctx context.Context, userID, chatID string) error {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Leave",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.Get(ctx, userID, chatID); err != nil {
		return err
	}
	p, err := s.Repo.GetParticipant(ctx, s.DB, chatID, userID)
	if err != nil {
		return err
	}
	if p.Role == domain.RoleOwner {
		return ErrCannotRemoveOwner
	}
	return s.revoke(ctx, chatID, userID)
}

// IsMember reports whether userID belongs to chatID. It always consults the
// store; nothing is cached.
func (s *ChatService) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	return s.Repo.IsParticipant(ctx, s.DB, chatID, userID)
}

// ListMemberships returns the IDs of the chats userID belongs to.
func (s *ChatService) ListMemberships(ctx context.Context, userID string) ([]string, error) {
	return s.Repo.ListUserChatIDs(ctx, s.DB, userID)
}

// EnsureMember returns ErrNotMember unless userID belongs to chatID.
func (s *ChatService) EnsureMember(ctx context.Context, chatID, userID string) error {
	ok, err := s.IsMember(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func (s *ChatService) requireManager(ctx context.Context, actorID, chatID string) (*domain.Chat, error) {
	chat, err := s.Repo.GetChat(ctx, s.DB, chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	actor, err := s.Repo.GetParticipant(ctx, s.DB, chatID, actorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanManageMembers() {
		return nil, ErrNotManager
	}
	return chat, nil
}

func (s *ChatService) revoke(ctx context.Context, chatID, userID string) error {
	if err := s.Repo.RemoveParticipant(ctx, s.DB, chatID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotMember
		}
		return err
	}
	if s.Live != nil {
		s.Live.Revoke(userID, chatID)
	}
	return nil
}

// defaultTitle renders "Group chat" / "Personal chat" in the configured locale.
func (s *ChatService) defaultTitle(typ domain.ChatType) string {
	tag := s.TitleLocale
	if tag == language.Und {
		tag = language.English
	}
	return cases.Title(tag).String(string(typ)) + " chat"
}

// clip truncates a chat title to the configured maximum rune length.
func (s *ChatService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

func isDuplicateErr(err error) bool { return errors.Is(err, repo.ErrDuplicate) }

// uniqueOthers drops blanks, duplicates, and self from ids, keeping order.
func uniqueOthers(self string, ids []string) []string {
	seen := map[string]struct{}{self: {}}
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
	}
	return out
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
