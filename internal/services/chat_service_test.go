package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"unicode/utf8"

	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svc.db")
	db, err := repo.OpenSQLite(path, repo.WithGormConfig(&gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mkUser(t *testing.T, db *gorm.DB, name string) *domain.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), db, name, name+"@example.com", "hash")
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

type revokeCall struct{ user, chat string }

type fakeRevoker struct {
	mu    sync.Mutex
	calls []revokeCall
}

func (f *fakeRevoker) Revoke(userID, chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, revokeCall{userID, chatID})
}

// failingRepo lets individual methods return injected errors while
// delegating the rest to the real repository.
type failingRepo struct {
	repo.Chats
	countErr error
	findErr  error
}

func (r failingRepo) CountExistingUsers(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.Chats.CountExistingUsers(ctx, db, ids)
}

func (r failingRepo) FindPersonalChat(ctx context.Context, db *gorm.DB, a, b string) (*domain.Chat, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.Chats.FindPersonalChat(ctx, db, a, b)
}

// ---------- tests ----------

func TestNewChatService_Defaults(t *testing.T) {
	s := NewChatService(nil, repo.Chats{})
	if s.DB != nil {
		t.Fatalf("expected nil DB, got %v", s.DB)
	}
	if s.TitleMaxLen != 100 {
		t.Fatalf("TitleMaxLen default = 100, got %d", s.TitleMaxLen)
	}
	if s.TitleLocale != language.English {
		t.Fatalf("TitleLocale default = English, got %v", s.TitleLocale)
	}
	if s.Live != nil {
		t.Fatalf("Live should be unset by default")
	}
}

func TestNormalizeTitle(t *testing.T) {
	cases := map[string]string{
		"":                      "",
		"   leading   ":         "leading",
		"multi   spaces":        "multi spaces",
		"tabs\tand\nnewlines  ": "tabs and newlines",
		"\t  \n":                "",
	}
	for in, want := range cases {
		if got := normalizeTitle(in); got != want {
			t.Errorf("normalizeTitle(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestClip_UsesRunesNotBytes(t *testing.T) {
	s := NewChatService(nil, repo.Chats{})
	s.TitleMaxLen = 5
	got := s.clip("ΑΒΓΔΕΖΗ")
	if utf8.RuneCountInString(got) != 5 || got != "ΑΒΓΔΕ" {
		t.Fatalf("clip = %q", got)
	}
	s.TitleMaxLen = 0
	if got := s.clip("unchanged"); got != "unchanged" {
		t.Fatalf("clip with no limit = %q", got)
	}
}

func TestUniqueOthers(t *testing.T) {
	got := uniqueOthers("me", []string{"a", " ", "me", "b", "a", " c "})
	want := []string{"a", "b", "c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("uniqueOthers = %v; want %v", got, want)
	}
}

func TestCreate_GroupDefaultsTitleAndRoles(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	alice, bob, carol := mkUser(t, db, "alice"), mkUser(t, db, "bob"), mkUser(t, db, "carol")
	s := NewChatService(db, repo.Chats{})

	chat, existing, err := s.Create(ctx, alice.ID, "   ", domain.ChatGroup, []string{bob.ID, carol.ID, bob.ID, alice.ID})
	if err != nil || existing {
		t.Fatalf("Create: chat=%v existing=%v err=%v", chat, existing, err)
	}
	if chat.Title != "Group chat" {
		t.Fatalf("default title = %q", chat.Title)
	}

	parts, err := s.Participants(ctx, bob.ID, chat.ID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("participants = %d; want 3", len(parts))
	}
	for _, p := range parts {
		wantRole := domain.RoleMember
		if p.UserID == alice.ID {
			wantRole = domain.RoleOwner
		}
		if p.Role != wantRole {
			t.Fatalf("user %s role %s; want %s", p.UserID, p.Role, wantRole)
		}
	}
}

func TestCreate_Validation(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	alice, bob, carol := mkUser(t, db, "alice"), mkUser(t, db, "bob"), mkUser(t, db, "carol")
	s := NewChatService(db, repo.Chats{})

	if _, _, err := s.Create(ctx, alice.ID, "", domain.ChatType("channel"), nil); !errors.Is(err, ErrInvalidChatType) {
		t.Fatalf("invalid type err = %v", err)
	}
	if _, _, err := s.Create(ctx, alice.ID, "", domain.ChatGroup, []string{"ghost"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown participant err = %v", err)
	}
	if _, _, err := s.Create(ctx, alice.ID, "", domain.ChatPersonal, nil); !errors.Is(err, ErrPersonalChatPeers) {
		t.Fatalf("personal without peer err = %v", err)
	}
	if _, _, err := s.Create(ctx, alice.ID, "", domain.ChatPersonal, []string{bob.ID, carol.ID}); !errors.Is(err, ErrPersonalChatPeers) {
		t.Fatalf("personal with two peers err = %v", err)
	}
}

func TestCreate_PersonalChatIsReusedForThePair(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	alice, bob := mkUser(t, db, "alice"), mkUser(t, db, "bob")
	s := NewChatService(db, repo.Chats{})

	first, existing, err := s.Create(ctx, alice.ID, "", domain.ChatPersonal, []string{bob.ID})
	if err != nil || existing {
		t.Fatalf("first create: existing=%v err=%v", existing, err)
	}
	if first.Title != "Personal chat" {
		t.Fatalf("default personal title = %q", first.Title)
	}
	// reversed direction hits the same chat
	second, existing, err := s.Create(ctx, bob.ID, "other title", domain.ChatPersonal, []string{alice.ID})
	if err != nil || !existing {
		t.Fatalf("second create: existing=%v err=%v", existing, err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same chat, got %s vs %s", second.ID, first.ID)
	}
}

func TestCreate_RepoErrorsPropagate(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	alice, bob := mkUser(t, db, "alice"), mkUser(t, db, "bob")
	boom := errors.New("boom")

	s := NewChatService(db, failingRepo{countErr: boom})
	if _, _, err := s.Create(ctx, alice.ID, "", domain.ChatGroup, []string{bob.ID}); !errors.Is(err, boom) {
		t.Fatalf("count err = %v", err)
	}
	s = NewChatService(db, failingRepo{findErr: boom})
	if _, _, err := s.Create(ctx, alice.ID, "", domain.ChatPersonal, []string{bob.ID}); !errors.Is(err, boom) {
		t.Fatalf("find err = %v", err)
	}
}

func TestGet_NotFoundAndNotMember(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	alice, mallory := mkUser(t, db, "alice"), mkUser(t, db, "mallory")
	s := NewChatService(db, repo.Chats{})

	chat, _, err := s.Create(ctx, alice.ID, "room", domain.ChatGroup, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Get(ctx, alice.ID, "missing"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("missing chat err = %v", err)
	}
	if _, err := s.Get(ctx, mallory.ID, chat.ID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("non-member err = %v", err)
	}
	if _, err := s.Participants(ctx, mallory.ID, chat.ID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("non-member participants err = %v", err)
	}
	got, err := s.Get(ctx, alice.ID, chat.ID)
	if err != nil || got.ID != chat.ID {
		t.Fatalf("Get = %v, %v", got, err)
	}
}

func TestListMine_AndMemberships(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	alice, bob := mkUser(t, db, "alice"), mkUser(t, db, "bob")
	s := NewChatService(db, repo.Chats{})

	none, err := s.ListMine(ctx, alice.ID)
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("ListMine empty = %v, %v", none, err)
	}

	c1, _, _ := s.Create(ctx, alice.ID, "one", domain.ChatGroup, []string{bob.ID})
	c2, _, _ := s.Create(ctx, alice.ID, "two", domain.ChatGroup, nil)

	mine, err := s.ListMine(ctx, alice.ID)
	if err != nil || len(mine) != 2 {
		t.Fatalf("ListMine = %v, %v", mine, err)
	}
	ids, err := s.ListMemberships(ctx, bob.ID)
	if err != nil || len(ids) != 1 || ids[0] != c1.ID {
		t.Fatalf("ListMemberships(bob) = %v, %v", ids, err)
	}
	if ok, _ := s.IsMember(ctx, c2.ID, bob.ID); ok {
		t.Fatalf("bob should not be in c2")
	}
	if err := s.EnsureMember(ctx, c1.ID, bob.ID); err != nil {
		t.Fatalf("EnsureMember: %v", err)
	}
}

func TestAddMember_RolesAndRules(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	alice, bob, carol, dave := mkUser(t, db, "alice"), mkUser(t, db, "bob"), mkUser(t, db, "carol"), mkUser(t, db, "dave")
	s := NewChatService(db, repo.Chats{})

	group, _, _ := s.Create(ctx, alice.ID, "g", domain.ChatGroup, []string{bob.ID})
	personal, _, _ := s.Create(ctx, alice.ID, "", domain.ChatPersonal, []string{bob.ID})

	if _, err := s.AddMember(ctx, bob.ID, group.ID, carol.ID); !errors.Is(err, ErrNotManager) {
		t.Fatalf("member adding err = %v", err)
	}
	if _, err := s.AddMember(ctx, dave.ID, group.ID, carol.ID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("outsider adding err = %v", err)
	}
	if _, err := s.AddMember(ctx, alice.ID, "missing", carol.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("missing chat err = %v", err)
	}
	if _, err := s.AddMember(ctx, alice.ID, personal.ID, carol.ID); !errors.Is(err, ErrPersonalChatMembers) {
		t.Fatalf("personal add err = %v", err)
	}
	if _, err := s.AddMember(ctx, alice.ID, group.ID, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("ghost add err = %v", err)
	}
	if _, err := s.AddMember(ctx, alice.ID, group.ID, bob.ID); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("duplicate add err = %v", err)
	}

	p, err := s.AddMember(ctx, alice.ID, group.ID, carol.ID)
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if p.Role != domain.RoleMember || p.UserID != carol.ID {
		t.Fatalf("participant = %+v", p)
	}
}

func TestRemoveMember_And_Leave_RevokeLiveSubscriptions(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	alice, bob, carol := mkUser(t, db, "alice"), mkUser(t, db, "bob"), mkUser(t, db, "carol")
	live := &fakeRevoker{}
	s := NewChatService(db, repo.Chats{})
	s.Live = live

	group, _, _ := s.Create(ctx, alice.ID, "g", domain.ChatGroup, []string{bob.ID, carol.ID})

	if err := s.RemoveMember(ctx, bob.ID, group.ID, carol.ID); !errors.Is(err, ErrNotManager) {
		t.Fatalf("member removing err = %v", err)
	}
	if err := s.RemoveMember(ctx, alice.ID, group.ID, alice.ID); !errors.Is(err, ErrCannotRemoveOwner) {
		t.Fatalf("remove owner err = %v", err)
	}
	if err := s.Leave(ctx, alice.ID, group.ID); !errors.Is(err, ErrCannotRemoveOwner) {
		t.Fatalf("owner leave err = %v", err)
	}

	if err := s.RemoveMember(ctx, alice.ID, group.ID, carol.ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if err := s.RemoveMember(ctx, alice.ID, group.ID, carol.ID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("second remove err = %v", err)
	}
	if err := s.Leave(ctx, bob.ID, group.ID); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := s.Leave(ctx, bob.ID, group.ID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("second leave err = %v", err)
	}

	want := []revokeCall{{carol.ID, group.ID}, {bob.ID, group.ID}}
	if fmt.Sprint(live.calls) != fmt.Sprint(want) {
		t.Fatalf("revocations = %v; want %v", live.calls, want)
	}
	if ok, _ := s.IsMember(ctx, group.ID, bob.ID); ok {
		t.Fatalf("bob still a member after leaving")
	}
}
