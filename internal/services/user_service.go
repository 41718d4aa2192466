// Package services – UserService
//
// This file implements registration, login, and user lookup. Password hashing
// and token signing are delegated to the collaborators in internal/auth via
// the small interfaces below.
package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// TokenIssuer mints access tokens for a user ID.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// Registration limits.
const (
	minPasswordLen = 8
	maxPasswordLen = 100
	maxNameRunes   = 100
)

// UserService owns user accounts.
type UserService struct {
	DB     *gorm.DB
	Hasher PasswordHasher
	Tokens TokenIssuer
}

// Register validates input, hashes the password, and stores the user.
func (s *UserService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Register")
	defer span.End()

	name = normalizeTitle(name)
	email = strings.TrimSpace(email)
	if name == "" || utf8.RuneCountInString(name) > maxNameRunes {
		return nil, ErrInvalidUser
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidUser
	}
	if n := utf8.RuneCountInString(password); n < minPasswordLen || n > maxPasswordLen {
		return nil, ErrInvalidUser
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u, err := repo.CreateUser(ctx, s.DB, name, email, hash)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, nil
}

// Login checks credentials and returns a signed access token.
func (s *UserService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Login")
	defer span.End()

	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !s.Hasher.Verify(password, u.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}
	tok, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return "", nil, err
	}
	return tok, u, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("user.id", id)),
	)
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// List returns a page of users.
func (s *UserService) List(ctx context.Context, offset, limit int) ([]domain.User, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "List")
	defer span.End()

	out, err := repo.ListUsers(ctx, s.DB, offset, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.User{}
	}
	return out, nil
}
