package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/todoauth/apiserver/internal/auth"
	"github.com/todoauth/apiserver/internal/store"
	"github.com/todoauth/apiserver/types"
)

const EventUserRegistered = "user.registered"

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hashed string) bool
}

// TokenIssuer signs identity tokens.
type TokenIssuer interface {
	Issue(userID int, role string) (string, error)
}

// EventPublisher delivers domain events. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// AuthService encapsulates registration and login.
type AuthService struct {
	repo   UserRepository
	hasher PasswordHasher
	tokens TokenIssuer
	events EventPublisher
	logger logrus.FieldLogger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService wires the service. events may be nil.
func NewAuthService(repo UserRepository, hasher PasswordHasher, tokens TokenIssuer, events EventPublisher, logger logrus.FieldLogger) *AuthService {
	return &AuthService{
		repo:   repo,
		hasher: hasher,
		tokens: tokens,
		events: events,
		logger: logger,
	}
}

// Register creates an account with role "user".
func (s *AuthService) Register(ctx context.Context, email, password string) (types.User, error) {
	if strings.TrimSpace(email) == "" {
		return types.User{}, validationError("email is required")
	}
	if err := validatePassword(password); err != nil {
		return types.User{}, err
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: %w", ErrHashing, err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        email,
		Role:         types.RoleUser,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.publish(ctx, EventUserRegistered, registeredPayload{ID: user.ID, Email: user.Email, Role: user.Role})
	return user, nil
}

// Login checks the credentials and returns a signed token carrying the
// stored id and role.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn the same bcrypt work as a real check.
			s.hasher.Verify(password, s.dummy())
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("find user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return "", ErrBadCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenIssuance, err)
	}
	return token, nil
}

// EnsureAdmin creates an admin account for email unless one already exists
// under that email. It reports whether an account was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return false, validationError("admin email and password are required")
	}
	if err := validatePassword(password); err != nil {
		return false, err
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("find admin: %w", err)
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrHashing, err)
	}
	if _, err := s.repo.Create(ctx, types.User{
		Email:        email,
		Role:         types.RoleAdmin,
		PasswordHash: hashed,
	}); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}

// CurrentUser loads the account behind an authenticated identity.
func (s *AuthService) CurrentUser(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func validatePassword(password string) error {
	if password == "" {
		return validationError("password is required")
	}
	if len(password) > auth.MaxPasswordBytes {
		return validationError(fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes))
	}
	return nil
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		hashed, err := s.hasher.Hash("timing-equalizer")
		if err != nil {
			s.logger.WithError(err).Warn("failed to prepare dummy password hash")
			return
		}
		s.dummyHash = hashed
	})
	return s.dummyHash
}

func (s *AuthService) publish(ctx context.Context, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, payload); err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("failed to publish event")
	}
}

type registeredPayload struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
