package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-account-tokens/internal/domain"
)

// UserStore keeps accounts in memory with a case-insensitive email index.
type UserStore struct {
	mu      sync.Mutex
	byID    map[string]domain.User
	byEmail map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{byID: make(map[string]domain.User), byEmail: make(map[string]string)}
}

func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}
	if _, ok := s.byID[u.UserID]; ok {
		return fmt.Errorf("user id already exists: %w", domain.ErrConflict)
	}
	s.byID[u.UserID] = *u
	s.byEmail[email] = u.UserID
	return nil
}

func (s *UserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return &u, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	u := s.byID[uid]
	return &u, nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, userID, hash string) error {
	return s.mutate(ctx, userID, func(u *domain.User) { u.PasswordHash = hash })
}

func (s *UserStore) MarkVerified(ctx context.Context, userID string) error {
	return s.mutate(ctx, userID, func(u *domain.User) { u.Verified = true })
}

func (s *UserStore) Delete(ctx context.Context, userID string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[userID]; ok {
		delete(s.byEmail, strings.ToLower(u.Email))
		delete(s.byID, userID)
	}
	return nil
}

func (s *UserStore) mutate(ctx context.Context, userID string, fn func(*domain.User)) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u
	return nil
}
