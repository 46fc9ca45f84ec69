package postgres

import (
	"context"
	"fmt"

	"github.com/go-account-tokens/internal/domain"
)

const userColumns = `user_id, name, username, email, password_hash, date_of_birth, verified, created_at, updated_at`

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts the account; the unique index on lower(email) rejects duplicates.
func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.UserID, u.Name, u.Username, u.Email, u.PasswordHash, u.DateOfBirth, u.Verified, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return mapErr("create user", err)
	}
	return nil
}

func (s *UserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	return s.scanOne(ctx, "get user", `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.scanOne(ctx, "find user by email", `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *UserStore) UpdatePassword(ctx context.Context, userID, hash string) error {
	return s.update(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE user_id = $1`, userID, hash)
}

func (s *UserStore) MarkVerified(ctx context.Context, userID string) error {
	return s.update(ctx, "mark verified",
		`UPDATE users SET verified = TRUE, updated_at = now() WHERE user_id = $1`, userID)
}

// Delete removes the account; its token rows go with it via ON DELETE CASCADE.
func (s *UserStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM users WHERE user_id = $1`, userID); err != nil {
		return mapErr("delete user", err)
	}
	return nil
}

func (s *UserStore) update(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: user not found: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (s *UserStore) scanOne(ctx context.Context, op, sql string, arg string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx, sql, arg).Scan(
		&u.UserID, &u.Name, &u.Username, &u.Email, &u.PasswordHash,
		&u.DateOfBirth, &u.Verified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return &u, nil
}
