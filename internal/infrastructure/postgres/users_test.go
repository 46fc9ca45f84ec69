package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/go-account-tokens/internal/domain"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userCols = []string{"user_id", "name", "username", "email", "password_hash", "date_of_birth", "verified", "created_at", "updated_at"}

func TestUserStore_CreateDuplicateEmail(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_lower_idx"})

	err := NewUserStore(mock).Create(context.Background(), &domain.User{UserID: "U1", Email: "a@b.c"})
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_FindByEmailIsCaseInsensitive(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE lower(email) = lower($1)`)).
		WithArgs("Alice@Example.com").
		WillReturnRows(pgxmock.NewRows(userCols).AddRow("U1", "Alice", "alice", "alice@example.com", "h", "1990-01-01", true, now, now))

	u, err := NewUserStore(mock).FindByEmail(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "U1", u.UserID)
	assert.True(t, u.Verified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_MutationsReportMissingUser(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		call func(s *UserStore) error
	}{
		{
			name: "mark verified",
			sql:  `UPDATE users SET verified = TRUE`,
			call: func(s *UserStore) error { return s.MarkVerified(context.Background(), "ghost") },
		},
		{
			name: "update password",
			sql:  `UPDATE users SET password_hash = \$2`,
			call: func(s *UserStore) error { return s.UpdatePassword(context.Background(), "ghost", "h") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectExec(tt.sql).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			err := tt.call(NewUserStore(mock))
			assert.True(t, errors.Is(err, domain.ErrNotFound))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserStore_Delete(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE user_id = $1`)).
		WithArgs("U1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, NewUserStore(mock).Delete(context.Background(), "U1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
