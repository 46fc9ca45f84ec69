package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-account-tokens/internal/domain"
)

// TokenStore keeps one row per (user_id, purpose). Rows cascade away with their user.
type TokenStore struct {
	db DB
}

func NewTokenStore(db DB) *TokenStore {
	return &TokenStore{db: db}
}

// Put upserts on the primary key, replacing any prior record in one statement.
func (s *TokenStore) Put(ctx context.Context, rec *domain.TokenRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO token_records (user_id, purpose, token_id, verifier_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, purpose) DO UPDATE
		SET token_id = EXCLUDED.token_id,
		    verifier_hash = EXCLUDED.verifier_hash,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at,
		    claim_id = NULL,
		    claimed_until = NULL`,
		rec.UserID, string(rec.Purpose), rec.TokenID, rec.VerifierHash, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return mapErr("put token", err)
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, userID string, purpose domain.Purpose) (*domain.TokenRecord, error) {
	var (
		rec domain.TokenRecord
		p   string
	)
	err := s.db.QueryRow(ctx, `
		SELECT user_id, purpose, token_id, verifier_hash, created_at, expires_at
		FROM token_records WHERE user_id = $1 AND purpose = $2`,
		userID, string(purpose)).
		Scan(&rec.UserID, &p, &rec.TokenID, &rec.VerifierHash, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, mapErr("get token", err)
	}
	rec.Purpose = domain.Purpose(p)
	return &rec, nil
}

func (s *TokenStore) Delete(ctx context.Context, userID string, purpose domain.Purpose) error {
	_, err := s.db.Exec(ctx, `DELETE FROM token_records WHERE user_id = $1 AND purpose = $2`, userID, string(purpose))
	if err != nil {
		return mapErr("delete token", err)
	}
	return nil
}

// Consume deletes the row only while it still carries tokenID.
func (s *TokenStore) Consume(ctx context.Context, userID string, purpose domain.Purpose, tokenID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM token_records WHERE user_id = $1 AND purpose = $2 AND token_id = $3`,
		userID, string(purpose), tokenID)
	if err != nil {
		return mapErr("consume token", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token record already consumed or superseded: %w", domain.ErrNotFound)
	}
	return nil
}

// Claim reserves the row carrying tokenID for claimID until the lease ends.
// No row is updated, and ErrNotFound is returned, when the row is gone,
// superseded, or held by a claim that has not lapsed.
func (s *TokenStore) Claim(ctx context.Context, userID string, purpose domain.Purpose, tokenID, claimID string, now, until time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE token_records SET claim_id = $4, claimed_until = $5
		WHERE user_id = $1 AND purpose = $2 AND token_id = $3
		  AND (claim_id IS NULL OR claimed_until <= $6)`,
		userID, string(purpose), tokenID, claimID, until, now)
	if err != nil {
		return mapErr("claim token", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token record consumed, superseded or claimed: %w", domain.ErrNotFound)
	}
	return nil
}

// Release clears claimID's reservation. A missing row or foreign claim is left alone.
func (s *TokenStore) Release(ctx context.Context, userID string, purpose domain.Purpose, claimID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE token_records SET claim_id = NULL, claimed_until = NULL
		WHERE user_id = $1 AND purpose = $2 AND claim_id = $3`,
		userID, string(purpose), claimID)
	if err != nil {
		return mapErr("release token claim", err)
	}
	return nil
}

func (s *TokenStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM token_records WHERE expires_at < $1`, now)
	if err != nil {
		return 0, mapErr("sweep tokens", err)
	}
	return int(tag.RowsAffected()), nil
}
