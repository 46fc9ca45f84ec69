// Package memory holds process-local stores. A single mutex per store
// serialises every operation, which makes Put's delete-then-insert,
// Claim's check-and-set and Consume's compare-and-delete atomic.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-account-tokens/internal/domain"
)

type tokenKey struct {
	userID  string
	purpose domain.Purpose
}

type tokenEntry struct {
	rec          domain.TokenRecord
	claimID      string
	claimedUntil time.Time
}

// TokenStore keeps token records in a map keyed by (user, purpose).
type TokenStore struct {
	mu      sync.Mutex
	records map[tokenKey]*tokenEntry
}

func NewTokenStore() *TokenStore {
	return &TokenStore{records: make(map[tokenKey]*tokenEntry)}
}

func (s *TokenStore) Put(ctx context.Context, rec *domain.TokenRecord) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tokenKey{rec.UserID, rec.Purpose}
	delete(s.records, k)
	s.records[k] = &tokenEntry{rec: *rec}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, userID string, purpose domain.Purpose) (*domain.TokenRecord, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[tokenKey{userID, purpose}]
	if !ok {
		return nil, fmt.Errorf("token record not found: %w", domain.ErrNotFound)
	}
	rec := e.rec
	return &rec, nil
}

func (s *TokenStore) Delete(ctx context.Context, userID string, purpose domain.Purpose) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, tokenKey{userID, purpose})
	s.mu.Unlock()
	return nil
}

// Consume deletes the record only while it still carries tokenID.
func (s *TokenStore) Consume(ctx context.Context, userID string, purpose domain.Purpose, tokenID string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tokenKey{userID, purpose}
	e, ok := s.records[k]
	if !ok || e.rec.TokenID != tokenID {
		return fmt.Errorf("token record already consumed or superseded: %w", domain.ErrNotFound)
	}
	delete(s.records, k)
	return nil
}

// Claim reserves the record carrying tokenID for claimID until the lease ends.
// A live claim held by anyone else makes the record unavailable.
func (s *TokenStore) Claim(ctx context.Context, userID string, purpose domain.Purpose, tokenID, claimID string, now, until time.Time) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[tokenKey{userID, purpose}]
	if !ok || e.rec.TokenID != tokenID {
		return fmt.Errorf("token record already consumed or superseded: %w", domain.ErrNotFound)
	}
	if e.claimID != "" && now.Before(e.claimedUntil) {
		return fmt.Errorf("token record claimed by another redemption: %w", domain.ErrNotFound)
	}
	e.claimID, e.claimedUntil = claimID, until
	return nil
}

// Release drops claimID's reservation. A missing record or foreign claim is left alone.
func (s *TokenStore) Release(ctx context.Context, userID string, purpose domain.Purpose, claimID string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.records[tokenKey{userID, purpose}]; ok && e.claimID == claimID {
		e.claimID, e.claimedUntil = "", time.Time{}
	}
	return nil
}

func (s *TokenStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	if err := alive(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.records {
		if e.rec.Expired(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// Count returns how many records exist for (userID, purpose).
func (s *TokenStore) Count(userID string, purpose domain.Purpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[tokenKey{userID, purpose}]; ok {
		return 1
	}
	return 0
}

func alive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory store: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}
