package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-account-tokens/internal/domain"
	"github.com/go-account-tokens/internal/pkg/clock"
	"github.com/go-account-tokens/internal/pkg/id"
	"github.com/go-account-tokens/internal/pkg/keylock"
)

// Store persists at most one TokenRecord per (user, purpose).
type Store interface {
	Put(ctx context.Context, rec *domain.TokenRecord) error
	Get(ctx context.Context, userID string, purpose domain.Purpose) (*domain.TokenRecord, error)
	Delete(ctx context.Context, userID string, purpose domain.Purpose) error
	// Consume deletes the record only if it still carries tokenID; otherwise ErrNotFound.
	Consume(ctx context.Context, userID string, purpose domain.Purpose, tokenID string) error
	// Claim reserves the record carrying tokenID for claimID until the lease
	// ends. It fails with ErrNotFound when the record is gone, superseded, or
	// held by a claim that has not lapsed. Put clears any claim.
	Claim(ctx context.Context, userID string, purpose domain.Purpose, tokenID, claimID string, now, until time.Time) error
	// Release drops claimID's reservation; a missing record or foreign claim is not an error.
	Release(ctx context.Context, userID string, purpose domain.Purpose, claimID string) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Notifier delivers a redemption link out of band.
type Notifier interface {
	SendLink(ctx context.Context, toEmail string, purpose domain.Purpose, link string) error
}

// EventPublisher receives lifecycle events. Delivery is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.TokenEvent) error
}

type accountStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	MarkVerified(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, hash string) error
}

type codec interface {
	Generate() (identifier, verifier string, err error)
	Hash(verifier string) (string, error)
	Verify(verifier, hash string) (bool, error)
}

// IssueResult describes a persisted token. NotifyErr is set when the record
// was stored but the link could not be delivered; the token stays redeemable.
type IssueResult struct {
	TokenID   string
	ExpiresAt time.Time
	NotifyErr error
}

type RedeemRequest struct {
	UserID          string
	Purpose         domain.Purpose
	Verifier        string
	NewPasswordHash string // required for PurposePasswordReset
}

type Service interface {
	Issue(ctx context.Context, userID string, purpose domain.Purpose) (*IssueResult, error)
	Redeem(ctx context.Context, req RedeemRequest) error
	Purge(ctx context.Context, userID string) error
	Sweep(ctx context.Context) (int, error)
}

type ServiceDeps struct {
	Store         Store
	Users         accountStore
	Notifier      Notifier
	Events        EventPublisher // optional
	Codec         codec
	Clock         clock.Clock
	TTL           map[domain.Purpose]time.Duration
	LinkBase      map[domain.Purpose]string
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration
	ClaimLease    time.Duration // how long a redemption holds its record; defaults to 4x StoreTimeout
}

type service struct {
	store         Store
	users         accountStore
	notifier      Notifier
	events        EventPublisher
	codec         codec
	clock         clock.Clock
	ttl           map[domain.Purpose]time.Duration
	linkBase      map[domain.Purpose]string
	storeTimeout  time.Duration
	notifyTimeout time.Duration
	claimLease    time.Duration
	locks         *keylock.Locker
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		store:         deps.Store,
		users:         deps.Users,
		notifier:      deps.Notifier,
		events:        deps.Events,
		codec:         deps.Codec,
		clock:         deps.Clock,
		ttl:           deps.TTL,
		linkBase:      deps.LinkBase,
		storeTimeout:  deps.StoreTimeout,
		notifyTimeout: deps.NotifyTimeout,
		claimLease:    deps.ClaimLease,
		locks:         keylock.New(),
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = 5 * time.Second
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = 15 * time.Second
	}
	if s.claimLease <= 0 {
		s.claimLease = 4 * s.storeTimeout
	}
	for _, p := range domain.Purposes {
		if s.ttl[p] <= 0 {
			panic(fmt.Sprintf("tokens: missing TTL for purpose %q", p))
		}
	}
	return s
}

func (s *service) Issue(ctx context.Context, userID string, purpose domain.Purpose) (*IssueResult, error) {
	purpose.MustValidate()

	u, rec, verifier, err := s.persistNew(ctx, userID, purpose)
	if err != nil {
		recordIssue(purpose, outcomeError)
		return nil, err
	}
	res := &IssueResult{TokenID: rec.TokenID, ExpiresAt: rec.ExpiresAt}
	s.publish(ctx, domain.EventTokenIssued, rec)

	nctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	if err := s.notifier.SendLink(nctx, u.Email, purpose, s.link(purpose, userID, verifier)); err != nil {
		res.NotifyErr = fmt.Errorf("deliver %s link: %w: %w", purpose, domain.ErrNotifyFailed, err)
		slog.Warn("token stored but link delivery failed", "user_id", userID, "purpose", purpose, "token_id", rec.TokenID, "err", err)
		recordIssue(purpose, outcomeNotifyFailed)
		return res, nil
	}
	slog.Info("token issued", "user_id", userID, "purpose", purpose, "token_id", rec.TokenID, "expires_at", rec.ExpiresAt)
	recordIssue(purpose, outcomeIssued)
	return res, nil
}

// persistNew supersedes any prior record and stores a fresh one while holding
// the (user, purpose) lock. Delivery happens after the lock is released.
func (s *service) persistNew(ctx context.Context, userID string, purpose domain.Purpose) (*domain.User, *domain.TokenRecord, string, error) {
	unlock := s.locks.Lock(lockKey(userID, purpose))
	defer unlock()

	var u *domain.User
	err := s.withStore(ctx, func(ctx context.Context) (err error) {
		u, err = s.users.Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("load account: %w", err)
	}

	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, userID, purpose)
	}); err != nil {
		return nil, nil, "", fmt.Errorf("supersede %s token: %w", purpose, err)
	}

	tokenID, verifier, err := s.codec.Generate()
	if err != nil {
		return nil, nil, "", err
	}
	hash, err := s.codec.Hash(verifier)
	if err != nil {
		return nil, nil, "", err
	}
	now := s.clock.Now()
	rec := &domain.TokenRecord{
		UserID:       userID,
		Purpose:      purpose,
		TokenID:      tokenID,
		VerifierHash: hash,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl[purpose]),
	}
	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.store.Put(ctx, rec)
	}); err != nil {
		return nil, nil, "", fmt.Errorf("store %s token: %w", purpose, err)
	}
	return u, rec, verifier, nil
}

func (s *service) Redeem(ctx context.Context, req RedeemRequest) error {
	req.Purpose.MustValidate()
	if req.Purpose == domain.PurposePasswordReset && req.NewPasswordHash == "" {
		return fmt.Errorf("new password hash required: %w", domain.ErrValidation)
	}

	unlock := s.locks.Lock(lockKey(req.UserID, req.Purpose))
	defer unlock()

	var rec *domain.TokenRecord
	err := s.withStore(ctx, func(ctx context.Context) (err error) {
		rec, err = s.store.Get(ctx, req.UserID, req.Purpose)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			recordRedeem(req.Purpose, outcomeNotFound)
			return fmt.Errorf("no active %s token: %w", req.Purpose, domain.ErrNotFound)
		}
		recordRedeem(req.Purpose, outcomeError)
		return fmt.Errorf("load %s token: %w", req.Purpose, err)
	}

	now := s.clock.Now()
	if rec.Expired(now) {
		slog.Info("expired token presented", "user_id", req.UserID, "purpose", req.Purpose, "token_id", rec.TokenID)
		s.publish(ctx, domain.EventTokenExpired, rec)
		if err := s.withStore(ctx, func(ctx context.Context) error {
			return s.store.Delete(ctx, req.UserID, req.Purpose)
		}); err != nil {
			recordRedeem(req.Purpose, outcomeError)
			return fmt.Errorf("delete expired %s token: %w", req.Purpose, err)
		}
		recordRedeem(req.Purpose, outcomeExpired)
		return fmt.Errorf("%s token expired at %s: %w", req.Purpose, rec.ExpiresAt.Format(time.RFC3339), domain.ErrExpired)
	}

	ok, err := s.codec.Verify(req.Verifier, rec.VerifierHash)
	if err != nil {
		recordRedeem(req.Purpose, outcomeError)
		return err
	}
	if !ok {
		slog.Info("verifier mismatch", "user_id", req.UserID, "purpose", req.Purpose, "token_id", rec.TokenID)
		s.publish(ctx, domain.EventTokenMismatch, rec)
		recordRedeem(req.Purpose, outcomeMismatch)
		return fmt.Errorf("%s verifier does not match: %w", req.Purpose, domain.ErrMismatch)
	}

	// The keylock only covers this process. The claim excludes redemptions
	// running elsewhere against the same store before the account is touched.
	claimID := id.New()
	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.store.Claim(ctx, req.UserID, req.Purpose, rec.TokenID, claimID, now, now.Add(s.claimLease))
	}); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Info("token claimed or consumed concurrently", "user_id", req.UserID, "purpose", req.Purpose, "token_id", rec.TokenID)
			recordRedeem(req.Purpose, outcomeNotFound)
			return fmt.Errorf("%s token redeemed concurrently: %w", req.Purpose, domain.ErrNotFound)
		}
		recordRedeem(req.Purpose, outcomeError)
		return fmt.Errorf("claim %s token: %w", req.Purpose, err)
	}

	// Mutate first, delete second: a failure in between leaves a redeemable token.
	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.apply(ctx, req)
	}); err != nil {
		if rerr := s.withStore(ctx, func(ctx context.Context) error {
			return s.store.Release(ctx, req.UserID, req.Purpose, claimID)
		}); rerr != nil {
			slog.Warn("failed to release token claim", "user_id", req.UserID, "purpose", req.Purpose, "token_id", rec.TokenID, "err", rerr)
		}
		slog.Error("account update failed, token retained", "user_id", req.UserID, "purpose", req.Purpose, "token_id", rec.TokenID, "err", err)
		recordRedeem(req.Purpose, outcomeApplyFailed)
		return fmt.Errorf("apply %s: %w: %w", req.Purpose, domain.ErrApplyFailed, err)
	}

	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.store.Consume(ctx, req.UserID, req.Purpose, rec.TokenID)
	}); err != nil {
		// The account change already landed under our claim; a missing record
		// here means it was superseded or swept after the claim was taken.
		slog.Warn("account updated but token delete failed", "user_id", req.UserID, "purpose", req.Purpose, "token_id", rec.TokenID, "err", err)
	}

	slog.Info("token redeemed", "user_id", req.UserID, "purpose", req.Purpose, "token_id", rec.TokenID)
	s.publish(ctx, domain.EventTokenRedeemed, rec)
	recordRedeem(req.Purpose, outcomeSuccess)
	return nil
}

func (s *service) apply(ctx context.Context, req RedeemRequest) error {
	switch req.Purpose {
	case domain.PurposeEmailVerification:
		return s.users.MarkVerified(ctx, req.UserID)
	case domain.PurposePasswordReset:
		return s.users.UpdatePassword(ctx, req.UserID, req.NewPasswordHash)
	default:
		panic(fmt.Sprintf("tokens: no effect for purpose %q", req.Purpose))
	}
}

// Purge removes every token owned by userID.
func (s *service) Purge(ctx context.Context, userID string) error {
	for _, p := range domain.Purposes {
		unlock := s.locks.Lock(lockKey(userID, p))
		err := s.withStore(ctx, func(ctx context.Context) error {
			return s.store.Delete(ctx, userID, p)
		})
		unlock()
		if err != nil {
			return fmt.Errorf("purge %s token: %w", p, err)
		}
	}
	return nil
}

func (s *service) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.SweepExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired tokens: %w", storeErr(err))
	}
	tokensSwept.Add(float64(n))
	return n, nil
}

func (s *service) link(purpose domain.Purpose, userID, verifier string) string {
	return s.linkBase[purpose] + "/" + userID + "/" + verifier
}

// withStore bounds a collaborator call by the store timeout and normalises its error.
func (s *service) withStore(ctx context.Context, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := fn(sctx); err != nil {
		return storeErr(err)
	}
	return nil
}

// storeErr leaves domain outcomes intact and marks everything else StoreUnavailable.
func storeErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
}

func lockKey(userID string, purpose domain.Purpose) string {
	return string(purpose) + "/" + userID
}
