package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-account-tokens/internal/application/tokens"
	"github.com/go-account-tokens/internal/domain"
	"github.com/go-account-tokens/internal/pkg/clock"
	"github.com/go-account-tokens/internal/pkg/id"
	"github.com/go-account-tokens/internal/pkg/validate"
	"golang.org/x/crypto/bcrypt"
)

// User-facing messages.
const (
	msgAllRequired      = "All input fields are required! Please make sure you fill in the correct details in all fields."
	msgBadName          = "Your name can only contain letters from A-z"
	msgBadEmail         = "Please enter a valid email address!"
	msgBadUsername      = "Your username can only contain letters without white spaces"
	msgWeakPassword     = "A strong password should be at least 8 characters long, with 1 uppercase and lowercase letter, a number and any special character"
	msgEmailTaken       = "A user with the provided email already exists! Please login instead"
	msgHashFailed       = "Password could not be hashed!"
	msgCreateFailed     = "Account creation failed"
	msgInternal         = "An error occurred! It is not your fault. Please try again"
	msgVerifySent       = "A verification message was sent to the provided email address, check your inbox or spam to get verified!"
	msgVerifySendFailed = "Could not send verification email!"
	msgVerifySaveFailed = "Verification record was not saved!"
	msgAlreadyVerified  = "Your email address is already verified"
	msgNoAccount        = "No account found!"

	msgVerified          = "Your email address has been verified!"
	msgVerifyExpired     = "Verification link has expired! Please signup to get another one"
	msgVerifyClearFailed = "Failed to clear user with expired record!"
	msgVerifyMismatch    = "Invalid verification string!"
	msgVerifyNotFound    = "No verification record found!"
	msgVerifyApply       = "Failed to update verification status"
	msgVerifyCheckFailed = "Failed to complete verification record check!"

	msgResetNoAccount   = "No account matches the provided email address!"
	msgResetLookup      = "An error occurred while checking if the email address is valid!"
	msgResetUnverified  = "You are yet to verify your email address!"
	msgResetSent        = "Password reset email sent!"
	msgResetSendFailed  = "Could not send password reset mail!"
	msgResetSaveFailed  = "Could not save new password request. Please try again"
	msgResetBadInput    = "Invalid reset data entered!"
	msgResetHashFailed  = "New password could not be saved!"
	msgResetDone        = "You have successfully set a new password!"
	msgResetApply       = "Failed to update new user's password!"
	msgResetInvalidLink = "Password reset link is invalid or has expired!"

	msgSigninRequired  = "All fields are required!"
	msgSigninNoUser    = "No user with the provided email address"
	msgSigninBadPass   = "Password incorrect!"
	msgSigninCompare   = "Password comparison failed"
	msgSigninSucceeded = "You have successfully logged in!"

	msgDeleted = "Your account has been deleted"
)

type Service interface {
	Signup(ctx context.Context, req domain.SignupRequest) (domain.Result, error)
	Signin(ctx context.Context, req domain.SigninRequest) (domain.Result, error)
	IssueVerification(ctx context.Context, userID string) (domain.Result, error)
	IssuePasswordReset(ctx context.Context, userID string) (domain.Result, error)
	RequestPasswordReset(ctx context.Context, email string) (domain.Result, error)
	RedeemVerification(ctx context.Context, userID, verifier string) (domain.Result, error)
	RedeemPasswordReset(ctx context.Context, req domain.ResetPasswordRequest) (domain.Result, error)
	DeleteAccount(ctx context.Context, userID string) (domain.Result, error)
}

type tokenService interface {
	Issue(ctx context.Context, userID string, purpose domain.Purpose) (*tokens.IssueResult, error)
	Redeem(ctx context.Context, req tokens.RedeemRequest) error
	Purge(ctx context.Context, userID string) error
}

type userStore interface {
	Create(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Delete(ctx context.Context, userID string) error
}

type jwtSigner interface {
	Sign(userID string, verified bool) (string, error)
}

type ServiceDeps struct {
	Tokens     tokenService
	Users      userStore
	Signer     jwtSigner // optional; signin returns no bearer without it
	Clock      clock.Clock
	BcryptCost int
}

type service struct {
	tokens tokenService
	users  userStore
	signer jwtSigner
	clock  clock.Clock
	cost   int
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		tokens: deps.Tokens,
		users:  deps.Users,
		signer: deps.Signer,
		clock:  deps.Clock,
		cost:   deps.BcryptCost,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.cost < bcrypt.MinCost || s.cost > bcrypt.MaxCost {
		s.cost = bcrypt.DefaultCost
	}
	return s
}

func (s *service) Signup(ctx context.Context, req domain.SignupRequest) (domain.Result, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	req.Password = strings.TrimSpace(req.Password)
	req.DateOfBirth = strings.TrimSpace(req.DateOfBirth)

	if err := validate.Struct(&req); err != nil {
		return domain.Failed(signupMessage(err)), fmt.Errorf("signup: %w", err)
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return domain.Failed(msgEmailTaken), fmt.Errorf("email already registered: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Failed(msgInternal), fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return domain.Failed(msgHashFailed), fmt.Errorf("hash password: %w: %w", domain.ErrCryptoFailure, err)
	}

	now := s.clock.Now()
	u := &domain.User{
		UserID:       id.New(),
		Name:         req.Name,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		DateOfBirth:  req.DateOfBirth,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Failed(msgEmailTaken), err
		}
		return domain.Failed(msgCreateFailed), fmt.Errorf("create user: %w", err)
	}
	slog.Info("account created", "user_id", u.UserID)

	return s.issueVerification(ctx, u.UserID)
}

// signupMessages maps the first field to fail a format tag to its message.
var signupMessages = map[string]string{
	"Name":     msgBadName,
	"Email":    msgBadEmail,
	"Username": msgBadUsername,
	"Password": msgWeakPassword,
}

// signupMessage reports any missing field ahead of format problems.
func signupMessage(err error) string {
	if missingField(err) {
		return msgAllRequired
	}
	var verr *validate.Error
	errors.As(err, &verr)
	if msg, ok := signupMessages[verr.Failures[0].Field]; ok {
		return msg
	}
	return msgAllRequired
}

func missingField(err error) bool {
	var verr *validate.Error
	return !errors.As(err, &verr) || verr.Failed("required")
}

func (s *service) IssueVerification(ctx context.Context, userID string) (domain.Result, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Failed(msgNoAccount), err
		}
		return domain.Failed(msgInternal), fmt.Errorf("load account: %w", err)
	}
	if u.Verified {
		return domain.Failed(msgAlreadyVerified), fmt.Errorf("account already verified: %w", domain.ErrConflict)
	}
	return s.issueVerification(ctx, userID)
}

func (s *service) issueVerification(ctx context.Context, userID string) (domain.Result, error) {
	res, err := s.tokens.Issue(ctx, userID, domain.PurposeEmailVerification)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Failed(msgNoAccount), err
		}
		return domain.Failed(msgVerifySaveFailed), err
	}
	if res.NotifyErr != nil {
		return domain.Failed(msgVerifySendFailed), res.NotifyErr
	}
	return domain.Pending(msgVerifySent), nil
}

func (s *service) IssuePasswordReset(ctx context.Context, userID string) (domain.Result, error) {
	res, err := s.tokens.Issue(ctx, userID, domain.PurposePasswordReset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Failed(msgResetNoAccount), err
		}
		return domain.Failed(msgResetSaveFailed), err
	}
	if res.NotifyErr != nil {
		return domain.Failed(msgResetSendFailed), res.NotifyErr
	}
	return domain.Pending(msgResetSent), nil
}

// RequestPasswordReset only serves verified accounts.
func (s *service) RequestPasswordReset(ctx context.Context, email string) (domain.Result, error) {
	email = strings.TrimSpace(email)
	if err := validate.Struct(&domain.ForgotPasswordRequest{Email: email}); err != nil {
		return domain.Failed(msgBadEmail), fmt.Errorf("reset email: %w", err)
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Failed(msgResetNoAccount), err
		}
		return domain.Failed(msgResetLookup), fmt.Errorf("lookup email: %w", err)
	}
	if !u.Verified {
		return domain.Failed(msgResetUnverified), fmt.Errorf("account not verified: %w", domain.ErrUnauthorized)
	}
	return s.IssuePasswordReset(ctx, u.UserID)
}

// RedeemVerification marks the account verified. An expired link removes the
// still-unverified account so the address can sign up again.
func (s *service) RedeemVerification(ctx context.Context, userID, verifier string) (domain.Result, error) {
	err := s.tokens.Redeem(ctx, tokens.RedeemRequest{
		UserID:   userID,
		Purpose:  domain.PurposeEmailVerification,
		Verifier: verifier,
	})
	switch {
	case err == nil:
		return domain.Success(msgVerified), nil
	case errors.Is(err, domain.ErrApplyFailed):
		return domain.Failed(msgVerifyApply), err
	case errors.Is(err, domain.ErrExpired):
		if derr := s.dropUnverified(ctx, userID); derr != nil {
			slog.Error("failed to delete account with expired verification", "user_id", userID, "err", derr)
			return domain.Failed(msgVerifyClearFailed), fmt.Errorf("%w; %w", err, derr)
		}
		return domain.Failed(msgVerifyExpired), err
	case errors.Is(err, domain.ErrMismatch):
		return domain.Failed(msgVerifyMismatch), err
	case errors.Is(err, domain.ErrNotFound):
		return domain.Failed(msgVerifyNotFound), err
	default:
		return domain.Failed(msgVerifyCheckFailed), err
	}
}

func (s *service) dropUnverified(ctx context.Context, userID string) error {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if u.Verified {
		return nil
	}
	if err := s.tokens.Purge(ctx, userID); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	slog.Info("deleted unverified account after verification expiry", "user_id", userID)
	return nil
}

// RedeemPasswordReset reports expired, mismatched and unknown links with the
// same message; only the logs tell them apart.
func (s *service) RedeemPasswordReset(ctx context.Context, req domain.ResetPasswordRequest) (domain.Result, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.PasswordResetString = strings.TrimSpace(req.PasswordResetString)
	req.NewPassword = strings.TrimSpace(req.NewPassword)
	if err := validate.Struct(&req); err != nil {
		msg := msgWeakPassword
		if missingField(err) {
			msg = msgResetBadInput
		}
		return domain.Failed(msg), fmt.Errorf("reset: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return domain.Failed(msgResetHashFailed), fmt.Errorf("hash password: %w: %w", domain.ErrCryptoFailure, err)
	}

	err = s.tokens.Redeem(ctx, tokens.RedeemRequest{
		UserID:          req.UserID,
		Purpose:         domain.PurposePasswordReset,
		Verifier:        req.PasswordResetString,
		NewPasswordHash: string(hash),
	})
	switch {
	case err == nil:
		return domain.Success(msgResetDone), nil
	case errors.Is(err, domain.ErrApplyFailed):
		return domain.Failed(msgResetApply), err
	case errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrMismatch),
		errors.Is(err, domain.ErrNotFound):
		slog.Info("password reset rejected", "user_id", req.UserID, "reason", err)
		return domain.Failed(msgResetInvalidLink), err
	default:
		return domain.Failed(msgInternal), err
	}
}

// Signin has no lockout; the HTTP layer rate-limits it per client address.
func (s *service) Signin(ctx context.Context, req domain.SigninRequest) (domain.Result, error) {
	email := strings.TrimSpace(req.Email)
	password := strings.TrimSpace(req.Password)
	if err := validate.Struct(&domain.SigninRequest{Email: email, Password: password}); err != nil {
		return domain.Failed(msgSigninRequired), fmt.Errorf("signin: %w", err)
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Failed(msgSigninNoUser), fmt.Errorf("unknown email: %w", domain.ErrUnauthorized)
		}
		return domain.Failed(msgInternal), fmt.Errorf("lookup email: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return domain.Failed(msgSigninBadPass), fmt.Errorf("wrong password: %w", domain.ErrUnauthorized)
		}
		return domain.Failed(msgSigninCompare), fmt.Errorf("compare password: %w: %w", domain.ErrCryptoFailure, err)
	}

	res := domain.Success(msgSigninSucceeded)
	if s.signer != nil {
		bearer, err := s.signer.Sign(u.UserID, u.Verified)
		if err != nil {
			return domain.Failed(msgInternal), fmt.Errorf("sign bearer: %w: %w", domain.ErrCryptoFailure, err)
		}
		res.Bearer = bearer
	}
	return res, nil
}

func (s *service) DeleteAccount(ctx context.Context, userID string) (domain.Result, error) {
	if err := s.tokens.Purge(ctx, userID); err != nil {
		return domain.Failed(msgInternal), err
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return domain.Failed(msgInternal), fmt.Errorf("delete account: %w", err)
	}
	slog.Info("account deleted", "user_id", userID)
	return domain.Success(msgDeleted), nil
}
