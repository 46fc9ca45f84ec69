package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to statuses without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")

	// Token lifecycle failures.
	ErrExpired          = errors.New("token expired")
	ErrMismatch         = errors.New("verifier mismatch")
	ErrApplyFailed      = errors.New("account update failed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCryptoFailure    = errors.New("crypto failure")
	ErrNotifyFailed     = errors.New("notification failed")
)
