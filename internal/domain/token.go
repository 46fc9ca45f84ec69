package domain

import (
	"fmt"
	"time"
)

// Purpose scopes a token record to the lifecycle action it authorizes.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Purposes lists every valid Purpose.
var Purposes = []Purpose{PurposeEmailVerification, PurposePasswordReset}

// MustValidate panics on an unknown purpose. Callers only ever pass the
// constants above, so anything else is a programming error.
func (p Purpose) MustValidate() {
	switch p {
	case PurposeEmailVerification, PurposePasswordReset:
	default:
		panic(fmt.Sprintf("domain: invalid token purpose %q", string(p)))
	}
}

// TokenRecord is the persisted half of a single-use token.
// At most one record exists per (UserID, Purpose). The raw verifier is never stored.
type TokenRecord struct {
	UserID       string    `json:"user_id"`
	Purpose      Purpose   `json:"purpose"`
	TokenID      string    `json:"token_id"`
	VerifierHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the record has lapsed at now.
func (r *TokenRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Token lifecycle event types.
const (
	EventTokenIssued   = "token.issued"
	EventTokenRedeemed = "token.redeemed"
	EventTokenExpired  = "token.expired"
	EventTokenMismatch = "token.mismatch"
)

// TokenEvent carries only non-secret token metadata.
type TokenEvent struct {
	Type    string    `json:"type"`
	UserID  string    `json:"user_id"`
	Purpose Purpose   `json:"purpose"`
	TokenID string    `json:"token_id"`
	At      time.Time `json:"at"`
}
