package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/go-account-tokens/internal/domain"
	"github.com/go-account-tokens/internal/pkg/id"
	"golang.org/x/crypto/bcrypt"
)

// verifierBytes keeps the hex verifier (64 chars) under bcrypt's 72-byte input limit.
const verifierBytes = 32

// Codec generates token identifiers and verifiers and hashes verifiers with bcrypt.
type Codec struct {
	cost int
}

// NewCodec returns a Codec hashing at the given bcrypt cost.
// Out-of-range costs fall back to bcrypt.DefaultCost.
func NewCodec(cost int) *Codec {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Codec{cost: cost}
}

// Generate returns a fresh identifier (ULID) and an independent random verifier.
func (c *Codec) Generate() (identifier, verifier string, err error) {
	b := make([]byte, verifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate verifier: %w: %w", domain.ErrCryptoFailure, err)
	}
	return id.New(), hex.EncodeToString(b), nil
}

// Hash returns the salted bcrypt hash of verifier.
func (c *Codec) Hash(verifier string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(verifier), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash verifier: %w: %w", domain.ErrCryptoFailure, err)
	}
	return string(h), nil
}

// Verify compares verifier against hash. A mismatch is (false, nil);
// only a malformed hash or primitive failure is an error.
func (c *Codec) Verify(verifier, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(verifier))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("verify verifier: %w: %w", domain.ErrCryptoFailure, err)
	}
}
