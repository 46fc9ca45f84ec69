package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are lexicographically sortable
// by creation time and draw their entropy from crypto/rand.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Valid reports whether s is a well-formed ULID. Handlers use it to reject
// malformed user ids before they reach a store.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
