package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/go-account-tokens/internal/domain"
)

// writeFailed writes a FAILED result envelope with the correct Content-Type.
func writeFailed(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.Failed(msg))
}
