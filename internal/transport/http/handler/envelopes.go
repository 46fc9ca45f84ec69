package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-account-tokens/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailed(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.Failed(msg))
}

// writeResult renders a gate result, choosing the HTTP status from err.
func writeResult(w http.ResponseWriter, r *http.Request, res domain.Result, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "err", err)
	} else if err != nil {
		slog.Debug("request rejected", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, res)
}

// statusFor maps domain sentinels to HTTP statuses. ApplyFailed is checked
// before NotFound because a failed mutation may wrap both.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrApplyFailed):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotifyFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
