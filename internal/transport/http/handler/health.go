package handler

import (
	"net/http"

	"github.com/go-account-tokens/internal/domain"
	"github.com/go-chi/chi/v5"
)

// HealthHandler handles health-check endpoints.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if action == "ping" {
		writeJSON(w, http.StatusOK, domain.Success("pong"))
		return
	}
	writeFailed(w, http.StatusBadRequest, "unknown action")
}
