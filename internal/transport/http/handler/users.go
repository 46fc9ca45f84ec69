package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"

	"github.com/go-account-tokens/internal/application/account"
	"github.com/go-account-tokens/internal/domain"
	"github.com/go-account-tokens/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

const msgBadBody = "Invalid request body"

// UserHandler serves the account lifecycle endpoints under /user.
type UserHandler struct {
	svc          account.Service
	verifiedPath string
}

// NewUserHandler redirects verification outcomes to verifiedPath.
func NewUserHandler(svc account.Service, verifiedPath string) *UserHandler {
	return &UserHandler{svc: svc, verifiedPath: verifiedPath}
}

func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req domain.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailed(w, http.StatusBadRequest, msgBadBody)
		return
	}
	res, err := h.svc.Signup(r.Context(), req)
	writeResult(w, r, res, err)
}

func (h *UserHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req domain.SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailed(w, http.StatusBadRequest, msgBadBody)
		return
	}
	res, err := h.svc.Signin(r.Context(), req)
	writeResult(w, r, res, err)
}

// Verify redeems the emailed link and redirects to the verified page.
func (h *UserHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	verifier := chi.URLParam(r, "verifier")
	res, _ := h.svc.RedeemVerification(r.Context(), userID, verifier)

	target := h.verifiedPath
	if res.Status != domain.StatusSuccess {
		q := url.Values{}
		q.Set("error", "true")
		q.Set("message", res.Message)
		target += "?" + q.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *UserHandler) Verified(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	title, msg := "Email verified", "Your email address has been verified. You can now sign in."
	if q.Get("error") == "true" {
		title, msg = "Verification failed", q.Get("message")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s</title></head><body><h2>%s</h2><p>%s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(msg))
}

func (h *UserHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeFailed(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := h.svc.IssueVerification(r.Context(), claims.UserID)
	writeResult(w, r, res, err)
}

func (h *UserHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailed(w, http.StatusBadRequest, msgBadBody)
		return
	}
	res, err := h.svc.RequestPasswordReset(r.Context(), req.Email)
	writeResult(w, r, res, err)
}

// ResetPassword answers every rejected link with 400 so the status code does
// not reveal whether the link expired, never existed or carried a wrong verifier.
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailed(w, http.StatusBadRequest, msgBadBody)
		return
	}
	res, err := h.svc.RedeemPasswordReset(r.Context(), req)
	if !errors.Is(err, domain.ErrApplyFailed) &&
		(errors.Is(err, domain.ErrExpired) || errors.Is(err, domain.ErrMismatch) || errors.Is(err, domain.ErrNotFound)) {
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	writeResult(w, r, res, err)
}

func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeFailed(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := h.svc.DeleteAccount(r.Context(), claims.UserID)
	writeResult(w, r, res, err)
}
