package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sandeepkv93/account-lifecycle-service/internal/http/response"
	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"
	"github.com/sandeepkv93/account-lifecycle-service/internal/service"
)

type AuthHandler struct {
	authSvc service.AuthServiceInterface
}

func NewAuthHandler(authSvc service.AuthServiceInterface) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

type refreshRequest struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "register", status, time.Since(start))
	}()

	var body service.RegisterRequest
	if !decodeBody(w, r, &body) {
		status = "failure"
		return
	}
	result, err := h.authSvc.Register(r.Context(), body)
	if err != nil {
		status = "failure"
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			observability.Audit(r, observability.AuditInput{EventName: "auth.register", Outcome: "rejected", Reason: "validation"})
			response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid registration request", verr.Fields)
		case errors.Is(err, service.ErrDuplicateAccount):
			observability.Audit(r, observability.AuditInput{EventName: "auth.register", Outcome: "rejected", Reason: "duplicate"})
			response.Error(w, r, http.StatusBadRequest, "DUPLICATE_ACCOUNT", "account already exists", nil)
		default:
			internalError(w, r, "auth.register", err)
		}
		return
	}
	observability.Audit(r, observability.AuditInput{EventName: "auth.register", AccountID: result.Account.ID, Outcome: "success"})
	response.JSON(w, r, http.StatusCreated, result)
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "verify_email", status, time.Since(start))
	}()

	account, err := h.authSvc.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		status = "failure"
		if errors.Is(err, service.ErrInvalidToken) {
			observability.Audit(r, observability.AuditInput{EventName: "auth.verify_email", Outcome: "rejected", Reason: "invalid_token"})
			response.Error(w, r, http.StatusBadRequest, "INVALID_TOKEN", "invalid or expired verification token", nil)
			return
		}
		internalError(w, r, "auth.verify_email", err)
		return
	}
	observability.Audit(r, observability.AuditInput{EventName: "auth.verify_email", AccountID: account.ID, Outcome: "success"})
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "email verified"})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "login", status, time.Since(start))
	}()

	var body service.LoginRequest
	if !decodeBody(w, r, &body) {
		status = "failure"
		return
	}
	pair, err := h.authSvc.Login(r.Context(), body)
	if err != nil {
		status = "failure"
		if errors.Is(err, service.ErrInvalidCredentials) {
			observability.Audit(r, observability.AuditInput{EventName: "auth.login", Outcome: "rejected", Reason: "invalid_credentials"})
			response.Error(w, r, http.StatusBadRequest, "INVALID_CREDENTIALS", "invalid credentials", nil)
			return
		}
		internalError(w, r, "auth.login", err)
		return
	}
	observability.Audit(r, observability.AuditInput{EventName: "auth.login", Outcome: "success"})
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "refresh", status, time.Since(start))
	}()

	var body refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	token := strings.TrimSpace(body.Token)
	if token == "" {
		token = strings.TrimSpace(body.RefreshToken)
	}
	if token == "" {
		status = "failure"
		observability.Audit(r, observability.AuditInput{EventName: "auth.refresh", Outcome: "rejected", Reason: "missing_token"})
		response.Error(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "no refresh token provided", nil)
		return
	}
	result, err := h.authSvc.RefreshAccessToken(r.Context(), token)
	if err != nil {
		status = "failure"
		if errors.Is(err, service.ErrInvalidToken) {
			observability.Audit(r, observability.AuditInput{EventName: "auth.refresh", Outcome: "rejected", Reason: "invalid_token"})
			response.Error(w, r, http.StatusForbidden, "INVALID_TOKEN", "invalid refresh token", nil)
			return
		}
		internalError(w, r, "auth.refresh", err)
		return
	}
	observability.Audit(r, observability.AuditInput{EventName: "auth.refresh", Outcome: "success"})
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "request_password_reset", status, time.Since(start))
	}()

	var body service.PasswordResetRequest
	if !decodeBody(w, r, &body) {
		status = "failure"
		return
	}
	if err := h.authSvc.RequestPasswordReset(r.Context(), body.Email); err != nil {
		status = "failure"
		if errors.Is(err, service.ErrAccountNotFound) {
			observability.Audit(r, observability.AuditInput{EventName: "auth.password_reset.request", Outcome: "rejected", Reason: "not_found"})
			response.Error(w, r, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "account not found", nil)
			return
		}
		internalError(w, r, "auth.password_reset.request", err)
		return
	}
	observability.Audit(r, observability.AuditInput{EventName: "auth.password_reset.request", Outcome: "success"})
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "password reset email sent"})
}

func (h *AuthHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "validate_reset_token", status, time.Since(start))
	}()

	if err := h.authSvc.ValidateResetToken(r.Context(), chi.URLParam(r, "token")); err != nil {
		status = "failure"
		if errors.Is(err, service.ErrInvalidToken) {
			response.Error(w, r, http.StatusBadRequest, "INVALID_TOKEN", "invalid or expired token", nil)
			return
		}
		internalError(w, r, "auth.password_reset.validate", err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "token is valid"})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "reset_password", status, time.Since(start))
	}()

	var body service.ResetPasswordRequest
	if !decodeBody(w, r, &body) {
		status = "failure"
		return
	}
	err := h.authSvc.ResetPassword(r.Context(), chi.URLParam(r, "token"), body.NewPassword)
	if err != nil {
		status = "failure"
		var verr *service.ValidationError
		switch {
		case errors.Is(err, service.ErrInvalidToken):
			observability.Audit(r, observability.AuditInput{EventName: "auth.password_reset.complete", Outcome: "rejected", Reason: "invalid_token"})
			response.Error(w, r, http.StatusBadRequest, "INVALID_TOKEN", "invalid or expired token", nil)
		case errors.As(err, &verr):
			response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid password", verr.Fields)
		default:
			internalError(w, r, "auth.password_reset.complete", err)
		}
		return
	}
	observability.Audit(r, observability.AuditInput{EventName: "auth.password_reset.complete", Outcome: "success"})
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "password has been reset"})
}

// decodeBody writes a 400 (or 413) and reports false when the body is unusable.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return false
	}
	return true
}

func internalError(w http.ResponseWriter, r *http.Request, event string, err error) {
	observability.Audit(r, observability.AuditInput{EventName: event, Outcome: "error", Reason: "internal"})
	slog.ErrorContext(r.Context(), "request failed", "event", event, "error", err)
	response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}
