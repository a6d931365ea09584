package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/account-lifecycle-service/internal/http/middleware"
	"github.com/sandeepkv93/account-lifecycle-service/internal/http/response"
	"github.com/sandeepkv93/account-lifecycle-service/internal/service"
)

type UserHandler struct {
	userSvc service.UserServiceInterface
}

func NewUserHandler(userSvc service.UserServiceInterface) *UserHandler {
	return &UserHandler{userSvc: userSvc}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	subject, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	account, err := h.userSvc.GetByID(r.Context(), subject)
	if err != nil {
		if !errors.Is(err, service.ErrAccountNotFound) {
			slog.ErrorContext(r.Context(), "load current account failed", "error", err)
		}
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "account not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, account)
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.userSvc.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "list accounts failed", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list accounts", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, accounts)
}
