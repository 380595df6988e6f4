package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/corpora-labs/corpusd/internal/api"
	"github.com/corpora-labs/corpusd/internal/domain"
)

type AuthService interface {
	CreateUser(ctx context.Context, name string) (*domain.User, error)
	CreateAPIKey(ctx context.Context, userID, name string) (string, error)
}

type AuthHandler struct {
	svc AuthService
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type CreateUserRequest struct {
	Name string `json:"name"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type APIKeyResponse struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	user, err := h.svc.CreateUser(r.Context(), req.Name)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	})
}

func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		api.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	token, err := h.svc.CreateAPIKey(r.Context(), req.UserID, req.Name)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, APIKeyResponse{
		Token: token,
		Name:  req.Name,
	})
}
