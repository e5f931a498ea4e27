package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	middleware "github.com/markdave123-py/docintel/internal/api/middlewares"
	"github.com/markdave123-py/docintel/internal/services"
)

type AuthHandler struct {
	users  *services.UserService
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
}

func NewAuthHandler(users *services.UserService, secret []byte, ttl time.Duration, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{users: users, secret: secret, ttl: ttl, logger: logger}
}

type credentials struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	user, err := h.users.Register(r.Context(), req.FirstName, req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respondToken(w, http.StatusCreated, user.ID)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		writeMessage(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respondToken(w, http.StatusOK, user.ID)
}

func (h *AuthHandler) respondToken(w http.ResponseWriter, status int, userID string) {
	token, err := middleware.IssueToken(h.secret, userID, h.ttl)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, UserID: userID})
}
