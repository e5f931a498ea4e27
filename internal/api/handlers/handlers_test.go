package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	middleware "github.com/markdave123-py/docintel/internal/api/middlewares"
	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/models"
	"github.com/markdave123-py/docintel/internal/services"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{"validation", core.NewValidationError("text", "is required"), http.StatusBadRequest, ""},
		{"not found", fmt.Errorf("doc: %w", core.ErrNotFound), http.StatusNotFound, ""},
		{"in progress", fmt.Errorf("enqueue d1: %w", core.ErrInProgress), http.StatusConflict, ""},
		{"rate limited", &core.RateLimitedError{Agent: "summary", Limit: 40}, http.StatusTooManyRequests, "60"},
		{"circuit open", &core.CircuitOpenError{Agent: "qa", RetryAfter: 42 * time.Second}, http.StatusServiceUnavailable, "42"},
		{"transient", &core.ServiceError{Op: "x", Transient: true, Err: errors.New("down")}, http.StatusServiceUnavailable, ""},
		{"fatal", &core.ServiceError{Op: "x", Err: errors.New("denied")}, http.StatusBadGateway, ""},
		{"other", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, discard, tt.err)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}

type userStore struct{ users map[string]*models.User }

func (s *userStore) CreateUser(_ context.Context, u *models.User) error {
	s.users[u.Email] = u
	return nil
}

func (s *userStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return s.users[email], nil
}

func post(h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw)))
	return rec
}

func TestAuthSignupAndLogin(t *testing.T) {
	secret := []byte("s3cret")
	h := NewAuthHandler(services.NewUserService(&userStore{users: map[string]*models.User{}}, discard), secret, time.Hour, discard)

	rec := post(h.Signup, credentials{FirstName: "Ada", Email: "ada@example.com", Password: "long-enough"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %s", rec.Code, rec.Body)
	}

	rec = post(h.Login, credentials{Email: "ada@example.com", Password: "long-enough"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body)
	}
	var tok tokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&tok); err != nil {
		t.Fatal(err)
	}

	// the issued token must pass the middleware
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	out := httptest.NewRecorder()
	middleware.JWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.UserID(r.Context())
		_, _ = io.WriteString(w, id)
	})).ServeHTTP(out, req)
	if out.Code != http.StatusOK || out.Body.String() != tok.UserID {
		t.Errorf("middleware: %d %q, want user %q", out.Code, out.Body.String(), tok.UserID)
	}

	if rec := post(h.Login, credentials{Email: "ada@example.com", Password: "wrong-pass"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d", rec.Code)
	}
	if rec := post(h.Signup, credentials{Email: "not-an-email", Password: "long-enough"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad signup status = %d", rec.Code)
	}
}

func TestProtectedHandlersRequireUser(t *testing.T) {
	h := NewDocumentHandler(nil, 1<<20, discard)
	rec := httptest.NewRecorder()
	h.GetDocuments(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
