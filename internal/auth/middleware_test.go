package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/postguard/internal/models"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

type MockRevocationChecker struct {
	IsTokenRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockRevocationChecker) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return m.IsTokenRevokedFunc(ctx, jti)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r)
	if claims == nil {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(claims.UserID))
})

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/posts", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)

	rec := serve(AuthMiddleware(tm, nil, RevocationConfig{}, discardLogger())(okHandler), token)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	rec := serve(AuthMiddleware(newTestTokenManager(), nil, RevocationConfig{}, discardLogger())(okHandler), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Error)
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	h := AuthMiddleware(newTestTokenManager(), nil, RevocationConfig{}, discardLogger())(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_RejectsRefreshToken(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateRefreshToken(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)

	rec := serve(AuthMiddleware(tm, nil, RevocationConfig{}, discardLogger())(okHandler), token)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_RevokedToken(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)

	checker := &MockRevocationChecker{
		IsTokenRevokedFunc: func(ctx context.Context, jti string) (bool, error) { return true, nil },
	}
	rec := serve(AuthMiddleware(tm, checker, RevocationConfig{}, discardLogger())(okHandler), token)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token has been revoked", decodeError(t, rec).Message)
}

func TestAuthMiddleware_RevocationCheckFailure(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)

	checker := &MockRevocationChecker{
		IsTokenRevokedFunc: func(ctx context.Context, jti string) (bool, error) {
			return false, errors.New("db down")
		},
	}

	t.Run("fail open", func(t *testing.T) {
		rec := serve(AuthMiddleware(tm, checker, RevocationConfig{FailClosed: false}, discardLogger())(okHandler), token)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("fail closed", func(t *testing.T) {
		rec := serve(AuthMiddleware(tm, checker, RevocationConfig{FailClosed: true}, discardLogger())(okHandler), token)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	repo := keyedRepo(map[string]*models.User{
		"admin-1": {ID: "admin-1", Role: "admin"},
		"user-1":  {ID: "user-1", Role: "user"},
	})
	h := RequireRole(repo, "admin")(okHandler)

	tests := []struct {
		name   string
		claims *models.TokenClaims
		want   int
	}{
		{"admin passes", &models.TokenClaims{UserID: "admin-1"}, http.StatusOK},
		{"user forbidden", &models.TokenClaims{UserID: "user-1"}, http.StatusForbidden},
		{"unknown user", &models.TokenClaims{UserID: "ghost"}, http.StatusUnauthorized},
		{"no claims", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireRole_RepositoryError(t *testing.T) {
	repo := &MockUserRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return nil, errors.New("boom")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = req.WithContext(WithClaims(req.Context(), &models.TokenClaims{UserID: "u"}))
	rec := httptest.NewRecorder()

	RequireRole(repo, "admin")(okHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
