package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/ratelimit"
	"github.com/BradenHooton/postguard/internal/services"
	pkgauth "github.com/BradenHooton/postguard/pkg/auth"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   models.TokenTypeAccess,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// WithChiRouteContext sets URL parameters that chi would extract from the
// path.
//
// Example usage:
//
//	req := httptest.NewRequest("DELETE", "/posts/abc", nil)
//	req = WithChiRouteContext(req, map[string]string{
//	    "id": "abc",
//	})
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc              func(ctx context.Context, email, password string) (*services.AuthResponse, error)
	RegisterFunc           func(ctx context.Context, email, password, displayName string) (*services.AuthResponse, error)
	RefreshFunc            func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc             func(ctx context.Context, claims *models.TokenClaims, refreshToken string) error
	ChangePasswordFunc     func(ctx context.Context, userID, currentPassword, newPassword string) (*services.AuthResponse, error)
	ResendVerificationFunc func(ctx context.Context, userID string) error
	VerifyEmailFunc        func(ctx context.Context, token string) error
	GoogleStartFunc        func(ctx context.Context) (string, string, error)
	CompleteGoogleFunc     func(ctx context.Context, cb services.GoogleCallback) (*services.AuthResponse, error)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*services.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return nil, nil
}

func (m *MockAuthService) Register(ctx context.Context, email, password, displayName string) (*services.AuthResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password, displayName)
	}
	return nil, nil
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, nil
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, claims, refreshToken)
	}
	return nil
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*services.AuthResponse, error) {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, userID, currentPassword, newPassword)
	}
	return nil, nil
}

func (m *MockAuthService) ResendVerification(ctx context.Context, userID string) error {
	if m.ResendVerificationFunc != nil {
		return m.ResendVerificationFunc(ctx, userID)
	}
	return nil
}

func (m *MockAuthService) VerifyEmail(ctx context.Context, token string) error {
	if m.VerifyEmailFunc != nil {
		return m.VerifyEmailFunc(ctx, token)
	}
	return nil
}

func (m *MockAuthService) GoogleStart(ctx context.Context) (string, string, error) {
	if m.GoogleStartFunc != nil {
		return m.GoogleStartFunc(ctx)
	}
	return "", "", nil
}

func (m *MockAuthService) CompleteGoogle(ctx context.Context, cb services.GoogleCallback) (*services.AuthResponse, error) {
	if m.CompleteGoogleFunc != nil {
		return m.CompleteGoogleFunc(ctx, cb)
	}
	return nil, nil
}

// MockPostService implements PostServiceInterface for testing
type MockPostService struct {
	CreateFunc func(ctx context.Context, userID, text string) (*models.PostView, error)
	ListFunc   func(ctx context.Context, userID string) ([]models.PostView, error)
	DeleteFunc func(ctx context.Context, userID string, id uuid.UUID) error
	WatchFunc  func(ctx context.Context, userID string, send func([]models.PostView) error) error
}

func (m *MockPostService) Create(ctx context.Context, userID, text string) (*models.PostView, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, text)
	}
	return nil, nil
}

func (m *MockPostService) List(ctx context.Context, userID string) ([]models.PostView, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockPostService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID, id)
	}
	return nil
}

func (m *MockPostService) Watch(ctx context.Context, userID string, send func([]models.PostView) error) error {
	if m.WatchFunc != nil {
		return m.WatchFunc(ctx, userID, send)
	}
	<-ctx.Done()
	return ctx.Err()
}

// MockSecurityService implements SecurityServiceInterface for testing
type MockSecurityService struct {
	OverviewFunc           func(ctx context.Context, userID string) (*services.SecurityOverview, error)
	PasswordStrengthFunc   func(password string) pkgauth.PasswordStrength
	EventsFunc             func(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
	HighSeverityEventsFunc func(ctx context.Context, limit int) ([]*models.SecurityEvent, error)
	ActiveLimitsFunc       func() map[string]ratelimit.Limit
	LimiterTotalsFunc      func(ctx context.Context) (ratelimit.Counters, error)

	// ResetLimit calls, as "adminID:key"
	Resets []string
}

func (m *MockSecurityService) Overview(ctx context.Context, userID string) (*services.SecurityOverview, error) {
	if m.OverviewFunc != nil {
		return m.OverviewFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockSecurityService) PasswordStrength(password string) pkgauth.PasswordStrength {
	if m.PasswordStrengthFunc != nil {
		return m.PasswordStrengthFunc(password)
	}
	return pkgauth.CheckPasswordStrength(password)
}

func (m *MockSecurityService) Events(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.EventsFunc != nil {
		return m.EventsFunc(ctx, userID, limit, offset)
	}
	return nil, nil
}

func (m *MockSecurityService) HighSeverityEvents(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
	if m.HighSeverityEventsFunc != nil {
		return m.HighSeverityEventsFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockSecurityService) ActiveLimits() map[string]ratelimit.Limit {
	if m.ActiveLimitsFunc != nil {
		return m.ActiveLimitsFunc()
	}
	return map[string]ratelimit.Limit{}
}

func (m *MockSecurityService) LimiterTotals(ctx context.Context) (ratelimit.Counters, error) {
	if m.LimiterTotalsFunc != nil {
		return m.LimiterTotalsFunc(ctx)
	}
	return ratelimit.Counters{}, nil
}

func (m *MockSecurityService) ResetLimit(adminID, key string) {
	m.Resets = append(m.Resets, adminID+":"+key)
}
