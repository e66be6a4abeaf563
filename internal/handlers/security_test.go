package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/postguard/internal/handlers"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/ratelimit"
	"github.com/BradenHooton/postguard/internal/services"
	pkgauth "github.com/BradenHooton/postguard/pkg/auth"
)

func TestSecurityOverview(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock := &handlers.MockSecurityService{
		OverviewFunc: func(ctx context.Context, userID string) (*services.SecurityOverview, error) {
			assert.Equal(t, "user-1", userID)
			return &services.SecurityOverview{
				UID:            userID,
				Email:          "user@example.com",
				EmailVerified:  true,
				Provider:       models.ProviderPassword,
				AccountCreated: created,
			}, nil
		},
	}

	req := httptest.NewRequest("GET", "/security/overview", nil)
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()
	handlers.NewSecurityHandler(mock).Overview(w, req)

	var resp services.SecurityOverview
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "user-1", resp.UID)
	assert.Equal(t, models.ProviderPassword, resp.Provider)
	assert.True(t, resp.AccountCreated.Equal(created))
}

func TestSecurityOverview_UnknownUser(t *testing.T) {
	mock := &handlers.MockSecurityService{
		OverviewFunc: func(ctx context.Context, userID string) (*services.SecurityOverview, error) {
			return nil, models.ErrNotFound
		},
	}

	req := httptest.NewRequest("GET", "/security/overview", nil)
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()
	handlers.NewSecurityHandler(mock).Overview(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestPasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		wantWeak bool
	}{
		{"abc", true},
		{"Str0ng!Passw0rd", false},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			req := handlers.NewTestRequest(t, "POST", "/security/password-strength", handlers.PasswordStrengthRequest{Password: tt.password})
			w := httptest.NewRecorder()
			handlers.NewSecurityHandler(&handlers.MockSecurityService{}).PasswordStrength(w, req)

			var resp pkgauth.PasswordStrength
			handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
			assert.Equal(t, tt.wantWeak, !resp.IsStrong)
			assert.Equal(t, pkgauth.CheckPasswordStrength(tt.password), resp)
		})
	}
}

func TestSecurityEvents_PassesPaging(t *testing.T) {
	var gotLimit, gotOffset int
	mock := &handlers.MockSecurityService{
		EventsFunc: func(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
			gotLimit, gotOffset = limit, offset
			return []*models.SecurityEvent{{EventType: models.EventLoginFailure, Severity: models.SeverityMedium}}, nil
		},
	}

	req := httptest.NewRequest("GET", "/security/events?limit=10&offset=20", nil)
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()
	handlers.NewSecurityHandler(mock).Events(w, req)

	var resp struct {
		Events []models.SecurityEvent `json:"events"`
	}
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, 10, gotLimit)
	assert.Equal(t, 20, gotOffset)
}

func TestSecurityEvents_IgnoresBadNumbers(t *testing.T) {
	var gotLimit, gotOffset int
	mock := &handlers.MockSecurityService{
		EventsFunc: func(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}

	req := httptest.NewRequest("GET", "/security/events?limit=lots&offset=-", nil)
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()
	handlers.NewSecurityHandler(mock).Events(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, gotLimit)
	assert.Equal(t, 0, gotOffset)
}

func TestHighSeverityEvents(t *testing.T) {
	mock := &handlers.MockSecurityService{
		HighSeverityEventsFunc: func(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
			assert.Equal(t, 5, limit)
			return []*models.SecurityEvent{{EventType: models.EventSuspiciousActivity, Severity: models.SeverityHigh}}, nil
		},
	}

	req := httptest.NewRequest("GET", "/admin/security-events?limit=5", nil)
	w := httptest.NewRecorder()
	handlers.NewSecurityHandler(mock).HighSeverityEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.EventSuspiciousActivity)
}

func TestRateLimits(t *testing.T) {
	mock := &handlers.MockSecurityService{
		ActiveLimitsFunc: func() map[string]ratelimit.Limit {
			return map[string]ratelimit.Limit{
				"user@example.com": {Attempts: 5, Remaining: 0, ResetIn: time.Minute},
			}
		},
		LimiterTotalsFunc: func(ctx context.Context) (ratelimit.Counters, error) {
			return ratelimit.Counters{Allowed: 12, Denied: 3}, nil
		},
	}

	req := httptest.NewRequest("GET", "/admin/rate-limits", nil)
	w := httptest.NewRecorder()
	handlers.NewSecurityHandler(mock).RateLimits(w, req)

	var resp struct {
		Limits map[string]ratelimit.Limit `json:"limits"`
		Totals *ratelimit.Counters        `json:"totals"`
	}
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 5, resp.Limits["user@example.com"].Attempts)
	require.NotNil(t, resp.Totals)
	assert.Equal(t, int64(3), resp.Totals.Denied)
}

func TestRateLimits_OmitsTotalsOnStatsFailure(t *testing.T) {
	mock := &handlers.MockSecurityService{
		LimiterTotalsFunc: func(ctx context.Context) (ratelimit.Counters, error) {
			return ratelimit.Counters{}, models.ErrInternalServer
		},
	}

	req := httptest.NewRequest("GET", "/admin/rate-limits", nil)
	w := httptest.NewRecorder()
	handlers.NewSecurityHandler(mock).RateLimits(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "totals")
}

func TestResetRateLimit(t *testing.T) {
	mock := &handlers.MockSecurityService{}

	req := httptest.NewRequest("DELETE", "/admin/rate-limits/user%40example.com", nil)
	req = handlers.WithAuthContext(req, "admin-1", "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"key": "user%40example.com"})
	w := httptest.NewRecorder()
	handlers.NewSecurityHandler(mock).ResetRateLimit(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"admin-1:user@example.com"}, mock.Resets)
}

func TestResetRateLimit_MissingKey(t *testing.T) {
	mock := &handlers.MockSecurityService{}

	req := httptest.NewRequest("DELETE", "/admin/rate-limits/", nil)
	req = handlers.WithAuthContext(req, "admin-1", "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"key": ""})
	w := httptest.NewRecorder()
	handlers.NewSecurityHandler(mock).ResetRateLimit(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Empty(t, mock.Resets)
}
