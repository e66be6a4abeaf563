package integration

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/services"
)

func TestAuthFlow_RegisterPostAndLogout(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()

	email, password := TestUser("flow")

	// Register signs the user in and sends a verification email
	resp, err := ts.Request("POST", "/api/v1/auth/register", map[string]string{
		"email":        email,
		"password":     password,
		"display_name": "Flow User",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var registered services.AuthResponse
	require.NoError(t, ParseJSONResponse(resp, &registered))
	assert.NotEmpty(t, registered.AccessToken)
	assert.False(t, registered.User.EmailVerified)
	require.NotNil(t, ts.EmailService.GetLastEmail())
	assert.Equal(t, email, ts.EmailService.GetLastEmail().To)

	access := registered.AccessToken

	// Create a post containing markup
	resp, err = ts.RequestWithAuth("POST", "/api/v1/posts", access, PostPayload("<b>hello</b> world"))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.PostView
	require.NoError(t, ParseJSONResponse(resp, &created))
	assert.NotContains(t, created.Text, "<b>")
	assert.True(t, created.Sanitized)
	assert.Equal(t, "Flow User", created.DisplayName)

	// Empty posts are rejected
	resp, err = ts.RequestWithAuth("POST", "/api/v1/posts", access, PostPayload("   "))
	require.NoError(t, err)
	errResp, err := GetErrorResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errResp.Fields, "text")

	// List returns the post
	resp, err = ts.RequestWithAuth("GET", "/api/v1/posts", access, nil)
	require.NoError(t, err)
	var listed struct {
		Posts []models.PostView `json:"posts"`
	}
	require.NoError(t, ParseJSONResponse(resp, &listed))
	require.Len(t, listed.Posts, 1)
	assert.Equal(t, created.ID, listed.Posts[0].ID)

	// Security overview reflects the account
	resp, err = ts.RequestWithAuth("GET", "/api/v1/security/overview", access, nil)
	require.NoError(t, err)
	var overview services.SecurityOverview
	require.NoError(t, ParseJSONResponse(resp, &overview))
	assert.Equal(t, email, overview.Email)
	assert.Equal(t, models.ProviderPassword, overview.Provider)
	assert.NotNil(t, overview.LastLogin)

	// Registration is recorded as a security event
	require.Eventually(t, func() bool {
		resp, err := ts.RequestWithAuth("GET", "/api/v1/security/events", access, nil)
		if err != nil {
			return false
		}
		var events struct {
			Events []models.SecurityEvent `json:"events"`
		}
		if ParseJSONResponse(resp, &events) != nil {
			return false
		}
		for _, e := range events.Events {
			if e.EventType == models.EventUserRegistered {
				return true
			}
		}
		return false
	}, 5*time.Second, 100*time.Millisecond)

	// Delete the post
	resp, err = ts.RequestWithAuth("DELETE", "/api/v1/posts/"+created.ID.String(), access, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Logout revokes the access token
	resp, err = ts.RequestWithAuth("POST", "/api/v1/auth/logout", access, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = ts.RequestWithAuth("GET", "/api/v1/posts", access, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthFlow_LoginRateLimit(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()

	email, password := TestUser("limited")
	_, err := SeedUser(context.Background(), db.DB, email, password, true)
	require.NoError(t, err)

	for i := 0; i < ts.Config.Auth.MaxLoginAttempts; i++ {
		resp, err := ts.Request("POST", "/api/v1/auth/login", map[string]string{
			"email":    email,
			"password": "wrong-password",
		}, nil)
		require.NoError(t, err)
		errResp, err := GetErrorResponse(resp)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "auth/wrong-password", errResp.Error)
	}

	// the correct password is refused once the window is exhausted
	resp, err := ts.Request("POST", "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	errResp, err := GetErrorResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", errResp.Error)
	assert.Equal(t, "Too many login attempts. Try again in 15 minutes.", errResp.Message)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	limits := ts.Limiter.ActiveLimits()
	require.Contains(t, limits, email)
	assert.Equal(t, 0, limits[email].Remaining)

	// an admin reset lets the user back in
	ts.Limiter.Reset(email)
	resp, err = ts.Request("POST", "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFlow_RefreshWithCookieNeedsCSRF(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()

	email, password := TestUser("refresh")
	_, err := SeedUser(context.Background(), db.DB, email, password, true)
	require.NoError(t, err)

	resp, err := ts.Request("POST", "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, ts.Cookie(auth.RefreshTokenCookie))

	// a forged request without the CSRF header is refused
	resp, err = ts.Request("POST", "/api/v1/auth/refresh", nil, map[string]string{"X-CSRF-Token": "forged"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	oldRefresh := ts.Cookie(auth.RefreshTokenCookie)
	resp, err = ts.Request("POST", "/api/v1/auth/refresh", nil, nil)
	require.NoError(t, err)
	access, _, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, access)
	assert.NotEqual(t, oldRefresh, ts.Cookie(auth.RefreshTokenCookie))
}

func TestAuthFlow_AdminRateLimitEndpoints(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()
	ctx := context.Background()

	adminEmail, password := TestUser("admin")
	_, err := SeedAdmin(ctx, db.DB, adminEmail, password)
	require.NoError(t, err)
	userEmail, _ := TestUser("plain")
	_, err = SeedUser(ctx, db.DB, userEmail, password, true)
	require.NoError(t, err)

	login := func(email string) string {
		resp, err := ts.Request("POST", "/api/v1/auth/login", map[string]string{"email": email, "password": password}, nil)
		require.NoError(t, err)
		access, _, err := ExtractTokensFromResponse(resp)
		require.NoError(t, err)
		return access
	}
	adminToken := login(adminEmail)
	userToken := login(userEmail)

	ts.Limiter.Attempt("victim@example.com")

	resp, err := ts.RequestWithAuth("GET", "/api/v1/admin/rate-limits", userToken, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = ts.RequestWithAuth("GET", "/api/v1/admin/rate-limits", adminToken, nil)
	require.NoError(t, err)
	var body struct {
		Limits map[string]struct {
			Attempts int `json:"attempts"`
		} `json:"limits"`
	}
	require.NoError(t, ParseJSONResponse(resp, &body))
	assert.Equal(t, 1, body.Limits["victim@example.com"].Attempts)

	resp, err = ts.RequestWithAuth("DELETE", "/api/v1/admin/rate-limits/victim@example.com", adminToken, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotContains(t, ts.Limiter.ActiveLimits(), "victim@example.com")
}

func TestAuthFlow_PostStream(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()

	email, password := TestUser("stream")
	_, err := SeedUser(context.Background(), db.DB, email, password, true)
	require.NoError(t, err)

	resp, err := ts.Request("POST", "/api/v1/auth/login", map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	access, _, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.Server.URL+"/api/v1/posts/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(stream.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				events <- line
			}
		}
		close(events)
	}()

	// the initial snapshot is empty
	select {
	case first := <-events:
		assert.Contains(t, first, `"posts":[]`)
	case <-ctx.Done():
		t.Fatal("no initial snapshot")
	}

	// keep posting until the listener delivers a change
	for {
		created, err := ts.RequestWithAuth("POST", "/api/v1/posts", access, PostPayload("live"))
		require.NoError(t, err)
		created.Body.Close()

		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed early")
			assert.Contains(t, ev, `"text":"live"`)
			return
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no update received on the stream")
		}
	}
}
