package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/config"
	"github.com/BradenHooton/postguard/internal/database"
	"github.com/BradenHooton/postguard/internal/handlers"
	"github.com/BradenHooton/postguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/postguard/internal/middleware"
	"github.com/BradenHooton/postguard/internal/ratelimit"
	"github.com/BradenHooton/postguard/internal/repositories"
	"github.com/BradenHooton/postguard/internal/routes"
	"github.com/BradenHooton/postguard/internal/security"
	"github.com/BradenHooton/postguard/internal/services"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

// SentEmail represents a captured email message
type SentEmail struct {
	To    string
	Token string
}

// MockEmailService captures sent emails for test assertions
type MockEmailService struct {
	SentEmails []SentEmail
	mu         sync.Mutex
}

// SendVerificationEmail records the email
func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SentEmails = append(m.SentEmails, SentEmail{To: email, Token: token})
	return nil
}

// GetLastEmail returns the most recent email sent
func (m *MockEmailService) GetLastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SentEmails) == 0 {
		return nil
	}
	last := m.SentEmails[len(m.SentEmails)-1]
	return &last
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	Client       *http.Client
	DB           *database.DB
	EmailService *MockEmailService
	Config       *config.Config

	// Dependency references for inspection in tests
	Limiter  *ratelimit.Limiter
	Watcher  *repositories.PostWatcher
	recorder *security.Recorder
	cancel   context.CancelFunc
}

// NewTestServer initializes a complete HTTP server with real database + mocked email
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			VerifyTokenExpiry:  24 * time.Hour,
			MaxLoginAttempts:   5,
			LoginTimeout:       15 * time.Minute,
			TimingDelayBase:    10 * time.Millisecond,
			CleanupInterval:    time.Hour,
		},
		Security: config.SecurityConfig{
			EnableLogging:  true,
			EventQueueSize: 64,
			CookieSameSite: "strict",
		},
		Server: config.ServerConfig{
			Env:    "test",
			AppURL: "http://app.test",
		},
	}

	repos := InitializeRepositories(db)
	m := metrics.New()
	mockEmail := &MockEmailService{}

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.VerifyTokenExpiry,
	)
	tokenManager.SetUserRepo(repos.Users)

	limiter := ratelimit.New(cfg.Auth.MaxLoginAttempts, cfg.Auth.LoginTimeout,
		ratelimit.WithStats(ratelimit.NewMemoryStatsStore(), logger))

	// requests come from loopback, so the resolver must not reach out
	resolver := security.NewLookupResolver(security.LookupConfig{
		Environment: "development",
	}, security.NewMemoryIPCache(), m, logger)
	recorder := security.NewRecorder(security.Config{
		Enabled:     cfg.Security.EnableLogging,
		Environment: cfg.Server.Env,
		QueueSize:   cfg.Security.EventQueueSize,
	}, repos.Events, resolver, logger, security.WithMetrics(m))
	go recorder.Start()

	ctx, cancel := context.WithCancel(context.Background())
	watcher := repositories.NewPostWatcher(db.DSN, logger)
	go func() { _ = watcher.Run(ctx) }()

	authService := services.NewAuthService(repos.Users, tokenManager, repos.Revoke, limiter, recorder, logger, cfg.Server.Env,
		services.WithEmailService(mockEmail),
		services.WithTimingDelay(auth.NewTimingDelay(auth.TimingConfig{BaseDelay: cfg.Auth.TimingDelayBase})),
		services.WithAuthMetrics(m),
	)
	postService := services.NewPostService(repos.Posts, repos.Users, watcher, m, logger)
	securityService := services.NewSecurityService(repos.Users, repos.Events, limiter, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.RequestInfo(pkghttp.NewIPConfig(nil)))
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(r, routes.Dependencies{
		AuthHandler: handlers.NewAuthHandler(authService, handlers.AuthHandlerConfig{
			Cookies:    auth.CookieConfig{SameSite: cfg.Security.CookieSameSite},
			RefreshTTL: cfg.Auth.RefreshTokenExpiry,
			AppURL:     cfg.Server.AppURL,
		}, logger),
		PostHandler:     handlers.NewPostHandler(postService, logger),
		SecurityHandler: handlers.NewSecurityHandler(securityService),
		HealthHandler:   handlers.NewHealthHandler(map[string]handlers.CheckFunc{"database": db.HealthCheck}),
		Metrics:         m.Handler(),
		TokenManager:    tokenManager,
		UserRepo:        repos.Users,
		RevokeRepo:      repos.Revoke,
		Revocation:      auth.RevocationConfig{FailClosed: true},
		Logger:          logger,
	})

	server := httptest.NewServer(r)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &TestServer{
		Server:       server,
		Client:       client,
		DB:           db,
		EmailService: mockEmail,
		Config:       cfg,
		Limiter:      limiter,
		Watcher:      watcher,
		recorder:     recorder,
		cancel:       cancel,
	}
}

// Close shuts down the test server and flushes pending security events
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	ts.cancel()
	ts.Limiter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ts.recorder.Stop(ctx)
}

// Request makes an HTTP request to the test server. Cookies persist between
// requests; the CSRF cookie, when present, is echoed in X-CSRF-Token.
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	target := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, target, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if csrf := ts.Cookie(auth.CSRFTokenCookie); csrf != "" && req.Header.Get("X-CSRF-Token") == "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}

	return ts.Client.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// Cookie returns the value the client would send for name on the API paths.
func (ts *TestServer) Cookie(name string) string {
	u, err := url.Parse(ts.Server.URL + "/api/v1/auth/refresh")
	if err != nil {
		return ""
	}
	for _, c := range ts.Client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokensFromResponse extracts access/refresh tokens from auth response
func ExtractTokensFromResponse(resp *http.Response) (accessToken, refreshToken string, err error) {
	defer resp.Body.Close()

	var authResp services.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", "", fmt.Errorf("failed to parse response: %w", err)
	}
	return authResp.AccessToken, authResp.RefreshToken, nil
}

// GetErrorResponse decodes an error body
func GetErrorResponse(resp *http.Response) (pkghttp.ErrorResponse, error) {
	defer resp.Body.Close()
	var errResp pkghttp.ErrorResponse
	err := json.NewDecoder(resp.Body).Decode(&errResp)
	return errResp, err
}
