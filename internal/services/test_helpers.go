package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/postguard/internal/identity"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/ratelimit"
	pkgauth "github.com/BradenHooton/postguard/pkg/auth"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc           func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc        func(ctx context.Context, email string) (*models.User, error)
	GetByProviderFunc     func(ctx context.Context, providerID, subject string) (*models.User, error)
	CreateFunc            func(ctx context.Context, user *models.User, provider models.ProviderInfo) (*models.User, error)
	LinkProviderFunc      func(ctx context.Context, userID string, provider models.ProviderInfo) error
	UpdatePasswordFunc    func(ctx context.Context, id, passwordHash string) error
	RecordSignInFunc      func(ctx context.Context, id string, at time.Time) error
	MarkEmailVerifiedFunc func(ctx context.Context, id string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByProvider(ctx context.Context, providerID, subject string) (*models.User, error) {
	if m.GetByProviderFunc != nil {
		return m.GetByProviderFunc(ctx, providerID, subject)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User, provider models.ProviderInfo) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user, provider)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) LinkProvider(ctx context.Context, userID string, provider models.ProviderInfo) error {
	if m.LinkProviderFunc != nil {
		return m.LinkProviderFunc(ctx, userID, provider)
	}
	return nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) RecordSignIn(ctx context.Context, id string, at time.Time) error {
	if m.RecordSignInFunc != nil {
		return m.RecordSignInFunc(ctx, id, at)
	}
	return nil
}

func (m *MockUserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, id)
	}
	return nil
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	RevokeTokenFunc    func(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, userID, tokenType, expiresAt, reason)
	}
	return nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, jti)
	}
	return false, nil
}

// RecordedEvent is one call captured by MockEventRecorder.
type RecordedEvent struct {
	Type    string
	UserID  string
	Details map[string]interface{}
}

// MockEventRecorder captures recorded security events
type MockEventRecorder struct {
	mu     sync.Mutex
	Events []RecordedEvent
}

func (m *MockEventRecorder) Record(ctx context.Context, eventType, userID string, details map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, RecordedEvent{Type: eventType, UserID: userID, Details: details})
}

// Types returns the recorded event types in order.
func (m *MockEventRecorder) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Events))
	for _, e := range m.Events {
		out = append(out, e.Type)
	}
	return out
}

// Last returns the most recent event of the given type.
func (m *MockEventRecorder) Last(eventType string) (RecordedEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Events) - 1; i >= 0; i-- {
		if m.Events[i].Type == eventType {
			return m.Events[i], true
		}
	}
	return RecordedEvent{}, false
}

// MockLoginLimiter implements LoginLimiter for testing
type MockLoginLimiter struct {
	AttemptFunc       func(key string) bool
	RemainingTimeFunc func(key string) time.Duration

	// keys passed to Attempt, in call order
	Attempts []string
}

func (m *MockLoginLimiter) Attempt(key string) bool {
	m.Attempts = append(m.Attempts, key)
	if m.AttemptFunc != nil {
		return m.AttemptFunc(key)
	}
	return true
}

func (m *MockLoginLimiter) RemainingTime(key string) time.Duration {
	if m.RemainingTimeFunc != nil {
		return m.RemainingTimeFunc(key)
	}
	return 0
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendVerificationEmailFunc func(ctx context.Context, email, token string) error
	Sent                      []string
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string) error {
	m.Sent = append(m.Sent, email)
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, email, token)
	}
	return nil
}

// MockProvider implements identity.Provider for testing
type MockProvider struct {
	ExchangeFunc func(ctx context.Context, code string) (*identity.ExternalUser, error)
}

func (m *MockProvider) ID() string { return models.ProviderGoogle }

func (m *MockProvider) AuthorizationURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (m *MockProvider) Exchange(ctx context.Context, code string) (*identity.ExternalUser, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, code)
	}
	return nil, identity.NewError(identity.CodeOperationNotAllowed)
}

// MockPostRepository implements PostRepository for testing
type MockPostRepository struct {
	CreateFunc     func(ctx context.Context, post *models.Post) (*models.Post, error)
	ListByUserFunc func(ctx context.Context, userID string) ([]*models.Post, error)
	DeleteFunc     func(ctx context.Context, id uuid.UUID, userID string) error
}

func (m *MockPostRepository) Create(ctx context.Context, post *models.Post) (*models.Post, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, post)
	}
	return nil, models.ErrInternalServer
}

func (m *MockPostRepository) ListByUser(ctx context.Context, userID string) ([]*models.Post, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	return []*models.Post{}, nil
}

func (m *MockPostRepository) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id, userID)
	}
	return nil
}

// MockPostSubscriber hands out a channel the test drives directly
type MockPostSubscriber struct {
	C         chan struct{}
	Cancelled bool
}

func (m *MockPostSubscriber) Subscribe(userID string) (<-chan struct{}, func()) {
	return m.C, func() { m.Cancelled = true }
}

// MockSecurityEventReader implements SecurityEventReader for testing
type MockSecurityEventReader struct {
	ListByUserFunc     func(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
	ListBySeverityFunc func(ctx context.Context, severity models.Severity, limit int) ([]*models.SecurityEvent, error)
}

func (m *MockSecurityEventReader) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit, offset)
	}
	return []*models.SecurityEvent{}, nil
}

func (m *MockSecurityEventReader) ListBySeverity(ctx context.Context, severity models.Severity, limit int) ([]*models.SecurityEvent, error) {
	if m.ListBySeverityFunc != nil {
		return m.ListBySeverityFunc(ctx, severity, limit)
	}
	return []*models.SecurityEvent{}, nil
}

// MockLimitAdmin implements LimitAdmin for testing
type MockLimitAdmin struct {
	Limits     map[string]ratelimit.Limit
	Resets     []string
	TotalsFunc func(ctx context.Context) (ratelimit.Counters, error)
}

func (m *MockLimitAdmin) ActiveLimits() map[string]ratelimit.Limit {
	return m.Limits
}

func (m *MockLimitAdmin) Reset(key string) {
	m.Resets = append(m.Resets, key)
}

func (m *MockLimitAdmin) Totals(ctx context.Context) (ratelimit.Counters, error) {
	if m.TotalsFunc != nil {
		return m.TotalsFunc(ctx)
	}
	return ratelimit.Counters{}, nil
}

// NewTestUser creates a verified password user.
func NewTestUser(id, email, displayName string) *models.User {
	now := time.Now()
	return &models.User{
		ID:            id,
		Email:         email,
		DisplayName:   displayName,
		EmailVerified: true,
		TokenKey:      "token-key-" + id,
		Role:          "user",
		CreatedAt:     now,
		UpdatedAt:     now,
		ProviderData: []models.ProviderInfo{
			{ProviderID: models.ProviderPassword, Subject: email, Email: email, LinkedAt: now},
		},
	}
}

// NewTestUserWithPassword is NewTestUser with a bcrypt hash of password.
func NewTestUserWithPassword(id, email, password string) *models.User {
	user := NewTestUser(id, email, "")
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	user.PasswordHash = hash
	return user
}
