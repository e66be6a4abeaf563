package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/ratelimit"
	"github.com/BradenHooton/postguard/internal/security"
	pkgauth "github.com/BradenHooton/postguard/pkg/auth"
	pkglogger "github.com/BradenHooton/postguard/pkg/logger"
)

const (
	defaultEventPage = 50
	maxEventPage     = 200
)

type SecurityEventReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
	ListBySeverity(ctx context.Context, severity models.Severity, limit int) ([]*models.SecurityEvent, error)
}

// LimitAdmin inspects and clears login limiter state.
type LimitAdmin interface {
	ActiveLimits() map[string]ratelimit.Limit
	Reset(key string)
	Totals(ctx context.Context) (ratelimit.Counters, error)
}

type SecurityService struct {
	users   UserGetter
	events  SecurityEventReader
	limiter LimitAdmin
	logger  *slog.Logger
	now     func() time.Time
}

func NewSecurityService(users UserGetter, events SecurityEventReader, limiter LimitAdmin, logger *slog.Logger) *SecurityService {
	return &SecurityService{users: users, events: events, limiter: limiter, logger: logger, now: time.Now}
}

// SecurityOverview is the account security summary shown to a user.
type SecurityOverview struct {
	UID            string                 `json:"uid"`
	Email          string                 `json:"email"`
	DisplayName    string                 `json:"display_name"`
	EmailVerified  bool                   `json:"email_verified"`
	Provider       string                 `json:"provider"`
	AccountCreated time.Time              `json:"account_created"`
	LastLogin      *time.Time             `json:"last_login"`
	Session        security.SessionStatus `json:"session"`
	Audit          security.AuditReport   `json:"audit"`
}

func (s *SecurityService) Overview(ctx context.Context, userID string) (*SecurityOverview, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load user", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	provider := user.PrimaryProvider()
	if provider == "" {
		provider = models.ProviderPassword
	}

	now := s.now()
	return &SecurityOverview{
		UID:            user.ID,
		Email:          user.Email,
		DisplayName:    user.DisplayName,
		EmailVerified:  user.EmailVerified,
		Provider:       provider,
		AccountCreated: user.CreatedAt,
		LastLogin:      user.LastSignInAt,
		Session:        security.ValidateSession(user, now),
		Audit:          security.PerformAudit(user, now),
	}, nil
}

func (s *SecurityService) PasswordStrength(password string) pkgauth.PasswordStrength {
	return pkgauth.CheckPasswordStrength(password)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultEventPage
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Events returns the caller's own security events, newest first.
func (s *SecurityService) Events(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	limit, offset = clampPage(limit, offset)
	events, err := s.events.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list security events", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}
	return events, nil
}

// HighSeverityEvents returns the latest high severity events of all users.
func (s *SecurityService) HighSeverityEvents(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
	limit, _ = clampPage(limit, 0)
	events, err := s.events.ListBySeverity(ctx, models.SeverityHigh, limit)
	if err != nil {
		s.logger.Error("failed to list high severity events", slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}
	return events, nil
}

func (s *SecurityService) ActiveLimits() map[string]ratelimit.Limit {
	return s.limiter.ActiveLimits()
}

// LimiterTotals reports the allowed and denied login attempts recorded so far.
func (s *SecurityService) LimiterTotals(ctx context.Context) (ratelimit.Counters, error) {
	totals, err := s.limiter.Totals(ctx)
	if err != nil {
		s.logger.Warn("failed to read limiter stats", slog.String("error", err.Error()))
		return ratelimit.Counters{}, models.ErrInternalServer
	}
	return totals, nil
}

// ResetLimit clears the attempts of key on behalf of an administrator.
func (s *SecurityService) ResetLimit(adminID, key string) {
	s.limiter.Reset(key)
	s.logger.Info("login limit reset by admin",
		slog.String("admin_id", adminID),
		pkglogger.EmailAttr("key", key))
}
