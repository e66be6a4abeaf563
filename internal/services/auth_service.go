package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/identity"
	"github.com/BradenHooton/postguard/internal/metrics"
	"github.com/BradenHooton/postguard/internal/models"
	pkgauth "github.com/BradenHooton/postguard/pkg/auth"
	pkglogger "github.com/BradenHooton/postguard/pkg/logger"
	"github.com/BradenHooton/postguard/pkg/validation"
)

const (
	methodEmailPassword = "email_password"
	methodGoogle        = "google_oauth"
)

// UserRepository is the user storage used by the services.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByProvider(ctx context.Context, providerID, subject string) (*models.User, error)
	Create(ctx context.Context, user *models.User, provider models.ProviderInfo) (*models.User, error)
	LinkProvider(ctx context.Context, userID string, provider models.ProviderInfo) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	RecordSignIn(ctx context.Context, id string, at time.Time) error
	MarkEmailVerified(ctx context.Context, id string) error
}

type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// EventRecorder records security events. Record must not block.
type EventRecorder interface {
	Record(ctx context.Context, eventType, userID string, details map[string]interface{})
}

// LoginLimiter throttles sign-in and registration attempts per email.
// LoginLimiter gates sign-in attempts. Successful attempts count toward the
// window like failed ones; only an administrator clears a key.
type LoginLimiter interface {
	Attempt(key string) bool
	RemainingTime(key string) time.Duration
}

type AuthService struct {
	repo       UserRepository
	revokeRepo TokenRevocationRepository
	tm         *auth.TokenManager
	limiter    LoginLimiter
	events     EventRecorder
	email      EmailService
	google     identity.Provider
	timing     *auth.TimingDelay
	metrics    *metrics.Metrics
	logger     *slog.Logger
	env        string
	now        func() time.Time
}

type AuthOption func(*AuthService)

func WithEmailService(e EmailService) AuthOption {
	return func(s *AuthService) { s.email = e }
}

// WithGoogleProvider enables Google sign-in.
func WithGoogleProvider(p identity.Provider) AuthOption {
	return func(s *AuthService) { s.google = p }
}

func WithTimingDelay(td *auth.TimingDelay) AuthOption {
	return func(s *AuthService) { s.timing = td }
}

func WithAuthMetrics(m *metrics.Metrics) AuthOption {
	return func(s *AuthService) { s.metrics = m }
}

func NewAuthService(repo UserRepository, tm *auth.TokenManager, revokeRepo TokenRevocationRepository, limiter LoginLimiter, events EventRecorder, logger *slog.Logger, env string, opts ...AuthOption) *AuthService {
	s := &AuthService{
		repo:       repo,
		revokeRepo: revokeRepo,
		tm:         tm,
		limiter:    limiter,
		events:     events,
		logger:     logger,
		env:        env,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UserResponse is the public view of a user.
type UserResponse struct {
	UID           string                `json:"uid"`
	Email         string                `json:"email"`
	DisplayName   string                `json:"display_name"`
	EmailVerified bool                  `json:"email_verified"`
	Role          string                `json:"role"`
	ProviderData  []models.ProviderInfo `json:"provider_data"`
	Metadata      models.UserMetadata   `json:"metadata"`
}

type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	User         *UserResponse `json:"user"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// checkLimit consumes an attempt for key. A denial is recorded and returned
// as a *RateLimitError. An empty key is never limited; callers reject it.
func (s *AuthService) checkLimit(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	allowed := s.limiter.Attempt(key)
	s.metrics.LoginDecision(allowed)
	if allowed {
		return nil
	}

	rl := &RateLimitError{RetryAfter: s.limiter.RemainingTime(key)}
	s.logger.Warn("login rate limit exceeded",
		pkglogger.EmailAttr("email", key),
		slog.Int("remaining_minutes", rl.Minutes()))
	s.events.Record(ctx, models.EventRateLimitExceeded, "", map[string]interface{}{
		"email":         key,
		"remainingTime": rl.Minutes(),
	})
	return rl
}

// Login signs a user in with email and password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	email = normalizeEmail(email)
	if err := s.checkLimit(ctx, email); err != nil {
		return nil, err
	}

	start := s.now()
	user, err := s.authenticate(ctx, email, password)
	if err != nil {
		if s.timing != nil {
			s.timing.WaitFrom(start, false)
		}
		code := identity.CodeOf(err)
		internal := code == ""
		if internal {
			code = identity.CodeNetworkFailed
			s.logger.Error("login failed", slog.String("error", err.Error()))
		} else {
			s.logger.Info("login failed", slog.String("code", code))
		}
		s.events.Record(ctx, models.EventLoginFailure, "", map[string]interface{}{
			"email":  email,
			"error":  code,
			"reason": identity.Message(code),
		})
		if internal {
			return nil, models.ErrInternalServer
		}
		return nil, err
	}

	resp, err := s.signIn(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.events.Record(ctx, models.EventLoginSuccess, user.ID, map[string]interface{}{
		"method": methodEmailPassword,
	})
	return resp, nil
}

// authenticate returns an *identity.Error for every credential problem and
// a plain error for infrastructure failures.
func (s *AuthService) authenticate(ctx context.Context, email, password string) (*models.User, error) {
	if validation.ValidateEmail(email) != "" {
		return nil, identity.NewError(identity.CodeInvalidEmail)
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, identity.NewError(identity.CodeUserNotFound)
		}
		return nil, err
	}

	if user.PasswordHash == "" {
		return nil, identity.NewError(identity.CodeWrongPassword)
	}
	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, identity.NewError(identity.CodeWrongPassword)
	}
	return user, nil
}

// signIn stamps the sign-in time and issues a token pair.
func (s *AuthService) signIn(ctx context.Context, user *models.User) (*AuthResponse, error) {
	now := s.now().UTC()
	if err := s.repo.RecordSignIn(ctx, user.ID, now); err != nil {
		s.logger.Error("failed to record sign-in", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}
	user.LastSignInAt = &now

	pair, err := s.tm.GenerateTokenPair(ctx, user)
	if err != nil {
		s.logger.Error("failed to generate tokens", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		User:         NewUserResponse(user),
	}, nil
}

// Register creates a password account, sends the verification email and
// signs the new user in.
func (s *AuthService) Register(ctx context.Context, email, password, displayName string) (*AuthResponse, error) {
	email = normalizeEmail(email)
	displayName = strings.TrimSpace(displayName)

	fail := func(code string, err error) (*AuthResponse, error) {
		s.events.Record(ctx, models.EventRegistrationFailed, "", map[string]interface{}{
			"email": email,
			"error": code,
		})
		return nil, err
	}

	// malformed addresses would all share one limiter key
	if msg := validation.ValidateEmail(email); msg != "" {
		return fail(identity.CodeInvalidEmail, &ValidationError{Fields: map[string]string{"email": msg}})
	}

	if err := s.checkLimit(ctx, email); err != nil {
		return nil, err
	}

	if verr := s.validateRegistration(email, password, displayName); verr != nil {
		code := "validation_failed"
		if _, ok := verr.Fields["email"]; ok {
			code = identity.CodeInvalidEmail
		} else if _, ok := verr.Fields["password"]; ok {
			code = identity.CodeWeakPassword
		}
		return fail(code, verr)
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return fail(identity.CodeEmailAlreadyInUse, identity.NewError(identity.CodeEmailAlreadyInUse))
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check existing user", slog.String("error", err.Error()))
		return fail(identity.CodeNetworkFailed, models.ErrInternalServer)
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.String("error", err.Error()))
		return fail(identity.CodeNetworkFailed, models.ErrInternalServer)
	}

	created, err := s.repo.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
	}, models.ProviderInfo{ProviderID: models.ProviderPassword, Subject: email, Email: email})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return fail(identity.CodeEmailAlreadyInUse, identity.NewError(identity.CodeEmailAlreadyInUse))
		}
		s.logger.Error("failed to create user", slog.String("error", err.Error()))
		return fail(identity.CodeNetworkFailed, models.ErrInternalServer)
	}

	s.sendVerification(ctx, created)

	resp, err := s.signIn(ctx, created)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID))
	s.events.Record(ctx, models.EventUserRegistered, created.ID, map[string]interface{}{
		"email":          email,
		"hasDisplayName": displayName != "",
	})
	return resp, nil
}

func (s *AuthService) validateRegistration(email, password, displayName string) *ValidationError {
	result := validation.ValidateForm(validation.Fields{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	}, s.env)

	fields := result.Errors
	if email == "" {
		fields["email"] = validation.ValidateEmail(email)
	}
	if password == "" {
		fields["password"] = validation.ValidatePassword(password, s.env)
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// sendVerification mails a verification link. Failures are logged only;
// the user can ask for another one.
func (s *AuthService) sendVerification(ctx context.Context, user *models.User) bool {
	if s.email == nil {
		s.logger.Warn("email service not configured, verification email skipped", slog.String("user_id", user.ID))
		return false
	}

	token, err := s.tm.GenerateVerifyToken(ctx, user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate verification token", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return false
	}

	if err := s.email.SendVerificationEmail(ctx, user.Email, token); err != nil {
		s.logger.Error("failed to send verification email", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return false
	}
	return true
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(ctx, refreshToken, models.TokenTypeRefresh)
	if err != nil {
		s.logger.Info("refresh token rejected", slog.String("error", err.Error()))
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revokeRepo.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("failed to check refresh token revocation", slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}
	if revoked {
		s.events.Record(ctx, models.EventSuspiciousActivity, claims.UserID, map[string]interface{}{
			"reason": "revoked refresh token reused",
		})
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load user for refresh", slog.String("user_id", claims.UserID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "rotated"); err != nil {
		s.logger.Error("failed to revoke rotated refresh token", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	pair, err := s.tm.GenerateTokenPair(ctx, user)
	if err != nil {
		s.logger.Error("failed to generate tokens", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		User:         NewUserResponse(user),
	}, nil
}

// Logout revokes the access token described by claims and, when given, the
// refresh token.
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
	if claims == nil {
		return models.ErrUnauthorized
	}

	s.events.Record(ctx, models.EventUserLogout, claims.UserID, nil)

	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "logout"); err != nil {
		s.logger.Error("failed to revoke token", slog.String("user_id", claims.UserID), slog.String("error", err.Error()))
		return models.ErrInternalServer
	}

	if refreshToken != "" {
		if rc, err := s.tm.ValidateToken(ctx, refreshToken, models.TokenTypeRefresh); err == nil && rc.UserID == claims.UserID {
			if err := s.revokeRepo.RevokeToken(ctx, rc.ID, rc.UserID, rc.Type, rc.ExpiresAt.Time, "logout"); err != nil {
				s.logger.Warn("failed to revoke refresh token", slog.String("user_id", claims.UserID), slog.String("error", err.Error()))
			}
		}
	}

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	return nil
}

// ChangePassword re-authenticates with the current password and stores the
// new one. The token key is rotated, so a fresh token pair is returned.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*AuthResponse, error) {
	fail := func(code string, err error) (*AuthResponse, error) {
		s.events.Record(ctx, models.EventPasswordChangeFailed, userID, map[string]interface{}{
			"error": code,
		})
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fail(identity.CodeUserNotFound, identity.NewError(identity.CodeUserNotFound))
		}
		s.logger.Error("failed to load user", slog.String("user_id", userID), slog.String("error", err.Error()))
		return fail(identity.CodeNetworkFailed, models.ErrInternalServer)
	}

	if user.PasswordHash == "" {
		return fail(identity.CodeOperationNotAllowed, identity.Wrap(identity.CodeOperationNotAllowed, models.ErrNoPassword))
	}
	if err := pkgauth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return fail(identity.CodeWrongPassword, identity.NewError(identity.CodeWrongPassword))
	}
	if msg := validation.ValidatePassword(newPassword, s.env); msg != "" {
		return fail(identity.CodeWeakPassword, &ValidationError{Fields: map[string]string{"new_password": msg}})
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.String("error", err.Error()))
		return fail(identity.CodeNetworkFailed, models.ErrInternalServer)
	}
	if err := s.repo.UpdatePassword(ctx, userID, hash); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", userID), slog.String("error", err.Error()))
		return fail(identity.CodeNetworkFailed, models.ErrInternalServer)
	}

	// reload for the rotated token key
	user, err = s.repo.GetByID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to reload user", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("password changed", slog.String("user_id", userID))
	s.events.Record(ctx, models.EventPasswordChanged, userID, nil)

	return s.signIn(ctx, user)
}

// ResendVerification mails a new verification link to an unverified user.
func (s *AuthService) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return identity.NewError(identity.CodeUserNotFound)
		}
		return models.ErrInternalServer
	}
	if user.EmailVerified {
		return models.ErrBadRequest
	}
	if !s.sendVerification(ctx, user) {
		return identity.NewError(identity.CodeNetworkFailed)
	}

	s.events.Record(ctx, models.EventEmailVerificationResent, userID, nil)
	return nil
}

// VerifyEmail marks the address in a verification token as verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.tm.ValidateToken(ctx, token, models.TokenTypeVerifyEmail)
	if err != nil {
		return models.ErrUnauthorized
	}

	if err := s.repo.MarkEmailVerified(ctx, claims.UserID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to mark email verified", slog.String("user_id", claims.UserID), slog.String("error", err.Error()))
		return models.ErrInternalServer
	}

	s.events.Record(ctx, models.EventEmailVerified, claims.UserID, map[string]interface{}{
		"email": claims.Email,
	})
	return nil
}

// GoogleStart returns the Google consent URL and the state that must come
// back on the callback.
func (s *AuthService) GoogleStart(ctx context.Context) (authURL, state string, err error) {
	if s.google == nil {
		return "", "", identity.NewError(identity.CodeOperationNotAllowed)
	}
	state, err = s.tm.GenerateStateToken(ctx)
	if err != nil {
		s.logger.Error("failed to generate oauth state", slog.String("error", err.Error()))
		return "", "", models.ErrInternalServer
	}
	return s.google.AuthorizationURL(state), state, nil
}

// GoogleCallback carries the query of the provider redirect.
type GoogleCallback struct {
	Code          string
	State         string
	CookieState   string // state stored in the browser by GoogleStart
	ProviderError string // "error" query parameter, e.g. access_denied
}

// CompleteGoogle finishes Google sign-in, creating or linking the account
// as needed.
func (s *AuthService) CompleteGoogle(ctx context.Context, cb GoogleCallback) (*AuthResponse, error) {
	user, err := s.googleUser(ctx, cb)
	if err != nil {
		code := identity.CodeOf(err)
		internal := code == ""
		if internal {
			code = identity.CodeNetworkFailed
		}
		s.logger.Info("google sign-in failed", slog.String("code", code), slog.String("error", err.Error()))
		s.events.Record(ctx, models.EventLoginFailure, "", map[string]interface{}{
			"method": methodGoogle,
			"error":  code,
		})
		if internal {
			return nil, models.ErrInternalServer
		}
		return nil, err
	}

	resp, err := s.signIn(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in with google", slog.String("user_id", user.ID))
	s.events.Record(ctx, models.EventLoginSuccess, user.ID, map[string]interface{}{
		"method": methodGoogle,
	})
	return resp, nil
}

func (s *AuthService) googleUser(ctx context.Context, cb GoogleCallback) (*models.User, error) {
	if s.google == nil {
		return nil, identity.NewError(identity.CodeOperationNotAllowed)
	}
	switch cb.ProviderError {
	case "":
	case "access_denied":
		return nil, identity.NewError(identity.CodePopupClosed)
	default:
		return nil, identity.NewError(identity.CodeOperationNotAllowed)
	}

	if cb.State == "" || cb.State != cb.CookieState {
		return nil, identity.NewError(identity.CodePopupBlocked)
	}
	if _, err := s.tm.ValidateToken(ctx, cb.State, models.TokenTypeOAuthState); err != nil {
		return nil, identity.Wrap(identity.CodePopupBlocked, err)
	}

	ext, err := s.google.Exchange(ctx, cb.Code)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetByProvider(ctx, ext.ProviderID, ext.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	provider := models.ProviderInfo{ProviderID: ext.ProviderID, Subject: ext.Subject, Email: ext.Email}

	user, err = s.repo.GetByEmail(ctx, normalizeEmail(ext.Email))
	switch {
	case err == nil:
		// Only a verified Google address may claim an existing account.
		if !ext.EmailVerified {
			return nil, identity.NewError(identity.CodeEmailAlreadyInUse)
		}
		if err := s.repo.LinkProvider(ctx, user.ID, provider); err != nil {
			return nil, err
		}
		if !user.EmailVerified {
			if err := s.repo.MarkEmailVerified(ctx, user.ID); err != nil {
				return nil, err
			}
		}
		return s.repo.GetByID(ctx, user.ID)
	case errors.Is(err, models.ErrNotFound):
		return s.repo.Create(ctx, &models.User{
			Email:         normalizeEmail(ext.Email),
			DisplayName:   strings.TrimSpace(ext.Name),
			EmailVerified: ext.EmailVerified,
		}, provider)
	default:
		return nil, err
	}
}

// NewUserResponse converts a user to its public view.
func NewUserResponse(user *models.User) *UserResponse {
	providers := user.ProviderData
	if providers == nil {
		providers = []models.ProviderInfo{}
	}
	return &UserResponse{
		UID:           user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: user.EmailVerified,
		Role:          user.Role,
		ProviderData:  providers,
		Metadata:      user.Metadata(),
	}
}
