package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/postguard/internal/models"
)

const stateTokenExpiry = 10 * time.Minute

// UserTokenKeyFetcher retrieves the user whose TokenKey takes part in signing.
type UserTokenKeyFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TokenManager issues and validates the JWTs used by the API. User-bound
// tokens are signed with the global secret followed by the user's TokenKey,
// so rotating the key invalidates every token issued before.
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	verifyTokenExpiry  time.Duration
	userRepo           UserTokenKeyFetcher
	now                func() time.Time
}

func NewTokenManager(secret string, accessExpiry, refreshExpiry, verifyExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		verifyTokenExpiry:  verifyExpiry,
		now:                time.Now,
	}
}

// SetUserRepo enables composite signing with the per-user TokenKey.
func (tm *TokenManager) SetUserRepo(repo UserTokenKeyFetcher) {
	tm.userRepo = repo
}

// AccessTokenExpiry is the lifetime of access tokens.
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

func (tm *TokenManager) RefreshTokenExpiry() time.Duration {
	return tm.refreshTokenExpiry
}

func (tm *TokenManager) signingKey(ctx context.Context, userID string) ([]byte, error) {
	if tm.userRepo == nil || userID == "" {
		return []byte(tm.secret), nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	user, err := tm.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token key: %w", err)
	}
	return []byte(tm.secret + user.TokenKey), nil
}

func (tm *TokenManager) sign(ctx context.Context, tokenType, userID, email string, expiry time.Duration) (string, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	key, err := tm.signingKey(ctx, userID)
	if err != nil {
		return "", err
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (tm *TokenManager) GenerateAccessToken(ctx context.Context, userID, email string) (string, error) {
	return tm.sign(ctx, models.TokenTypeAccess, userID, email, tm.accessTokenExpiry)
}

func (tm *TokenManager) GenerateRefreshToken(ctx context.Context, userID, email string) (string, error) {
	return tm.sign(ctx, models.TokenTypeRefresh, userID, email, tm.refreshTokenExpiry)
}

// GenerateVerifyToken issues the token mailed for email verification.
func (tm *TokenManager) GenerateVerifyToken(ctx context.Context, userID, email string) (string, error) {
	return tm.sign(ctx, models.TokenTypeVerifyEmail, userID, email, tm.verifyTokenExpiry)
}

// GenerateStateToken issues the OAuth state parameter. It is not bound to a
// user and is signed with the global secret only.
func (tm *TokenManager) GenerateStateToken(ctx context.Context) (string, error) {
	return tm.sign(ctx, models.TokenTypeOAuthState, "", "", stateTokenExpiry)
}

// GenerateTokenPair issues an access and a refresh token for user.
func (tm *TokenManager) GenerateTokenPair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	access, err := tm.GenerateAccessToken(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := tm.GenerateRefreshToken(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(tm.accessTokenExpiry.Seconds()),
	}, nil
}

// ValidateToken verifies the signature and expiry of tokenString and checks
// that it is of wantType.
func (tm *TokenManager) ValidateToken(ctx context.Context, tokenString, wantType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		parsed, ok := token.Claims.(*models.TokenClaims)
		if !ok {
			return nil, errors.New("unexpected claims type")
		}
		return tm.signingKey(ctx, parsed.UserID)
	}, jwt.WithTimeFunc(tm.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != wantType {
		return nil, fmt.Errorf("%w: expected %s token, got %q", models.ErrUnauthorized, wantType, claims.Type)
	}

	return claims, nil
}
