package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/identity"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/services"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

const oauthStateTTL = 10 * time.Minute

// AuthServiceInterface defines the auth business logic used by the handler
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*services.AuthResponse, error)
	Register(ctx context.Context, email, password, displayName string) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*services.AuthResponse, error)
	ResendVerification(ctx context.Context, userID string) error
	VerifyEmail(ctx context.Context, token string) error
	GoogleStart(ctx context.Context) (authURL, state string, err error)
	CompleteGoogle(ctx context.Context, cb services.GoogleCallback) (*services.AuthResponse, error)
}

// AuthHandlerConfig holds the cookie and redirect settings of AuthHandler.
type AuthHandlerConfig struct {
	Cookies    auth.CookieConfig
	RefreshTTL time.Duration
	AppURL     string // where the browser lands after Google sign-in
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	logger  *slog.Logger
}

func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, config: config, logger: logger}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type RegisterRequest struct {
	Email       string `json:"email" validate:"required,max=254"`
	Password    string `json:"password" validate:"required,max=128"`
	DisplayName string `json:"display_name" validate:"max=200"`
}

// RefreshTokenRequest is optional; browsers send the refresh cookie instead.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// startSession sets the refresh and CSRF cookies for a signed-in browser.
func (h *AuthHandler) startSession(w http.ResponseWriter, resp *services.AuthResponse) bool {
	csrf, err := auth.GenerateCSRFToken()
	if err != nil {
		h.logger.Error("failed to generate csrf token", slog.String("error", err.Error()))
		return false
	}
	auth.SetRefreshTokenCookie(w, resp.RefreshToken, h.config.RefreshTTL, h.config.Cookies)
	auth.SetCSRFTokenCookie(w, csrf, h.config.RefreshTTL, h.config.Cookies)
	return true
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, resp *services.AuthResponse) {
	if !h.startSession(w, resp) {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	pkghttp.WriteJSON(w, status, resp)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, resp)
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeSession(w, http.StatusCreated, resp)
}

// RefreshToken handles POST /auth/refresh. The token comes from the body
// or, failing that, the refresh cookie.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = auth.CookieValue(r, auth.RefreshTokenCookie)
	}

	resp, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		auth.ClearRefreshTokenCookie(w, h.config.Cookies)
		writeServiceError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, resp)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req RefreshTokenRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	refresh := req.RefreshToken
	if refresh == "" {
		refresh = auth.CookieValue(r, auth.RefreshTokenCookie)
	}

	if err := h.service.Logout(r.Context(), claims, refresh); err != nil {
		writeServiceError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.config.Cookies)
	auth.ClearCSRFTokenCookie(w, h.config.Cookies)
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles POST /auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, resp)
}

// ResendVerification handles POST /auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.ResendVerification(r.Context(), claims.UserID); err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "Verification email sent",
	})
}

// VerifyEmail handles POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired verification token")
			return
		}
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

// GoogleStart handles GET /auth/google. It binds a signed state to the
// browser and redirects to the consent page.
func (h *AuthHandler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.service.GoogleStart(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	auth.SetOAuthStateCookie(w, state, oauthStateTTL, h.config.Cookies)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// GoogleCallback handles GET /auth/google/callback. The browser is sent
// back to the app either signed in or with an error code in the query.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := services.GoogleCallback{
		Code:          q.Get("code"),
		State:         q.Get("state"),
		CookieState:   auth.CookieValue(r, auth.OAuthStateCookie),
		ProviderError: q.Get("error"),
	}
	auth.ClearOAuthStateCookie(w, h.config.Cookies)

	resp, err := h.service.CompleteGoogle(r.Context(), cb)
	if err != nil {
		code := identity.CodeOf(err)
		if code == "" {
			code = identity.CodeNetworkFailed
		}
		http.Redirect(w, r, h.appURL("/login", url.Values{"error": {code}}), http.StatusFound)
		return
	}

	if !h.startSession(w, resp) {
		http.Redirect(w, r, h.appURL("/login", url.Values{"error": {identity.CodeNetworkFailed}}), http.StatusFound)
		return
	}
	http.Redirect(w, r, h.appURL("/dashboard", nil), http.StatusFound)
}

func (h *AuthHandler) appURL(path string, query url.Values) string {
	u := h.config.AppURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
