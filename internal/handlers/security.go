package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/ratelimit"
	"github.com/BradenHooton/postguard/internal/services"
	pkgauth "github.com/BradenHooton/postguard/pkg/auth"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

type SecurityServiceInterface interface {
	Overview(ctx context.Context, userID string) (*services.SecurityOverview, error)
	PasswordStrength(password string) pkgauth.PasswordStrength
	Events(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
	HighSeverityEvents(ctx context.Context, limit int) ([]*models.SecurityEvent, error)
	ActiveLimits() map[string]ratelimit.Limit
	LimiterTotals(ctx context.Context) (ratelimit.Counters, error)
	ResetLimit(adminID, key string)
}

// SecurityHandler serves the account security center and the admin views
// of the login limiter.
type SecurityHandler struct {
	service SecurityServiceInterface
}

func NewSecurityHandler(service SecurityServiceInterface) *SecurityHandler {
	return &SecurityHandler{service: service}
}

type PasswordStrengthRequest struct {
	Password string `json:"password" validate:"max=128"`
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Overview handles GET /security/overview
func (h *SecurityHandler) Overview(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	overview, err := h.service.Overview(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, overview)
}

// PasswordStrength handles POST /security/password-strength
func (h *SecurityHandler) PasswordStrength(w http.ResponseWriter, r *http.Request) {
	var req PasswordStrengthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, h.service.PasswordStrength(req.Password))
}

// Events handles GET /security/events?limit=&offset=
func (h *SecurityHandler) Events(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	events, err := h.service.Events(r.Context(), claims.UserID, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// HighSeverityEvents handles GET /admin/security-events
func (h *SecurityHandler) HighSeverityEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.HighSeverityEvents(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// RateLimits handles GET /admin/rate-limits
func (h *SecurityHandler) RateLimits(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"limits": h.service.ActiveLimits()}
	// totals are best-effort
	if totals, err := h.service.LimiterTotals(r.Context()); err == nil {
		resp["totals"] = totals
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ResetRateLimit handles DELETE /admin/rate-limits/{key}
func (h *SecurityHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		pkghttp.WriteBadRequest(w, "Missing key")
		return
	}
	h.service.ResetLimit(claims.UserID, key)
	w.WriteHeader(http.StatusNoContent)
}
