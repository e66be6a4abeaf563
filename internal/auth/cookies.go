package auth

import (
	"net/http"
	"time"
)

const (
	RefreshTokenCookie = "refresh_token"
	CSRFTokenCookie    = "csrf_token"
	OAuthStateCookie   = "oauth_state"
)

// CookieConfig holds the attributes shared by every auth cookie.
type CookieConfig struct {
	Domain   string // empty = current host only
	Secure   bool
	SameSite string // "strict", "lax" or "none"
}

func (c CookieConfig) cookie(name, value, path string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: parseSameSite(c.SameSite),
	}
	if maxAge < 0 {
		ck.MaxAge = -1
		return ck
	}
	ck.MaxAge = int(maxAge.Seconds())
	ck.Expires = time.Now().Add(maxAge)
	return ck
}

// SetRefreshTokenCookie stores the refresh token in an httpOnly cookie
// scoped to the auth routes.
func SetRefreshTokenCookie(w http.ResponseWriter, token string, maxAge time.Duration, cfg CookieConfig) {
	http.SetCookie(w, cfg.cookie(RefreshTokenCookie, token, "/api/v1/auth", maxAge, true))
}

// SetCSRFTokenCookie stores the CSRF token where scripts can read it and
// echo it in the X-CSRF-Token header.
func SetCSRFTokenCookie(w http.ResponseWriter, token string, maxAge time.Duration, cfg CookieConfig) {
	http.SetCookie(w, cfg.cookie(CSRFTokenCookie, token, "/", maxAge, false))
}

// SetOAuthStateCookie binds an OAuth state to the browser that started the
// flow. SameSite is relaxed to lax so the provider redirect carries it.
func SetOAuthStateCookie(w http.ResponseWriter, state string, maxAge time.Duration, cfg CookieConfig) {
	if cfg.SameSite == "strict" {
		cfg.SameSite = "lax"
	}
	http.SetCookie(w, cfg.cookie(OAuthStateCookie, state, "/api/v1/auth/google", maxAge, true))
}

func ClearRefreshTokenCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, cfg.cookie(RefreshTokenCookie, "", "/api/v1/auth", -1, true))
}

func ClearCSRFTokenCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, cfg.cookie(CSRFTokenCookie, "", "/", -1, false))
}

func ClearOAuthStateCookie(w http.ResponseWriter, cfg CookieConfig) {
	if cfg.SameSite == "strict" {
		cfg.SameSite = "lax"
	}
	http.SetCookie(w, cfg.cookie(OAuthStateCookie, "", "/api/v1/auth/google", -1, true))
}

// CookieValue returns the value of the named cookie, or "" when absent.
func CookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
