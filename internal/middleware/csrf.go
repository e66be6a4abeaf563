package middleware

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/postguard/internal/auth"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

// CSRFProtection enforces the double-submit token on state-changing
// requests that carry the refresh token cookie. Requests with an
// Authorization header are not cookie-authenticated and pass through.
func CSRFProtection(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) ||
				r.Header.Get("Authorization") != "" ||
				auth.CookieValue(r, auth.RefreshTokenCookie) == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !auth.ValidateDoubleSubmit(r) {
				logger.Warn("CSRF token validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				pkghttp.WriteForbidden(w, "CSRF token missing or invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
