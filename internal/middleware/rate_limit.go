package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/security"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

// RateLimitConfig holds per-minute request budgets
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit throttles the public auth endpoints per client IP.
// It sits in front of the per-email login limiter.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 20}
}

// DefaultAPIRateLimit throttles authenticated API calls per user.
func DefaultAPIRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 120}
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteRateLimited(w, "Rate limit exceeded", time.Minute)
}

// keyByClientIP uses the address resolved by RequestInfo, which honors
// forwarding headers from trusted proxies only.
func keyByClientIP(r *http.Request) (string, error) {
	if info, ok := security.RequestInfoFrom(r.Context()); ok && info.IPAddress != "" {
		return info.IPAddress, nil
	}
	return httprate.KeyByIP(r)
}

// RateLimitByIP limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(keyByClientIP),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByUser limits requests by authenticated user id, falling back to
// the client IP when the request carries no claims.
func RateLimitByUser(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				return "user:" + claims.UserID, nil
			}
			return keyByClientIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}
