package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/postguard/internal/security"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

// RequestInfo stores the client address, user agent and request id in the
// context so security events recorded downstream can be attributed.
func RequestInfo(ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := security.WithRequestInfo(r.Context(), security.RequestInfo{
				IPAddress: pkghttp.ExtractClientIP(r, ipConfig),
				UserAgent: pkghttp.ExtractUserAgent(r),
				RequestID: middleware.GetReqID(r.Context()),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
