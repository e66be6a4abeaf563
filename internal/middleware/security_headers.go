package middleware

import "net/http"

const (
	productionCSP = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; font-src 'self'; connect-src 'self'; " +
		"frame-ancestors 'none'; base-uri 'self'; form-action 'self'"

	// hot reloading dev servers need inline scripts and websockets
	developmentCSP = "default-src 'self' http: https: ws:; " +
		"script-src 'self' 'unsafe-inline' 'unsafe-eval' http: https: ws:; " +
		"style-src 'self' 'unsafe-inline' http: https:; img-src 'self' data: https: http:; " +
		"font-src 'self' data: http: https:; connect-src 'self' http: https: ws: wss:; " +
		"frame-ancestors 'self'; base-uri 'self'; form-action 'self'"

	permissionsPolicy = "accelerometer=(), camera=(), geolocation=(), gyroscope=(), " +
		"magnetometer=(), microphone=(), payment=(), usb=()"

	hstsValue = "max-age=31536000; includeSubDomains; preload"
)

type SecurityHeadersConfig struct {
	Env string
}

// SecurityHeaders sets the browser hardening headers on every response.
// HSTS is only sent in production over HTTPS.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	production := config.Env == "production"

	static := map[string]string{
		"X-Frame-Options":              "DENY",
		"X-Content-Type-Options":       "nosniff",
		"X-XSS-Protection":             "1; mode=block",
		"Referrer-Policy":              "strict-origin-when-cross-origin",
		"Permissions-Policy":           permissionsPolicy,
		"X-DNS-Prefetch-Control":       "off",
		"Cross-Origin-Opener-Policy":   "same-origin",
		"Content-Security-Policy":      developmentCSP,
		"Cross-Origin-Embedder-Policy": "credentialless",
	}
	if production {
		static["Content-Security-Policy"] = productionCSP
		static["Cross-Origin-Embedder-Policy"] = "require-corp"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range static {
				h.Set(k, v)
			}
			if production && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
