package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/handlers"
	"github.com/BradenHooton/postguard/internal/middleware"
)

const requestTimeout = 30 * time.Second

// Dependencies holds everything the routes are wired to.
type Dependencies struct {
	AuthHandler     *handlers.AuthHandler
	PostHandler     *handlers.PostHandler
	SecurityHandler *handlers.SecurityHandler
	HealthHandler   *handlers.HealthHandler
	Metrics         http.Handler

	TokenManager *auth.TokenManager
	UserRepo     auth.UserRepository
	RevokeRepo   auth.TokenRevocationChecker
	Revocation   auth.RevocationConfig
	Logger       *slog.Logger
}

// RegisterRoutes mounts the health, metrics and /api/v1 routes on router.
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.HealthHandler.Health)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CSRFProtection(deps.Logger))
		registerPublic(r, deps)
		registerProtected(r, deps)
	})
}

func registerPublic(router chi.Router, deps Dependencies) {
	router.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(requestTimeout))
		r.Use(middleware.RateLimitByIP(middleware.DefaultAuthRateLimit()))

		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/register", deps.AuthHandler.Register)
		r.Post("/auth/refresh", deps.AuthHandler.RefreshToken)
		r.Post("/auth/verify-email", deps.AuthHandler.VerifyEmail)
		r.Get("/auth/google", deps.AuthHandler.GoogleStart)
		r.Get("/auth/google/callback", deps.AuthHandler.GoogleCallback)

		r.Post("/security/password-strength", deps.SecurityHandler.PasswordStrength)
	})
}

func registerProtected(router chi.Router, deps Dependencies) {
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager, deps.RevokeRepo, deps.Revocation, deps.Logger))
		r.Use(middleware.RateLimitByUser(middleware.DefaultAPIRateLimit()))

		// long-lived, so outside the request timeout
		r.Get("/posts/stream", deps.PostHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(requestTimeout))

			r.Post("/auth/logout", deps.AuthHandler.Logout)
			r.Post("/auth/change-password", deps.AuthHandler.ChangePassword)
			r.Post("/auth/resend-verification", deps.AuthHandler.ResendVerification)

			r.Get("/posts", deps.PostHandler.List)
			r.Post("/posts", deps.PostHandler.Create)
			r.Delete("/posts/{id}", deps.PostHandler.Delete)

			r.Get("/security/overview", deps.SecurityHandler.Overview)
			r.Get("/security/events", deps.SecurityHandler.Events)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(deps.UserRepo, "admin"))
				r.Get("/admin/rate-limits", deps.SecurityHandler.RateLimits)
				r.Delete("/admin/rate-limits/{key}", deps.SecurityHandler.ResetRateLimit)
				r.Get("/admin/security-events", deps.SecurityHandler.HighSeverityEvents)
			})
		})
	})
}
