package handlers

import (
	"errors"
	"net/http"

	"github.com/BradenHooton/postguard/internal/identity"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/services"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

// writeServiceError maps a service error onto a JSON error response.
// Identity errors keep their code and user message.
func writeServiceError(w http.ResponseWriter, err error) {
	var rl *services.RateLimitError
	if errors.As(err, &rl) {
		pkghttp.WriteRateLimited(w, rl.Error(), rl.RetryAfter)
		return
	}

	var ve *services.ValidationError
	if errors.As(err, &ve) {
		pkghttp.WriteValidationErrors(w, ve.Fields)
		return
	}

	if code := identity.CodeOf(err); code != "" {
		pkghttp.WriteError(w, statusFor(identity.Kind(code)), code, identity.Message(code))
		return
	}

	switch {
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication required")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Already exists")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Bad request")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func statusFor(kind error) int {
	switch {
	case errors.Is(kind, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(kind, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(kind, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(kind, models.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(kind, models.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
