package services

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/postguard/internal/models"
)

// RateLimitError is returned when the login limiter denies an attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Minutes is RetryAfter rounded up to whole minutes.
func (e *RateLimitError) Minutes() int {
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("Too many login attempts. Try again in %d minutes.", e.Minutes())
}

func (e *RateLimitError) Unwrap() error {
	return models.ErrRateLimited
}

// ValidationError carries per-field messages. It unwraps to ErrBadRequest.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return models.ErrBadRequest
}
