package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
)

// CSRFHeader carries the echoed double-submit token.
const CSRFHeader = "X-CSRF-Token"

// GenerateCSRFToken returns 32 random bytes, hex encoded.
func GenerateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidateDoubleSubmit reports whether the CSRF header matches the CSRF
// cookie. Both must be present.
func ValidateDoubleSubmit(r *http.Request) bool {
	header := r.Header.Get(CSRFHeader)
	cookie := CookieValue(r, CSRFTokenCookie)
	if header == "" || cookie == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) == 1
}
