// Package security classifies, records and reports security-relevant events.
package security

import "github.com/BradenHooton/postguard/internal/models"

var (
	highSeverityEvents = map[string]bool{
		"login_failure":       true,
		"suspicious_activity": true,
		"brute_force_attempt": true,
		"rate_limit_exceeded": true,
		"unauthorized_access": true,
	}

	// The password flow emits "password_changed", which is not listed here
	// and therefore classifies as low.
	mediumSeverityEvents = map[string]bool{
		"password_change":           true,
		"profile_update":            true,
		"email_verification_resent": true,
	}
)

// Classify maps an event type to its severity. Unknown types are low.
func Classify(eventType string) models.Severity {
	switch {
	case highSeverityEvents[eventType]:
		return models.SeverityHigh
	case mediumSeverityEvents[eventType]:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
