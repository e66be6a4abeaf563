package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the auth and account flows
const (
	EventLoginSuccess            = "login_success"
	EventLoginFailure            = "login_failure"
	EventRateLimitExceeded       = "rate_limit_exceeded"
	EventUserRegistered          = "user_registered"
	EventRegistrationFailed      = "registration_failed"
	EventUserLogout              = "user_logout"
	EventPasswordChanged         = "password_changed"
	EventPasswordChangeFailed    = "password_change_failed"
	EventEmailVerificationResent = "email_verification_resent"
	EventEmailVerified           = "email_verified"
	EventUnauthorizedAccess      = "unauthorized_access"
	EventSuspiciousActivity      = "suspicious_activity"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Well-known IP address placeholders
const (
	IPLocalhost = "localhost"
	IPUnknown   = "unknown"
)

type SecurityEvent struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	EventType   string       `db:"event_type" json:"event_type"`
	UserID      *string      `db:"user_id" json:"user_id,omitempty"`
	UserAgent   string       `db:"user_agent" json:"user_agent"`
	Timestamp   time.Time    `db:"occurred_at" json:"timestamp"`
	IPAddress   string       `db:"ip_address" json:"ip_address"`
	Details     EventDetails `db:"details" json:"details"`
	Severity    Severity     `db:"severity" json:"severity"`
	Environment string       `db:"environment" json:"environment"`
}

// EventDetails holds the open key/value context of a security event
type EventDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(d))
}
