package security

import (
	"time"

	"github.com/BradenHooton/postguard/internal/models"
)

// MaxSessionAge is how long after the last sign-in a session stays valid.
const MaxSessionAge = 24 * time.Hour

type SessionStatus struct {
	IsValid        bool   `json:"is_valid"`
	Reason         string `json:"reason,omitempty"`
	Warning        string `json:"warning,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// ValidateSession checks the session of user at now. An unverified email
// yields a valid session with a warning and skips the age check.
func ValidateSession(user *models.User, now time.Time) SessionStatus {
	if user == nil {
		return SessionStatus{IsValid: false, Reason: "No user session"}
	}

	if !user.EmailVerified {
		return SessionStatus{
			IsValid:        true,
			Warning:        "Email not verified",
			Recommendation: "Please verify your email for enhanced security",
		}
	}

	lastSignIn := user.CreatedAt
	if user.LastSignInAt != nil {
		lastSignIn = *user.LastSignInAt
	}
	if now.Sub(lastSignIn) > MaxSessionAge {
		return SessionStatus{
			IsValid:        false,
			Reason:         "Session expired",
			Recommendation: "Please login again",
		}
	}

	return SessionStatus{IsValid: true}
}
