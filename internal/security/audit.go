package security

import (
	"time"

	"github.com/BradenHooton/postguard/internal/models"
)

const inactiveAfter = 30 * 24 * time.Hour

var auditOrder = []string{"emailVerified", "hasPassword", "multipleProviders", "recentActivity"}

// Importance of an audit check
const (
	ImportanceHigh   = "high"
	ImportanceMedium = "medium"
	ImportanceLow    = "low"
)

type AuditCheck struct {
	Passed         bool   `json:"passed"`
	Importance     string `json:"importance"`
	Recommendation string `json:"recommendation,omitempty"`
}

type AuditReport struct {
	Timestamp       time.Time             `json:"timestamp"`
	UserID          string                `json:"user_id"`
	Checks          map[string]AuditCheck `json:"checks"`
	Score           int                   `json:"score"` // percentage of checks passed
	Recommendations []string              `json:"recommendations"`
}

// PerformAudit evaluates the account hygiene of user. The recentActivity
// check is only present when the user has signed in at least once.
func PerformAudit(user *models.User, now time.Time) AuditReport {
	report := AuditReport{
		Timestamp: now.UTC(),
		UserID:    "unknown",
		Checks:    make(map[string]AuditCheck),
	}
	if user == nil {
		user = &models.User{}
	} else if user.ID != "" {
		report.UserID = user.ID
	}

	verified := AuditCheck{Passed: user.EmailVerified, Importance: ImportanceHigh}
	if !verified.Passed {
		verified.Recommendation = "Verify your email address"
	}
	report.Checks["emailVerified"] = verified

	report.Checks["hasPassword"] = AuditCheck{
		Passed:         user.HasProvider(models.ProviderPassword),
		Importance:     ImportanceMedium,
		Recommendation: "Use a strong, unique password",
	}

	report.Checks["multipleProviders"] = AuditCheck{
		Passed:         len(user.ProviderData) > 1,
		Importance:     ImportanceLow,
		Recommendation: "Consider adding multiple sign-in methods for backup",
	}

	if user.LastSignInAt != nil {
		recent := AuditCheck{
			Passed:     now.Sub(*user.LastSignInAt) < inactiveAfter,
			Importance: ImportanceMedium,
		}
		if !recent.Passed {
			recent.Recommendation = "Consider reviewing account activity"
		}
		report.Checks["recentActivity"] = recent
	}

	passed := 0
	report.Recommendations = []string{}
	for _, name := range auditOrder {
		c, ok := report.Checks[name]
		if !ok {
			continue
		}
		if c.Passed {
			passed++
		} else if c.Recommendation != "" {
			report.Recommendations = append(report.Recommendations, c.Recommendation)
		}
	}
	report.Score = passed * 100 / len(report.Checks)

	return report
}
