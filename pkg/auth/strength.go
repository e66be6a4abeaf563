package auth

import "unicode/utf8"

// PasswordStrength is the result of scoring a candidate password.
type PasswordStrength struct {
	Score    int    `json:"score"`
	Strength string `json:"strength"`
	IsStrong bool   `json:"is_strong"`
}

const (
	MaxStrengthScore = 6
	StrongScore      = 4
)

var strengthLabels = [MaxStrengthScore + 1]string{
	"very weak",
	"weak",
	"fair",
	"good",
	"strong",
	"very strong",
	"excellent",
}

// CheckPasswordStrength awards one point for each of: at least 8 characters,
// at least 12 characters, an ASCII lowercase letter, an ASCII uppercase
// letter, a digit, and any other character.
func CheckPasswordStrength(password string) PasswordStrength {
	if password == "" {
		return PasswordStrength{Score: 0, Strength: strengthLabels[0], IsStrong: false}
	}

	score := 0
	length := utf8.RuneCountInString(password)
	if length >= 8 {
		score++
	}
	if length >= 12 {
		score++
	}

	var hasLower, hasUpper, hasDigit, hasOther bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasOther = true
		}
	}
	for _, ok := range []bool{hasLower, hasUpper, hasDigit, hasOther} {
		if ok {
			score++
		}
	}

	if score > MaxStrengthScore {
		score = MaxStrengthScore
	}
	return PasswordStrength{
		Score:    score,
		Strength: strengthLabels[score],
		IsStrong: score >= StrongScore,
	}
}
