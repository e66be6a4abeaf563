// Package validation checks user input and returns human-readable messages.
// Every check returns "" when the input is acceptable.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/BradenHooton/postguard/pkg/sanitize"
)

const (
	MaxPostLength        = 1000
	MaxDisplayNameLength = 100

	// EmailTag is the struct tag validating the same email shape as ValidateEmail.
	EmailTag = "account_email"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	letter       = regexp.MustCompile(`[a-zA-Z]`)
	digit        = regexp.MustCompile(`\d`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation(EmailTag, func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validator returns the shared validator with the package's custom tags registered.
func Validator() *validator.Validate {
	return validate
}

func ValidateEmail(email string) string {
	if err := validate.Var(email, EmailTag); err != nil {
		return "Invalid email format"
	}
	return ""
}

// MinPasswordLength is 8 in production and 6 elsewhere.
func MinPasswordLength(env string) int {
	if env == "production" {
		return 8
	}
	return 6
}

func ValidatePassword(password, env string) string {
	minLength := MinPasswordLength(env)
	if utf8.RuneCountInString(password) < minLength {
		return fmt.Sprintf("Password must be at least %d characters", minLength)
	}
	if !letter.MatchString(password) {
		return "Password must contain a letter"
	}
	if !digit.MatchString(password) {
		return "Password must contain a number"
	}
	return ""
}

func ValidateDisplayName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "Display name is required"
	}
	if utf8.RuneCountInString(trimmed) > MaxDisplayNameLength {
		return fmt.Sprintf("Display name cannot exceed %d characters", MaxDisplayNameLength)
	}
	return ""
}

// ValidatePost checks the length of text as it would be stored.
func ValidatePost(text string) string {
	n := utf8.RuneCountInString(sanitize.ForStorage(text))
	if n == 0 {
		return "Post cannot be empty"
	}
	if n > MaxPostLength {
		return fmt.Sprintf("Post cannot exceed %d characters", MaxPostLength)
	}
	return ""
}

// Fields holds the form values to check. Empty fields are skipped.
type Fields struct {
	Email       string
	Password    string
	DisplayName string
	Post        string
}

type Result struct {
	IsValid bool              `json:"is_valid"`
	Errors  map[string]string `json:"errors"`
}

// ValidateForm checks every non-empty field and collects the failures by field name.
func ValidateForm(f Fields, env string) Result {
	errs := make(map[string]string)

	if f.Email != "" {
		if msg := ValidateEmail(f.Email); msg != "" {
			errs["email"] = msg
		}
	}
	if f.Password != "" {
		if msg := ValidatePassword(f.Password, env); msg != "" {
			errs["password"] = msg
		}
	}
	if f.DisplayName != "" {
		if msg := ValidateDisplayName(f.DisplayName); msg != "" {
			errs["displayName"] = msg
		}
	}
	if f.Post != "" {
		if msg := ValidatePost(f.Post); msg != "" {
			errs["post"] = msg
		}
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}
