package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	pkghttp "github.com/BradenHooton/postguard/pkg/http"
	"github.com/BradenHooton/postguard/pkg/validation"
)

const maxBodyBytes = 64 << 10

// ValidateRequest runs the struct tags of req and returns one message per
// failed field, keyed by JSON name. nil means valid.
func ValidateRequest(req interface{}) map[string]string {
	err := validation.Validator().Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"body": err.Error()}
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		if _, seen := fields[fe.Field()]; !seen {
			fields[fe.Field()] = formatValidationError(fe)
		}
	}
	return fields
}

// decodeJSON reads a bounded JSON body into dst and validates it. On failure
// the error response is written and false returned.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if fields := ValidateRequest(dst); fields != nil {
		pkghttp.WriteValidationErrors(w, fields)
		return false
	}
	return true
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case validation.EmailTag:
		return "Invalid email format"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
