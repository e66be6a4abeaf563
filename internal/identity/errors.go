// Package identity holds the account error codes and the external sign-in
// providers.
package identity

import (
	"errors"

	"github.com/BradenHooton/postguard/internal/models"
)

// Account error codes returned by sign-in and registration.
const (
	CodeInvalidEmail        = "auth/invalid-email"
	CodeUserDisabled        = "auth/user-disabled"
	CodeUserNotFound        = "auth/user-not-found"
	CodeWrongPassword       = "auth/wrong-password"
	CodeEmailAlreadyInUse   = "auth/email-already-in-use"
	CodeWeakPassword        = "auth/weak-password"
	CodeNetworkFailed       = "auth/network-request-failed"
	CodeTooManyRequests     = "auth/too-many-requests"
	CodeOperationNotAllowed = "auth/operation-not-allowed"
	CodePopupClosed         = "auth/popup-closed-by-user"
	CodePopupBlocked        = "auth/popup-blocked"
	CodeRequiresRecentLogin = "auth/requires-recent-login"
)

const genericMessage = "An error occurred. Please try again"

var messages = map[string]string{
	CodeInvalidEmail:        "Invalid email address",
	CodeUserDisabled:        "This account has been disabled",
	CodeUserNotFound:        "User not found",
	CodeWrongPassword:       "Incorrect password",
	CodeEmailAlreadyInUse:   "Email is already in use",
	CodeWeakPassword:        "Password is too weak (at least 6 characters)",
	CodeNetworkFailed:       "Network connection failed",
	CodeTooManyRequests:     "Too many attempts, try again later",
	CodeOperationNotAllowed: "Operation not allowed",
	CodePopupClosed:         "Sign-in popup was closed",
	CodePopupBlocked:        "Sign-in popup was blocked by the browser",
	CodeRequiresRecentLogin: "Please sign in again to perform this action",
}

// sentinel errors that each code unwraps to, used for HTTP status mapping
var kinds = map[string]error{
	CodeInvalidEmail:        models.ErrBadRequest,
	CodeUserDisabled:        models.ErrForbidden,
	CodeUserNotFound:        models.ErrUnauthorized,
	CodeWrongPassword:       models.ErrUnauthorized,
	CodeEmailAlreadyInUse:   models.ErrConflict,
	CodeWeakPassword:        models.ErrBadRequest,
	CodeNetworkFailed:       models.ErrInternalServer,
	CodeTooManyRequests:     models.ErrRateLimited,
	CodeOperationNotAllowed: models.ErrForbidden,
	CodePopupClosed:         models.ErrBadRequest,
	CodePopupBlocked:        models.ErrBadRequest,
	CodeRequiresRecentLogin: models.ErrUnauthorized,
}

// Message returns the user-facing text for code. Unknown codes get a
// generic message.
func Message(code string) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return genericMessage
}

// Kind returns the models sentinel that code maps to.
func Kind(code string) error {
	if kind, ok := kinds[code]; ok {
		return kind
	}
	return models.ErrInternalServer
}

// Error is an account error carrying one of the auth/... codes.
type Error struct {
	Code string
	Err  error // underlying cause, if any
}

func NewError(code string) *Error {
	return &Error{Code: code}
}

// Wrap attaches cause to an account error.
func Wrap(code string, cause error) *Error {
	return &Error{Code: code, Err: cause}
}

func (e *Error) Error() string {
	return Message(e.Code)
}

// Unwrap exposes both the cause and the models sentinel for the code.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	errs = append(errs, Kind(e.Code))
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// CodeOf returns the account error code in err's chain, or "" if none.
func CodeOf(err error) string {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
