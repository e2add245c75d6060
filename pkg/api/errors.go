package api

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const defaultErrorMessage = "Request failed"

const passwordLengthHint = "password must be between 8 and 128 characters"

// Error is a non-2xx response. Code is the backend's error class (AUTH, VALIDATION, RLIMIT,
// UPSTREAM) when the body carried one.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401/403 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == 401 || apiErr.Status == 403 || apiErr.Code == "AUTH"
}

// FriendlyMessage is the text to show a user for err. Validation messages about the password
// size are rewritten into a fixed hint.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	msg := apiErr.Message
	if strings.HasPrefix(strings.ToLower(msg), "size must be between") {
		return passwordLengthHint
	}
	if msg == "" {
		return defaultErrorMessage
	}
	return msg
}
