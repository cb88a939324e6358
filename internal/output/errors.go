package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrNotFound(resource, identifier string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, identifier),
		HTTPStatus: 404,
	}
}

// ErrAuth reports an irrecoverable authentication failure (AuthInvalid).
// The session has been cleared by the time a caller sees it.
func ErrAuth(msg string) *Error {
	return &Error{
		Code:       CodeAuth,
		Message:    msg,
		Hint:       "Run: tasknest auth login",
		HTTPStatus: 401,
	}
}

// ErrAuthExpired reports a 401 that has not yet gone through a refresh.
// It never leaves the api package unless refresh is disabled.
func ErrAuthExpired() *Error {
	return &Error{
		Code:       CodeAuthExpired,
		Message:    "Access token expired",
		HTTPStatus: 401,
		Retryable:  true,
	}
}

func ErrForbidden(msg string) *Error {
	return &Error{
		Code:       CodeForbidden,
		Message:    msg,
		HTTPStatus: 403,
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:    CodeNetwork,
		Message: "Please check your network connection",
		Hint:    cause.Error(),
		Cause:   cause,
	}
}

// ErrValidation carries the server's own message for a rejected request.
func ErrValidation(status int, msg string) *Error {
	return &Error{
		Code:       CodeValidation,
		Message:    msg,
		HTTPStatus: status,
	}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
	}
}

// ErrFromResponse maps a non-2xx HTTP response onto the error taxonomy,
// preserving the server's own message where one is present.
func ErrFromResponse(status int, body []byte) *Error {
	msg := serverMessage(body)

	switch {
	case status == http.StatusUnauthorized:
		e := ErrAuthExpired()
		if msg != "" {
			e.Hint = msg
		}
		return e
	case status == http.StatusForbidden:
		if msg == "" {
			msg = "Access denied"
		}
		return ErrForbidden(msg)
	case status == http.StatusNotFound:
		if msg == "" {
			msg = "Not found"
		}
		return &Error{Code: CodeNotFound, Message: msg, HTTPStatus: status}
	case status >= 400 && status < 500:
		if msg == "" {
			msg = "An error occurred"
		}
		return ErrValidation(status, msg)
	default:
		if msg == "" {
			msg = fmt.Sprintf("Server error (%d)", status)
		}
		return ErrAPI(status, msg)
	}
}

// serverMessage extracts the human-readable message from an error body.
// The gateway uses "detail"; the task API uses "message". A bare text body is
// used as is.
func serverMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var fields struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		switch {
		case fields.Detail != "":
			return fields.Detail
		case fields.Message != "":
			return fields.Message
		case fields.Error != "":
			return fields.Error
		}
		return ""
	}

	if strings.HasPrefix(trimmed, "<") || len(trimmed) > 200 {
		return "" // HTML error pages and the like
	}
	return trimmed
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
