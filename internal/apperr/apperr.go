// Package apperr defines the closed set of error kinds the API reports and how
// each one is rendered to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidCredentials
	KindExpiredSession
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindExpiredSession:
		return "expired_session"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// CredentialsMessage is the only message returned for authentication failures.
const CredentialsMessage = "please enter correct credentials"

const internalMessage = "internal server error"

// Error is an API error of a known kind. Message is safe to show to callers;
// Err carries the root cause for server-side logging only.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message, detail string) *Error {
	return &Error{Kind: KindValidation, Message: message, Detail: detail}
}

func InvalidCredentials(cause error) *Error {
	return &Error{Kind: KindInvalidCredentials, Message: CredentialsMessage, Err: cause}
}

func ExpiredSession(cause error) *Error {
	return &Error{Kind: KindExpiredSession, Message: "session is expired", Err: cause}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: internalMessage, Err: cause}
}

// Internalf wraps a formatted cause as an internal error.
func Internalf(format string, args ...any) *Error {
	return Internal(fmt.Errorf(format, args...))
}

// From returns err as an *Error. Errors that were not built by this package
// are internal errors.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == k
}

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindExpiredSession:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON payload sent for the error. Authentication failures all
// collapse to the same body regardless of cause.
func (e *Error) Body() map[string]any {
	switch e.Kind {
	case KindInvalidCredentials, KindExpiredSession:
		return map[string]any{"error": CredentialsMessage}
	case KindInternal:
		return map[string]any{"error": internalMessage}
	}
	body := map[string]any{"error": e.Message}
	if e.Detail != "" {
		body["detail"] = e.Detail
	}
	return body
}
