// Package apperr defines the error kinds surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

// Error pairs a kind with a caller-facing message and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

// Error returns the caller-facing message.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// BadRequest reports invalid caller input (400).
func BadRequest(format string, args ...any) error { return newf(ErrBadRequest, format, args...) }

// Unauthorized reports a missing identity or a denied action (401).
func Unauthorized(format string, args ...any) error { return newf(ErrUnauthorized, format, args...) }

// NotFound reports a missing user or task (404).
func NotFound(format string, args ...any) error { return newf(ErrNotFound, format, args...) }

// Conflict reports a uniqueness clash such as a taken username (409).
func Conflict(format string, args ...any) error { return newf(ErrConflict, format, args...) }

// Internal hides cause behind msg; the cause is kept for logging.
func Internal(msg string, cause error) error {
	return &Error{Kind: ErrInternal, Msg: msg, Err: cause}
}

// StatusCode maps an error to the HTTP status it should be reported with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show a caller.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return ErrInternal.Error()
}
