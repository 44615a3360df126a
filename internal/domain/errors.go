package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorAuth            ErrorCode = "AUTH_ERROR"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorNotFound        ErrorCode = "NOT_FOUND"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// Error is the error type returned by controllers and the auth session.
// Reason is a stable snake_case tag; for ErrorAuth it is the provider's
// message text, surfaced to the user as is.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorInternal when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorInternal
}
