// Package errors provides coded application errors shared by the repository,
// service and transport layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Code classifies an Error. Transports map codes to status codes.
type Code string

const (
	ErrCodeInvalidInput     Code = "INVALID_INPUT"
	ErrCodeNotFound         Code = "NOT_FOUND"
	ErrCodeConflict         Code = "CONFLICT"
	ErrCodeNotAnApprover    Code = "NOT_AN_APPROVER"
	ErrCodeAssignmentClosed Code = "ASSIGNMENT_CLOSED"
	ErrCodeUnauthorized     Code = "UNAUTHORIZED"
	ErrCodeForbidden        Code = "FORBIDDEN"
	ErrCodeUpstream         Code = "UPSTREAM"
	ErrCodeInternal         Code = "INTERNAL"
)

// Sentinels for errors.Is matching by code.
var (
	ErrInvalidInput     = &Error{Code: ErrCodeInvalidInput}
	ErrNotFound         = &Error{Code: ErrCodeNotFound}
	ErrConflict         = &Error{Code: ErrCodeConflict}
	ErrNotAnApprover    = &Error{Code: ErrCodeNotAnApprover}
	ErrAssignmentClosed = &Error{Code: ErrCodeAssignmentClosed}
	ErrUnauthorized     = &Error{Code: ErrCodeUnauthorized}
	ErrForbidden        = &Error{Code: ErrCodeForbidden}
	ErrUpstream         = &Error{Code: ErrCodeUpstream}
)

// Error is a coded error with an optional offending field and cause.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code. A target carrying a message
// must match the message too, so sentinels (no message) match any error of
// their code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to err, capturing a stack trace.
// Returns nil when err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: pkgerrors.WithStack(err)}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a validation failure on a field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Field: field, Message: message}
}

// Conflict reports a concurrent modification or a failed precondition on
// persisted state.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// NotAnApprover reports an action by a principal outside the approver set.
func NotAnApprover(approverID string) *Error {
	return &Error{
		Code:    ErrCodeNotAnApprover,
		Field:   "approver_id",
		Message: fmt.Sprintf("%s is not an approver of this assignment", approverID),
	}
}

// AssignmentClosed reports an action the assignment's status no longer allows.
func AssignmentClosed(status, action string) *Error {
	return &Error{
		Code:    ErrCodeAssignmentClosed,
		Message: fmt.Sprintf("cannot %s: assignment is %s", action, status),
	}
}

// Upstream wraps a persistence or identity gateway failure.
func Upstream(err error, message string) error {
	return Wrap(err, ErrCodeUpstream, message)
}

// Is and As re-export the standard library helpers so callers importing this
// package do not need a second errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsRetryable reports whether a caller may retry the failed operation as is.
// Only upstream (transport) failures qualify; domain errors never do.
func IsRetryable(err error) bool {
	return HasCode(err, ErrCodeUpstream)
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeAssignmentClosed:
		return http.StatusConflict
	case ErrCodeNotAnApprover, ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
