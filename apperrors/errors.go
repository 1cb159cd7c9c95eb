// Package apperrors provides coded domain errors shared by the invitation
// engine and the HTTP layer.
package apperrors

import "errors"

// Error is the domain error type. Two errors are equal under errors.Is when
// their codes match, so callers can test against the sentinels below.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code of the first domain error in err's chain.
// Errors without one report CodeUnknown.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// Sentinels for errors.Is checks.
var (
	ErrValidation         = New(CodeValidation, "validation failed")
	ErrNotConnected       = New(CodeNotConnected, "bot is not connected")
	ErrTimeout            = New(CodeTimeout, "operation timed out")
	ErrCommunityNotFound  = New(CodeCommunityNotFound, "guild not found or bot is not a member")
	ErrProvisioning       = New(CodeProvisioning, "failed to create voice channel")
	ErrUserNotFound       = New(CodeUserNotFound, "target user not found")
	ErrDeliveryForbidden  = New(CodeDeliveryForbidden, "target user does not accept direct messages")
	ErrDeliveryFailed     = New(CodeDeliveryFailed, "failed to deliver direct message")
	ErrInvitationNotFound = New(CodeNotFound, "invitation not found")
)
