package auth

import (
	"errors"
	"fmt"
)

// Code is the machine-readable outcome of a gateway decision
type Code string

const (
	CodeNoCredential        Code = "NO_CREDENTIAL"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeInvalidCredential   Code = "INVALID_CREDENTIAL"
	CodeExpiredCredential   Code = "EXPIRED_CREDENTIAL"
	CodeUserNotFound        Code = "USER_NOT_FOUND"
	CodeAccountDeactivated  Code = "ACCOUNT_DEACTIVATED"
	CodeAuthorizationDenied Code = "AUTHORIZATION_DENIED"
	CodeSessionInvalidated  Code = "SESSION_INVALIDATED"
	CodeEventRateLimited    Code = "EVENT_RATE_LIMITED"
	CodeInternal            Code = "INTERNAL"
)

// Reason refines a Code
type Reason string

const (
	// Credential subtypes
	ReasonMalformed Reason = "MALFORMED"
	ReasonExpired   Reason = "EXPIRED"
	ReasonUnknown   Reason = "UNKNOWN"

	// Authorization subtypes
	ReasonRoleNotAllowed         Reason = "ROLE_NOT_ALLOWED"
	ReasonMissingPermission      Reason = "MISSING_PERMISSION"
	ReasonDepartmentNotSpecified Reason = "DEPARTMENT_NOT_SPECIFIED"
	ReasonDepartmentMismatch     Reason = "DEPARTMENT_MISMATCH"
	ReasonResourceNotSpecified   Reason = "RESOURCE_NOT_SPECIFIED"
	ReasonResourceNotFound       Reason = "RESOURCE_NOT_FOUND"
	ReasonResourceAccessDenied   Reason = "RESOURCE_ACCESS_DENIED"
	ReasonCheckFailed            Reason = "CHECK_FAILED"

	// Session subtypes
	ReasonLoggedOutElsewhere Reason = "LOGGED_OUT_ELSEWHERE"
	ReasonSessionExpired     Reason = "SESSION_EXPIRED"
	ReasonDeactivated        Reason = "ACCOUNT_DEACTIVATED"
)

// Public messages. Nothing more specific ever leaves the process.
const (
	MessageAuthenticationFailed = "AUTHENTICATION_FAILED"
	MessageTooManyAttempts      = "TOO_MANY_ATTEMPTS"
	MessageAccessDenied         = "ACCESS_DENIED"
	MessageSessionInvalidated   = "SESSION_INVALIDATED"
	MessageRateLimited          = "RATE_LIMITED"
)

// Error carries a gateway outcome code directly
type Error struct {
	Code   Code
	Reason Reason
	Err    error
}

// NewError creates a tagged error
func NewError(code Code, reason Reason, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg += "(" + string(e.Reason) + ")"
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, and by reason when the target sets one
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Reason == "" || e.Reason == t.Reason)
}

// PublicMessage is the only text shown to the remote peer
func (e *Error) PublicMessage() string {
	switch e.Code {
	case CodeRateLimited:
		return MessageTooManyAttempts
	case CodeAuthorizationDenied:
		return MessageAccessDenied
	case CodeSessionInvalidated:
		return MessageSessionInvalidated
	case CodeEventRateLimited:
		return MessageRateLimited
	default:
		return MessageAuthenticationFailed
	}
}

// CodeOf extracts the Code from err, or "" when err carries none
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ReasonOf extracts the Reason from err, or "" when err carries none
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// PublicMessageOf returns the peer-visible message for any error
func PublicMessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.PublicMessage()
	}
	return MessageAuthenticationFailed
}
