// Package rpcerr defines the failure taxonomy shared by the schema registry,
// the type codec and the dispatcher.
package rpcerr

import (
	"errors"
	"fmt"
)

// Failure codes. CodeEnvelopeState reports reuse of a call envelope that
// already left Idle.
const (
	CodeMalformedSchema      = "MALFORMED_SCHEMA"
	CodeDuplicateService     = "DUPLICATE_SERVICE"
	CodeUnknownService       = "UNKNOWN_SERVICE"
	CodeUnknownMethod        = "UNKNOWN_METHOD"
	CodeTypeMismatch         = "TYPE_MISMATCH"
	CodeMalformedWire        = "MALFORMED_WIRE"
	CodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	CodeTimeout              = "TIMEOUT"
	CodeRemoteRejected       = "REMOTE_REJECTED"
	CodeEnvelopeState        = "ENVELOPE_STATE"
)

// Sentinels for use with errors.Is. Matching is by code only.
var (
	ErrMalformedSchema      = &Error{Code: CodeMalformedSchema}
	ErrDuplicateService     = &Error{Code: CodeDuplicateService}
	ErrUnknownService       = &Error{Code: CodeUnknownService}
	ErrUnknownMethod        = &Error{Code: CodeUnknownMethod}
	ErrTypeMismatch         = &Error{Code: CodeTypeMismatch}
	ErrMalformedWire        = &Error{Code: CodeMalformedWire}
	ErrTransportUnavailable = &Error{Code: CodeTransportUnavailable}
	ErrTimeout              = &Error{Code: CodeTimeout}
	ErrRemoteRejected       = &Error{Code: CodeRemoteRejected}
	ErrEnvelopeState        = &Error{Code: CodeEnvelopeState}
)

// Error is a structured failure. Every failure surfaced by this module is an *Error.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	// Retryable is set for transport failures that a caller may retry (query calls only
	// unless the caller explicitly opted into retrying updates).
	Retryable bool `json:"retryable"`
	// Indeterminate is set when an update call was abandoned or timed out after being
	// sent: the remote mutation may or may not have happened.
	Indeterminate bool `json:"indeterminate,omitempty"`
	// RemoteCode carries the application-level code for REMOTE_REJECTED failures.
	RemoteCode string `json:"remoteCode,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an *Error with a formatted message.
func New(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error that records cause for errors.Unwrap.
func Wrap(code string, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
