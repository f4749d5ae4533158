// Package errors implements the closed error-kind taxonomy that every
// fallible operation in the runtime core surfaces through.
package errors

import (
	"errors"
	"regexp"
)

// Kind identifies one of the closed set of error kinds a fallible core
// operation can fail with.
type Kind = string

// The closed set of error kinds. Every fallible operation fails with
// exactly one of these.
const (
	ErrToolNotFound    Kind = "tool_not_found"
	ErrInvalidConfig   Kind = "invalid_config"
	ErrValidation      Kind = "validation"
	ErrHandler         Kind = "handler"
	ErrTimeout         Kind = "timeout"
	ErrBridge          Kind = "bridge"
	ErrIo              Kind = "io"
	ErrSerialization   Kind = "serialization"
)

// Error is the single error type surfaced by the core. It carries a kind,
// a human-readable message, and an optional wrapped cause.
type Error struct {
	Type    Kind
	Message string
	Cause   error
}

// Error renders "<type>: <message>" and appends ": <cause>" when a cause is
// present.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Type + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Type + ": " + e.Message
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError constructs an *Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Type: kind, Message: message, Cause: cause}
}

// NewToolNotFoundError reports that the registry has no handler registered
// under the given name. The caller-supplied message should name the tool.
func NewToolNotFoundError(message string, cause error) *Error {
	return NewError(ErrToolNotFound, message, cause)
}

// NewInvalidConfigError reports a structural configuration error detected
// at assembly time.
func NewInvalidConfigError(message string, cause error) *Error {
	return NewError(ErrInvalidConfig, message, cause)
}

// NewValidationError reports that caller input failed a declared schema.
func NewValidationError(message string, cause error) *Error {
	return NewError(ErrValidation, message, cause)
}

// NewHandlerError reports a failure signaled by user/handler code. Retry
// classification inspects Message for timeout/connection/temporary
// substrings (see Retryable).
func NewHandlerError(message string, cause error) *Error {
	return NewError(ErrHandler, message, cause)
}

// NewTimeoutError reports a wall-clock deadline exceeded. message should
// describe the elapsed duration.
func NewTimeoutError(message string, cause error) *Error {
	return NewError(ErrTimeout, message, cause)
}

// NewBridgeError reports a failure surfaced across the FFI boundary. The
// core does not interpret the numeric code; message should stringify it.
func NewBridgeError(message string, cause error) *Error {
	return NewError(ErrBridge, message, cause)
}

// NewIoError reports an infrastructure I/O failure.
func NewIoError(message string, cause error) *Error {
	return NewError(ErrIo, message, cause)
}

// NewSerializationError reports a marshal/unmarshal failure.
func NewSerializationError(message string, cause error) *Error {
	return NewError(ErrSerialization, message, cause)
}

// KindOf returns the Kind of err, or the empty string if err is nil or not
// an *Error. Used by the error tracker to label its per-kind counters.
func KindOf(err error) Kind {
	var e *Error
	if err == nil || !errors.As(err, &e) {
		return ""
	}
	return e.Type
}

func is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == kind
}

// IsToolNotFound reports whether err is an *Error of kind ToolNotFound.
func IsToolNotFound(err error) bool { return is(err, ErrToolNotFound) }

// IsInvalidConfig reports whether err is an *Error of kind InvalidConfig.
func IsInvalidConfig(err error) bool { return is(err, ErrInvalidConfig) }

// IsValidation reports whether err is an *Error of kind Validation.
func IsValidation(err error) bool { return is(err, ErrValidation) }

// IsHandler reports whether err is an *Error of kind Handler.
func IsHandler(err error) bool { return is(err, ErrHandler) }

// IsTimeout reports whether err is an *Error of kind Timeout.
func IsTimeout(err error) bool { return is(err, ErrTimeout) }

// IsBridge reports whether err is an *Error of kind Bridge.
func IsBridge(err error) bool { return is(err, ErrBridge) }

// IsIo reports whether err is an *Error of kind Io.
func IsIo(err error) bool { return is(err, ErrIo) }

// IsSerialization reports whether err is an *Error of kind Serialization.
func IsSerialization(err error) bool { return is(err, ErrSerialization) }

// retryableHandlerMessage matches Handler error messages that describe a
// transient condition worth retrying, per spec.md 4.1.
var retryableHandlerMessage = regexp.MustCompile(`(?i)timeout|timed out|connection|temporary`)

// Retryable classifies an error as retryable. Timeout is always retryable.
// Handler is retryable only when its message matches a transient-condition
// pattern. Io is retryable (transient infrastructure failure). All other
// kinds, and non-*Error values, are terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrTimeout, ErrIo:
		return true
	case ErrHandler:
		return retryableHandlerMessage.MatchString(e.Message)
	default:
		return false
	}
}
