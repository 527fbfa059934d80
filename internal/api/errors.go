package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a surface-level failure independent of transport.
type ErrorKind string

const (
	// KindTimeout means no response arrived within the request deadline.
	KindTimeout ErrorKind = "timeout"
	// KindConnectionLost means the transport dropped while the request was
	// outstanding, or reconnection attempts were exhausted.
	KindConnectionLost ErrorKind = "connection_lost"
	// KindNotInitialized means the surface was used before Initialize
	// completed in remote mode.
	KindNotInitialized ErrorKind = "not_initialized"
	// KindUnavailable means the operation is not part of the catalogue or no
	// provider backs it in this process.
	KindUnavailable ErrorKind = "unavailable"
	// KindBackend carries a failure reported by the backend provider itself.
	KindBackend ErrorKind = "backend"
)

// Error is the failure type returned by Surface implementations.
type Error struct {
	Kind    ErrorKind
	Op      Op
	Message string
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// NewTimeout builds a timeout error naming the operation that expired.
func NewTimeout(op Op) *Error {
	return &Error{Kind: KindTimeout, Op: op, Message: "request timed out"}
}

// NewConnectionLost builds a connection-loss error for an operation.
func NewConnectionLost(op Op) *Error {
	return &Error{Kind: KindConnectionLost, Op: op, Message: "connection lost"}
}

// ErrNotInitialized is returned when the facade is used before the remote
// connection is ready.
var ErrNotInitialized = &Error{Kind: KindNotInitialized, Message: "API not initialized"}

// NewUnavailable builds an error for an operation no provider backs.
func NewUnavailable(op Op, msg string) *Error {
	return &Error{Kind: KindUnavailable, Op: op, Message: msg}
}

// NewBackend wraps a backend-reported failure message verbatim.
func NewBackend(op Op, msg string) *Error {
	return &Error{Kind: KindBackend, Op: op, Message: msg}
}

// IsKind reports whether err is a surface error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
