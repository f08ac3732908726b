package core

import (
	"errors"
	"fmt"
)

// Error codes shared by every isolate package.
const (
	CodeSpawnFailure       = "SPAWN_FAILURE"
	CodeHandshakeTimeout   = "HANDSHAKE_TIMEOUT"
	CodeWorkerRuntimeError = "WORKER_RUNTIME_ERROR"
	CodeUnexpectedExit     = "UNEXPECTED_EXIT"
	CodeTransferRejected   = "TRANSFER_REJECTED"
	CodeClosed             = "CLOSED"
	CodeNotFound           = "NOT_FOUND"
)

// Sentinels for errors.Is. Matching is by Code, so any *Error carrying the
// same code satisfies errors.Is(err, ErrSpawnFailure) and so on.
var (
	ErrSpawnFailure       = &Error{Code: CodeSpawnFailure, Message: "worker spawn failed"}
	ErrHandshakeTimeout   = &Error{Code: CodeHandshakeTimeout, Message: "worker never announced its address"}
	ErrWorkerRuntimeError = &Error{Code: CodeWorkerRuntimeError, Message: "worker raised an error"}
	ErrUnexpectedExit     = &Error{Code: CodeUnexpectedExit, Message: "worker exited without a result"}
	ErrTransferRejected   = &Error{Code: CodeTransferRejected, Message: "payload is not sendable"}
	ErrClosed             = &Error{Code: CodeClosed, Message: "endpoint is closed"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
)

// Error is the error type surfaced by workers, endpoints and supervisors.
//
// Trace carries the worker-side stack when the failure originated inside a
// worker and a trace was available.
type Error struct {
	Code    string
	Message string
	Trace   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates an *Error with a formatted message.
func NewError(code string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an *Error that keeps cause in its chain.
func WrapError(code string, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
