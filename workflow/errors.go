// Package workflow provides a graph-based message-passing execution engine.
package workflow

import "errors"

// Fault codes reported through RunError events and *Error values.
// Codes are stable strings so callers can switch on them without importing
// internal types.
const (
	CodeNoHandler     = "NO_HANDLER"
	CodeHandlerFault  = "HANDLER_FAULT"
	CodeEdgeFault     = "EDGE_FAULT"
	CodeCheckpoint    = "CHECKPOINT_FAULT"
	CodeCancelled     = "CANCELLED"
	CodeUnroutable    = "UNROUTABLE_MESSAGE"
	CodeMaxSupersteps = "MAX_SUPERSTEPS_EXCEEDED"
)

// ErrNoHandler is returned when a message reaches an executor that has no
// registered handler for the message's type (including the sequence-element
// match). The fault is fatal to that invocation, not to the whole run; the
// Runner's fault policy decides whether the run aborts.
var ErrNoHandler = errors.New("no handler registered for message type")

// ErrDuplicateHandler is returned when a second handler is registered for a
// message type that already has one on the same executor.
var ErrDuplicateHandler = errors.New("handler already registered for message type")

// ErrUnroutable is returned when a message emitted by an executor matches no
// outgoing edge. Unroutable messages are reported, never silently dropped.
var ErrUnroutable = errors.New("message matched no outgoing edge")

// ErrMaxSupersteps is returned when a run exceeds the configured superstep
// limit. Cyclic graphs are legal; the limit is the guard against a missing
// termination condition.
var ErrMaxSupersteps = errors.New("run exceeded maximum superstep limit")

// ErrRunFaulted is returned by Run when a fault aborted the run under the
// FailFast policy. The RunError event carries the underlying cause.
var ErrRunFaulted = errors.New("run aborted by fault")

// ErrNotRestorable is returned when a checkpoint references a message type
// that is not part of the workflow's declared type set.
var ErrNotRestorable = errors.New("checkpoint references unknown message type")

// Error is a structured engine error carrying a stable fault code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an *Error wrapping an optional cause.
func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}
