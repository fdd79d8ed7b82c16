package workflow

import (
	"context"
	"encoding/json"
	"reflect"
)

// Executor is a named processing node in a workflow graph.
//
// An executor consumes one typed message per invocation and optionally emits
// a typed result and/or asynchronous messages through the RunContext. The
// engine never inspects an executor beyond its ID and declared message types;
// MessageTypes is consulted once, at graph-build time, for static edge-type
// validation and to seed the checkpoint type registry.
type Executor interface {
	// ID returns the executor's unique name within a workflow.
	ID() string

	// Handle routes msg through the executor's handler set and returns the
	// invocation outcome. Faults are captured in the CallResult, never
	// panicked or returned across the boundary.
	Handle(ctx context.Context, msg any, rc *RunContext) CallResult

	// MessageTypes returns the message types this executor declares handlers
	// for, in registration order.
	MessageTypes() []reflect.Type
}

// StatefulExecutor is implemented by executors that hold mutable instance
// state between supersteps. The Checkpoint Manager calls SnapshotState at
// every checkpoint and RestoreState on resume; executors that do not
// implement it are assumed stateless.
type StatefulExecutor interface {
	Executor

	// SnapshotState serializes the executor's mutable state.
	SnapshotState() (json.RawMessage, error)

	// RestoreState reinstates state captured by SnapshotState.
	RestoreState(data json.RawMessage) error
}

// ExecutorNode is the concrete base for building executors. It owns a Router
// and delegates Handle to it.
//
// Typical construction:
//
//	upper := workflow.NewExecutor("uppercase")
//	workflow.Handle(upper, func(ctx context.Context, rc *workflow.RunContext, s string) (any, error) {
//	    return strings.ToUpper(s), nil
//	})
type ExecutorNode struct {
	id     string
	router *Router
}

// NewExecutor creates an executor node with the given id and an empty
// handler set. Panics if id is empty: an unnamed executor cannot be wired
// into a graph, so this is always a programming error.
func NewExecutor(id string) *ExecutorNode {
	if id == "" {
		panic("workflow: executor id cannot be empty")
	}
	return &ExecutorNode{id: id, router: NewRouter()}
}

// ID returns the executor's name.
func (e *ExecutorNode) ID() string { return e.id }

// Router exposes the executor's dispatch table for registration.
func (e *ExecutorNode) Router() *Router { return e.router }

// Handle dispatches msg through the executor's Router.
func (e *ExecutorNode) Handle(ctx context.Context, msg any, rc *RunContext) CallResult {
	return e.router.Route(ctx, rc, msg)
}

// MessageTypes returns the declared inbound message types.
func (e *ExecutorNode) MessageTypes() []reflect.Type { return e.router.Types() }

// Handle registers fn as e's handler for messages of type T.
// It is sugar for On(e.Router(), fn).
func Handle[T any](e *ExecutorNode, fn func(ctx context.Context, rc *RunContext, msg T) (any, error)) error {
	return On(e.router, fn)
}

// MustHandle is Handle but panics on registration error. Intended for
// graph-construction code where a duplicate registration is a programming
// error.
func MustHandle[T any](e *ExecutorNode, fn func(ctx context.Context, rc *RunContext, msg T) (any, error)) {
	if err := Handle(e, fn); err != nil {
		panic(err)
	}
}
