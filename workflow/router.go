package workflow

import (
	"context"
	"fmt"
	"reflect"
)

// Handler is the untyped form a registered handler takes inside the Router's
// dispatch table. User code never writes one directly; On builds them from
// typed functions at registration time.
type Handler func(ctx context.Context, rc *RunContext, msg any) (any, error)

// CallResult is the outcome of routing one message through an executor.
//
// Exactly one handler invocation produces exactly one CallResult. A fault in
// the handler (error return or panic) is captured here rather than propagated
// across the executor boundary; the Runner reads the result to decide
// propagation.
type CallResult struct {
	// Success is false when the invocation faulted.
	Success bool

	// IsVoid is true when the handler produced no result value. Void results
	// are not forwarded along outgoing edges.
	IsVoid bool

	// Value is the typed result that becomes the outgoing message payload.
	// Nil when IsVoid or on fault.
	Value any

	// Err holds the captured fault. Nil on success.
	Err error
}

// voidResult is the CallResult for a handler that completed without output.
func voidResult() CallResult { return CallResult{Success: true, IsVoid: true} }

// faultResult captures a handler or routing fault.
func faultResult(err error) CallResult { return CallResult{Err: err} }

// Router binds message types to handlers for a single executor.
//
// The dispatch table is built statically at executor-construction time: On
// captures the handler's message type once via reflection, and Route performs
// a single map lookup per dispatch. At most one handler may be registered per
// exact message type; a handler accepting []T is distinct from one accepting T.
//
// Resolution order:
//  1. Exact type match.
//  2. Sequence-element match: a handler registered for []T accepts any slice
//     or array message whose element type is T (named slice types included).
//
// Routing a message with no match yields a CallResult fault wrapping
// ErrNoHandler.
type Router struct {
	handlers map[reflect.Type]Handler
	order    []reflect.Type
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[reflect.Type]Handler)}
}

// On registers fn as the handler for messages of type T on r.
//
// The handler may return a nil result to indicate a void invocation; non-nil
// results are forwarded along the executor's outgoing edges by the Runner.
//
// Returns ErrDuplicateHandler if a handler for T is already registered.
func On[T any](r *Router, fn func(ctx context.Context, rc *RunContext, msg T) (any, error)) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, t)
	}

	r.handlers[t] = func(ctx context.Context, rc *RunContext, msg any) (any, error) {
		m, ok := msg.(T)
		if !ok {
			return nil, newError(CodeHandlerFault,
				fmt.Sprintf("dispatch type mismatch: want %s, got %T", t, msg), nil)
		}
		return fn(ctx, rc, m)
	}
	r.order = append(r.order, t)
	return nil
}

// Types returns the registered message types in registration order.
func (r *Router) Types() []reflect.Type {
	out := make([]reflect.Type, len(r.order))
	copy(out, r.order)
	return out
}

// CanHandle reports whether some registered handler accepts msg, including
// the sequence-element match.
func (r *Router) CanHandle(msg any) bool {
	if msg == nil {
		return false
	}
	return r.CanHandleType(reflect.TypeOf(msg))
}

// CanHandleType reports whether some registered handler accepts messages of
// type t.
func (r *Router) CanHandleType(t reflect.Type) bool {
	_, _, ok := r.resolve(t)
	return ok
}

// resolve locates the handler for t and, for sequence-element matches, the
// slice type the message must be converted to before dispatch. The returned
// convert type is nil for exact matches.
func (r *Router) resolve(t reflect.Type) (Handler, reflect.Type, bool) {
	if h, ok := r.handlers[t]; ok {
		return h, nil, true
	}

	// Sequence-element covariance: a []T handler accepts any slice or array
	// whose element type is T.
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		want := reflect.SliceOf(t.Elem())
		if h, ok := r.handlers[want]; ok {
			if want == t {
				return h, nil, true
			}
			return h, want, true
		}
	}

	return nil, nil, false
}

// Route dispatches msg to the best-matching handler and returns its
// CallResult. Handler errors and panics are captured as faults, never
// re-thrown; a missing handler is a routing fault wrapping ErrNoHandler.
func (r *Router) Route(ctx context.Context, rc *RunContext, msg any) (res CallResult) {
	if msg == nil {
		return faultResult(newError(CodeNoHandler, "cannot route nil message", ErrNoHandler))
	}

	t := reflect.TypeOf(msg)
	h, convert, ok := r.resolve(t)
	if !ok {
		return faultResult(newError(CodeNoHandler,
			fmt.Sprintf("executor has no handler for %s", t), ErrNoHandler))
	}

	if convert != nil {
		msg = convertSequence(msg, convert)
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = faultResult(newError(CodeHandlerFault,
				fmt.Sprintf("handler panic: %v", rec), nil))
		}
	}()

	value, err := h(ctx, rc, msg)
	if err != nil {
		return faultResult(newError(CodeHandlerFault, err.Error(), err))
	}
	if value == nil {
		return voidResult()
	}
	return CallResult{Success: true, Value: value}
}

// convertSequence rebuilds a slice or array value as the slice type the
// handler was registered with.
func convertSequence(msg any, want reflect.Type) any {
	v := reflect.ValueOf(msg)
	if v.Type().ConvertibleTo(want) {
		return v.Convert(want).Interface()
	}
	out := reflect.MakeSlice(want, v.Len(), v.Len())
	for i := 0; i < v.Len(); i++ {
		out.Index(i).Set(v.Index(i))
	}
	return out.Interface()
}
