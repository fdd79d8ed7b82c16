package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// TurnToken is the engine control signal that releases a turn-gated
// executor. Edge conditions built with When always pass it through, so a
// token sent to the entry of a gated branch reaches the gate regardless of
// the predicates along the way.
type TurnToken struct{}

// GatedExecutor wraps an executor that must not process until an explicit
// turn signal arrives.
//
// All non-token messages are buffered in arrival order. When a TurnToken is
// received the buffer is replayed through the wrapped executor in FIFO
// order, then cleared. Values the wrapped executor returns during replay are
// forwarded through the RunContext so they route along outgoing edges
// normally; if the wrapped executor declares its own TurnToken handler, the
// token is delivered to it after the replay (this is how agent executors
// learn the turn is over).
//
// The buffer is mutable instance state and is captured by checkpoints.
type GatedExecutor struct {
	inner Executor

	mu     sync.Mutex
	buffer []any

	types *typeRegistry // bound at Build time for buffer serialization
}

// Gate wraps inner in a turn-gated adapter. The adapter keeps the wrapped
// executor's id, so edges are declared against the same name whether or not
// the executor is gated.
func Gate(inner Executor) *GatedExecutor {
	return &GatedExecutor{inner: inner}
}

// ID returns the wrapped executor's id.
func (g *GatedExecutor) ID() string { return g.inner.ID() }

// Unwrap returns the wrapped executor.
func (g *GatedExecutor) Unwrap() Executor { return g.inner }

// MessageTypes returns the wrapped executor's declared types plus TurnToken.
func (g *GatedExecutor) MessageTypes() []reflect.Type {
	types := g.inner.MessageTypes()
	tokenType := reflect.TypeOf(TurnToken{})
	for _, t := range types {
		if t == tokenType {
			return types
		}
	}
	return append(types, tokenType)
}

// Buffered returns the number of messages waiting for the next turn.
func (g *GatedExecutor) Buffered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffer)
}

// Handle buffers non-token messages and replays the buffer on a TurnToken.
func (g *GatedExecutor) Handle(ctx context.Context, msg any, rc *RunContext) CallResult {
	if _, ok := msg.(TurnToken); !ok {
		g.mu.Lock()
		g.buffer = append(g.buffer, msg)
		g.mu.Unlock()
		return voidResult()
	}

	g.mu.Lock()
	pending := g.buffer
	g.buffer = nil
	g.mu.Unlock()

	for _, m := range pending {
		res := g.inner.Handle(ctx, m, rc)
		if res.Err != nil {
			// Unreplayed messages are lost with the fault; the fault policy
			// decides whether the run survives.
			return res
		}
		if !res.IsVoid {
			rc.SendMessage(res.Value)
		}
	}

	// Hand the token to the wrapped executor if it wants to know the turn
	// ended; otherwise the gate consumes it.
	tokenType := reflect.TypeOf(TurnToken{})
	for _, t := range g.inner.MessageTypes() {
		if t == tokenType {
			return g.inner.Handle(ctx, msg, rc)
		}
	}
	return voidResult()
}

// bindTypes gives the gate access to the workflow's message type registry so
// the buffer can round-trip through checkpoints. Called during Build.
func (g *GatedExecutor) bindTypes(reg *typeRegistry) {
	g.types = reg
	if b, ok := g.inner.(typeBinder); ok {
		b.bindTypes(reg)
	}
}

// gateSnapshot is the serialized form of the gate buffer plus the wrapped
// executor's own snapshot when it is stateful.
type gateSnapshot struct {
	Buffer []envelopeValue `json:"buffer"`
	Inner  json.RawMessage `json:"inner,omitempty"`
}

// SnapshotState serializes the pending buffer (and the wrapped executor's
// state, if stateful) for checkpoint capture.
func (g *GatedExecutor) SnapshotState() (json.RawMessage, error) {
	g.mu.Lock()
	pending := make([]any, len(g.buffer))
	copy(pending, g.buffer)
	g.mu.Unlock()

	if g.types == nil {
		return nil, newError(CodeCheckpoint, "gate not bound to a built workflow", nil)
	}

	snap := gateSnapshot{Buffer: make([]envelopeValue, 0, len(pending))}
	for _, m := range pending {
		env, err := g.types.encodeValue(m)
		if err != nil {
			return nil, err
		}
		snap.Buffer = append(snap.Buffer, env)
	}

	if st, ok := g.inner.(StatefulExecutor); ok {
		data, err := st.SnapshotState()
		if err != nil {
			return nil, fmt.Errorf("snapshot of gated executor %q: %w", g.ID(), err)
		}
		snap.Inner = data
	}

	return json.Marshal(snap)
}

// RestoreState reinstates the buffer captured by SnapshotState.
func (g *GatedExecutor) RestoreState(data json.RawMessage) error {
	if g.types == nil {
		return newError(CodeCheckpoint, "gate not bound to a built workflow", nil)
	}

	var snap gateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	buffer := make([]any, 0, len(snap.Buffer))
	for _, env := range snap.Buffer {
		v, err := g.types.decodeValue(env)
		if err != nil {
			return err
		}
		buffer = append(buffer, v)
	}

	g.mu.Lock()
	g.buffer = buffer
	g.mu.Unlock()

	if st, ok := g.inner.(StatefulExecutor); ok && snap.Inner != nil {
		if err := st.RestoreState(snap.Inner); err != nil {
			return fmt.Errorf("restore of gated executor %q: %w", g.ID(), err)
		}
	}
	return nil
}
