package workflow

import (
	"sync"

	"github.com/dshills/stepflow-go/workflow/emit"
)

// RunContext is the per-invocation view an executor gets of the running
// engine. It carries run identity, shared-state access, and the collection
// points for messages and events an executor emits while handling.
//
// A RunContext is created by the Runner for each executor invocation batch
// within a superstep and discarded at the superstep barrier. It is safe for
// concurrent use: handlers may fan work out to goroutines and emit from them,
// as long as all emission happens before the handler returns.
type RunContext struct {
	runID      string
	superstep  int
	executorID string

	shared  *SharedState
	emitter emit.Emitter

	mu     sync.Mutex
	sends  []any
	output any
	hasOut bool
}

// RunID returns the identifier of the current workflow run.
func (rc *RunContext) RunID() string { return rc.runID }

// Superstep returns the zero-based index of the current superstep.
func (rc *RunContext) Superstep() int { return rc.superstep }

// ExecutorID returns the id of the executor being invoked.
func (rc *RunContext) ExecutorID() string { return rc.executorID }

// SendMessage emits msg along the executor's outgoing edges. Sent messages
// join the next frontier exactly like a returned handler result, in the
// order they were sent.
func (rc *RunContext) SendMessage(msg any) {
	if msg == nil {
		return
	}
	rc.mu.Lock()
	rc.sends = append(rc.sends, msg)
	rc.mu.Unlock()
}

// YieldOutput marks the workflow complete with the given result. The run
// finishes at the end of the current superstep; no new superstep starts.
// The last yield in a superstep wins if several executors yield.
func (rc *RunContext) YieldOutput(v any) {
	rc.mu.Lock()
	rc.output = v
	rc.hasOut = true
	rc.mu.Unlock()
}

// QueueStateUpdate stages a shared-state write. The write becomes visible to
// ReadState starting at the next superstep, never within the current one.
func (rc *RunContext) QueueStateUpdate(scope, key string, value any) {
	rc.shared.QueueUpdate(scope, key, value)
}

// ReadState returns the most recent committed value for (scope, key), or
// ok=false when no committed value exists. Writes staged in the current
// superstep are not visible.
func (rc *RunContext) ReadState(scope, key string) (any, bool) {
	return rc.shared.Read(scope, key)
}

// ClearScope stages removal of every key in scope. Like any staged write it
// takes effect at the next superstep boundary.
func (rc *RunContext) ClearScope(scope string) {
	rc.shared.QueueClear(scope)
}

// AddEvent emits a custom observability event attributed to this executor
// and superstep.
func (rc *RunContext) AddEvent(msg string, meta map[string]any) {
	if rc.emitter == nil {
		return
	}
	rc.emitter.Emit(emit.Event{
		RunID:      rc.runID,
		Superstep:  rc.superstep,
		ExecutorID: rc.executorID,
		Msg:        msg,
		Meta:       meta,
	})
}

// drain returns and clears the collected sends and pending output.
func (rc *RunContext) drain() (sends []any, output any, hasOut bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	sends = rc.sends
	rc.sends = nil
	output, hasOut = rc.output, rc.hasOut
	rc.output, rc.hasOut = nil, false
	return sends, output, hasOut
}
