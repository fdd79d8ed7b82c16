// Package emit provides pluggable observability for workflow execution.
package emit

// Event is one observability record emitted during a run.
//
// Events cover executor invocation, superstep barriers, checkpoints, faults,
// and anything an executor reports through its RunContext. They flow to an
// Emitter, which can log them, turn them into spans, or buffer them for
// later queries.
type Event struct {
	// RunID identifies the workflow run that emitted this event.
	RunID string

	// Superstep is the zero-based superstep index. Zero for events emitted
	// before the first superstep (e.g. graph warnings).
	Superstep int

	// ExecutorID identifies the executor the event is scoped to.
	// Empty for run-level events.
	ExecutorID string

	// Msg is a short machine-stable description, e.g. "executor_invoked",
	// "superstep_completed", "run_error".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "code": fault code for run_error events
	//   - "error": error detail
	//   - "checkpoint_hash": content hash of a captured checkpoint
	//   - "warning": build-time graph diagnostic
	Meta map[string]any
}
