package workflow

import "time"

// EventKind discriminates the workflow lifecycle event variants.
type EventKind string

const (
	// EventExecutorInvoked fires when an executor starts processing its
	// pending messages for a superstep.
	EventExecutorInvoked EventKind = "executor_invoked"

	// EventExecutorCompleted fires when an executor finishes a superstep's
	// pending messages.
	EventExecutorCompleted EventKind = "executor_completed"

	// EventSuperStepCompleted fires at each superstep barrier. Checkpoint is
	// set when a snapshot was captured for the step.
	EventSuperStepCompleted EventKind = "superstep_completed"

	// EventWorkflowCompleted fires once, with the final result, when a run
	// reaches the Completed state.
	EventWorkflowCompleted EventKind = "workflow_completed"

	// EventRunError reports a captured fault. Under the FailFast policy it
	// is followed by run termination; under ContinueOnError the run
	// proceeds without the offending message.
	EventRunError EventKind = "run_error"
)

// Event is one entry in a run's ordered lifecycle stream.
//
// Events are produced during a superstep and consumed from the caller's
// stream (or a buffering emitter); they are never persisted except via
// checkpoints.
type Event struct {
	Kind      EventKind `json:"kind"`
	RunID     string    `json:"run_id"`
	Superstep int       `json:"superstep"`

	// ExecutorID is set on executor-scoped events.
	ExecutorID string `json:"executor_id,omitempty"`

	// Checkpoint is set on SuperStepCompleted when a snapshot was taken.
	Checkpoint *CheckpointInfo `json:"checkpoint,omitempty"`

	// Result is set on WorkflowCompleted.
	Result any `json:"result,omitempty"`

	// Code and Message are set on RunError.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// RunState is the Runner's lifecycle state.
type RunState int

const (
	// StateIdle is the state before Run is called.
	StateIdle RunState = iota

	// StateRunning covers dispatch and barrier phases.
	StateRunning

	// StateCompleted means the frontier drained or an executor yielded
	// output.
	StateCompleted

	// StateFaulted means an unhandled fault aborted the run.
	StateFaulted

	// StateCancelled means cancellation was observed at a superstep
	// boundary.
	StateCancelled
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFaulted:
		return "faulted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RunResult is the terminal outcome of a run.
type RunResult struct {
	// RunID identifies the run, generated when Run was given an empty id.
	RunID string

	// State is the terminal state: Completed, Faulted, or Cancelled.
	State RunState

	// Output is the workflow result: the value passed to YieldOutput, or
	// the last result returned by a terminal executor (one with no outgoing
	// edges) when no executor yielded explicitly.
	Output any

	// Supersteps is the number of supersteps executed.
	Supersteps int

	// Err is set for Faulted and Cancelled runs.
	Err error
}
