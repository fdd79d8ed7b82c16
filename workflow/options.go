package workflow

import (
	"time"

	"github.com/dshills/stepflow-go/workflow/emit"
	"github.com/dshills/stepflow-go/workflow/store"
)

// FaultPolicy decides what a captured fault does to the rest of the run.
type FaultPolicy int

const (
	// FailFast aborts the run on the first fault. This is the default:
	// partially executed graphs risk inconsistent shared state.
	FailFast FaultPolicy = iota

	// ContinueOnError drops the offending message, surfaces a RunError
	// event, and keeps the run going.
	ContinueOnError
)

// Options configures Runner behavior. Zero values are valid; NewRunner
// applies defaults.
type Options struct {
	// MaxSupersteps caps the number of supersteps to guard against graphs
	// whose loops never terminate. 0 means no limit.
	MaxSupersteps int

	// MaxConcurrent bounds how many executors dispatch in parallel within
	// one superstep. Default 8.
	MaxConcurrent int

	// HandlerTimeout bounds a single executor invocation. The handler's
	// context is cancelled at the deadline; a handler that honors it
	// returns a HandlerFault. 0 disables the timeout.
	HandlerTimeout time.Duration

	// Policy selects fault handling. Default FailFast.
	Policy FaultPolicy

	// CheckpointStore enables checkpointing at every superstep boundary
	// when non-nil.
	CheckpointStore store.Store

	// CheckpointFailureFatal promotes checkpoint faults from a durability
	// warning to a run-aborting fault. Default false.
	CheckpointFailureFatal bool

	// Emitter receives observability events. Optional.
	Emitter emit.Emitter

	// Metrics receives engine metrics. Optional.
	Metrics *Metrics

	// StreamBuffer is the capacity of the event channel returned by
	// Stream. Default 64.
	StreamBuffer int
}

// Option is a functional option for NewRunner.
type Option func(*Options)

// WithMaxSupersteps caps the superstep count. Exceeding the cap faults the
// run with code MAX_SUPERSTEPS_EXCEEDED.
func WithMaxSupersteps(n int) Option {
	return func(o *Options) { o.MaxSupersteps = n }
}

// WithMaxConcurrent bounds intra-superstep executor parallelism.
func WithMaxConcurrent(n int) Option {
	return func(o *Options) { o.MaxConcurrent = n }
}

// WithHandlerTimeout bounds a single executor invocation.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *Options) { o.HandlerTimeout = d }
}

// WithFaultPolicy selects between FailFast and ContinueOnError.
func WithFaultPolicy(p FaultPolicy) Option {
	return func(o *Options) { o.Policy = p }
}

// WithCheckpoints enables checkpointing backed by st. A snapshot is captured
// at every superstep boundary; Resume continues from the latest one.
func WithCheckpoints(st store.Store) Option {
	return func(o *Options) { o.CheckpointStore = st }
}

// WithCheckpointFailureFatal makes a failed checkpoint abort the run instead
// of logging a durability warning.
func WithCheckpointFailureFatal(fatal bool) Option {
	return func(o *Options) { o.CheckpointFailureFatal = fatal }
}

// WithEmitter wires an observability emitter.
func WithEmitter(em emit.Emitter) Option {
	return func(o *Options) { o.Emitter = em }
}

// WithMetrics wires engine metrics collection.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithStreamBuffer sets the Stream event channel capacity.
func WithStreamBuffer(n int) Option {
	return func(o *Options) { o.StreamBuffer = n }
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 8
	}
	if o.StreamBuffer <= 0 {
		o.StreamBuffer = 64
	}
}
