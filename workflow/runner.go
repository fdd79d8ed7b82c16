package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/stepflow-go/workflow/emit"
)

// Runner drives a built Workflow through repeated bulk-synchronous
// supersteps.
//
// One superstep:
//  1. Group the pending frontier by target executor.
//  2. Dispatch each executor's pending messages through its Router.
//     Executors run concurrently with each other (bounded by
//     MaxConcurrent); per-sender delivery order to a target is preserved,
//     cross-sender interleaving is unspecified.
//  3. Collect returned results and explicit sends, resolve edge conditions
//     and partitioners into the next frontier, release full fan-in
//     barriers.
//  4. Commit staged shared-state writes, capture a checkpoint when a store
//     is configured, emit SuperStepCompleted.
//  5. Repeat until the frontier drains or an executor yields output.
//
// The barrier between supersteps is global: no executor begins superstep
// N+1 work before superstep N's sends are fully collected. Cancellation is
// observed at the barrier; in-flight handlers run to completion.
//
// A Runner is reusable and safe for concurrent runs: all per-run state lives
// in the run, none on the Runner.
type Runner struct {
	wf   *Workflow
	opts Options
	cpm  *CheckpointManager
}

// NewRunner creates a Runner for wf.
func NewRunner(wf *Workflow, opts ...Option) (*Runner, error) {
	if wf == nil {
		return nil, newError("NO_WORKFLOW", "runner requires a built workflow", nil)
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	o.applyDefaults()

	r := &Runner{wf: wf, opts: o}
	if o.CheckpointStore != nil {
		r.cpm = newCheckpointManager(o.CheckpointStore, wf.types)
	}
	return r, nil
}

// Checkpoints returns the checkpoint manager, or nil when the Runner was
// built without WithCheckpoints.
func (r *Runner) Checkpoints() *CheckpointManager { return r.cpm }

// delivery is one pending message addressed to a target executor. Seq
// preserves the sender's own emission order; deliveries from one source to
// one target are dispatched in ascending Seq.
type delivery struct {
	target string
	source string
	seq    int
	msg    any
}

// runState is the complete mutable state of one run. Everything here, plus
// stateful-executor snapshots, is what a checkpoint captures.
type runState struct {
	runID     string
	superstep int
	frontier  []delivery
	fanIn     map[string][]any
	shared    *SharedState
	output    any
	hasOutput bool
}

// Run executes the workflow to a terminal state. An empty runID generates
// one. The returned RunResult always describes the terminal state; err is
// non-nil for Faulted and Cancelled runs.
func (r *Runner) Run(ctx context.Context, runID string, input any) (*RunResult, error) {
	rs, err := r.seed(runID, input)
	if err != nil {
		return nil, err
	}
	return r.loop(ctx, rs, nil)
}

// Stream is Run with a live event channel. The channel is closed when the
// run reaches a terminal state; wait blocks until then and returns the
// result. Consume promptly or size the buffer with WithStreamBuffer, since
// an unconsumed channel stalls the barrier.
func (r *Runner) Stream(ctx context.Context, runID string, input any) (<-chan Event, func() (*RunResult, error), error) {
	rs, err := r.seed(runID, input)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan Event, r.opts.StreamBuffer)
	type outcome struct {
		res *RunResult
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer close(ch)
		res, err := r.loop(ctx, rs, func(ev Event) { ch <- ev })
		done <- outcome{res, err}
	}()

	wait := func() (*RunResult, error) {
		o := <-done
		return o.res, o.err
	}
	return ch, wait, nil
}

// Resume continues a run from its most recent checkpoint. The workflow must
// be built from the same graph that produced the checkpoint; deterministic
// executors then yield the same WorkflowCompleted result an uninterrupted
// run would have.
func (r *Runner) Resume(ctx context.Context, runID string) (*RunResult, error) {
	if r.cpm == nil {
		return nil, newError(CodeCheckpoint, "runner has no checkpoint store", nil)
	}
	blob, err := r.cpm.latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	return r.resumeBlob(ctx, blob)
}

// ResumeAt continues a run from the checkpoint taken at the given superstep
// boundary.
func (r *Runner) ResumeAt(ctx context.Context, runID string, superstep int) (*RunResult, error) {
	if r.cpm == nil {
		return nil, newError(CodeCheckpoint, "runner has no checkpoint store", nil)
	}
	blob, err := r.cpm.load(ctx, runID, superstep)
	if err != nil {
		return nil, err
	}
	return r.resumeBlob(ctx, blob)
}

// ResumeFrom continues a run from a CheckpointInfo handle.
func (r *Runner) ResumeFrom(ctx context.Context, info CheckpointInfo) (*RunResult, error) {
	return r.ResumeAt(ctx, info.RunID, info.Superstep)
}

func (r *Runner) resumeBlob(ctx context.Context, blob *checkpointBlob) (*RunResult, error) {
	rs, err := r.restore(blob)
	if err != nil {
		return nil, err
	}
	return r.loop(ctx, rs, nil)
}

// seed validates the input against the entry executor and builds the initial
// run state.
func (r *Runner) seed(runID string, input any) (*runState, error) {
	if input == nil {
		return nil, newError(CodeNoHandler, "workflow input cannot be nil", ErrNoHandler)
	}
	entry, _ := r.wf.Executor(r.wf.entry)
	if !canAccept(entry, reflect.TypeOf(input)) {
		return nil, newError(CodeNoHandler,
			fmt.Sprintf("entry executor %s has no handler for input type %T", r.wf.entry, input),
			ErrNoHandler)
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	return &runState{
		runID:    runID,
		frontier: []delivery{{target: r.wf.entry, msg: input}},
		fanIn:    make(map[string][]any),
		shared:   NewSharedState(),
	}, nil
}

// restore rebuilds run state from a checkpoint blob. The resumed run
// continues with the superstep after the one the checkpoint closed.
func (r *Runner) restore(blob *checkpointBlob) (*runState, error) {
	rs := &runState{
		runID:     blob.RunID,
		superstep: blob.Superstep + 1,
		fanIn:     make(map[string][]any),
		shared:    NewSharedState(),
	}

	for _, env := range blob.Frontier {
		msg, err := r.wf.types.decodeValue(env.Value)
		if err != nil {
			return nil, err
		}
		rs.frontier = append(rs.frontier, delivery{
			target: env.Target, source: env.Source, seq: env.Seq, msg: msg,
		})
	}

	for target, envs := range blob.FanIn {
		for _, env := range envs {
			v, err := r.wf.types.decodeValue(env)
			if err != nil {
				return nil, err
			}
			rs.fanIn[target] = append(rs.fanIn[target], v)
		}
	}

	rs.shared.restore(blob.State)

	for id, data := range blob.Executors {
		ex, ok := r.wf.Executor(id)
		if !ok {
			return nil, newError(CodeCheckpoint,
				"checkpoint references unknown executor "+id, nil)
		}
		st, ok := ex.(StatefulExecutor)
		if !ok {
			return nil, newError(CodeCheckpoint,
				"checkpoint has state for stateless executor "+id, nil)
		}
		if err := st.RestoreState(data); err != nil {
			return nil, newError(CodeCheckpoint,
				"restore executor "+id+": "+err.Error(), err)
		}
	}

	if blob.Output != nil {
		v, err := r.wf.types.decodeValue(*blob.Output)
		if err != nil {
			return nil, err
		}
		rs.output = v
		rs.hasOutput = blob.Yielded
	}
	return rs, nil
}

// loop is the superstep state machine. sink, when non-nil, receives the
// lifecycle event stream; all events are also bridged to the configured
// emitter.
func (r *Runner) loop(ctx context.Context, rs *runState, sink func(Event)) (*RunResult, error) {
	emitEv := func(ev Event) {
		ev.RunID = rs.runID
		ev.Timestamp = time.Now().UTC()
		r.bridge(ev)
		if sink != nil {
			sink(ev)
		}
	}

	for _, w := range r.wf.warnings {
		r.emitWarning(rs.runID, w)
	}

	for {
		// Superstep boundary: the only place cancellation is observed and
		// the only safe place to stop.
		select {
		case <-ctx.Done():
			ev := Event{Kind: EventRunError, Superstep: rs.superstep, Code: CodeCancelled, Message: ctx.Err().Error()}
			emitEv(ev)
			return r.terminal(rs, StateCancelled, ctx.Err()), ctx.Err()
		default:
		}

		if rs.hasOutput {
			return r.complete(rs, emitEv)
		}
		if len(rs.frontier) == 0 {
			return r.complete(rs, emitEv)
		}
		if r.opts.MaxSupersteps > 0 && rs.superstep >= r.opts.MaxSupersteps {
			err := newError(CodeMaxSupersteps,
				fmt.Sprintf("run exceeded %d supersteps", r.opts.MaxSupersteps), ErrMaxSupersteps)
			emitEv(Event{Kind: EventRunError, Superstep: rs.superstep, Code: CodeMaxSupersteps, Message: err.Message})
			return r.terminal(rs, StateFaulted, err), err
		}

		stepStart := time.Now()
		r.opts.Metrics.setFrontierDepth(rs.runID, len(rs.frontier))

		outcomes := r.dispatch(ctx, rs, emitEv)

		next, faults := r.collect(rs, outcomes)
		for _, f := range faults {
			emitEv(Event{Kind: EventRunError, Superstep: rs.superstep,
				ExecutorID: f.executorID, Code: f.code, Message: f.err.Error()})
			r.opts.Metrics.countFault(rs.runID, f.executorID, f.code)
		}
		if len(faults) > 0 && r.opts.Policy == FailFast {
			r.opts.Metrics.observeSuperstep(rs.runID, time.Since(stepStart), true)
			err := faults[0].err
			return r.terminal(rs, StateFaulted, err), fmt.Errorf("%w: %w", ErrRunFaulted, err)
		}

		rs.frontier = next
		rs.shared.commit(rs.superstep)

		var info *CheckpointInfo
		if r.cpm != nil {
			saved, err := r.capture(ctx, rs)
			if err != nil {
				r.opts.Metrics.countCheckpoint(rs.runID, false)
				emitEv(Event{Kind: EventRunError, Superstep: rs.superstep,
					Code: CodeCheckpoint, Message: err.Error()})
				if r.opts.CheckpointFailureFatal {
					return r.terminal(rs, StateFaulted, err), fmt.Errorf("%w: %w", ErrRunFaulted, err)
				}
				// Durability warning: this superstep has no snapshot, the
				// run itself goes on.
			} else {
				r.opts.Metrics.countCheckpoint(rs.runID, true)
				info = &saved
			}
		}

		emitEv(Event{Kind: EventSuperStepCompleted, Superstep: rs.superstep, Checkpoint: info})
		r.opts.Metrics.observeSuperstep(rs.runID, time.Since(stepStart), len(faults) > 0)
		rs.superstep++
	}
}

// complete finishes a run in the Completed state and emits
// WorkflowCompleted.
func (r *Runner) complete(rs *runState, emitEv func(Event)) (*RunResult, error) {
	emitEv(Event{Kind: EventWorkflowCompleted, Superstep: rs.superstep, Result: rs.output})
	return r.terminal(rs, StateCompleted, nil), nil
}

func (r *Runner) terminal(rs *runState, state RunState, err error) *RunResult {
	return &RunResult{
		RunID:      rs.runID,
		State:      state,
		Output:     rs.output,
		Supersteps: rs.superstep,
		Err:        err,
	}
}

// group is one target executor's pending deliveries for the current
// superstep.
type group struct {
	target     string
	deliveries []delivery

	results   []CallResult
	sends     []any
	output    any
	hasOut    bool
	invokeErr error
}

// dispatch runs every target with pending messages through its Router.
// Groups execute concurrently; the frontier's construction order gives a
// deterministic group order for the collection phase.
func (r *Runner) dispatch(ctx context.Context, rs *runState, emitEv func(Event)) []*group {
	byTarget := make(map[string]*group)
	var groups []*group
	for _, d := range rs.frontier {
		g, ok := byTarget[d.target]
		if !ok {
			g = &group{target: d.target}
			byTarget[d.target] = g
			groups = append(groups, g)
		}
		g.deliveries = append(g.deliveries, d)
	}

	// Stable per-sender ordering: deliveries from one source keep their
	// emission order; source blocks are ordered lexically for replay
	// determinism (cross-sender interleaving is unspecified by contract).
	for _, g := range groups {
		sortDeliveries(g.deliveries)
	}

	sem := make(chan struct{}, r.opts.MaxConcurrent)
	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g *group) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ex, ok := r.wf.Executor(g.target)
			if !ok {
				g.invokeErr = newError(CodeNoHandler, "unknown executor "+g.target, nil)
				return
			}

			r.opts.Metrics.executorStarted(rs.runID)
			defer r.opts.Metrics.executorFinished(rs.runID)
			emitEv(Event{Kind: EventExecutorInvoked, Superstep: rs.superstep, ExecutorID: g.target})

			rc := &RunContext{
				runID:      rs.runID,
				superstep:  rs.superstep,
				executorID: g.target,
				shared:     rs.shared,
				emitter:    r.opts.Emitter,
			}
			for _, d := range g.deliveries {
				g.results = append(g.results, r.invoke(ctx, ex, d.msg, rc))
			}
			g.sends, g.output, g.hasOut = rc.drain()

			emitEv(Event{Kind: EventExecutorCompleted, Superstep: rs.superstep, ExecutorID: g.target})
		}(g)
	}
	wg.Wait()
	return groups
}

func (r *Runner) invoke(ctx context.Context, ex Executor, msg any, rc *RunContext) CallResult {
	if r.opts.HandlerTimeout > 0 {
		hctx, cancel := context.WithTimeout(ctx, r.opts.HandlerTimeout)
		defer cancel()
		return ex.Handle(hctx, msg, rc)
	}
	return ex.Handle(ctx, msg, rc)
}

func sortDeliveries(ds []delivery) {
	// Insertion sort by (source, seq); frontiers are small and mostly
	// sorted already.
	for i := 1; i < len(ds); i++ {
		for j := i; j > 0 && less(ds[j], ds[j-1]); j-- {
			ds[j], ds[j-1] = ds[j-1], ds[j]
		}
	}
}

func less(a, b delivery) bool {
	if a.source != b.source {
		return a.source < b.source
	}
	return a.seq < b.seq
}

// fault is a captured per-message failure surfaced as a RunError event.
type fault struct {
	executorID string
	code       string
	err        error
}

// collect builds the next frontier from every group's results and explicit
// sends, applying edge conditions, partitioners, and fan-in barriers.
func (r *Runner) collect(rs *runState, groups []*group) ([]delivery, []fault) {
	var next []delivery
	var faults []fault
	seqBySource := make(map[string]int)

	enqueue := func(source, target string, msg any) {
		seq := seqBySource[source]
		seqBySource[source] = seq + 1
		next = append(next, delivery{target: target, source: source, seq: seq, msg: msg})
	}

	for _, g := range groups {
		if g.invokeErr != nil {
			faults = append(faults, fault{executorID: g.target, code: CodeNoHandler, err: g.invokeErr})
			continue
		}

		var payloads []any
		for _, res := range g.results {
			if res.Err != nil {
				code := CodeHandlerFault
				var engineErr *Error
				if errors.As(res.Err, &engineErr) {
					code = engineErr.Code
				}
				faults = append(faults, fault{executorID: g.target, code: code, err: res.Err})
				continue
			}
			if !res.IsVoid {
				payloads = append(payloads, res.Value)
			}
		}
		payloads = append(payloads, g.sends...)

		if g.hasOut {
			rs.output = g.output
			rs.hasOutput = true
		}

		for _, msg := range payloads {
			if fs := r.route(rs, g.target, msg, enqueue); len(fs) > 0 {
				faults = append(faults, fs...)
			}
		}
	}

	// Release any fan-in barrier that reached its declared arrival count.
	for _, target := range r.wf.fanInOrder {
		arrivals := rs.fanIn[target]
		want := len(r.wf.fanIns[target])
		r.opts.Metrics.setFanInPending(rs.runID, target, len(arrivals))
		if len(arrivals) < want {
			continue
		}
		released := arrivals[:want]
		rs.fanIn[target] = append([]any(nil), arrivals[want:]...)
		r.opts.Metrics.setFanInPending(rs.runID, target, len(rs.fanIn[target]))

		ex, _ := r.wf.Executor(target)
		enqueue(target, target, aggregate(ex, released))
	}

	return next, faults
}

// route resolves one emitted message from source along the graph's edges,
// calling enqueue for each concrete target. A message qualifying for no
// route is an unroutable fault, unless the source is terminal (no outgoing
// routes), in which case the result becomes the workflow's pending output.
func (r *Runner) route(rs *runState, source string, msg any, enqueue func(source, target string, msg any)) []fault {
	var faults []fault
	routed := false
	hasRoutes := false

	for _, i := range r.wf.bySource[source] {
		e := r.wf.edges[i]
		hasRoutes = true
		switch e.kind {
		case edgeDirect:
			target := e.targets[0]
			if e.cond == nil {
				ex, _ := r.wf.Executor(target)
				if canAccept(ex, reflect.TypeOf(msg)) {
					enqueue(source, target, msg)
					routed = true
				}
				continue
			}
			pass, err := evalCondition(e.cond, msg)
			if err != nil {
				faults = append(faults, fault{executorID: source, code: CodeEdgeFault, err: err})
				continue
			}
			if pass {
				enqueue(source, target, msg)
				routed = true
			}
		case edgeFanOut:
			if e.part == nil {
				for _, target := range e.targets {
					enqueue(source, target, msg)
				}
				routed = true
				continue
			}
			idx, err := evalPartitioner(e.part, msg, len(e.targets))
			if err != nil {
				faults = append(faults, fault{executorID: source, code: CodeEdgeFault, err: err})
				continue
			}
			// An empty index set is a deliberate drop, still "routed".
			routed = true
			for _, i := range idx {
				enqueue(source, e.targets[i], msg)
			}
		}
	}

	for _, target := range r.wf.fanInBySrc[source] {
		hasRoutes = true
		routed = true
		if _, ok := msg.(TurnToken); ok {
			// Control signals bypass the aggregation buffer.
			enqueue(source, target, msg)
			continue
		}
		rs.fanIn[target] = append(rs.fanIn[target], msg)
	}

	if !routed {
		if !hasRoutes {
			// Terminal executor: its result becomes the workflow output
			// (last write wins) without forcing early termination, so
			// sibling branches still in flight keep running.
			rs.output = msg
			return nil
		}
		faults = append(faults, fault{
			executorID: source,
			code:       CodeUnroutable,
			err: fmt.Errorf("%w: %T emitted by %s matched no edge",
				ErrUnroutable, msg, source),
		})
	}
	return faults
}

// aggregate builds the typed sequence a fan-in target receives. When every
// arrival shares the element type of a declared sequence handler the slice
// is typed; otherwise the arrivals are delivered as []any and the Router
// reports the mismatch.
func aggregate(ex Executor, items []any) any {
	for _, t := range ex.MessageTypes() {
		if t.Kind() != reflect.Slice {
			continue
		}
		elem := t.Elem()
		ok := true
		for _, item := range items {
			if item == nil || !reflect.TypeOf(item).AssignableTo(elem) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		out := reflect.MakeSlice(reflect.SliceOf(elem), len(items), len(items))
		for i, item := range items {
			out.Index(i).Set(reflect.ValueOf(item))
		}
		return out.Interface()
	}
	return items
}

// capture snapshots the full run state at the current barrier.
func (r *Runner) capture(ctx context.Context, rs *runState) (CheckpointInfo, error) {
	blob := &checkpointBlob{
		RunID:     rs.runID,
		Superstep: rs.superstep,
		State:     rs.shared.snapshot(),
	}

	for _, d := range rs.frontier {
		env, err := r.wf.types.encodeValue(d.msg)
		if err != nil {
			return CheckpointInfo{}, err
		}
		blob.Frontier = append(blob.Frontier, envelope{
			Target: d.target, Source: d.source, Seq: d.seq, Value: env,
		})
	}

	if len(rs.fanIn) > 0 {
		blob.FanIn = make(map[string][]envelopeValue)
		for target, arrivals := range rs.fanIn {
			if len(arrivals) == 0 {
				continue
			}
			envs := make([]envelopeValue, 0, len(arrivals))
			for _, v := range arrivals {
				env, err := r.wf.types.encodeValue(v)
				if err != nil {
					return CheckpointInfo{}, err
				}
				envs = append(envs, env)
			}
			blob.FanIn[target] = envs
		}
	}

	for _, id := range r.wf.sortedIDs() {
		ex := r.wf.executors[id]
		st, ok := ex.(StatefulExecutor)
		if !ok {
			continue
		}
		data, err := st.SnapshotState()
		if err != nil {
			return CheckpointInfo{}, newError(CodeCheckpoint,
				"snapshot executor "+id+": "+err.Error(), err)
		}
		if blob.Executors == nil {
			blob.Executors = make(map[string]json.RawMessage)
		}
		blob.Executors[id] = data
	}

	if rs.output != nil {
		env, err := r.wf.types.encodeValue(rs.output)
		if err != nil {
			return CheckpointInfo{}, err
		}
		blob.Output = &env
		blob.Yielded = rs.hasOutput
	}

	return r.cpm.save(ctx, blob)
}

// bridge mirrors lifecycle events to the observability emitter.
func (r *Runner) bridge(ev Event) {
	if r.opts.Emitter == nil {
		return
	}
	var meta map[string]any
	if ev.Code != "" {
		meta = map[string]any{"code": ev.Code, "error": ev.Message}
	}
	if ev.Checkpoint != nil {
		if meta == nil {
			meta = make(map[string]any)
		}
		meta["checkpoint_hash"] = ev.Checkpoint.Hash
	}
	r.opts.Emitter.Emit(emit.Event{
		RunID:      ev.RunID,
		Superstep:  ev.Superstep,
		ExecutorID: ev.ExecutorID,
		Msg:        string(ev.Kind),
		Meta:       meta,
	})
}

func (r *Runner) emitWarning(runID, warning string) {
	if r.opts.Emitter == nil {
		return
	}
	r.opts.Emitter.Emit(emit.Event{
		RunID: runID,
		Msg:   "graph warning",
		Meta:  map[string]any{"warning": warning},
	})
}
