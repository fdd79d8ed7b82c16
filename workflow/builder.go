package workflow

import (
	"fmt"
	"reflect"
)

// Builder assembles a workflow graph from executors and edges, then freezes
// it with Build.
//
// Executors are registered implicitly by appearing in an edge declaration.
// Each method validates its own arguments and returns an error immediately,
// in the engine tradition of failing at construction rather than mid-run;
// cross-edge validation happens in Build.
type Builder struct {
	entry     Executor
	executors map[string]Executor
	order     []string
	edges     []Edge
	fanIns    map[string][]string
	fanInSeen []string
}

// NewBuilder starts a graph with the given entry executor. The entry
// receives the run's initial input message.
func NewBuilder(entry Executor) *Builder {
	b := &Builder{
		executors: make(map[string]Executor),
		fanIns:    make(map[string][]string),
	}
	if entry != nil {
		b.entry = entry
		_ = b.add(entry)
	}
	return b
}

// add registers an executor, rejecting two distinct instances with one id.
func (b *Builder) add(ex Executor) error {
	if ex == nil {
		return newError("NIL_EXECUTOR", "executor cannot be nil", nil)
	}
	id := ex.ID()
	if existing, ok := b.executors[id]; ok {
		if existing != ex {
			return newError("DUPLICATE_EXECUTOR",
				"two executors registered with id "+id, nil)
		}
		return nil
	}
	b.executors[id] = ex
	b.order = append(b.order, id)
	return nil
}

// AddEdge declares a directed edge from one executor to another. At most one
// condition may be supplied; with none the edge is unconditional
// pass-through.
func (b *Builder) AddEdge(from, to Executor, cond ...Condition) error {
	if len(cond) > 1 {
		return newError("EDGE_CONDITIONS", "an edge takes at most one condition", nil)
	}
	if err := b.add(from); err != nil {
		return err
	}
	if err := b.add(to); err != nil {
		return err
	}
	e := Edge{kind: edgeDirect, source: from.ID(), targets: []string{to.ID()}}
	if len(cond) == 1 && cond[0] != nil {
		e.cond = cond[0]
	}
	b.edges = append(b.edges, e)
	return nil
}

// AddFanOutEdge declares a one-to-many edge. Without a partitioner every
// message is delivered to all targets; with one, the partitioner picks the
// subset of target indices per message.
func (b *Builder) AddFanOutEdge(from Executor, targets []Executor, part ...Partitioner) error {
	if len(targets) == 0 {
		return newError("EDGE_TARGETS", "fan-out edge needs at least one target", nil)
	}
	if len(part) > 1 {
		return newError("EDGE_PARTITIONERS", "a fan-out edge takes at most one partitioner", nil)
	}
	if err := b.add(from); err != nil {
		return err
	}
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		if err := b.add(t); err != nil {
			return err
		}
		ids = append(ids, t.ID())
	}
	e := Edge{kind: edgeFanOut, source: from.ID(), targets: ids}
	if len(part) == 1 && part[0] != nil {
		e.part = part[0]
	}
	b.edges = append(b.edges, e)
	return nil
}

// AddFanInEdge declares a many-to-one aggregation edge. The target holds an
// arrival buffer per run and fires exactly once per barrier: when every
// declared source has delivered, the target receives the aggregated sequence
// and the buffer resets.
func (b *Builder) AddFanInEdge(target Executor, sources []Executor) error {
	if len(sources) == 0 {
		return newError("EDGE_SOURCES", "fan-in edge needs at least one source", nil)
	}
	if err := b.add(target); err != nil {
		return err
	}
	if _, ok := b.fanIns[target.ID()]; ok {
		return newError("DUPLICATE_FAN_IN",
			"executor "+target.ID()+" already has a fan-in edge", nil)
	}
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		if err := b.add(s); err != nil {
			return err
		}
		ids = append(ids, s.ID())
	}
	b.fanIns[target.ID()] = ids
	b.fanInSeen = append(b.fanInSeen, target.ID())
	return nil
}

// AddLoop declares two opposite unconditional edges between a and b. The
// pair forms a cycle; terminating it is the graph author's responsibility,
// typically with YieldOutput or a conditional exit edge.
func (b *Builder) AddLoop(a, z Executor) error {
	if err := b.AddEdge(a, z); err != nil {
		return err
	}
	return b.AddEdge(z, a)
}

// Build freezes the graph and validates it:
//
//   - every edge endpoint is a registered executor
//   - every fan-in target declares a sequence-typed handler able to accept
//     the aggregated arrivals
//   - no two unconditional edges from one source accept the same message
//     type (ambiguous routing)
//
// Executors unreachable from the entry are a warning, not an error; they are
// reported on the returned Workflow.
func (b *Builder) Build() (*Workflow, error) {
	if b.entry == nil {
		return nil, newError("NO_ENTRY", "workflow has no entry executor", nil)
	}

	if err := b.validateFanIns(); err != nil {
		return nil, err
	}
	if err := b.validateAmbiguity(); err != nil {
		return nil, err
	}

	wf := &Workflow{
		entry:       b.entry.ID(),
		executors:   make(map[string]Executor, len(b.executors)),
		edges:       append([]Edge(nil), b.edges...),
		bySource:    make(map[string][]int),
		fanIns:      make(map[string][]string, len(b.fanIns)),
		fanInOrder:  append([]string(nil), b.fanInSeen...),
		fanInBySrc:  make(map[string][]string),
		types:       newTypeRegistry(),
	}
	for id, ex := range b.executors {
		wf.executors[id] = ex
	}
	for i, e := range wf.edges {
		wf.bySource[e.source] = append(wf.bySource[e.source], i)
	}
	for target, sources := range b.fanIns {
		wf.fanIns[target] = append([]string(nil), sources...)
		for _, s := range sources {
			wf.fanInBySrc[s] = append(wf.fanInBySrc[s], target)
		}
	}

	for _, id := range b.order {
		for _, t := range wf.executors[id].MessageTypes() {
			wf.types.register(t)
		}
		if binder, ok := wf.executors[id].(typeBinder); ok {
			binder.bindTypes(wf.types)
		}
	}

	wf.warnings = wf.findUnreachable()
	return wf, nil
}

// validateFanIns checks that each fan-in target can accept an aggregated
// sequence.
func (b *Builder) validateFanIns() error {
	for target := range b.fanIns {
		ex := b.executors[target]
		hasSeq := false
		for _, t := range ex.MessageTypes() {
			if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
				hasSeq = true
				break
			}
		}
		if !hasSeq {
			return newError("FAN_IN_HANDLER",
				fmt.Sprintf("fan-in target %s declares no sequence-typed handler", target), nil)
		}
	}
	return nil
}

// validateAmbiguity rejects two unconditional direct edges from one source
// whose targets accept an overlapping message type: the engine would have to
// pick one arbitrarily, so the author must use a fan-out edge or conditions.
func (b *Builder) validateAmbiguity() error {
	unconditional := make(map[string][]Edge)
	for _, e := range b.edges {
		if e.kind == edgeDirect && e.cond == nil {
			unconditional[e.source] = append(unconditional[e.source], e)
		}
	}
	for source, edges := range unconditional {
		for i := 0; i < len(edges); i++ {
			for j := i + 1; j < len(edges); j++ {
				a := b.executors[edges[i].targets[0]]
				z := b.executors[edges[j].targets[0]]
				if t, overlap := acceptOverlap(a, z); overlap {
					return newError("AMBIGUOUS_EDGE", fmt.Sprintf(
						"unconditional edges from %s to both %s and %s accept %s",
						source, a.ID(), z.ID(), t), nil)
				}
			}
		}
	}
	return nil
}

// acceptOverlap reports a message type both executors accept, if any.
// TurnToken is excluded: the token passes every edge by design, and the gate
// consumes it, so two gated targets downstream of one source are not
// ambiguous on the token alone.
func acceptOverlap(a, z Executor) (reflect.Type, bool) {
	tokenType := reflect.TypeOf(TurnToken{})
	accepts := make(map[reflect.Type]bool)
	for _, t := range a.MessageTypes() {
		accepts[t] = true
	}
	for _, t := range z.MessageTypes() {
		if t != tokenType && accepts[t] {
			return t, true
		}
	}
	return nil, false
}

// Workflow is an immutable directed graph of executors, produced by
// Builder.Build. All runtime routing structures are precomputed here so the
// Runner never mutates the graph.
type Workflow struct {
	entry      string
	executors  map[string]Executor
	edges      []Edge
	bySource   map[string][]int
	fanIns     map[string][]string // target -> declared sources
	fanInOrder []string
	fanInBySrc map[string][]string // source -> fan-in targets
	warnings   []string
	types      *typeRegistry
}

// Entry returns the entry executor's id.
func (w *Workflow) Entry() string { return w.entry }

// Executor returns the executor registered under id.
func (w *Workflow) Executor(id string) (Executor, bool) {
	ex, ok := w.executors[id]
	return ex, ok
}

// Executors returns all executor ids in the graph.
func (w *Workflow) Executors() []string {
	ids := make([]string, 0, len(w.executors))
	for id := range w.executors {
		ids = append(ids, id)
	}
	return ids
}

// Warnings returns build-time diagnostics, currently executors that are
// unreachable from the entry.
func (w *Workflow) Warnings() []string {
	return append([]string(nil), w.warnings...)
}

// findUnreachable walks the graph from the entry over all edge kinds.
func (w *Workflow) findUnreachable() []string {
	seen := map[string]bool{w.entry: true}
	queue := []string{w.entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		var next []string
		for _, i := range w.bySource[id] {
			next = append(next, w.edges[i].targets...)
		}
		next = append(next, w.fanInBySrc[id]...)
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}

	var unreachable []string
	for _, id := range w.sortedIDs() {
		if !seen[id] {
			unreachable = append(unreachable, "executor "+id+" is unreachable from entry "+w.entry)
		}
	}
	return unreachable
}

func (w *Workflow) sortedIDs() []string {
	ids := w.Executors()
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// canAccept reports whether ex declares a handler for messages of type t,
// including the sequence-element match the Router applies at dispatch.
func canAccept(ex Executor, t reflect.Type) bool {
	if node, ok := ex.(*ExecutorNode); ok {
		return node.router.CanHandleType(t)
	}
	var seqWant reflect.Type
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		seqWant = reflect.SliceOf(t.Elem())
	}
	for _, declared := range ex.MessageTypes() {
		if declared == t || (seqWant != nil && declared == seqWant) {
			return true
		}
	}
	return false
}
