package workflow

import "fmt"

// Condition is an edge predicate evaluated against the message being
// forwarded. A nil Condition on an edge means unconditional pass-through.
//
// Conditions should be pure functions of the message. A condition that
// panics is captured as an edge-evaluation fault, not a crash.
type Condition func(msg any) bool

// Partitioner selects which of a fan-out edge's targets receive a message.
// It is given the message and the target count and returns the subset of
// target indices to deliver to. Returning an out-of-range index is an
// edge-evaluation fault.
type Partitioner func(msg any, targets int) []int

// When adapts a typed predicate into a Condition.
//
// Messages of type T are decided by fn. Engine control signals (turn tokens)
// always pass, so gating a downstream executor does not require every edge
// predicate on the path to know about tokens. Any other message type fails
// the condition.
func When[T any](fn func(T) bool) Condition {
	return func(msg any) bool {
		if _, ok := msg.(TurnToken); ok {
			return true
		}
		m, ok := msg.(T)
		if !ok {
			return false
		}
		return fn(m)
	}
}

// edgeKind discriminates the edge variants the builder produces.
type edgeKind int

const (
	edgeDirect edgeKind = iota
	edgeFanOut
	edgeFanIn
)

// Edge is a frozen directed connection between executors.
//
// Invariant: an edge carries a Condition, a Partitioner, or neither, never
// both. Direct edges have exactly one target; fan-out edges have an ordered
// target list; fan-in edges are stored target-first with their declared
// sources.
type Edge struct {
	kind    edgeKind
	source  string
	targets []string
	sources []string // fan-in only
	cond    Condition
	part    Partitioner
}

// Source returns the source executor id. Empty for fan-in edges.
func (e Edge) Source() string { return e.source }

// Targets returns the ordered target executor ids.
func (e Edge) Targets() []string { return e.targets }

func (e Edge) String() string {
	switch e.kind {
	case edgeFanOut:
		return fmt.Sprintf("fan-out %s -> %v", e.source, e.targets)
	case edgeFanIn:
		return fmt.Sprintf("fan-in %v -> %s", e.sources, e.targets[0])
	default:
		if e.cond != nil {
			return fmt.Sprintf("%s -> %s (conditional)", e.source, e.targets[0])
		}
		return fmt.Sprintf("%s -> %s", e.source, e.targets[0])
	}
}

// evalCondition runs an edge condition, converting a panic into an
// edge-evaluation fault.
func evalCondition(cond Condition, msg any) (pass bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = newError(CodeEdgeFault, fmt.Sprintf("edge condition panic: %v", rec), nil)
		}
	}()
	return cond(msg), nil
}

// evalPartitioner runs a fan-out partitioner, validating the returned
// indices and converting a panic into an edge-evaluation fault.
func evalPartitioner(part Partitioner, msg any, targets int) (idx []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			idx = nil
			err = newError(CodeEdgeFault, fmt.Sprintf("partitioner panic: %v", rec), nil)
		}
	}()
	idx = part(msg, targets)
	for _, i := range idx {
		if i < 0 || i >= targets {
			return nil, newError(CodeEdgeFault,
				fmt.Sprintf("partitioner returned index %d outside [0,%d)", i, targets), nil)
		}
	}
	return idx, nil
}
