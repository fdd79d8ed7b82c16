package emit

import "sync"

// BufferedEmitter stores events in memory, keyed by run, and serves them
// back for inspection. This is what makes a run's event stream replayable:
// a UI or protocol adapter can re-read the ordered history at any time.
//
// Events are held for the life of the emitter; call Clear to drop a run's
// history once it is no longer needed. For long-running deployments with
// high event volume prefer a persistent backend.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects a subset of a run's history. Zero-value fields are
// ignored; set fields combine with AND.
type HistoryFilter struct {
	// ExecutorID matches events scoped to one executor.
	ExecutorID string

	// Msg matches the event's Msg exactly.
	Msg string

	// MinSuperstep and MaxSuperstep bound the superstep range, inclusive.
	// MaxSuperstep 0 means unbounded.
	MinSuperstep int
	MaxSuperstep int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
	b.mu.Unlock()
}

// History returns the ordered event history for a run.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.events[runID]...)
}

// HistoryWithFilter returns the run's history narrowed by filter, order
// preserved.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events[runID] {
		if filter.ExecutorID != "" && ev.ExecutorID != filter.ExecutorID {
			continue
		}
		if filter.Msg != "" && ev.Msg != filter.Msg {
			continue
		}
		if ev.Superstep < filter.MinSuperstep {
			continue
		}
		if filter.MaxSuperstep > 0 && ev.Superstep > filter.MaxSuperstep {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Runs returns the run ids with buffered history.
func (b *BufferedEmitter) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	runs := make([]string, 0, len(b.events))
	for id := range b.events {
		runs = append(runs, id)
	}
	return runs
}

// Clear drops the history for a run. ClearAll drops everything.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	delete(b.events, runID)
	b.mu.Unlock()
}

// ClearAll drops every run's history.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	b.events = make(map[string][]Event)
	b.mu.Unlock()
}
