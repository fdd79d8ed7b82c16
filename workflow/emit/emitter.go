package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use: within one superstep,
// several executors may emit at once. They should also be resilient — an
// emitter failure must never take the run down, so Emit has no error return
// and must not panic.
//
// Ship your own Emitter to integrate a backend the package doesn't cover;
// common patterns are buffering, filtering, sampling, and fan-out to several
// backends at once.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans every event out to a list of emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines emitters into one. Nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards the event to every wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
