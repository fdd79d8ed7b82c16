package emit

import "testing"

type countingEmitter struct {
	events []Event
}

func (c *countingEmitter) Emit(event Event) { c.events = append(c.events, event) }

func TestMultiEmitterFanOut(t *testing.T) {
	a := &countingEmitter{}
	b := &countingEmitter{}
	m := NewMultiEmitter(a, b)

	m.Emit(Event{RunID: "run", Msg: "executor_invoked"})
	m.Emit(Event{RunID: "run", Msg: "executor_completed"})

	for i, c := range []*countingEmitter{a, b} {
		if len(c.events) != 2 {
			t.Errorf("emitter %d saw %d events, want 2", i, len(c.events))
		}
	}
	if a.events[0].Msg != "executor_invoked" {
		t.Errorf("order broken: %+v", a.events)
	}
}

func TestMultiEmitterSkipsNil(t *testing.T) {
	a := &countingEmitter{}
	m := NewMultiEmitter(nil, a, nil)

	m.Emit(Event{RunID: "run"})
	if len(a.events) != 1 {
		t.Errorf("wrapped emitter saw %d events, want 1", len(a.events))
	}
}

func TestMultiEmitterEmpty(t *testing.T) {
	m := NewMultiEmitter()
	m.Emit(Event{RunID: "run"}) // must not panic
}

func TestNullEmitter(t *testing.T) {
	n := NewNullEmitter()
	n.Emit(Event{RunID: "run", Msg: "anything"})
}
