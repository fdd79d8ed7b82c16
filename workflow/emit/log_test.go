package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitterText(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	l.Emit(Event{RunID: "run-001", Superstep: 2, ExecutorID: "uppercase", Msg: "executor_invoked"})

	got := buf.String()
	want := "[executor_invoked] run=run-001 superstep=2 executor=uppercase\n"
	if got != want {
		t.Errorf("text output %q, want %q", got, want)
	}
}

func TestLogEmitterTextWithMeta(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	l.Emit(Event{
		RunID: "run-001",
		Msg:   "run_error",
		Meta:  map[string]any{"code": "HANDLER_FAULT"},
	})

	got := buf.String()
	if !strings.Contains(got, `meta={"code":"HANDLER_FAULT"}`) {
		t.Errorf("meta missing from %q", got)
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	l.Emit(Event{RunID: "run-001", Superstep: 1, ExecutorID: "sink", Msg: "executor_completed"})
	l.Emit(Event{RunID: "run-001", Superstep: 1, Msg: "superstep_completed"})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var rec struct {
		RunID      string         `json:"runID"`
		Superstep  int            `json:"superstep"`
		ExecutorID string         `json:"executorID"`
		Msg        string         `json:"msg"`
		Meta       map[string]any `json:"meta"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("line not valid JSON: %v", err)
	}
	if rec.RunID != "run-001" || rec.Superstep != 1 || rec.ExecutorID != "sink" || rec.Msg != "executor_completed" {
		t.Errorf("decoded record %+v", rec)
	}
}

func TestLogEmitterNilWriterDefaultsToStdout(t *testing.T) {
	l := NewLogEmitter(nil, false)
	if l.writer == nil {
		t.Fatal("writer not defaulted")
	}
}
