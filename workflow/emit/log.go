package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes structured event output to a writer.
//
// Two output modes:
//   - Text (default): human-readable key=value lines
//   - JSON: one JSON object per line (JSONL), for machine consumption
//
// Example text output:
//
//	[executor_invoked] run=run-001 superstep=0 executor=uppercase
//
// Example JSON output:
//
//	{"runID":"run-001","superstep":0,"executorID":"uppercase","msg":"executor_invoked","meta":null}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to the given writer; nil
// defaults to stdout. Set jsonMode for JSONL output.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes one line per event in the configured format.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID      string         `json:"runID"`
		Superstep  int            `json:"superstep"`
		ExecutorID string         `json:"executorID"`
		Msg        string         `json:"msg"`
		Meta       map[string]any `json:"meta"`
	}{
		RunID:      event.RunID,
		Superstep:  event.Superstep,
		ExecutorID: event.ExecutorID,
		Msg:        event.Msg,
		Meta:       event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] run=%s superstep=%d executor=%s",
		event.Msg, event.RunID, event.Superstep, event.ExecutorID)
	if len(event.Meta) > 0 {
		if data, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", data)
		}
	}
	fmt.Fprintln(l.writer)
}
