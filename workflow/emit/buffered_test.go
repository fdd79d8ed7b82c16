package emit

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func seedHistory(b *BufferedEmitter) {
	b.Emit(Event{RunID: "run-a", Superstep: 0, ExecutorID: "ingest", Msg: "executor_invoked"})
	b.Emit(Event{RunID: "run-a", Superstep: 0, ExecutorID: "ingest", Msg: "executor_completed"})
	b.Emit(Event{RunID: "run-a", Superstep: 0, Msg: "superstep_completed"})
	b.Emit(Event{RunID: "run-a", Superstep: 1, ExecutorID: "sink", Msg: "executor_invoked"})
	b.Emit(Event{RunID: "run-a", Superstep: 1, ExecutorID: "sink", Msg: "executor_completed"})
	b.Emit(Event{RunID: "run-b", Superstep: 0, ExecutorID: "ingest", Msg: "executor_invoked"})
}

func TestBufferedEmitterHistory(t *testing.T) {
	b := NewBufferedEmitter()
	seedHistory(b)

	hist := b.History("run-a")
	if len(hist) != 5 {
		t.Fatalf("run-a history has %d events, want 5", len(hist))
	}
	if hist[0].Msg != "executor_invoked" || hist[4].ExecutorID != "sink" {
		t.Errorf("history order broken: first=%+v last=%+v", hist[0], hist[4])
	}
	if len(b.History("run-b")) != 1 {
		t.Error("run histories not isolated")
	}
	if got := b.History("unknown"); len(got) != 0 {
		t.Errorf("unknown run returned %v", got)
	}

	// Mutating the returned slice must not affect the buffer.
	hist[0].Msg = "tampered"
	if b.History("run-a")[0].Msg != "executor_invoked" {
		t.Error("History returned the internal slice")
	}
}

func TestBufferedEmitterFilter(t *testing.T) {
	b := NewBufferedEmitter()
	seedHistory(b)

	tests := []struct {
		name   string
		filter HistoryFilter
		want   int
	}{
		{"by executor", HistoryFilter{ExecutorID: "sink"}, 2},
		{"by msg", HistoryFilter{Msg: "executor_invoked"}, 2},
		{"by superstep range", HistoryFilter{MinSuperstep: 1, MaxSuperstep: 1}, 2},
		{"combined", HistoryFilter{ExecutorID: "ingest", Msg: "executor_completed"}, 1},
		{"no match", HistoryFilter{ExecutorID: "nobody"}, 0},
		{"zero filter matches all", HistoryFilter{}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.HistoryWithFilter("run-a", tt.filter)
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d: %+v", len(got), tt.want, got)
			}
		})
	}
}

func TestBufferedEmitterRunsAndClear(t *testing.T) {
	b := NewBufferedEmitter()
	seedHistory(b)

	runs := b.Runs()
	sort.Strings(runs)
	if len(runs) != 2 || runs[0] != "run-a" || runs[1] != "run-b" {
		t.Fatalf("runs %v", runs)
	}

	b.Clear("run-a")
	if len(b.History("run-a")) != 0 {
		t.Error("Clear left events behind")
	}
	if len(b.History("run-b")) != 1 {
		t.Error("Clear removed the wrong run")
	}

	b.ClearAll()
	if len(b.Runs()) != 0 {
		t.Error("ClearAll left runs behind")
	}
}

func TestBufferedEmitterConcurrent(t *testing.T) {
	b := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Emit(Event{RunID: "run", Superstep: j, ExecutorID: fmt.Sprintf("exec-%d", n)})
			}
		}(i)
	}
	wg.Wait()
	if got := len(b.History("run")); got != 400 {
		t.Errorf("got %d events, want 400", got)
	}
}
