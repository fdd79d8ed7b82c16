package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// recorder collects the messages an executor handled, in order.
type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, s)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestRunPipeline(t *testing.T) {
	upper := NewExecutor("uppercase")
	MustHandle(upper, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return strings.ToUpper(msg), nil
	})
	reverse := NewExecutor("reverse")
	MustHandle(reverse, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return reverseString(msg), nil
	})

	b := NewBuilder(upper)
	if err := b.AddEdge(upper, reverse); err != nil {
		t.Fatal(err)
	}
	wf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, err := NewRunner(wf)
	if err != nil {
		t.Fatal(err)
	}

	res, err := runner.Run(context.Background(), "pipeline-run", "Hello, World!")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("expected completed, got %s", res.State)
	}
	if res.Output != "!DLROW ,OLLEH" {
		t.Errorf("unexpected output %v", res.Output)
	}
	if res.RunID != "pipeline-run" {
		t.Errorf("unexpected run id %q", res.RunID)
	}
	if res.Supersteps != 2 {
		t.Errorf("expected 2 supersteps, got %d", res.Supersteps)
	}
}

func TestRunGeneratesRunID(t *testing.T) {
	entry := NewExecutor("entry")
	MustHandle(entry, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return msg, nil
	})
	wf, err := NewBuilder(entry).Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf)

	res, err := runner.Run(context.Background(), "", "input")
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID == "" {
		t.Error("expected a generated run id")
	}
}

func TestRunRejectsUnacceptableInput(t *testing.T) {
	entry := NewExecutor("entry")
	MustHandle(entry, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return msg, nil
	})
	wf, err := NewBuilder(entry).Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf)

	if _, err := runner.Run(context.Background(), "", 42); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler for unacceptable input, got %v", err)
	}
	if _, err := runner.Run(context.Background(), "", nil); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler for nil input, got %v", err)
	}
}

func TestConditionalRouting(t *testing.T) {
	spamWords := []string{"spam", "advertisement", "offer"}
	isSpam := func(s string) bool {
		lower := strings.ToLower(s)
		for _, w := range spamWords {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	newGraph := func(t *testing.T) (*Runner, *recorder, *recorder) {
		t.Helper()
		classify := NewExecutor("classify")
		MustHandle(classify, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
			return msg, nil
		})

		spamRec := &recorder{}
		removeSpam := NewExecutor("remove-spam")
		MustHandle(removeSpam, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
			spamRec.add(msg)
			return nil, nil
		})

		okRec := &recorder{}
		respond := NewExecutor("respond")
		MustHandle(respond, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
			okRec.add(msg)
			return nil, nil
		})

		b := NewBuilder(classify)
		if err := b.AddEdge(classify, removeSpam, When(isSpam)); err != nil {
			t.Fatal(err)
		}
		if err := b.AddEdge(classify, respond, When(func(s string) bool { return !isSpam(s) })); err != nil {
			t.Fatal(err)
		}
		wf, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}
		runner, err := NewRunner(wf)
		if err != nil {
			t.Fatal(err)
		}
		return runner, spamRec, okRec
	}

	t.Run("spam goes only to remove-spam", func(t *testing.T) {
		runner, spamRec, okRec := newGraph(t)
		res, err := runner.Run(context.Background(), "", "Special offer: buy this advertisement")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if res.State != StateCompleted {
			t.Fatalf("expected completed, got %s", res.State)
		}
		if got := spamRec.all(); len(got) != 1 {
			t.Errorf("remove-spam handled %v, want exactly one message", got)
		}
		if got := okRec.all(); len(got) != 0 {
			t.Errorf("respond should not run for spam, handled %v", got)
		}
	})

	t.Run("clean mail goes only to respond", func(t *testing.T) {
		runner, spamRec, okRec := newGraph(t)
		if _, err := runner.Run(context.Background(), "", "hello there"); err != nil {
			t.Fatalf("run: %v", err)
		}
		if got := okRec.all(); len(got) != 1 || got[0] != "hello there" {
			t.Errorf("respond handled %v", got)
		}
		if got := spamRec.all(); len(got) != 0 {
			t.Errorf("remove-spam should not run, handled %v", got)
		}
	})
}

func TestUnroutableMessage(t *testing.T) {
	entry := NewExecutor("entry")
	MustHandle(entry, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return msg, nil
	})
	sink := NewExecutor("sink")
	MustHandle(sink, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return nil, nil
	})

	b := NewBuilder(entry)
	// The only route out of entry rejects everything.
	if err := b.AddEdge(entry, sink, When(func(s string) bool { return false })); err != nil {
		t.Fatal(err)
	}
	wf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf)

	_, err = runner.Run(context.Background(), "", "nowhere to go")
	if !errors.Is(err, ErrUnroutable) {
		t.Fatalf("expected ErrUnroutable, got %v", err)
	}
	if !errors.Is(err, ErrRunFaulted) {
		t.Errorf("fault should wrap ErrRunFaulted: %v", err)
	}
}

func TestFaultPolicies(t *testing.T) {
	newGraph := func(t *testing.T, opts ...Option) (*Runner, *recorder) {
		t.Helper()
		entry := NewExecutor("entry")
		MustHandle(entry, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
			return msg, nil
		})
		bad := NewExecutor("bad")
		MustHandle(bad, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
			return nil, errors.New("handler exploded")
		})
		rec := &recorder{}
		good := NewExecutor("good")
		MustHandle(good, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
			rec.add(msg)
			return "survived", nil
		})

		b := NewBuilder(entry)
		if err := b.AddFanOutEdge(entry, []Executor{bad, good}); err != nil {
			t.Fatal(err)
		}
		wf, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}
		runner, err := NewRunner(wf, opts...)
		if err != nil {
			t.Fatal(err)
		}
		return runner, rec
	}

	t.Run("fail fast aborts the run", func(t *testing.T) {
		runner, _ := newGraph(t)
		res, err := runner.Run(context.Background(), "", "payload")
		if !errors.Is(err, ErrRunFaulted) {
			t.Fatalf("expected ErrRunFaulted, got %v", err)
		}
		if res.State != StateFaulted {
			t.Errorf("expected faulted, got %s", res.State)
		}
	})

	t.Run("continue on error drops the fault and finishes", func(t *testing.T) {
		runner, rec := newGraph(t, WithFaultPolicy(ContinueOnError))
		res, err := runner.Run(context.Background(), "", "payload")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if res.State != StateCompleted {
			t.Fatalf("expected completed, got %s", res.State)
		}
		if res.Output != "survived" {
			t.Errorf("expected output from surviving branch, got %v", res.Output)
		}
		if got := rec.all(); len(got) != 1 {
			t.Errorf("good branch handled %v", got)
		}
	})
}

func TestMaxSupersteps(t *testing.T) {
	ping := NewExecutor("ping")
	MustHandle(ping, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return msg, nil
	})
	pong := NewExecutor("pong")
	MustHandle(pong, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return msg, nil
	})

	b := NewBuilder(ping)
	if err := b.AddLoop(ping, pong); err != nil {
		t.Fatal(err)
	}
	wf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf, WithMaxSupersteps(5))

	res, err := runner.Run(context.Background(), "", "forever")
	if !errors.Is(err, ErrMaxSupersteps) {
		t.Fatalf("expected ErrMaxSupersteps, got %v", err)
	}
	if res.State != StateFaulted {
		t.Errorf("expected faulted, got %s", res.State)
	}
	if res.Supersteps != 5 {
		t.Errorf("expected 5 supersteps, got %d", res.Supersteps)
	}
}

func TestYieldOutput(t *testing.T) {
	after := &recorder{}

	entry := NewExecutor("entry")
	MustHandle(entry, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		rc.YieldOutput("early answer")
		return msg, nil
	})
	next := NewExecutor("next")
	MustHandle(next, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		after.add(msg)
		return nil, nil
	})

	b := NewBuilder(entry)
	if err := b.AddEdge(entry, next); err != nil {
		t.Fatal(err)
	}
	wf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf)

	res, err := runner.Run(context.Background(), "", "input")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != "early answer" {
		t.Errorf("expected yielded output, got %v", res.Output)
	}
	if got := after.all(); len(got) != 0 {
		t.Errorf("no further superstep should run after a yield, but next handled %v", got)
	}
}

func TestCancellationAtBoundary(t *testing.T) {
	entry := NewExecutor("entry")
	MustHandle(entry, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return msg, nil
	})
	wf, err := NewBuilder(entry).Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := runner.Run(ctx, "", "never dispatched")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.State != StateCancelled {
		t.Errorf("expected cancelled, got %s", res.State)
	}
}

func TestSharedStateVisibilityAcrossSupersteps(t *testing.T) {
	var sameStep, nextStep bool

	writer := NewExecutor("writer")
	MustHandle(writer, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		rc.QueueStateUpdate("run", "flag", true)
		_, sameStep = rc.ReadState("run", "flag")
		return msg, nil
	})
	reader := NewExecutor("reader")
	MustHandle(reader, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		_, nextStep = rc.ReadState("run", "flag")
		return nil, nil
	})

	b := NewBuilder(writer)
	if err := b.AddEdge(writer, reader); err != nil {
		t.Fatal(err)
	}
	wf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf)

	if _, err := runner.Run(context.Background(), "", "go"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sameStep {
		t.Error("staged write was visible within its own superstep")
	}
	if !nextStep {
		t.Error("committed write was not visible in the next superstep")
	}
}

func TestSendMessage(t *testing.T) {
	rec := &recorder{}

	splitter := NewExecutor("splitter")
	MustHandle(splitter, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		for _, part := range strings.Fields(msg) {
			rc.SendMessage(part)
		}
		return nil, nil
	})
	collector := NewExecutor("collector")
	MustHandle(collector, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		rec.add(msg)
		return nil, nil
	})

	b := NewBuilder(splitter)
	if err := b.AddEdge(splitter, collector); err != nil {
		t.Fatal(err)
	}
	wf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf)

	if _, err := runner.Run(context.Background(), "", "one two three"); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := rec.all()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("collector handled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("send order not preserved: got %v, want %v", got, want)
		}
	}
}

func TestStreamEvents(t *testing.T) {
	entry := NewExecutor("entry")
	MustHandle(entry, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		return msg, nil
	})
	wf, err := NewBuilder(entry).Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf)

	ch, wait, err := runner.Stream(context.Background(), "stream-run", "input")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var kinds []EventKind
	for ev := range ch {
		if ev.RunID != "stream-run" {
			t.Errorf("event missing run id: %+v", ev)
		}
		kinds = append(kinds, ev.Kind)
	}
	res, err := wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("expected completed, got %s", res.State)
	}

	want := []EventKind{EventExecutorInvoked, EventExecutorCompleted, EventSuperStepCompleted, EventWorkflowCompleted}
	seen := make(map[EventKind]bool)
	for _, k := range kinds {
		seen[k] = true
	}
	for _, k := range want {
		if !seen[k] {
			t.Errorf("event stream missing %s (got %v)", k, kinds)
		}
	}
	if kinds[len(kinds)-1] != EventWorkflowCompleted {
		t.Errorf("last event should be workflow_completed, got %v", kinds)
	}
}

func TestRunStateString(t *testing.T) {
	cases := map[RunState]string{
		StateIdle:      "idle",
		StateRunning:   "running",
		StateCompleted: "completed",
		StateFaulted:   "faulted",
		StateCancelled: "cancelled",
		RunState(99):   "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("RunState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
