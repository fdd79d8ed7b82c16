package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/stepflow-go/workflow/model"
	"github.com/dshills/stepflow-go/workflow/tool"
)

func TestAgentAccumulatesUntilTurn(t *testing.T) {
	ctx := context.Background()
	mock := &model.MockChatModel{
		Responses: []model.ChatOut{{Text: "hello there"}},
	}
	agent := NewAgent("assistant", mock, WithSystemPrompt("Be brief."))
	rc := &RunContext{shared: NewSharedState()}

	for _, msg := range []string{"first line", "second line"} {
		res := agent.Handle(ctx, msg, rc)
		if !res.IsVoid || !res.Success {
			t.Fatalf("accumulating message produced %+v", res)
		}
	}
	if mock.CallCount() != 0 {
		t.Fatal("model called before the turn signal")
	}

	res := agent.Handle(ctx, TurnToken{}, rc)
	if res.Err != nil {
		t.Fatalf("turn failed: %v", res.Err)
	}
	if res.Value != "hello there" {
		t.Fatalf("turn result %v, want model reply", res.Value)
	}

	if mock.CallCount() != 1 {
		t.Fatalf("model called %d times, want 1", mock.CallCount())
	}
	sent := mock.Calls[0].Messages
	if len(sent) != 2 {
		t.Fatalf("model saw %d messages, want system + user", len(sent))
	}
	if sent[0].Role != model.RoleSystem || sent[0].Content != "Be brief." {
		t.Errorf("system message %+v", sent[0])
	}
	if sent[1].Role != model.RoleUser || sent[1].Content != "first line\nsecond line" {
		t.Errorf("user turn %+v", sent[1])
	}

	history := agent.History()
	if len(history) != 2 {
		t.Fatalf("history has %d entries, want user + assistant", len(history))
	}
	if history[1].Role != model.RoleAssistant || history[1].Content != "hello there" {
		t.Errorf("assistant entry %+v", history[1])
	}
}

func TestAgentEmptyTurnIsVoid(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "unused"}}}
	agent := NewAgent("assistant", mock)
	rc := &RunContext{shared: NewSharedState()}

	res := agent.Handle(context.Background(), TurnToken{}, rc)
	if !res.IsVoid {
		t.Fatalf("token with no pending input produced %+v", res)
	}
	if mock.CallCount() != 0 {
		t.Error("model called with nothing to say")
	}
}

func TestAgentToolLoop(t *testing.T) {
	ctx := context.Background()
	mock := &model.MockChatModel{
		Responses: []model.ChatOut{
			{ToolCalls: []model.ToolCall{{Name: "lookup", Input: map[string]interface{}{"id": "42"}}}},
			{Text: "order 42 has shipped"},
		},
	}
	lookup := &tool.MockTool{
		ToolName:  "lookup",
		Responses: []map[string]interface{}{{"status": "shipped"}},
	}
	spec := model.ToolSpec{
		Name:        "lookup",
		Description: "Look up an order by id.",
		Schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
		},
	}
	agent := NewAgent("assistant", mock, WithAgentTool(spec, lookup))
	rc := &RunContext{shared: NewSharedState()}

	agent.Handle(ctx, "where is my order?", rc)
	res := agent.Handle(ctx, TurnToken{}, rc)
	if res.Err != nil {
		t.Fatalf("turn failed: %v", res.Err)
	}
	if res.Value != "order 42 has shipped" {
		t.Fatalf("turn result %v", res.Value)
	}

	if lookup.CallCount() != 1 {
		t.Fatalf("tool called %d times, want 1", lookup.CallCount())
	}
	if got := lookup.Calls[0].Input["id"]; got != "42" {
		t.Errorf("tool input id = %v", got)
	}

	if mock.CallCount() != 2 {
		t.Fatalf("model called %d times, want 2", mock.CallCount())
	}
	second := mock.Calls[1].Messages
	last := second[len(second)-1]
	if last.Role != model.RoleUser || !strings.Contains(last.Content, "Tool results:") {
		t.Errorf("tool output not fed back: %+v", last)
	}
	if !strings.Contains(last.Content, "shipped") {
		t.Errorf("tool result missing from feedback: %q", last.Content)
	}

	if len(mock.Calls[0].Tools) != 1 || mock.Calls[0].Tools[0].Name != "lookup" {
		t.Errorf("tool specs not passed to the model: %+v", mock.Calls[0].Tools)
	}
}

func TestAgentToolRoundLimit(t *testing.T) {
	ctx := context.Background()
	// The model asks for the same tool forever; the agent must cut it off.
	mock := &model.MockChatModel{
		Responses: []model.ChatOut{
			{Text: "still looking", ToolCalls: []model.ToolCall{{Name: "lookup"}}},
		},
	}
	lookup := &tool.MockTool{ToolName: "lookup", Responses: []map[string]interface{}{{"ok": true}}}
	agent := NewAgent("assistant", mock,
		WithAgentTool(model.ToolSpec{Name: "lookup"}, lookup),
		WithMaxToolRounds(2),
	)
	rc := &RunContext{shared: NewSharedState()}

	agent.Handle(ctx, "go", rc)
	res := agent.Handle(ctx, TurnToken{}, rc)
	if res.Err != nil {
		t.Fatalf("turn failed: %v", res.Err)
	}
	if res.Value != "still looking" {
		t.Fatalf("turn result %v", res.Value)
	}
	if mock.CallCount() != 3 {
		t.Errorf("model called %d times, want initial + 2 rounds", mock.CallCount())
	}
	if lookup.CallCount() != 2 {
		t.Errorf("tool called %d times, want 2", lookup.CallCount())
	}
}

func TestAgentUnknownToolReported(t *testing.T) {
	ctx := context.Background()
	mock := &model.MockChatModel{
		Responses: []model.ChatOut{
			{ToolCalls: []model.ToolCall{{Name: "missing"}}},
			{Text: "done"},
		},
	}
	lookup := &tool.MockTool{ToolName: "lookup", Responses: []map[string]interface{}{{"ok": true}}}
	agent := NewAgent("assistant", mock, WithAgentTool(model.ToolSpec{Name: "lookup"}, lookup))
	rc := &RunContext{shared: NewSharedState()}

	agent.Handle(ctx, "go", rc)
	res := agent.Handle(ctx, TurnToken{}, rc)
	if res.Err != nil {
		t.Fatalf("turn failed: %v", res.Err)
	}
	second := mock.Calls[1].Messages
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "unknown tool") {
		t.Errorf("missing tool not reported back to the model: %q", last.Content)
	}
	if lookup.CallCount() != 0 {
		t.Error("registered tool ran for a different name")
	}
}

func TestAgentModelErrorFaults(t *testing.T) {
	ctx := context.Background()
	mock := &model.MockChatModel{Err: context.DeadlineExceeded}
	agent := NewAgent("assistant", mock)
	rc := &RunContext{shared: NewSharedState()}

	agent.Handle(ctx, "hi", rc)
	res := agent.Handle(ctx, TurnToken{}, rc)
	if res.Err == nil {
		t.Fatal("expected a fault from the failing model")
	}
	var werr *Error
	if !errors.As(res.Err, &werr) || werr.Code != CodeHandlerFault {
		t.Errorf("fault code %v", res.Err)
	}
}

func TestAgentToolSpecMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on spec/tool name mismatch")
		}
	}()
	lookup := &tool.MockTool{ToolName: "lookup"}
	NewAgent("assistant", &model.MockChatModel{}, WithAgentTool(model.ToolSpec{Name: "other"}, lookup))
}

func TestAgentSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "noted"}}}
	agent := NewAgent("assistant", mock)
	rc := &RunContext{shared: NewSharedState()}

	agent.Handle(ctx, "remember this", rc)
	agent.Handle(ctx, TurnToken{}, rc)
	agent.Handle(ctx, "still pending", rc)

	data, err := agent.SnapshotState()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := NewAgent("assistant", mock)
	if err := restored.RestoreState(data); err != nil {
		t.Fatalf("restore: %v", err)
	}
	history := restored.History()
	if len(history) != 2 || history[0].Content != "remember this" || history[1].Content != "noted" {
		t.Fatalf("restored history %+v", history)
	}

	// The pending line must surface in the next turn of the restored agent.
	mock.Reset()
	mock.Responses = []model.ChatOut{{Text: "ok"}}
	res := restored.Handle(ctx, TurnToken{}, rc)
	if res.Err != nil {
		t.Fatalf("turn failed: %v", res.Err)
	}
	sent := mock.Calls[0].Messages
	last := sent[len(sent)-1]
	if last.Role != model.RoleUser || last.Content != "still pending" {
		t.Errorf("pending input lost across restore: %+v", last)
	}
}

func TestGatedAgentWorkflow(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "answer"}}}
	agent := NewAgent("assistant", mock, WithSystemPrompt("Answer plainly."))

	ingest := NewExecutor("ingest")
	MustHandle(ingest, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		rc.SendMessage(TurnToken{})
		return msg, nil
	})

	b := NewBuilder(ingest)
	if err := b.AddEdge(ingest, Gate(agent)); err != nil {
		t.Fatal(err)
	}
	wf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	runner, _ := NewRunner(wf)

	res, err := runner.Run(context.Background(), "", "what is the answer?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != "answer" {
		t.Errorf("output %v, want the model reply", res.Output)
	}
}
