package tool

import (
	"context"
	"errors"
	"testing"
)

func TestMockToolSequence(t *testing.T) {
	ctx := context.Background()
	mock := &MockTool{
		ToolName: "search",
		Responses: []map[string]interface{}{
			{"result": "first"},
			{"result": "second"},
		},
	}
	if mock.Name() != "search" {
		t.Errorf("name %q", mock.Name())
	}

	for _, want := range []string{"first", "second", "second"} {
		out, err := mock.Call(ctx, map[string]interface{}{"q": want})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if out["result"] != want {
			t.Errorf("got %v, want %q", out["result"], want)
		}
	}

	if mock.CallCount() != 3 {
		t.Errorf("call count %d", mock.CallCount())
	}
	if mock.Calls[1].Input["q"] != "second" {
		t.Errorf("recorded input %v", mock.Calls[1].Input)
	}
}

func TestMockToolError(t *testing.T) {
	sentinel := errors.New("tool broke")
	mock := &MockTool{ToolName: "search", Err: sentinel}

	_, err := mock.Call(context.Background(), nil)
	if !errors.Is(err, sentinel) {
		t.Errorf("got %v", err)
	}
	if mock.CallCount() != 1 {
		t.Error("failed call not recorded")
	}
}

func TestMockToolReset(t *testing.T) {
	ctx := context.Background()
	mock := &MockTool{
		ToolName:  "search",
		Responses: []map[string]interface{}{{"n": 1}, {"n": 2}},
	}
	mock.Call(ctx, nil)
	mock.Call(ctx, nil)
	mock.Reset()

	if mock.CallCount() != 0 {
		t.Error("Reset kept call history")
	}
	out, _ := mock.Call(ctx, nil)
	if out["n"] != 1 {
		t.Errorf("sequence not restarted: %v", out)
	}
}
