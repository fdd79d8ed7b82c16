package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/dshills/stepflow-go/workflow/model"
	"github.com/dshills/stepflow-go/workflow/tool"
)

// AgentExecutor is an LLM-backed executor built for turn-gated operation.
//
// String messages accumulate as conversation input; when a TurnToken arrives
// the accumulated input becomes a single user turn, the model is called, and
// the reply text is emitted as the invocation result. If the model requests
// tool calls and matching tools are registered, the agent runs a bounded
// call-execute loop, feeding tool output back to the model until it answers
// in text or the round limit is reached.
//
// Conversation history persists across turns and is captured by checkpoints.
// An AgentExecutor is usually wrapped in Gate so that input arriving over
// several supersteps is delivered in one batch:
//
//	agent := workflow.NewAgent("responder", chatModel,
//	    workflow.WithSystemPrompt("You are a support agent."))
//	b.AddEdge(ingest, workflow.Gate(agent))
type AgentExecutor struct {
	node *ExecutorNode

	chat   model.ChatModel
	system string

	specs  []model.ToolSpec
	tools  map[string]tool.Tool
	rounds int

	history []model.Message
	pending []string
}

// AgentOption configures an AgentExecutor.
type AgentOption func(*AgentExecutor)

// WithSystemPrompt sets the system message prepended to every model call.
func WithSystemPrompt(prompt string) AgentOption {
	return func(a *AgentExecutor) { a.system = prompt }
}

// WithAgentTool registers a tool the model may call during a turn. spec.Name
// must match t.Name(); mismatches panic at construction since the model could
// never route the call back to the tool.
func WithAgentTool(spec model.ToolSpec, t tool.Tool) AgentOption {
	return func(a *AgentExecutor) {
		if spec.Name != t.Name() {
			panic(fmt.Sprintf("workflow: tool spec %q does not match tool %q", spec.Name, t.Name()))
		}
		a.specs = append(a.specs, spec)
		a.tools[spec.Name] = t
	}
}

// WithMaxToolRounds caps model-tool iterations per turn. The default is 4.
func WithMaxToolRounds(n int) AgentOption {
	return func(a *AgentExecutor) {
		if n > 0 {
			a.rounds = n
		}
	}
}

// NewAgent creates an agent executor backed by chat.
func NewAgent(id string, chat model.ChatModel, opts ...AgentOption) *AgentExecutor {
	a := &AgentExecutor{
		node:   NewExecutor(id),
		chat:   chat,
		tools:  make(map[string]tool.Tool),
		rounds: 4,
	}
	for _, opt := range opts {
		opt(a)
	}
	MustHandle(a.node, func(ctx context.Context, rc *RunContext, msg string) (any, error) {
		a.pending = append(a.pending, msg)
		return nil, nil
	})
	MustHandle(a.node, func(ctx context.Context, rc *RunContext, _ TurnToken) (any, error) {
		return a.takeTurn(ctx)
	})
	return a
}

// ID returns the agent's executor id.
func (a *AgentExecutor) ID() string { return a.node.ID() }

// MessageTypes returns the agent's declared inbound types.
func (a *AgentExecutor) MessageTypes() []reflect.Type { return a.node.MessageTypes() }

// Handle dispatches msg through the agent's handler set.
func (a *AgentExecutor) Handle(ctx context.Context, msg any, rc *RunContext) CallResult {
	return a.node.Handle(ctx, msg, rc)
}

// History returns a copy of the conversation so far.
func (a *AgentExecutor) History() []model.Message {
	out := make([]model.Message, len(a.history))
	copy(out, a.history)
	return out
}

// takeTurn folds the pending input into a user message, runs the model (with
// tool rounds if requested), appends the exchange to history, and returns the
// reply text.
func (a *AgentExecutor) takeTurn(ctx context.Context) (any, error) {
	if len(a.pending) == 0 {
		return nil, nil
	}
	userTurn := strings.Join(a.pending, "\n")
	a.pending = nil
	a.history = append(a.history, model.Message{Role: model.RoleUser, Content: userTurn})

	messages := a.conversation()
	for round := 0; ; round++ {
		out, err := a.chat.Chat(ctx, messages, a.specs)
		if err != nil {
			return nil, newError(CodeHandlerFault, fmt.Sprintf("agent %q model call failed", a.ID()), err)
		}
		if len(out.ToolCalls) == 0 || len(a.tools) == 0 || round >= a.rounds {
			a.history = append(a.history, model.Message{Role: model.RoleAssistant, Content: out.Text})
			return out.Text, nil
		}

		results, err := a.runTools(ctx, out.ToolCalls)
		if err != nil {
			return nil, err
		}
		messages = append(messages,
			model.Message{Role: model.RoleAssistant, Content: out.Text},
			model.Message{Role: model.RoleUser, Content: results},
		)
	}
}

// conversation builds the message list for a model call: system prompt, then
// accumulated history.
func (a *AgentExecutor) conversation() []model.Message {
	messages := make([]model.Message, 0, len(a.history)+1)
	if a.system != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: a.system})
	}
	return append(messages, a.history...)
}

// runTools executes the requested calls in order and renders their outputs as
// a JSON document the model reads back.
func (a *AgentExecutor) runTools(ctx context.Context, calls []model.ToolCall) (string, error) {
	results := make(map[string]interface{}, len(calls))
	for _, call := range calls {
		t, ok := a.tools[call.Name]
		if !ok {
			results[call.Name] = map[string]interface{}{"error": "unknown tool"}
			continue
		}
		out, err := t.Call(ctx, call.Input)
		if err != nil {
			results[call.Name] = map[string]interface{}{"error": err.Error()}
			continue
		}
		results[call.Name] = out
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", newError(CodeHandlerFault, fmt.Sprintf("agent %q tool results not serializable", a.ID()), err)
	}
	return "Tool results:\n" + string(data), nil
}

// agentSnapshot is the serialized form of agent conversation state.
type agentSnapshot struct {
	History []model.Message `json:"history"`
	Pending []string        `json:"pending,omitempty"`
}

// SnapshotState serializes the conversation history and any input still
// waiting for a turn signal.
func (a *AgentExecutor) SnapshotState() (json.RawMessage, error) {
	return json.Marshal(agentSnapshot{History: a.history, Pending: a.pending})
}

// RestoreState reinstates conversation state captured by SnapshotState.
func (a *AgentExecutor) RestoreState(data json.RawMessage) error {
	var snap agentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	a.history = snap.History
	a.pending = snap.Pending
	return nil
}
