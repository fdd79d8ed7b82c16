// Package model provides LLM chat adapters for agent executors.
package model

import "context"

// ChatModel is the provider-neutral interface for LLM chat backends.
//
// Implementations wrap a specific provider SDK (OpenAI, Anthropic, Google)
// and are responsible for:
//   - Provider-specific authentication
//   - Converting Message values to the provider's wire format
//   - Parsing provider responses back into ChatOut
//   - Respecting context cancellation and timeouts
//
// Example:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "What is the capital of France?"},
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Text)
type ChatModel interface {
	// Chat sends the conversation to the provider and returns its reply.
	//
	// tools lists the tools the LLM may request (nil for none). The reply
	// carries text, tool calls, or both.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is a single turn in an LLM conversation.
type Message struct {
	// Role identifies the sender. Use the Role* constants.
	Role string

	// Content is the message text. May be empty for tool-only turns.
	Content string
}

// Standard conversation roles, aligned with the conventions shared by the
// major providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the LLM may call.
//
// Schema follows JSON Schema and describes the tool's input parameters:
//
//	spec := ToolSpec{
//	    Name:        "get_weather",
//	    Description: "Get current weather for a location",
//	    Schema: map[string]interface{}{
//	        "type": "object",
//	        "properties": map[string]interface{}{
//	            "location": map[string]interface{}{"type": "string"},
//	        },
//	        "required": []string{"location"},
//	    },
//	}
type ToolSpec struct {
	// Name uniquely identifies the tool (alphanumeric plus underscores).
	Name string

	// Description tells the LLM what the tool does and when to use it.
	Description string

	// Schema is the JSON Schema for the tool input. Optional for tools
	// with no parameters.
	Schema map[string]interface{}
}

// ToolCall is a request from the LLM to invoke a tool.
type ToolCall struct {
	// Name matches a ToolSpec.Name from the offered tools.
	Name string

	// Input holds the call arguments, shaped by the tool's Schema.
	// May be nil for parameterless tools.
	Input map[string]interface{}
}

// Usage reports token consumption for a single chat completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the combined input and output token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// ChatOut is the result of a chat completion.
//
// A reply may carry text, tool calls, or both. An LLM that wants external
// information responds with ToolCalls; the caller executes them and sends
// the results back as a new user message.
type ChatOut struct {
	// Text is the generated response. Empty when the LLM only requests tools.
	Text string

	// ToolCalls lists the tools the LLM wants invoked, in order.
	ToolCalls []ToolCall

	// Usage reports the token counts the provider billed for this call.
	Usage Usage
}
