// Package tool defines executable tools that agent executors can invoke on
// behalf of an LLM.
package tool

import "context"

// Tool is an action an LLM can request during an agent turn.
//
// Implementations should validate their input, respect context cancellation,
// and return structured output the LLM can read back. Input and output are
// free-form maps; the shape of the input is described to the LLM by a
// model.ToolSpec paired with the tool at registration.
//
// Example:
//
//	type WeatherTool struct{}
//
//	func (w *WeatherTool) Name() string { return "get_weather" }
//
//	func (w *WeatherTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
//	    location, ok := input["location"].(string)
//	    if !ok {
//	        return nil, errors.New("location parameter required")
//	    }
//	    return map[string]interface{}{"location": location, "temperature": 21.5}, nil
//	}
type Tool interface {
	// Name returns the unique identifier for this tool. It must match the
	// name the LLM uses to call it (lowercase with underscores).
	Name() string

	// Call executes the tool. input may be nil for parameterless tools.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}
