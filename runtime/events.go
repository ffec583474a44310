package runtime

import (
	"legalchat-backend/models"
)

// Message is one turn handed to the model runtime
type Message struct {
	Role    models.Role
	Content string
	// ToolCalls is set on assistant turns that requested tools
	ToolCalls []ToolCall
	// ToolCallID links a tool turn to the call it answers
	ToolCallID string
	// Name is the tool name on tool turns
	Name string
}

// ToolCall is a model request to run a tool
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage holds token counts reported by the model provider
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Add returns the sum of two usages
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// Event is one item of a runner's output stream. The set of implementations
// is closed: TextDelta, ToolCalled, ToolResult, Completed and Failed.
type Event interface {
	event()
}

// TextDelta is a fragment of assistant text, in generation order
type TextDelta struct {
	Agent string
	Text  string
}

// ToolCalled reports that the model asked for a tool
type ToolCalled struct {
	Agent string
	Call  ToolCall
}

// ToolResult reports a finished tool call
type ToolResult struct {
	Agent  string
	CallID string
	Name   string
	Output string
	Err    error
}

// Completed ends a successful run
type Completed struct {
	Usage Usage
}

// Failed ends a run that could not finish
type Failed struct {
	Err   error
	Usage Usage
}

func (TextDelta) event()  {}
func (ToolCalled) event() {}
func (ToolResult) event() {}
func (Completed) event()  {}
func (Failed) event()     {}
