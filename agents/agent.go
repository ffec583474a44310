package agents

import (
	"context"
	"encoding/json"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Agent is a named bundle of model, instructions and tool bindings handed to
// the LLM runtime. Values built by the constructors in this package are never
// modified; use WithModel or WithTools to derive a variant.
type Agent struct {
	Name         string
	Model        string
	Instructions string
	Tools        []Tool
}

// Tool is a capability an agent may call while generating a response
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object
	Parameters() jsonschema.Definition
	// Call runs the tool with raw JSON arguments produced by the model
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Invoker runs an agent to completion on a single user input
type Invoker interface {
	Invoke(ctx context.Context, agent *Agent, input string) (string, error)
}

// Tool returns the bound tool with the given name
func (a *Agent) Tool(name string) (Tool, bool) {
	for _, t := range a.Tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// ToolNames lists the names of all bound tools
func (a *Agent) ToolNames() []string {
	names := make([]string, 0, len(a.Tools))
	for _, t := range a.Tools {
		names = append(names, t.Name())
	}
	return names
}

// WithModel returns a copy of the agent bound to another model
func (a *Agent) WithModel(model string) *Agent {
	cp := a.clone()
	cp.Model = model
	return cp
}

// WithTools returns a copy of the agent with the given tools appended
func (a *Agent) WithTools(tools ...Tool) *Agent {
	cp := a.clone()
	cp.Tools = append(cp.Tools, tools...)
	return cp
}

func (a *Agent) clone() *Agent {
	cp := *a
	cp.Tools = append([]Tool(nil), a.Tools...)
	return &cp
}
