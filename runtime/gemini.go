package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"legalchat-backend/agents"
	"legalchat-backend/models"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/api/iterator"
)

// GeminiRunner runs agents on Gemini through the generative-ai-go client
type GeminiRunner struct {
	client *genai.Client
	opts   options
}

// NewGeminiRunner creates a runner on the given client
func NewGeminiRunner(client *genai.Client, opts ...Option) *GeminiRunner {
	return &GeminiRunner{client: client, opts: newOptions(opts)}
}

// Stream implements Runner
func (r *GeminiRunner) Stream(ctx context.Context, agent *agents.Agent, messages []Message, emit func(Event) error) error {
	out := wrapEmit(emit)
	logger := r.opts.logger.With("agent", agent.Name, "model", agent.Model)

	system, history, last := toGeminiContents(agent.Instructions, messages)
	if len(last) == 0 {
		return finish(emit, agent, Usage{}, errors.New("no user message to send"))
	}

	model := r.client.GenerativeModel(agent.Model)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	if decls := geminiFunctions(agent); len(decls) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	cs := model.StartChat()
	cs.History = history

	var usage Usage
	parts := last
	for round := 0; ; round++ {
		if round > r.opts.maxToolRounds {
			return finish(emit, agent, usage, fmt.Errorf("%w (%d rounds)", ErrMaxToolRounds, r.opts.maxToolRounds))
		}

		calls, roundUsage, err := r.streamRound(ctx, agent, cs, parts, out)
		usage = usage.Add(roundUsage)
		if err != nil {
			return finish(emit, agent, usage, err)
		}
		if len(calls) == 0 {
			return finish(emit, agent, usage, nil)
		}

		parts = parts[:0:0]
		for i, fc := range calls {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				args = []byte("{}")
			}
			call := ToolCall{ID: fmt.Sprintf("%s-%d-%d", fc.Name, round, i), Name: fc.Name, Arguments: string(args)}
			if err := out(ToolCalled{Agent: agent.Name, Call: call}); err != nil {
				return finish(emit, agent, usage, err)
			}
			logger.Info("Tool call", "tool", call.Name, "round", round)

			result, callErr := callTool(ctx, logger, agent, call)
			if err := out(ToolResult{Agent: agent.Name, CallID: call.ID, Name: call.Name, Output: result, Err: callErr}); err != nil {
				return finish(emit, agent, usage, err)
			}
			parts = append(parts, genai.FunctionResponse{
				Name:     fc.Name,
				Response: map[string]any{"output": result},
			})
		}
	}
}

func (r *GeminiRunner) streamRound(ctx context.Context, agent *agents.Agent, cs *genai.ChatSession, parts []genai.Part, emit func(Event) error) ([]genai.FunctionCall, Usage, error) {
	iter := cs.SendMessageStream(ctx, parts...)

	var (
		calls []genai.FunctionCall
		usage Usage
	)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, usage, fmt.Errorf("gemini stream failed: %w", err)
		}

		if resp.UsageMetadata != nil {
			usage = Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					if p == "" {
						continue
					}
					if err := emit(TextDelta{Agent: agent.Name, Text: string(p)}); err != nil {
						return nil, usage, err
					}
				case genai.FunctionCall:
					calls = append(calls, p)
				}
			}
		}
	}
	return calls, usage, nil
}

// toGeminiContents splits messages into system text, prior history and the
// parts of the final user turn. Gemini has no developer role, so developer
// and system turns are folded into the system instruction.
func toGeminiContents(instructions string, messages []Message) (string, []*genai.Content, []genai.Part) {
	system := []string{}
	if instructions != "" {
		system = append(system, instructions)
	}

	var history []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem, models.RoleDeveloper:
			system = append(system, m.Content)
		case models.RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		case models.RoleTool:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{
				genai.FunctionResponse{Name: m.Name, Response: map[string]any{"output": m.Content}},
			}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}

	var last []genai.Part
	if n := len(history); n > 0 && history[n-1].Role == "user" {
		last = history[n-1].Parts
		history = history[:n-1]
	}
	return strings.Join(system, "\n\n"), history, last
}

func geminiFunctions(agent *agents.Agent) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(agent.Tools))
	for _, t := range agent.Tools {
		params := t.Parameters()
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  toGeminiSchema(&params),
		})
	}
	return decls
}

// toGeminiSchema converts a JSON schema definition into Gemini's schema type
func toGeminiSchema(d *jsonschema.Definition) *genai.Schema {
	if d == nil {
		return nil
	}
	s := &genai.Schema{
		Description: d.Description,
		Enum:        d.Enum,
		Required:    d.Required,
	}
	switch d.Type {
	case jsonschema.Object:
		s.Type = genai.TypeObject
	case jsonschema.Array:
		s.Type = genai.TypeArray
	case jsonschema.Integer:
		s.Type = genai.TypeInteger
	case jsonschema.Number:
		s.Type = genai.TypeNumber
	case jsonschema.Boolean:
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	if len(d.Properties) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(d.Properties))
		for name, prop := range d.Properties {
			s.Properties[name] = toGeminiSchema(&prop)
		}
	}
	if d.Items != nil {
		s.Items = toGeminiSchema(d.Items)
	}
	return s
}

var _ Runner = (*GeminiRunner)(nil)
