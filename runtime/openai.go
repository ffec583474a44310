package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"legalchat-backend/agents"
	"legalchat-backend/models"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIRunner runs agents on the OpenAI Chat Completions streaming API
type OpenAIRunner struct {
	client *openai.Client
	opts   options
}

// NewOpenAIClient builds a client, honouring an optional base URL for
// OpenAI-compatible gateways
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// NewOpenAIRunner creates a runner on the given client
func NewOpenAIRunner(client *openai.Client, opts ...Option) *OpenAIRunner {
	return &OpenAIRunner{client: client, opts: newOptions(opts)}
}

// Stream implements Runner
func (r *OpenAIRunner) Stream(ctx context.Context, agent *agents.Agent, messages []Message, emit func(Event) error) error {
	out := wrapEmit(emit)
	logger := r.opts.logger.With("agent", agent.Name, "model", agent.Model)

	conv := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if agent.Instructions != "" {
		conv = append(conv, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: agent.Instructions})
	}
	for _, m := range messages {
		conv = append(conv, toOpenAIMessage(m))
	}
	tools := openAITools(agent)

	var usage Usage
	for round := 0; ; round++ {
		if round > r.opts.maxToolRounds {
			return finish(emit, agent, usage, fmt.Errorf("%w (%d rounds)", ErrMaxToolRounds, r.opts.maxToolRounds))
		}

		req := openai.ChatCompletionRequest{
			Model:         agent.Model,
			Messages:      conv,
			Stream:        true,
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}
		if len(tools) > 0 {
			req.Tools = tools
		}

		text, calls, roundUsage, err := r.streamRound(ctx, agent, req, out)
		usage = usage.Add(roundUsage)
		if err != nil {
			return finish(emit, agent, usage, err)
		}
		if len(calls) == 0 {
			return finish(emit, agent, usage, nil)
		}

		assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}
		for _, c := range calls {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
				ID:       c.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: c.Name, Arguments: c.Arguments},
			})
		}
		conv = append(conv, assistant)

		for _, c := range calls {
			if err := out(ToolCalled{Agent: agent.Name, Call: c}); err != nil {
				return finish(emit, agent, usage, err)
			}
			logger.Info("Tool call", "tool", c.Name, "round", round)

			result, callErr := callTool(ctx, logger, agent, c)
			if err := out(ToolResult{Agent: agent.Name, CallID: c.ID, Name: c.Name, Output: result, Err: callErr}); err != nil {
				return finish(emit, agent, usage, err)
			}
			conv = append(conv, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: c.ID,
			})
		}

		if err := ctx.Err(); err != nil {
			return finish(emit, agent, usage, err)
		}
	}
}

// streamRound performs one streamed completion and accumulates tool call deltas
func (r *OpenAIRunner) streamRound(ctx context.Context, agent *agents.Agent, req openai.ChatCompletionRequest, emit func(Event) error) (string, []ToolCall, Usage, error) {
	stream, err := r.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", nil, Usage{}, fmt.Errorf("failed to start completion stream: %w", err)
	}
	defer stream.Close()

	var (
		text  strings.Builder
		calls []ToolCall
		usage Usage
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return text.String(), nil, usage, fmt.Errorf("completion stream failed: %w", err)
		}

		if resp.Usage != nil {
			usage = Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if err := emit(TextDelta{Agent: agent.Name, Text: delta.Content}); err != nil {
				return text.String(), nil, usage, err
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := len(calls)
			if tc.Index != nil {
				idx = *tc.Index
			} else if tc.ID == "" && idx > 0 {
				idx--
			}
			for len(calls) <= idx {
				calls = append(calls, ToolCall{})
			}
			if tc.ID != "" {
				calls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[idx].Name = tc.Function.Name
			}
			calls[idx].Arguments += tc.Function.Arguments
		}
	}

	// Drop empty slots left by sparse indexes
	filtered := calls[:0]
	for _, c := range calls {
		if c.Name != "" {
			filtered = append(filtered, c)
		}
	}
	return text.String(), filtered, usage, nil
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Content: m.Content}
	switch m.Role {
	case models.RoleDeveloper:
		msg.Role = string(models.RoleDeveloper)
	case models.RoleSystem:
		msg.Role = openai.ChatMessageRoleSystem
	case models.RoleAssistant:
		msg.Role = openai.ChatMessageRoleAssistant
	case models.RoleTool:
		msg.Role = openai.ChatMessageRoleTool
		msg.ToolCallID = m.ToolCallID
	default:
		msg.Role = openai.ChatMessageRoleUser
	}
	for _, c := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:       c.ID,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: c.Name, Arguments: c.Arguments},
		})
	}
	return msg
}

func openAITools(agent *agents.Agent) []openai.Tool {
	tools := make([]openai.Tool, 0, len(agent.Tools))
	for _, t := range agent.Tools {
		params := t.Parameters()
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  params,
			},
		})
	}
	return tools
}

var _ Runner = (*OpenAIRunner)(nil)
