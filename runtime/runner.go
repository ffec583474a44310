package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"legalchat-backend/agents"
	"legalchat-backend/metrics"
	"legalchat-backend/models"
)

var (
	ErrMaxToolRounds = errors.New("tool call limit exceeded")
	ErrUnknownTool   = errors.New("unknown tool")
	ErrEmptyResponse = errors.New("model returned no text")
)

const defaultMaxToolRounds = 8

// Runner executes an agent against a conversation and streams its output.
//
// Stream calls emit once per event, in order, from the calling goroutine.
// The last event is always Completed or Failed. Provider errors are reported
// as Failed and Stream returns nil; a non-nil return means emit failed and
// the stream was abandoned.
type Runner interface {
	Stream(ctx context.Context, agent *agents.Agent, messages []Message, emit func(Event) error) error
}

// Option configures a runner
type Option func(*options)

type options struct {
	maxToolRounds int
	logger        *slog.Logger
}

// WithMaxToolRounds caps how many tool round trips a single run may take
func WithMaxToolRounds(n int) Option {
	return func(o *options) {
		o.maxToolRounds = n
	}
}

// WithLogger sets the runner logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func newOptions(opts []Option) options {
	o := options{maxToolRounds: defaultMaxToolRounds, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Run drives a runner to completion and returns the concatenated text
func Run(ctx context.Context, r Runner, agent *agents.Agent, messages []Message) (string, Usage, error) {
	var (
		text   strings.Builder
		usage  Usage
		runErr error
	)
	err := r.Stream(ctx, agent, messages, func(ev Event) error {
		switch e := ev.(type) {
		case TextDelta:
			text.WriteString(e.Text)
		case Completed:
			usage = e.Usage
		case Failed:
			usage = e.Usage
			runErr = e.Err
		}
		return nil
	})
	if err != nil {
		return "", usage, err
	}
	if runErr != nil {
		return "", usage, runErr
	}
	return text.String(), usage, nil
}

type invoker struct {
	runner Runner
}

// NewInvoker adapts a Runner so agents can call other agents as tools
func NewInvoker(r Runner) agents.Invoker {
	return invoker{runner: r}
}

func (i invoker) Invoke(ctx context.Context, agent *agents.Agent, input string) (string, error) {
	text, _, err := Run(ctx, i.runner, agent, []Message{{Role: models.RoleUser, Content: input}})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// emitError marks a failure of the caller's emit function
type emitError struct {
	err error
}

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

func wrapEmit(emit func(Event) error) func(Event) error {
	return func(ev Event) error {
		if err := emit(ev); err != nil {
			return &emitError{err: err}
		}
		return nil
	}
}

// finish converts a run error into the terminal event. emit is the caller's
// unwrapped function.
func finish(emit func(Event) error, agent *agents.Agent, usage Usage, err error) error {
	recordUsage(agent, usage)
	var ee *emitError
	if errors.As(err, &ee) {
		return ee.err
	}
	if err != nil {
		return emit(Failed{Err: err, Usage: usage})
	}
	return emit(Completed{Usage: usage})
}

// callTool runs one tool call. Tool failures become the tool output so the
// model can recover; they never abort the run.
func callTool(ctx context.Context, logger *slog.Logger, agent *agents.Agent, call ToolCall) (string, error) {
	tool, ok := agent.Tool(call.Name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		metrics.ToolCalls.WithLabelValues(agent.Name, call.Name, "error").Inc()
		return "Error: " + err.Error(), err
	}

	args := json.RawMessage(call.Arguments)
	if len(strings.TrimSpace(call.Arguments)) == 0 {
		args = json.RawMessage("{}")
	}

	out, err := tool.Call(ctx, args)
	metrics.ToolCalls.WithLabelValues(agent.Name, call.Name, metrics.Status(err)).Inc()
	if err != nil {
		logger.Warn("Tool call failed", "agent", agent.Name, "tool", call.Name, "error", err)
		return "Error: " + err.Error(), err
	}
	return out, nil
}

func recordUsage(agent *agents.Agent, usage Usage) {
	if usage.PromptTokens > 0 {
		metrics.Tokens.WithLabelValues(agent.Name, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		metrics.Tokens.WithLabelValues(agent.Name, "completion").Add(float64(usage.CompletionTokens))
	}
}
