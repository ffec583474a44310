package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"legalchat-backend/models"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Tool names as exposed to the models
const (
	PlaintiffToolName    = "plaintiffAgent"
	LawyerToolName       = "lawyerAgent"
	IntakeLookupToolName = "stored_intake_retrieval"
	WebSearchToolName    = "web_search"
)

// ErrInvalidArguments is returned when a model sends arguments a tool cannot decode
var ErrInvalidArguments = errors.New("invalid tool arguments")

// SubAgentTool exposes another agent as a callable tool
type SubAgentTool struct {
	name        string
	description string
	agent       *Agent
	invoker     Invoker
	logger      *slog.Logger
}

// NewSubAgentTool wraps agent so that a calling agent can delegate a query to it
func NewSubAgentTool(name, description string, agent *Agent, invoker Invoker, logger *slog.Logger) *SubAgentTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubAgentTool{
		name:        name,
		description: description,
		agent:       agent,
		invoker:     invoker,
		logger:      logger,
	}
}

func (t *SubAgentTool) Name() string        { return t.name }
func (t *SubAgentTool) Description() string { return t.description }

func (t *SubAgentTool) Parameters() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"query": {
				Type:        jsonschema.String,
				Description: "The user's question or case details, including any relevant document text",
			},
		},
		Required: []string{"query"},
	}
}

// Call runs the wrapped agent on the query argument
func (t *SubAgentTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("%w: query is required", ErrInvalidArguments)
	}

	start := time.Now()
	t.logger.Info("Sub-agent called", "agent", t.agent.Name, "query_preview", preview(in.Query, 200))

	out, err := t.invoker.Invoke(ctx, t.agent, in.Query)
	if err != nil {
		t.logger.Error("Sub-agent failed", "agent", t.agent.Name, "error", err)
		return "", fmt.Errorf("%s: %w", t.agent.Name, err)
	}

	t.logger.Info("Sub-agent completed", "agent", t.agent.Name, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// IntakeLister reads stored intakes, optionally filtered by matter type
type IntakeLister interface {
	List(ctx context.Context, matterType *string) ([]models.IntakeRecord, error)
}

// IntakeLookupTool lets an agent read stored intake records
type IntakeLookupTool struct {
	lister IntakeLister
	logger *slog.Logger
}

// NewIntakeLookupTool creates the stored intake retrieval tool
func NewIntakeLookupTool(lister IntakeLister, logger *slog.Logger) *IntakeLookupTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeLookupTool{lister: lister, logger: logger}
}

func (t *IntakeLookupTool) Name() string { return IntakeLookupToolName }

func (t *IntakeLookupTool) Description() string {
	return "Retrieve intake cases stored in the database, newest first. Optionally filter by matter type."
}

func (t *IntakeLookupTool) Parameters() jsonschema.Definition {
	enum := make([]string, 0, len(models.MatterTypes))
	for _, mt := range models.MatterTypes {
		enum = append(enum, string(mt))
	}
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"category": {
				Type:        jsonschema.String,
				Description: "Matter type to filter by. Omit to return all intakes.",
				Enum:        enum,
			},
		},
	}
}

// Call lists intakes and returns them as a JSON array
func (t *IntakeLookupTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Category *string `json:"category"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	if in.Category != nil && strings.TrimSpace(*in.Category) == "" {
		in.Category = nil
	}

	category := "ALL"
	if in.Category != nil {
		category = *in.Category
	}
	t.logger.Info("Tool called", "tool", IntakeLookupToolName, "category", category)

	records, err := t.lister.List(ctx, in.Category)
	if err != nil {
		t.logger.Error("Database error in intake lookup", "error", err)
		return "", fmt.Errorf("failed to retrieve intakes: %w", err)
	}

	for i := range records {
		records[i].EnsureLists()
	}
	out, err := json.Marshal(records)
	if err != nil {
		return "", err
	}

	t.logger.Info("Retrieved intakes from database", "count", len(records))
	return string(out), nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
