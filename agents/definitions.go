package agents

import (
	"log/slog"

	"legalchat-backend/models"
)

// Agent names
const (
	PlaintiffAgentName     = "plaintiff-agent"
	LawyerAgentName        = "lawyer-agent"
	IntakeAnalystAgentName = "intake-analyst"
	OrchestratorAgentName  = "orchestrator"
	QueryRewriterAgentName = "query-rewriter"
)

// DefaultModel is the model every agent runs on unless configured otherwise
const DefaultModel = "gpt-4.1"

// NewPlaintiffAgent builds the agent that advises potential plaintiffs
func NewPlaintiffAgent(model string, tools ...Tool) *Agent {
	return &Agent{
		Name:         PlaintiffAgentName,
		Model:        model,
		Instructions: plaintiffInstructions(),
		Tools:        append([]Tool(nil), tools...),
	}
}

// NewLawyerAgent builds the agent that supports counsel evaluating a case
func NewLawyerAgent(model string, tools ...Tool) *Agent {
	return &Agent{
		Name:         LawyerAgentName,
		Model:        model,
		Instructions: lawyerInstructions(),
		Tools:        append([]Tool(nil), tools...),
	}
}

// NewIntakeAnalystAgent builds the agent that scores intake submissions
func NewIntakeAnalystAgent(model string, tools ...Tool) *Agent {
	return &Agent{
		Name:         IntakeAnalystAgentName,
		Model:        model,
		Instructions: intakeAnalystInstructions(),
		Tools:        append([]Tool(nil), tools...),
	}
}

// NewQueryRewriterAgent builds the tool-less agent used to rewrite search queries
func NewQueryRewriterAgent(model string) *Agent {
	return &Agent{
		Name:         QueryRewriterAgentName,
		Model:        model,
		Instructions: queryRewriterInstructions(),
	}
}

// NewOrchestratorAgent builds the routing agent. plaintiff and lawyer are
// bound as sub-agent tools run through invoker. The stored-intake lookup is
// bound only when intakes is non-nil.
func NewOrchestratorAgent(model string, plaintiff, lawyer *Agent, invoker Invoker, intakes IntakeLister, logger *slog.Logger, tools ...Tool) *Agent {
	bound := []Tool{
		NewSubAgentTool(PlaintiffToolName,
			"Handle plaintiff-side legal queries: explain options in plain language, score case strength, list deadlines and recommend firms.",
			plaintiff, invoker, logger),
		NewSubAgentTool(LawyerToolName,
			"Handle lawyer-side legal queries: case evaluation, legal research, take/decline recommendations, and intake analysis.",
			lawyer, invoker, logger),
	}
	if intakes != nil {
		bound = append(bound, NewIntakeLookupTool(intakes, logger))
	}
	bound = append(bound, tools...)

	return &Agent{
		Name:         OrchestratorAgentName,
		Model:        model,
		Instructions: orchestratorInstructions(intakes != nil),
		Tools:        bound,
	}
}

// CatalogConfig holds what is needed to build the full agent set
type CatalogConfig struct {
	Model   string
	Invoker Invoker
	Intakes IntakeLister // stored-intake lookup, admin requests only
	// WebSearch is bound to every case agent when set
	WebSearch Tool
	Logger    *slog.Logger
}

// Catalog is the set of agents the service runs
type Catalog struct {
	Orchestrator      *Agent
	AdminOrchestrator *Agent // also reads stored intakes
	Plaintiff         *Agent
	Lawyer            *Agent
	IntakeAnalyst     *Agent
	QueryRewriter     *Agent
}

// NewCatalog builds every agent from one configuration
func NewCatalog(cfg CatalogConfig) *Catalog {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var search []Tool
	if cfg.WebSearch != nil {
		search = append(search, cfg.WebSearch)
	}

	plaintiff := NewPlaintiffAgent(model, search...)
	lawyer := NewLawyerAgent(model, search...)

	orchestrator := NewOrchestratorAgent(model, plaintiff, lawyer, cfg.Invoker, nil, logger, search...)
	adminOrchestrator := orchestrator
	if cfg.Intakes != nil {
		adminOrchestrator = NewOrchestratorAgent(model, plaintiff, lawyer, cfg.Invoker, cfg.Intakes, logger, search...)
	}

	return &Catalog{
		Orchestrator:      orchestrator,
		AdminOrchestrator: adminOrchestrator,
		Plaintiff:     plaintiff,
		Lawyer:        lawyer,
		IntakeAnalyst: NewIntakeAnalystAgent(model, search...),
		QueryRewriter: NewQueryRewriterAgent(model),
	}
}

// ForMode returns the agent a chat in the given mode starts at. Only admin
// requests get the orchestrator that can read stored intakes.
func (c *Catalog) ForMode(mode models.ChatMode, admin bool) *Agent {
	switch mode {
	case models.ChatModeLawyer:
		return c.Lawyer
	case models.ChatModePlaintiff:
		return c.Plaintiff
	default:
		if admin && c.AdminOrchestrator != nil {
			return c.AdminOrchestrator
		}
		return c.Orchestrator
	}
}
