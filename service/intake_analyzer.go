package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"legalchat-backend/agents"
	"legalchat-backend/metrics"
	"legalchat-backend/models"
)

const defaultAnalysisTimeout = 2 * time.Minute

// Fallback texts for analyses that could not be produced or parsed
const (
	FallbackSummary       = "Analysis completed. See full reasoning for details."
	FallbackExplanation   = "Unable to parse detailed breakdown"
	FailedSummary         = "Analysis failed due to an error. Please review manually."
	ManualReviewWarning   = "Automated analysis unavailable - manual review required"
	fallbackScore         = 50
	failedReasoningPrefix = "Analysis error: "
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// IntakeAnalyzer scores an intake with the intake analyst agent
type IntakeAnalyzer struct {
	invoker agents.Invoker
	agent   *agents.Agent
	timeout time.Duration
	logger  *slog.Logger
}

// NewIntakeAnalyzer creates an analyzer. timeout <= 0 uses the default.
func NewIntakeAnalyzer(invoker agents.Invoker, agent *agents.Agent, timeout time.Duration, logger *slog.Logger) *IntakeAnalyzer {
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeAnalyzer{invoker: invoker, agent: agent, timeout: timeout, logger: logger}
}

// Analyze always returns an analysis. Agent failures yield the manual review
// analysis and unparseable output yields the fallback analysis.
func (a *IntakeAnalyzer) Analyze(ctx context.Context, in agents.IntakeAnalysisInput) *models.Analysis {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	logger := a.logger.With("matter_type", in.MatterType)
	logger.Info("Starting intake analysis")

	text, err := a.invoker.Invoke(ctx, a.agent, agents.BuildIntakeAnalysisPrompt(in))
	if err != nil {
		logger.Error("Intake analysis failed", "error", err)
		metrics.IntakeAnalyses.WithLabelValues("error").Inc()
		return FailedAnalysis(err)
	}

	analysis, ok := ParseAnalysis(text)
	if !ok {
		logger.Warn("Failed to parse analysis JSON, using fallback structure")
		metrics.IntakeAnalyses.WithLabelValues("fallback").Inc()
		return FallbackAnalysis(text)
	}

	metrics.IntakeAnalyses.WithLabelValues("parsed").Inc()
	logger.Info("Intake analysis complete", "score", analysis.Score)
	return analysis
}

type rawBreakdown struct {
	LegalMerit          float64 `json:"legalMerit"`
	EvidenceQuality     float64 `json:"evidenceQuality"`
	DamagesPotential    float64 `json:"damagesPotential"`
	ProceduralViability float64 `json:"proceduralViability"`
	LikelihoodOfSuccess float64 `json:"likelihoodOfSuccess"`
	Explanation         string  `json:"explanation"`
}

type rawAnalysis struct {
	Summary          string                   `json:"summary"`
	Score            float64                  `json:"score"`
	ScoreBreakdown   rawBreakdown             `json:"scoreBreakdown"`
	Reasoning        string                   `json:"reasoning"`
	Warnings         []string                 `json:"warnings"`
	RecommendedFirms []models.RecommendedFirm `json:"recommendedFirms"`
	ApplicableLaws   []models.ApplicableLaw   `json:"applicableLaws"`
}

// ParseAnalysis decodes agent output, optionally wrapped in a ```json fence.
// Sub-scores are clamped to the intake rubric and the score is recomputed
// as their sum.
func ParseAnalysis(text string) (*models.Analysis, bool) {
	payload := strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(payload); m != nil {
		payload = m[1]
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, false
	}

	r := agents.IntakeRubric
	breakdown := models.ScoreBreakdown{
		LegalMerit:          r.Clamp("legalMerit", round(raw.ScoreBreakdown.LegalMerit)),
		EvidenceQuality:     r.Clamp("evidenceQuality", round(raw.ScoreBreakdown.EvidenceQuality)),
		DamagesPotential:    r.Clamp("damagesPotential", round(raw.ScoreBreakdown.DamagesPotential)),
		ProceduralViability: r.Clamp("proceduralViability", round(raw.ScoreBreakdown.ProceduralViability)),
		LikelihoodOfSuccess: r.Clamp("likelihoodOfSuccess", round(raw.ScoreBreakdown.LikelihoodOfSuccess)),
		Explanation:         raw.ScoreBreakdown.Explanation,
	}

	a := &models.Analysis{
		Summary:          raw.Summary,
		Score:            breakdown.Total(),
		ScoreBreakdown:   breakdown,
		Reasoning:        raw.Reasoning,
		Warnings:         raw.Warnings,
		RecommendedFirms: raw.RecommendedFirms,
		ApplicableLaws:   raw.ApplicableLaws,
	}
	ensureAnalysisLists(a)
	return a, true
}

// FallbackAnalysis is used when the agent answered but not with valid JSON
func FallbackAnalysis(text string) *models.Analysis {
	return &models.Analysis{
		Summary: FallbackSummary,
		Score:   fallbackScore,
		ScoreBreakdown: models.ScoreBreakdown{
			LegalMerit:          15,
			EvidenceQuality:     10,
			DamagesPotential:    12,
			ProceduralViability: 8,
			LikelihoodOfSuccess: 5,
			Explanation:         FallbackExplanation,
		},
		Reasoning:        text,
		Warnings:         []string{},
		RecommendedFirms: []models.RecommendedFirm{},
		ApplicableLaws:   []models.ApplicableLaw{},
	}
}

// FailedAnalysis is used when the agent could not be run
func FailedAnalysis(err error) *models.Analysis {
	msg := err.Error()
	return &models.Analysis{
		Summary: FailedSummary,
		Score:   0,
		ScoreBreakdown: models.ScoreBreakdown{
			Explanation: "Error: " + msg,
		},
		Reasoning:        failedReasoningPrefix + msg,
		Warnings:         []string{ManualReviewWarning},
		RecommendedFirms: []models.RecommendedFirm{},
		ApplicableLaws:   []models.ApplicableLaw{},
		Error:            msg,
	}
}

func ensureAnalysisLists(a *models.Analysis) {
	if a.Warnings == nil {
		a.Warnings = []string{}
	}
	if a.RecommendedFirms == nil {
		a.RecommendedFirms = []models.RecommendedFirm{}
	}
	if a.ApplicableLaws == nil {
		a.ApplicableLaws = []models.ApplicableLaw{}
	}
	for i := range a.RecommendedFirms {
		if a.RecommendedFirms[i].PracticeAreas == nil {
			a.RecommendedFirms[i].PracticeAreas = []string{}
		}
	}
}

func round(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}
