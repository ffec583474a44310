package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "legalchat"

var (
	// ChatStreams counts finished chat streams.
	// Labels: mode, finish_reason (stop, error)
	ChatStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "streams_total",
		Help:      "Chat streams by terminal finish reason",
	}, []string{"mode", "finish_reason"})

	// ChatStreamDuration measures orchestrator runs end to end
	ChatStreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "stream_duration_seconds",
		Help:      "Chat stream duration in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"mode"})

	// ToolCalls counts tool invocations made by agents.
	// Labels: agent, tool, status (success, error)
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "tool_calls_total",
		Help:      "Tool calls by agent, tool and status",
	}, []string{"agent", "tool", "status"})

	// Tokens counts model tokens reported by the runtime.
	// Labels: agent, kind (prompt, completion)
	Tokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "tokens_total",
		Help:      "Model tokens by agent and kind",
	}, []string{"agent", "kind"})

	// Extractions counts attachment extractions.
	// Labels: kind (pdf, text, spreadsheet, other), status (success, error, skipped)
	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "extractor",
		Name:      "extractions_total",
		Help:      "Attachment extractions by kind and status",
	}, []string{"kind", "status"})

	// RetrievalOps counts retrieval augmenter steps.
	// Labels: op (ensure_index, ingest, search), status (success, error, skipped)
	RetrievalOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "operations_total",
		Help:      "Retrieval operations by step and status",
	}, []string{"op", "status"})

	// IntakeAnalyses counts intake analyses.
	// Labels: outcome (parsed, fallback, error)
	IntakeAnalyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "intake",
		Name:      "analyses_total",
		Help:      "Intake analyses by outcome",
	}, []string{"outcome"})
)

// Status maps an error to the status label value
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
