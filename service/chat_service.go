package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"legalchat-backend/agents"
	"legalchat-backend/metrics"
	"legalchat-backend/models"
	"legalchat-backend/retrieval"
	"legalchat-backend/runtime"
)

const defaultChatTimeout = 5 * time.Minute

// MessageNormalizer converts client turns into runtime messages
type MessageNormalizer interface {
	Normalize(ctx context.Context, turns []models.ConversationTurn) []runtime.Message
}

// ContextAugmenter returns retrieved context for the latest query, or ""
type ContextAugmenter interface {
	Augment(ctx context.Context, conversationID string, attachments []models.AttachmentRef, query string) string
}

// ChatRequest is one /api/chat call
type ChatRequest struct {
	ChatID      string
	Mode        models.ChatMode
	Turns       []models.ConversationTurn
	Attachments []models.AttachmentRef
	// Admin is set for requests carrying a valid admin token
	Admin bool
}

// ChatService runs a chat turn and streams the answer as frames
type ChatService struct {
	runner     runtime.Runner
	catalog    *agents.Catalog
	normalizer MessageNormalizer
	augmenter  ContextAugmenter
	timeout    time.Duration
	logger     *slog.Logger
}

// ChatServiceOption is a functional option for ChatService
type ChatServiceOption func(*ChatService)

// WithRunner sets the model runtime
func WithRunner(r runtime.Runner) ChatServiceOption {
	return func(s *ChatService) {
		s.runner = r
	}
}

// WithCatalog sets the agents
func WithCatalog(c *agents.Catalog) ChatServiceOption {
	return func(s *ChatService) {
		s.catalog = c
	}
}

// WithNormalizer sets the message normalizer
func WithNormalizer(n MessageNormalizer) ChatServiceOption {
	return func(s *ChatService) {
		s.normalizer = n
	}
}

// WithAugmenter enables retrieval augmentation
func WithAugmenter(a ContextAugmenter) ChatServiceOption {
	return func(s *ChatService) {
		s.augmenter = a
	}
}

// WithChatTimeout bounds one streamed run
func WithChatTimeout(d time.Duration) ChatServiceOption {
	return func(s *ChatService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithChatLogger sets the logger
func WithChatLogger(l *slog.Logger) ChatServiceOption {
	return func(s *ChatService) {
		s.logger = l
	}
}

// NewChatService creates a new chat service
func NewChatService(opts ...ChatServiceOption) *ChatService {
	s := &ChatService{timeout: defaultChatTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream runs the agent for req and writes its output to w. Text deltas are
// written in arrival order and exactly one terminal frame is written unless
// the client went away. The returned error is non-nil only when writing to
// the client failed.
func (s *ChatService) Stream(ctx context.Context, req ChatRequest, w *FrameWriter) (err error) {
	start := time.Now()
	logger := s.logger.With("chat_id", req.ChatID, "mode", string(req.Mode))
	logger.Info("Chat stream started", "turns", len(req.Turns), "attachments", len(req.Attachments))

	var usage runtime.Usage
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Chat stream panicked", "panic", r)
			if !w.Done() {
				err = w.Fail(fmt.Errorf("internal error: %v", r), usage)
			}
		}
		s.record(logger, req.Mode, w, start)
	}()

	if s.runner == nil || s.catalog == nil {
		return w.Fail(errors.New("chat service is not configured"), usage)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messages := s.prepare(ctx, req)
	agent := s.catalog.ForMode(req.Mode, req.Admin)

	streamErr := s.runner.Stream(ctx, agent, messages, func(ev runtime.Event) error {
		switch e := ev.(type) {
		case runtime.TextDelta:
			return w.WriteText(e.Text)
		case runtime.ToolCalled:
			logger.Info("Agent called tool", "agent", e.Agent, "tool", e.Call.Name)
		case runtime.ToolResult:
			if e.Err != nil {
				logger.Warn("Tool returned an error", "agent", e.Agent, "tool", e.Name, "error", e.Err)
			} else {
				logger.Debug("Tool finished", "agent", e.Agent, "tool", e.Name, "output_len", len(e.Output))
			}
		case runtime.Completed:
			usage = e.Usage
			return w.Finish(e.Usage)
		case runtime.Failed:
			usage = e.Usage
			logger.Error("Agent run failed", "agent", agent.Name, "error", e.Err)
			return w.Fail(e.Err, e.Usage)
		default:
			logger.Debug("Ignoring unknown runtime event", "type", fmt.Sprintf("%T", ev))
		}
		return nil
	})

	if streamErr != nil {
		logger.Warn("Client stream aborted", "error", streamErr)
		if !w.Done() {
			_ = w.Fail(streamErr, usage)
		}
		return streamErr
	}
	if !w.Done() {
		return w.Finish(usage)
	}
	return nil
}

// prepare normalizes the turns and injects retrieved context
func (s *ChatService) prepare(ctx context.Context, req ChatRequest) []runtime.Message {
	var messages []runtime.Message
	if s.normalizer != nil {
		messages = s.normalizer.Normalize(ctx, req.Turns)
	} else {
		for _, t := range req.Turns {
			messages = append(messages, runtime.Message{Role: t.Role, Content: t.Content})
		}
	}

	if s.augmenter == nil || req.ChatID == "" {
		return messages
	}
	query, latest := latestUserTurn(req.Turns)
	block := s.augmenter.Augment(ctx, req.ChatID, retrievalAttachments(req.Attachments, latest), query)
	return retrieval.Inject(messages, block)
}

func (s *ChatService) record(logger *slog.Logger, mode models.ChatMode, w *FrameWriter, start time.Time) {
	elapsed := time.Since(start)
	reason := "aborted"
	var usage runtime.Usage
	if f := w.Result(); f != nil {
		reason = f.FinishReason
		usage = f.Usage
	}
	metrics.ChatStreams.WithLabelValues(string(mode), reason).Inc()
	metrics.ChatStreamDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	logger.Info("Chat stream finished",
		"finish_reason", reason,
		"duration_ms", elapsed.Milliseconds(),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
	)
}

func latestUserTurn(turns []models.ConversationTurn) (string, []models.AttachmentRef) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.RoleUser {
			return strings.TrimSpace(turns[i].Content), turns[i].Attachments
		}
	}
	return "", nil
}

// retrievalAttachments merges request level attachments with the fetchable
// attachments of the latest user turn, dropping duplicate URLs
func retrievalAttachments(request, latest []models.AttachmentRef) []models.AttachmentRef {
	seen := make(map[string]bool, len(request)+len(latest))
	out := make([]models.AttachmentRef, 0, len(request)+len(latest))
	for _, list := range [][]models.AttachmentRef{request, latest} {
		for _, a := range list {
			if a.URL == "" || a.IsInline() || seen[a.URL] {
				continue
			}
			seen[a.URL] = true
			out = append(out, a)
		}
	}
	return out
}
