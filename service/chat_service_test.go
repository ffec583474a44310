package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"legalchat-backend/agents"
	"legalchat-backend/models"
	"legalchat-backend/retrieval"
	"legalchat-backend/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner replays a fixed event list
type scriptedRunner struct {
	events   []runtime.Event
	panicMsg string

	agent    *agents.Agent
	messages []runtime.Message
}

func (r *scriptedRunner) Stream(ctx context.Context, agent *agents.Agent, messages []runtime.Message, emit func(runtime.Event) error) error {
	r.agent = agent
	r.messages = messages
	for _, ev := range r.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	return nil
}

type fakeAugmenter struct {
	block       string
	chatID      string
	query       string
	attachments []models.AttachmentRef
}

func (f *fakeAugmenter) Augment(ctx context.Context, conversationID string, attachments []models.AttachmentRef, query string) string {
	f.chatID, f.attachments, f.query = conversationID, attachments, query
	return f.block
}

type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(ctx context.Context, turns []models.ConversationTurn) []runtime.Message {
	out := make([]runtime.Message, len(turns))
	for i, t := range turns {
		out[i] = runtime.Message{Role: t.Role, Content: t.Content}
	}
	return out
}

// failingWriter fails every write after the first n
type failingWriter struct {
	n   int
	buf bytes.Buffer
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, errors.New("broken pipe")
	}
	w.n--
	return w.buf.Write(p)
}

func newChatService(r runtime.Runner, opts ...ChatServiceOption) *ChatService {
	base := []ChatServiceOption{
		WithRunner(r),
		WithCatalog(agents.NewCatalog(agents.CatalogConfig{Model: "gpt-4.1"})),
		WithNormalizer(passthroughNormalizer{}),
	}
	return NewChatService(append(base, opts...)...)
}

func userTurns(text string) []models.ConversationTurn {
	return []models.ConversationTurn{models.NewConversationTurn("user", text, nil)}
}

func TestFrameWriter(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	require.NoError(t, fw.WriteText("He said \"hi\"\n<ok>"))
	require.NoError(t, fw.Finish(runtime.Usage{PromptTokens: 3, CompletionTokens: 4}))
	assert.ErrorIs(t, fw.WriteText("late"), ErrStreamFinished)
	assert.ErrorIs(t, fw.Fail(errors.New("late"), runtime.Usage{}), ErrStreamFinished)

	assert.Equal(t,
		"0:\"He said \\\"hi\\\"\\n<ok>\"\n"+
			`e:{"finishReason":"stop","usage":{"promptTokens":3,"completionTokens":4},"isContinued":false}`+"\n",
		buf.String())
	assert.True(t, fw.Done())
}

func TestFrameWriter_FailFrame(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	require.NoError(t, fw.Fail(errors.New("model unavailable"), runtime.Usage{}))

	assert.Equal(t,
		`e:{"finishReason":"error","usage":{"promptTokens":0,"completionTokens":0},"isContinued":false,"error":"model unavailable"}`+"\n",
		buf.String())
	assert.Equal(t, FinishError, fw.Result().FinishReason)
}

func TestChatService_StreamsDeltasInOrderThenStop(t *testing.T) {
	r := &scriptedRunner{events: []runtime.Event{
		runtime.TextDelta{Agent: "orchestrator", Text: "Hel"},
		runtime.ToolCalled{Agent: "orchestrator", Call: runtime.ToolCall{ID: "1", Name: agents.LawyerToolName}},
		runtime.ToolResult{Agent: "orchestrator", CallID: "1", Name: agents.LawyerToolName, Output: "memo"},
		runtime.TextDelta{Agent: "orchestrator", Text: "lo"},
		runtime.Completed{Usage: runtime.Usage{PromptTokens: 10, CompletionTokens: 2}},
	}}
	var buf bytes.Buffer

	err := newChatService(r).Stream(context.Background(), ChatRequest{Mode: models.ChatModeDefault, Turns: userTurns("hello")}, NewFrameWriter(&buf))

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `0:"Hel"`, lines[0])
	assert.Equal(t, `0:"lo"`, lines[1])
	assert.Equal(t, `e:{"finishReason":"stop","usage":{"promptTokens":10,"completionTokens":2},"isContinued":false}`, lines[2])
	assert.Equal(t, agents.OrchestratorAgentName, r.agent.Name)
}

func TestChatService_FailedEventEndsWithErrorFrame(t *testing.T) {
	r := &scriptedRunner{events: []runtime.Event{
		runtime.TextDelta{Text: "partial"},
		runtime.Failed{Err: errors.New("rate limited")},
	}}
	var buf bytes.Buffer

	err := newChatService(r).Stream(context.Background(), ChatRequest{Turns: userTurns("x")}, NewFrameWriter(&buf))

	require.NoError(t, err)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "0:\"partial\"\n"))
	assert.True(t, strings.HasSuffix(out, `"error":"rate limited"}`+"\n"))
	assert.Equal(t, 1, strings.Count(out, "e:"))
}

func TestChatService_PanicBecomesErrorFrame(t *testing.T) {
	r := &scriptedRunner{events: []runtime.Event{runtime.TextDelta{Text: "a"}}, panicMsg: "boom"}
	var buf bytes.Buffer

	err := newChatService(r).Stream(context.Background(), ChatRequest{Turns: userTurns("x")}, NewFrameWriter(&buf))

	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"finishReason":"error"`)
	assert.Contains(t, buf.String(), "boom")
	assert.Equal(t, 1, strings.Count(buf.String(), "e:"))
}

func TestChatService_MissingTerminalEventStillFinishes(t *testing.T) {
	r := &scriptedRunner{events: []runtime.Event{runtime.TextDelta{Text: "a"}}}
	var buf bytes.Buffer

	err := newChatService(r).Stream(context.Background(), ChatRequest{Turns: userTurns("x")}, NewFrameWriter(&buf))

	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(buf.String(), `"finishReason":"stop","usage":{"promptTokens":0,"completionTokens":0},"isContinued":false}`+"\n"))
}

func TestChatService_ClientGoneReturnsError(t *testing.T) {
	r := &scriptedRunner{events: []runtime.Event{
		runtime.TextDelta{Text: "a"},
		runtime.TextDelta{Text: "b"},
		runtime.Completed{},
	}}
	w := &failingWriter{n: 1}

	err := newChatService(r).Stream(context.Background(), ChatRequest{Turns: userTurns("x")}, NewFrameWriter(w))

	assert.Error(t, err)
	assert.Equal(t, "0:\"a\"\n", w.buf.String())
}

func TestChatService_ModeSelectsAgent(t *testing.T) {
	for mode, name := range map[models.ChatMode]string{
		models.ChatModeLawyer:    agents.LawyerAgentName,
		models.ChatModePlaintiff: agents.PlaintiffAgentName,
		models.ChatModeDefault:   agents.OrchestratorAgentName,
	} {
		r := &scriptedRunner{events: []runtime.Event{runtime.Completed{}}}
		var buf bytes.Buffer
		require.NoError(t, newChatService(r).Stream(context.Background(), ChatRequest{Mode: mode, Turns: userTurns("x")}, NewFrameWriter(&buf)))
		assert.Equal(t, name, r.agent.Name)
	}
}

func TestChatService_IntakeLookupOnlyForAdmin(t *testing.T) {
	catalog := agents.NewCatalog(agents.CatalogConfig{Model: "gpt-4.1", Intakes: newMemoryIntakes()})

	for _, admin := range []bool{false, true} {
		r := &scriptedRunner{events: []runtime.Event{runtime.Completed{}}}
		svc := newChatService(r, WithCatalog(catalog))
		var buf bytes.Buffer

		require.NoError(t, svc.Stream(context.Background(), ChatRequest{Turns: userTurns("list open intakes"), Admin: admin}, NewFrameWriter(&buf)))

		_, ok := r.agent.Tool(agents.IntakeLookupToolName)
		assert.Equal(t, admin, ok)
	}
}

func TestChatService_InjectsRetrievedContext(t *testing.T) {
	r := &scriptedRunner{events: []runtime.Event{runtime.Completed{}}}
	aug := &fakeAugmenter{block: "### lease.pdf (score: 0.912)\nterm"}
	svc := newChatService(r, WithAugmenter(aug))

	turns := []models.ConversationTurn{
		models.NewConversationTurn("user", "first", nil),
		models.NewConversationTurn("assistant", "reply", nil),
		models.NewConversationTurn("user", "what does the lease say?", []models.AttachmentRef{
			{Name: "lease.pdf", ContentType: "application/pdf", URL: "storage://attachments/ab/lease.pdf"},
			{Name: "note.txt", ContentType: "text/plain", URL: "data:text/plain;base64,aGk="},
		}),
	}
	req := ChatRequest{
		ChatID: "chat-9",
		Turns:  turns,
		Attachments: []models.AttachmentRef{
			{Name: "lease.pdf", ContentType: "application/pdf", URL: "storage://attachments/ab/lease.pdf"},
		},
	}
	var buf bytes.Buffer

	require.NoError(t, svc.Stream(context.Background(), req, NewFrameWriter(&buf)))

	assert.Equal(t, "chat-9", aug.chatID)
	assert.Equal(t, "what does the lease say?", aug.query)
	require.Len(t, aug.attachments, 1)
	require.Len(t, r.messages, 4)
	assert.Equal(t, models.RoleDeveloper, r.messages[2].Role)
	assert.True(t, strings.HasPrefix(r.messages[2].Content, retrieval.ContextHeader))
	assert.Equal(t, "what does the lease say?", r.messages[3].Content)
}

func TestChatService_NoChatIDSkipsRetrieval(t *testing.T) {
	r := &scriptedRunner{events: []runtime.Event{runtime.Completed{}}}
	aug := &fakeAugmenter{block: "should not appear"}
	var buf bytes.Buffer

	require.NoError(t, newChatService(r, WithAugmenter(aug)).Stream(context.Background(), ChatRequest{Turns: userTurns("x")}, NewFrameWriter(&buf)))

	assert.Empty(t, aug.query)
	assert.Len(t, r.messages, 1)
}

func TestChatService_NotConfigured(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, NewChatService().Stream(context.Background(), ChatRequest{}, NewFrameWriter(&buf)))

	assert.Contains(t, buf.String(), `"finishReason":"error"`)
}
