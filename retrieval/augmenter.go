package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"legalchat-backend/agents"
	"legalchat-backend/extractor"
	"legalchat-backend/metrics"
	"legalchat-backend/models"
	"legalchat-backend/runtime"

	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxResults     = 5
	defaultTimeout        = 30 * time.Second
	defaultChunkSize      = 2000
	defaultChunkOverlap   = 200
	defaultIngestMaxChars = 500000
)

// ContextHeader starts the developer turn that carries retrieved excerpts
const ContextHeader = "Relevant excerpts from uploaded files:"

// Extractor reads the full text of an attachment
type Extractor interface {
	Document(ctx context.Context, name, mediaType, locator string, maxChars int) (extractor.Result, error)
}

// Hit is the search result for one source file
type Hit struct {
	Source    string
	Score     float32
	Fragments []string
}

// Augmenter keeps one vector index per conversation and turns the latest
// user query into a block of retrieved context
type Augmenter struct {
	store     VectorStore
	registry  Registry
	extractor Extractor
	logger    *slog.Logger

	invoker  agents.Invoker
	rewriter *agents.Agent

	maxResults     int
	timeout        time.Duration
	chunkSize      int
	chunkOverlap   int
	ingestMaxChars int

	group singleflight.Group
}

// Option configures an Augmenter
type Option func(*Augmenter)

// WithQueryRewriter rewrites queries with the given agent before searching
func WithQueryRewriter(invoker agents.Invoker, agent *agents.Agent) Option {
	return func(a *Augmenter) {
		a.invoker = invoker
		a.rewriter = agent
	}
}

// WithMaxResults caps the number of chunks fetched per search
func WithMaxResults(n int) Option {
	return func(a *Augmenter) {
		if n > 0 {
			a.maxResults = n
		}
	}
}

// WithTimeout bounds a whole Augment call
func WithTimeout(d time.Duration) Option {
	return func(a *Augmenter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithChunkSize sets the chunk size and overlap in characters
func WithChunkSize(size, overlap int) Option {
	return func(a *Augmenter) {
		if size > 0 && overlap >= 0 && overlap < size {
			a.chunkSize = size
			a.chunkOverlap = overlap
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(a *Augmenter) {
		a.logger = l
	}
}

// NewAugmenter creates an Augmenter
func NewAugmenter(store VectorStore, registry Registry, ex Extractor, opts ...Option) *Augmenter {
	a := &Augmenter{
		store:          store,
		registry:       registry,
		extractor:      ex,
		logger:         slog.Default(),
		maxResults:     defaultMaxResults,
		timeout:        defaultTimeout,
		chunkSize:      defaultChunkSize,
		chunkOverlap:   defaultChunkOverlap,
		ingestMaxChars: defaultIngestMaxChars,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Augment returns the formatted context block for query, or "" when there is
// nothing to add. Every failure is logged and yields "".
func (a *Augmenter) Augment(ctx context.Context, conversationID string, attachments []models.AttachmentRef, query string) string {
	if conversationID == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	logger := a.logger.With("chat_id", conversationID)

	indexID, err := a.EnsureIndex(ctx, conversationID)
	if err != nil {
		logger.Warn("Could not ensure vector index", "error", err)
		return ""
	}

	a.Ingest(ctx, indexID, attachments)

	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	hits, err := a.Search(ctx, indexID, query)
	if err != nil {
		logger.Warn("Vector search failed", "index", indexID, "error", err)
		return ""
	}
	logger.Info("Retrieved context", "index", indexID, "hits", len(hits))
	return FormatHits(hits)
}

// EnsureIndex returns the conversation's index, creating and registering one
// on first use. Concurrent callers for the same conversation share one
// creation; a creation that loses the registry race is deleted.
func (a *Augmenter) EnsureIndex(ctx context.Context, conversationID string) (string, error) {
	v, err, _ := a.group.Do(conversationID, func() (any, error) {
		return a.ensureIndex(ctx, conversationID)
	})
	metrics.RetrievalOps.WithLabelValues("ensure_index", metrics.Status(err)).Inc()
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Augmenter) ensureIndex(ctx context.Context, conversationID string) (string, error) {
	id, ok, err := a.registry.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if ok {
		if err := a.store.OpenIndex(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	}

	id, err = a.store.CreateIndex(ctx)
	if err != nil {
		return "", err
	}
	winner, created, err := a.registry.PutIfAbsent(ctx, conversationID, id)
	if err != nil {
		a.dropIndex(id)
		return "", err
	}
	if !created {
		a.logger.Info("Lost vector index registration race", "chat_id", conversationID, "kept", winner, "dropped", id)
		a.dropIndex(id)
		if err := a.store.OpenIndex(ctx, winner); err != nil {
			return "", err
		}
		return winner, nil
	}

	a.logger.Info("Created vector index", "chat_id", conversationID, "index", id)
	return id, nil
}

func (a *Augmenter) dropIndex(id string) {
	if err := a.store.DeleteIndex(context.Background(), id); err != nil {
		a.logger.Warn("Could not delete vector index", "index", id, "error", err)
	}
}

// Ingest extracts, chunks and adds every attachment not yet in the index.
// It returns once all additions finished. Failures skip the attachment.
func (a *Augmenter) Ingest(ctx context.Context, indexID string, attachments []models.AttachmentRef) int {
	added := 0
	for _, att := range attachments {
		if att.URL == "" {
			continue
		}
		name := att.Name
		if name == "" {
			name = "file"
		}

		seen, err := a.store.HasSource(ctx, indexID, SourceKey(att.URL))
		if err != nil {
			a.logger.Warn("Could not check ingested files", "index", indexID, "error", err)
			continue
		}
		if seen {
			continue
		}

		err = a.ingestOne(ctx, indexID, name, att)
		metrics.RetrievalOps.WithLabelValues("ingest", metrics.Status(err)).Inc()
		if err != nil {
			if errors.Is(err, extractor.ErrUnsupportedType) {
				a.logger.Debug("Skipping attachment for retrieval", "file", name, "content_type", att.ContentType)
			} else {
				a.logger.Warn("Could not ingest attachment", "file", name, "index", indexID, "error", err)
			}
			continue
		}
		added++
	}
	return added
}

func (a *Augmenter) ingestOne(ctx context.Context, indexID, name string, att models.AttachmentRef) error {
	res, err := a.extractor.Document(ctx, name, att.ContentType, att.URL, a.ingestMaxChars)
	if err != nil {
		return err
	}
	chunks := ChunkText(name, res.Text, a.chunkSize, a.chunkOverlap)
	if len(chunks) == 0 {
		return fmt.Errorf("no text extracted from %s", name)
	}
	key := SourceKey(att.URL)
	for i := range chunks {
		chunks[i].Key = key
	}
	if err := a.store.Add(ctx, indexID, chunks); err != nil {
		return err
	}
	a.logger.Info("Ingested attachment", "file", name, "index", indexID, "chunks", len(chunks))
	return nil
}

// Search runs a semantic search and groups the matches by source file,
// keeping the order of each file's best match
func (a *Augmenter) Search(ctx context.Context, indexID, query string) ([]Hit, error) {
	q := a.rewrite(ctx, query)
	matches, err := a.store.Search(ctx, indexID, q, a.maxResults)
	metrics.RetrievalOps.WithLabelValues("search", metrics.Status(err)).Inc()
	if err != nil {
		return nil, err
	}
	return groupMatches(matches), nil
}

func (a *Augmenter) rewrite(ctx context.Context, query string) string {
	if a.invoker == nil || a.rewriter == nil {
		return query
	}
	out, err := a.invoker.Invoke(ctx, a.rewriter, query)
	if err != nil {
		a.logger.Warn("Query rewrite failed, using original query", "error", err)
		return query
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return query
	}
	return out
}

func groupMatches(matches []Match) []Hit {
	var hits []Hit
	index := make(map[string]int)
	for _, m := range matches {
		text := strings.TrimSpace(m.Text)
		i, ok := index[m.Source]
		if !ok {
			index[m.Source] = len(hits)
			hits = append(hits, Hit{Source: m.Source, Score: m.Score})
			i = len(hits) - 1
		}
		if m.Score > hits[i].Score {
			hits[i].Score = m.Score
		}
		if text != "" {
			hits[i].Fragments = append(hits[i].Fragments, text)
		}
	}
	return hits
}

// FormatHits renders hits as markdown headings followed by their text.
// It returns "" for no hits.
func FormatHits(hits []Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		source := h.Source
		if source == "" {
			source = "unknown"
		}
		text := strings.TrimSpace(strings.Join(h.Fragments, "\n"))
		parts = append(parts, fmt.Sprintf("### %s (score: %.3f)\n%s", source, h.Score, text))
	}
	return strings.Join(parts, "\n\n")
}

// Inject places the context block as a developer turn right before the last
// user turn. An empty block leaves messages untouched.
func Inject(messages []runtime.Message, block string) []runtime.Message {
	if block == "" {
		return messages
	}
	turn := runtime.Message{Role: models.RoleDeveloper, Content: ContextHeader + "\n\n" + block}

	at := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			at = i
			break
		}
	}

	out := make([]runtime.Message, 0, len(messages)+1)
	out = append(out, messages[:at]...)
	out = append(out, turn)
	out = append(out, messages[at:]...)
	return out
}

// ChunkText splits text into rune-bounded chunks of at most size characters,
// overlapping by overlap characters. Breaks prefer paragraph then line ends.
func ChunkText(source, text string, size, overlap int) []Chunk {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []Chunk
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakPoint(runes, start, end)
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, Chunk{Source: source, Seq: len(chunks), Text: piece})
		}
		if end == len(runes) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint moves end back to the last paragraph or line break in the
// second half of the window, if any
func breakPoint(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for _, sep := range []string{"\n\n", "\n"} {
		sr := []rune(sep)
		for i := end - len(sr); i >= floor; i-- {
			if string(runes[i:i+len(sr)]) == sep {
				return i + len(sr)
			}
		}
	}
	return end
}
