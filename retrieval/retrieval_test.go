package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"legalchat-backend/agents"
	"legalchat-backend/extractor"
	"legalchat-backend/models"
	"legalchat-backend/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbed is a deterministic bag-of-words embedding
func hashEmbed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,:;!?")))
		v[h.Sum32()%64]++
	}
	v[0] += 0.01
	return normalize(v), nil
}

type fakeExtractor struct {
	texts map[string]string
	calls atomic.Int32
}

func (f *fakeExtractor) Document(ctx context.Context, name, mediaType, locator string, maxChars int) (extractor.Result, error) {
	f.calls.Add(1)
	if !extractor.KindOf(mediaType).Readable() {
		return extractor.Result{}, extractor.ErrUnsupportedType
	}
	text, ok := f.texts[locator]
	if !ok {
		return extractor.Result{}, errors.New("status 404")
	}
	return extractor.Result{SourceName: name, MediaType: mediaType, Text: text}, nil
}

type fakeInvoker struct {
	out   string
	err   error
	input string
}

func (f *fakeInvoker) Invoke(ctx context.Context, agent *agents.Agent, input string) (string, error) {
	f.input = input
	return f.out, f.err
}

func newChromem(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore("", hashEmbed)
	require.NoError(t, err)
	return s
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, ChunkText("a", "   ", 10, 2))

	one := ChunkText("a", "short text", 100, 10)
	require.Len(t, one, 1)
	assert.Equal(t, Chunk{Source: "a", Seq: 0, Text: "short text"}, one[0])

	text := strings.Repeat("word ", 50) + "\n\n" + strings.Repeat("more ", 50)
	chunks := ChunkText("b", text, 120, 20)
	require.Greater(t, len(chunks), 2)
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		assert.LessOrEqual(t, len([]rune(c.Text)), 120)
		assert.NotEmpty(t, c.Text)
	}
}

func TestChunkText_PrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 70) + "\n\n" + strings.Repeat("b", 70)

	chunks := ChunkText("x", text, 100, 0)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 70), chunks[0].Text)
	assert.Equal(t, strings.Repeat("b", 70), chunks[1].Text)
}

func TestFormatHits(t *testing.T) {
	assert.Equal(t, "", FormatHits(nil))

	out := FormatHits([]Hit{
		{Source: "contract.pdf", Score: 0.8734, Fragments: []string{"clause 1", "clause 2"}},
		{Source: "", Score: 0.5, Fragments: []string{"x"}},
	})

	assert.Equal(t, "### contract.pdf (score: 0.873)\nclause 1\nclause 2\n\n### unknown (score: 0.500)\nx", out)
}

func TestGroupMatches(t *testing.T) {
	hits := groupMatches([]Match{
		{Source: "a", Text: "a1", Score: 0.9},
		{Source: "b", Text: "b1", Score: 0.8},
		{Source: "a", Text: "a2", Score: 0.7},
	})

	require.Len(t, hits, 2)
	assert.Equal(t, Hit{Source: "a", Score: 0.9, Fragments: []string{"a1", "a2"}}, hits[0])
	assert.Equal(t, "b", hits[1].Source)
}

func TestInject(t *testing.T) {
	msgs := []runtime.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "reply"},
		{Role: models.RoleUser, Content: "latest"},
	}

	assert.Equal(t, msgs, Inject(msgs, ""))

	out := Inject(msgs, "### a (score: 0.900)\ntext")
	require.Len(t, out, 4)
	assert.Equal(t, models.RoleDeveloper, out[2].Role)
	assert.True(t, strings.HasPrefix(out[2].Content, ContextHeader))
	assert.Equal(t, "latest", out[3].Content)
	assert.Len(t, msgs, 3)
}

func TestMemoryRegistry_PutIfAbsent(t *testing.T) {
	r := NewMemoryRegistry(0, nil)
	ctx := context.Background()

	id, created, err := r.PutIfAbsent(ctx, "chat", "idx-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "idx-1", id)

	id, created, err = r.PutIfAbsent(ctx, "chat", "idx-2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "idx-1", id)

	got, ok, err := r.Get(ctx, "chat")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "idx-1", got)
}

func TestMemoryRegistry_ExpiryEvicts(t *testing.T) {
	var evicted []string
	r := NewMemoryRegistry(time.Minute, func(id string) { evicted = append(evicted, id) })
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, _ = r.PutIfAbsent(ctx, "a", "idx-a")
	_, _, _ = r.PutIfAbsent(ctx, "b", "idx-b")

	now = now.Add(30 * time.Second)
	_, ok, _ := r.Get(ctx, "a") // refreshes a
	assert.True(t, ok)

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, []string{"idx-b"}, evicted)

	now = now.Add(2 * time.Minute)
	_, ok, _ = r.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, []string{"idx-b", "idx-a"}, evicted)
	assert.Equal(t, 0, r.Len())
}

// countingStore wraps a store and counts index creations
type countingStore struct {
	VectorStore
	created atomic.Int32
	deleted atomic.Int32
	gate    chan struct{}
}

func (s *countingStore) CreateIndex(ctx context.Context) (string, error) {
	s.created.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.VectorStore.CreateIndex(ctx)
}

func (s *countingStore) DeleteIndex(ctx context.Context, id string) error {
	s.deleted.Add(1)
	return s.VectorStore.DeleteIndex(ctx, id)
}

func TestEnsureIndex_ConcurrentFirstRequestsShareOneIndex(t *testing.T) {
	store := &countingStore{VectorStore: newChromem(t), gate: make(chan struct{})}
	a := NewAugmenter(store, NewMemoryRegistry(0, nil), &fakeExtractor{})

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := a.EnsureIndex(context.Background(), "chat-1")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int32(1), store.created.Load())
}

// racingRegistry always reports that another instance won the registration
type racingRegistry struct {
	winner string
}

func (r *racingRegistry) Get(ctx context.Context, conversationID string) (string, bool, error) {
	return "", false, nil
}

func (r *racingRegistry) PutIfAbsent(ctx context.Context, conversationID, indexID string) (string, bool, error) {
	return r.winner, false, nil
}

func TestEnsureIndex_LostRaceDropsRedundantIndex(t *testing.T) {
	store := &countingStore{VectorStore: newChromem(t)}
	a := NewAugmenter(store, &racingRegistry{winner: "conv-other"}, &fakeExtractor{})

	id, err := a.EnsureIndex(context.Background(), "chat")

	require.NoError(t, err)
	assert.Equal(t, "conv-other", id)
	assert.Equal(t, int32(1), store.deleted.Load())
}

func TestAugment_IngestsAndSearches(t *testing.T) {
	ex := &fakeExtractor{texts: map[string]string{
		"storage://attachments/ab/facts.txt": "The landlord kept the security deposit of 2000 dollars after move out.",
		"storage://attachments/cd/other.txt": "Unrelated notes about parking permits.",
	}}
	store := newChromem(t)
	a := NewAugmenter(store, NewMemoryRegistry(0, nil), ex, WithMaxResults(1))
	atts := []models.AttachmentRef{
		{Name: "facts.txt", ContentType: "text/plain", URL: "storage://attachments/ab/facts.txt"},
		{Name: "other.txt", ContentType: "text/plain", URL: "storage://attachments/cd/other.txt"},
		{Name: "scan.png", ContentType: "image/png", URL: "storage://attachments/ef/scan.png"},
	}

	block := a.Augment(context.Background(), "chat-1", atts, "security deposit landlord")

	assert.True(t, strings.HasPrefix(block, "### facts.txt (score: "), block)
	assert.Contains(t, block, "security deposit")
	assert.Equal(t, int32(3), ex.calls.Load())

	// Already ingested files are not fetched again
	a.Augment(context.Background(), "chat-1", atts[:2], "deposit")
	assert.Equal(t, int32(3), ex.calls.Load())
}

func TestAugment_SameNameNewLocatorIsIngested(t *testing.T) {
	ex := &fakeExtractor{texts: map[string]string{
		"storage://attachments/a1/contract.pdf": "The lease term is twelve months starting in March.",
		"storage://attachments/b2/contract.pdf": "The employment agreement has a non compete clause for two years.",
	}}
	a := NewAugmenter(newChromem(t), NewMemoryRegistry(0, nil), ex, WithMaxResults(1))
	ctx := context.Background()

	first := a.Augment(ctx, "chat-1", []models.AttachmentRef{
		{Name: "contract.pdf", ContentType: "application/pdf", URL: "storage://attachments/a1/contract.pdf"},
	}, "lease term")
	assert.Contains(t, first, "twelve months")

	second := a.Augment(ctx, "chat-1", []models.AttachmentRef{
		{Name: "contract.pdf", ContentType: "application/pdf", URL: "storage://attachments/b2/contract.pdf"},
	}, "non compete clause employment")

	assert.Equal(t, int32(2), ex.calls.Load())
	assert.True(t, strings.HasPrefix(second, "### contract.pdf (score: "), second)
	assert.Contains(t, second, "non compete clause")
}

func TestSourceKey(t *testing.T) {
	assert.Equal(t, SourceKey("storage://a/x.pdf"), SourceKey("storage://a/x.pdf"))
	assert.NotEqual(t, SourceKey("storage://a/x.pdf"), SourceKey("storage://b/x.pdf"))
}

func TestAugment_EmptyCases(t *testing.T) {
	ex := &fakeExtractor{texts: map[string]string{"u": "some text"}}
	a := NewAugmenter(newChromem(t), NewMemoryRegistry(0, nil), ex)
	atts := []models.AttachmentRef{{Name: "a.txt", ContentType: "text/plain", URL: "u"}}

	assert.Equal(t, "", a.Augment(context.Background(), "", atts, "query"))
	assert.Equal(t, "", a.Augment(context.Background(), "chat", atts, "  "))
	assert.Equal(t, "", a.Augment(context.Background(), "chat-2", nil, "query"))
}

type failingStore struct {
	VectorStore
}

func (failingStore) Search(ctx context.Context, id, query string, k int) ([]Match, error) {
	return nil, errors.New("vector backend down")
}

func (failingStore) CreateIndex(ctx context.Context) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestAugment_FailuresDegradeToEmpty(t *testing.T) {
	ex := &fakeExtractor{texts: map[string]string{"u": "some text"}}
	atts := []models.AttachmentRef{{Name: "a.txt", ContentType: "text/plain", URL: "u"}}

	a := NewAugmenter(failingStore{VectorStore: newChromem(t)}, NewMemoryRegistry(0, nil), ex)
	assert.Equal(t, "", a.Augment(context.Background(), "chat", atts, "query"))

	reg := NewMemoryRegistry(0, nil)
	_, _, _ = reg.PutIfAbsent(context.Background(), "chat", "conv-existing")
	a = NewAugmenter(failingStore{VectorStore: newChromem(t)}, reg, ex)
	assert.Equal(t, "", a.Augment(context.Background(), "chat", atts, "query"))
}

func TestSearch_UsesRewrittenQuery(t *testing.T) {
	store := newChromem(t)
	id, err := store.CreateIndex(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Add(context.Background(), id, ChunkText("lease.txt", "lease termination notice period", 100, 0)))

	inv := &fakeInvoker{out: "lease termination"}
	a := NewAugmenter(store, NewMemoryRegistry(0, nil), &fakeExtractor{},
		WithQueryRewriter(inv, agents.NewQueryRewriterAgent("gpt-4.1")))

	hits, err := a.Search(context.Background(), id, "can i end my lease early?")

	require.NoError(t, err)
	assert.Equal(t, "can i end my lease early?", inv.input)
	require.Len(t, hits, 1)
	assert.Equal(t, "lease.txt", hits[0].Source)

	inv.err = errors.New("rewriter down")
	_, err = a.Search(context.Background(), id, "lease")
	assert.NoError(t, err)
}

func TestChromemStore_HasSourceAndDelete(t *testing.T) {
	store := newChromem(t)
	ctx := context.Background()
	id, err := store.CreateIndex(ctx)
	require.NoError(t, err)

	has, err := store.HasSource(ctx, id, "a.txt")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.Add(ctx, id, []Chunk{{Source: "a.txt", Seq: 0, Text: "hello world"}}))
	has, err = store.HasSource(ctx, id, "a.txt")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, store.DeleteIndex(ctx, id))
	_, err = store.HasSource(ctx, id, "a.txt")
	assert.ErrorIs(t, err, ErrIndexNotFound)

	require.NoError(t, store.OpenIndex(ctx, id))
	matches, err := store.Search(ctx, id, "hello", 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
