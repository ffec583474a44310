package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// ErrIndexNotFound is returned when an index id is unknown to the store
var ErrIndexNotFound = errors.New("vector index not found")

const (
	metaSource = "source"
	metaSeq    = "seq"

	indexPrefix     = "conv-"
	addConcurrency  = 4
	defaultEmbedder = "text-embedding-3-small"
)

// Chunk is one piece of an ingested file. Source is the display name and
// Key identifies the file itself; two uploads sharing a name have different keys.
type Chunk struct {
	Source string
	Key    string
	Seq    int
	Text   string
}

// Match is one chunk returned by a search
type Match struct {
	Source string
	Seq    int
	Text   string
	Score  float32
}

// VectorStore holds one index per conversation
type VectorStore interface {
	CreateIndex(ctx context.Context) (string, error)
	// OpenIndex makes an index known to the registry usable on this store,
	// creating it empty when it is missing locally
	OpenIndex(ctx context.Context, id string) error
	DeleteIndex(ctx context.Context, id string) error
	HasSource(ctx context.Context, id, key string) (bool, error)
	Add(ctx context.Context, id string, chunks []Chunk) error
	Search(ctx context.Context, id, query string, k int) ([]Match, error)
}

// ChromemStore implements VectorStore using chromem-go collections
type ChromemStore struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
}

// NewChromemStore creates a store. An empty dir keeps everything in memory.
func NewChromemStore(dir string, embed chromem.EmbeddingFunc) (*ChromemStore, error) {
	if dir == "" {
		return &ChromemStore{db: chromem.NewDB(), embed: embed}, nil
	}
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	return &ChromemStore{db: db, embed: embed}, nil
}

func (s *ChromemStore) CreateIndex(ctx context.Context) (string, error) {
	id := indexPrefix + uuid.NewString()
	if _, err := s.db.CreateCollection(id, nil, s.embed); err != nil {
		return "", fmt.Errorf("create collection: %w", err)
	}
	return id, nil
}

func (s *ChromemStore) OpenIndex(ctx context.Context, id string) error {
	if _, err := s.db.GetOrCreateCollection(id, nil, s.embed); err != nil {
		return fmt.Errorf("open collection %s: %w", id, err)
	}
	return nil
}

func (s *ChromemStore) DeleteIndex(ctx context.Context, id string) error {
	if err := s.db.DeleteCollection(id); err != nil {
		return fmt.Errorf("delete collection %s: %w", id, err)
	}
	return nil
}

func (s *ChromemStore) collection(id string) (*chromem.Collection, error) {
	col := s.db.GetCollection(id, s.embed)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, id)
	}
	return col, nil
}

// HasSource reports whether the file with the given key has already been
// ingested into the index. The first chunk of every file has a deterministic id.
func (s *ChromemStore) HasSource(ctx context.Context, id, key string) (bool, error) {
	col, err := s.collection(id)
	if err != nil {
		return false, err
	}
	if _, err := col.GetByID(ctx, chunkID(key, 0)); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *ChromemStore) Add(ctx context.Context, id string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	col, err := s.collection(id)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:      chunkID(c.sourceKey(), c.Seq),
			Content: c.Text,
			Metadata: map[string]string{
				metaSource: c.Source,
				metaSeq:    strconv.Itoa(c.Seq),
			},
		}
	}
	return col.AddDocuments(ctx, docs, addConcurrency)
}

func (s *ChromemStore) Search(ctx context.Context, id, query string, k int) ([]Match, error) {
	col, err := s.collection(id)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k <= 0 || k > count {
		k = count
	}

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		seq, _ := strconv.Atoi(r.Metadata[metaSeq])
		matches[i] = Match{
			Source: r.Metadata[metaSource],
			Seq:    seq,
			Text:   r.Content,
			Score:  r.Similarity,
		}
	}
	return matches, nil
}

func (c Chunk) sourceKey() string {
	if c.Key != "" {
		return c.Key
	}
	return c.Source
}

func chunkID(key string, seq int) string {
	return fmt.Sprintf("%s#%d", key, seq)
}

// SourceKey derives the ingestion key of an attachment from its locator
func SourceKey(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return "src-" + hex.EncodeToString(sum[:12])
}

// NewOpenAIEmbeddingFunc embeds through the OpenAI embeddings API or a
// compatible gateway
func NewOpenAIEmbeddingFunc(apiKey, baseURL, model string) chromem.EmbeddingFunc {
	if baseURL == "" {
		baseURL = chromem.BaseURLOpenAI
	}
	if model == "" {
		model = defaultEmbedder
	}
	normalized := true
	return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, &normalized)
}

// NewGeminiEmbeddingFunc embeds with a Gemini embedding model
func NewGeminiEmbeddingFunc(client *genai.Client, model string) chromem.EmbeddingFunc {
	em := client.EmbeddingModel(model)
	return func(ctx context.Context, text string) ([]float32, error) {
		res, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, fmt.Errorf("gemini embed: %w", err)
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return nil, errors.New("gemini returned an empty embedding")
		}
		return normalize(res.Embedding.Values), nil
	}
}

// normalize scales v to unit length; chromem compares by dot product
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

var _ VectorStore = (*ChromemStore)(nil)
