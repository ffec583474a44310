package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// SearchResult is one hit returned by a web search provider
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearcher queries a web search API
type WebSearcher interface {
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}

// SearchProvider names a supported web search API
type SearchProvider string

const (
	SerperProvider SearchProvider = "serper"
	BraveProvider  SearchProvider = "brave"
)

// ErrUnsupportedProvider is returned for unknown search provider names
var ErrUnsupportedProvider = errors.New("unsupported web search provider")

// NewWebSearcher creates a searcher for the given provider
func NewWebSearcher(provider SearchProvider, apiKey string, client *http.Client) (WebSearcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	switch provider {
	case SerperProvider:
		return &SerperSearch{APIKey: apiKey, Endpoint: "https://google.serper.dev/search", Client: client}, nil
	case BraveProvider:
		return &BraveSearch{APIKey: apiKey, Endpoint: "https://api.search.brave.com/res/v1/web/search", Client: client}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}

// SerperSearch queries the serper.dev Google search API
type SerperSearch struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func (s *SerperSearch) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]any{"q": query, "num": k})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := doJSON(s.Client, req, &raw); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(raw.Organic))
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

// BraveSearch queries the Brave web search API
type BraveSearch struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func (s *BraveSearch) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", s.Endpoint, url.QueryEscape(query), k)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.APIKey)

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := doJSON(s.Client, req, &raw); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(raw.Web.Results))
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

func doJSON(client *http.Client, req *http.Request, v any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("search API error: %s (%s)", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// WebSearchTool exposes a WebSearcher to agents
type WebSearchTool struct {
	searcher   WebSearcher
	maxResults int
}

// NewWebSearchTool creates the web search tool
func NewWebSearchTool(searcher WebSearcher, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{searcher: searcher, maxResults: maxResults}
}

func (t *WebSearchTool) Name() string { return WebSearchToolName }

func (t *WebSearchTool) Description() string {
	return "Search the web for statutes, case law, filing deadlines and law firms. Returns titles, URLs and snippets to cite."
}

func (t *WebSearchTool) Parameters() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"query": {Type: jsonschema.String, Description: "Search query"},
		},
		Required: []string{"query"},
	}
}

// Call runs the search and renders the hits as a numbered list
func (t *WebSearchTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("%w: query is required", ErrInvalidArguments)
	}

	results, err := t.searcher.Search(ctx, in.Query, t.maxResults)
	if err != nil {
		return "", fmt.Errorf("web search failed: %w", err)
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String(), nil
}
