// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pdiddy/terafinder/pkg/types"
)

// tavilyAPIURL is the Tavily search endpoint. Declared as a var so tests
// can substitute an httptest server.
var tavilyAPIURL = "https://api.tavily.com/search"

// TavilyAdapter performs web search through the Tavily API.
type TavilyAdapter struct {
	Client     *http.Client
	APIKey     string
	UserAgent  string
	MaxResults int

	// Depth is Tavily's search depth, basic or advanced (default basic).
	Depth string
}

// Provider returns the web tag.
func (a *TavilyAdapter) Provider() types.Provider { return types.ProviderWeb }

// Name returns the adapter identifier.
func (a *TavilyAdapter) Name() string { return "tavily" }

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Retrieve posts the query to Tavily and maps each result to a webpage item.
func (a *TavilyAdapter) Retrieve(ctx context.Context, query types.Query) (types.EvidenceSet, error) {
	if strings.TrimSpace(a.APIKey) == "" {
		return types.EvidenceSet{}, errors.New("tavily: API key is missing")
	}
	if query.Content == "" {
		return types.EvidenceSet{}, errors.New("empty Tavily query")
	}

	depth := a.Depth
	if depth == "" {
		depth = "basic"
	}
	maxResults := maxOr(a.MaxResults, 5)

	payload, err := json.Marshal(map[string]any{
		"query":        query.Content,
		"api_key":      a.APIKey,
		"search_depth": depth,
		"max_results":  maxResults,
	})
	if err != nil {
		return types.EvidenceSet{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilyAPIURL, bytes.NewReader(payload))
	if err != nil {
		return types.EvidenceSet{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", a.UserAgent)

	var tr tavilyResponse
	if err := doJSON(a.Client, req, "Tavily", &tr); err != nil {
		return types.EvidenceSet{}, err
	}

	set := types.EvidenceSet{Items: []types.EvidenceItem{}}
	for _, r := range tr.Results {
		if len(set.Items) >= maxResults {
			break
		}
		set.Items = append(set.Items, types.EvidenceItem{
			ID:       "tavily_" + stableID(r.URL, r.Title),
			Provider: types.ProviderWeb,
			Kind:     types.KindWebpage,
			URL:      r.URL,
			Title:    r.Title,
			Excerpt:  strings.TrimSpace(r.Content),
			Metadata: map[string]any{"score": r.Score},
		})
	}
	return set, nil
}
