// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pdiddy/terafinder/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const semanticFields = "title,abstract,tldr,url,authors,externalIds,year,venue,citationCount"

// SemanticScholarAdapter queries the Semantic Scholar API. The API key is
// optional; without it requests use the shared rate limit.
type SemanticScholarAdapter struct {
	Client     *http.Client
	APIKey     string
	UserAgent  string
	MaxResults int
}

// Provider returns the academic tag.
func (a *SemanticScholarAdapter) Provider() types.Provider { return types.ProviderAcademic }

// Name returns the adapter identifier.
func (a *SemanticScholarAdapter) Name() string { return "semantic_scholar" }

// Retrieve searches Semantic Scholar and maps each paper to an academic item.
// Papers without an abstract fall back to the TLDR, then the title.
func (a *SemanticScholarAdapter) Retrieve(ctx context.Context, query types.Query) (types.EvidenceSet, error) {
	if query.Content == "" {
		return types.EvidenceSet{}, errors.New("empty Semantic Scholar query")
	}

	params := url.Values{
		"query":  {query.Content},
		"limit":  {strconv.Itoa(maxOr(a.MaxResults, 5))},
		"fields": {semanticFields},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return types.EvidenceSet{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.UserAgent)
	if a.APIKey != "" {
		req.Header.Set("x-api-key", a.APIKey)
	}

	var sr semanticResponse
	if err := doJSON(a.Client, req, "Semantic Scholar", &sr); err != nil {
		return types.EvidenceSet{}, err
	}

	set := types.EvidenceSet{Items: []types.EvidenceItem{}}
	for _, paper := range sr.Data {
		excerpt := paper.Abstract
		if excerpt == "" && paper.TLDR != nil {
			excerpt = paper.TLDR.Text
		}
		if excerpt == "" {
			excerpt = paper.Title
		}

		var authors []string
		for _, au := range paper.Authors {
			authors = append(authors, au.Name)
		}

		meta := map[string]any{
			"source":         "semantic_scholar",
			"authors":        authors,
			"citation_count": paper.CitationCount,
		}
		if paper.Year > 0 {
			meta["year"] = paper.Year
		}
		if paper.Venue != "" {
			meta["venue"] = paper.Venue
		}
		if paper.ExternalIDs.DOI != "" {
			meta["doi"] = paper.ExternalIDs.DOI
		}
		if paper.ExternalIDs.ArXiv != "" {
			meta["arxiv_id"] = paper.ExternalIDs.ArXiv
		}

		set.Items = append(set.Items, types.EvidenceItem{
			ID:       "s2_" + paper.PaperID,
			Provider: types.ProviderAcademic,
			Kind:     types.KindAcademic,
			URL:      paper.URL,
			Title:    paper.Title,
			Excerpt:  excerpt,
			Metadata: meta,
		})
	}
	return set, nil
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Data   []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID       string              `json:"paperId"`
	Title         string              `json:"title"`
	Abstract      string              `json:"abstract"`
	TLDR          *semanticTLDR       `json:"tldr"`
	URL           string              `json:"url"`
	Year          int                 `json:"year"`
	Venue         string              `json:"venue"`
	CitationCount int                 `json:"citationCount"`
	Authors       []semanticAuthor    `json:"authors"`
	ExternalIDs   semanticExternalIDs `json:"externalIds"`
}

type semanticTLDR struct {
	Text string `json:"text"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}
