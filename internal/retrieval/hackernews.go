// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/terafinder/pkg/types"
)

// hnAlgoliaAPI is the Hacker News search endpoint. Declared as a var so
// tests can substitute an httptest server.
var hnAlgoliaAPI = "https://hn.algolia.com/api/v1/search"

const hnItemURL = "https://news.ycombinator.com/item?id="

// HackerNewsAdapter searches Hacker News stories through the Algolia API.
type HackerNewsAdapter struct {
	Client     *http.Client
	UserAgent  string
	MaxResults int
}

// Provider returns the social tag.
func (a *HackerNewsAdapter) Provider() types.Provider { return types.ProviderSocial }

// Name returns the adapter identifier.
func (a *HackerNewsAdapter) Name() string { return "hackernews" }

type hnAlgoliaResponse struct {
	Hits []hnHit `json:"hits"`
}

type hnHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	Points      int    `json:"points"`
	NumComments int    `json:"num_comments"`
	CreatedAt   string `json:"created_at"`
	StoryText   string `json:"story_text"`
}

// Retrieve searches stories and maps each hit to a social item. The item
// links to the discussion thread; the story's own URL goes in metadata.
func (a *HackerNewsAdapter) Retrieve(ctx context.Context, query types.Query) (types.EvidenceSet, error) {
	terms := significant(query.Content, 6)
	if len(terms) == 0 {
		return types.EvidenceSet{}, errors.New("empty Hacker News query")
	}

	params := url.Values{
		"query":       {strings.Join(terms, " ")},
		"tags":        {"story"},
		"hitsPerPage": {strconv.Itoa(maxOr(a.MaxResults, 5))},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hnAlgoliaAPI+"?"+params.Encode(), nil)
	if err != nil {
		return types.EvidenceSet{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.UserAgent)

	var hr hnAlgoliaResponse
	if err := doJSON(a.Client, req, "Hacker News", &hr); err != nil {
		return types.EvidenceSet{}, err
	}

	set := types.EvidenceSet{Items: []types.EvidenceItem{}}
	for _, hit := range hr.Hits {
		excerpt := collapseSpace(stripHTML(hit.StoryText))
		if excerpt == "" {
			excerpt = fmt.Sprintf("%s (%d points, %d comments)", hit.Title, hit.Points, hit.NumComments)
		}

		meta := map[string]any{
			"author":     hit.Author,
			"points":     hit.Points,
			"comments":   hit.NumComments,
			"created_at": hit.CreatedAt,
		}
		if hit.URL != "" {
			meta["story_url"] = hit.URL
		}

		set.Items = append(set.Items, types.EvidenceItem{
			ID:       "hn_" + hit.ObjectID,
			Provider: types.ProviderSocial,
			Kind:     types.KindSocial,
			URL:      hnItemURL + hit.ObjectID,
			Title:    hit.Title,
			Excerpt:  excerpt,
			Metadata: meta,
		})
	}
	return set, nil
}
