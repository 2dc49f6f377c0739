// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/terafinder/internal/httputil"
	"github.com/pdiddy/terafinder/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// ArxivAdapter queries the arXiv API for preprints.
type ArxivAdapter struct {
	Client     *http.Client
	UserAgent  string
	MaxResults int
}

// Provider returns the academic tag.
func (a *ArxivAdapter) Provider() types.Provider { return types.ProviderAcademic }

// Name returns the adapter identifier.
func (a *ArxivAdapter) Name() string { return "arxiv" }

// Retrieve searches arXiv and maps each Atom entry to an academic item.
func (a *ArxivAdapter) Retrieve(ctx context.Context, query types.Query) (types.EvidenceSet, error) {
	q := buildArxivQuery(query.Content)
	if q == "" {
		return types.EvidenceSet{}, errors.New("empty arXiv query")
	}

	reqURL := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=relevance&sortOrder=descending",
		arxivAPIBase, q, maxOr(a.MaxResults, 5))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.EvidenceSet{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, a.Client, req, 0)
	if err != nil {
		return types.EvidenceSet{}, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.EvidenceSet{}, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return types.EvidenceSet{}, fmt.Errorf("parsing arXiv response: %w", err)
	}

	set := types.EvidenceSet{Items: []types.EvidenceItem{}}
	for _, entry := range feed.Entries {
		arxivID := extractArxivID(entry.ID)
		if arxivID == "" {
			continue
		}

		var authors []string
		for _, au := range entry.Authors {
			authors = append(authors, strings.TrimSpace(au.Name))
		}

		set.Items = append(set.Items, types.EvidenceItem{
			ID:       "arxiv_" + arxivID,
			Provider: types.ProviderAcademic,
			Kind:     types.KindAcademic,
			URL:      "https://arxiv.org/abs/" + arxivID,
			Title:    collapseSpace(entry.Title),
			Excerpt:  collapseSpace(entry.Summary),
			Metadata: map[string]any{
				"source":    "arxiv",
				"authors":   authors,
				"published": entry.Published,
			},
		})
	}
	return set, nil
}

// buildArxivQuery turns free text into the search_query parameter, one
// all: clause per significant keyword joined with AND. Long questions are
// cut to their first four keywords so the conjunction still matches.
func buildArxivQuery(text string) string {
	terms := significant(text, 4)
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = "all:" + url.QueryEscape(t)
	}
	return strings.Join(parts, "+AND+")
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []arxivAuthor `xml:"author"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" becomes "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
