// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/terafinder/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

// OpenAlexAdapter queries the OpenAlex API for scholarly works.
type OpenAlexAdapter struct {
	Client *http.Client
	// Email is sent as mailto parameter for polite pool access.
	Email      string
	UserAgent  string
	MaxResults int
}

// Provider returns the academic tag.
func (a *OpenAlexAdapter) Provider() types.Provider { return types.ProviderAcademic }

// Name returns the adapter identifier.
func (a *OpenAlexAdapter) Name() string { return "openalex" }

// Retrieve searches OpenAlex and maps each work to an academic item.
func (a *OpenAlexAdapter) Retrieve(ctx context.Context, query types.Query) (types.EvidenceSet, error) {
	if query.Content == "" {
		return types.EvidenceSet{}, errors.New("empty OpenAlex query")
	}

	params := url.Values{
		"search":   {query.Content},
		"per_page": {strconv.Itoa(min(maxOr(a.MaxResults, 5), 200))},
		"page":     {"1"},
	}
	if a.Email != "" {
		params.Set("mailto", a.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return types.EvidenceSet{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.UserAgent)

	var oar openAlexResponse
	if err := doJSON(a.Client, req, "OpenAlex", &oar); err != nil {
		return types.EvidenceSet{}, err
	}

	set := types.EvidenceSet{Items: []types.EvidenceItem{}}
	for _, work := range oar.Results {
		var authors []string
		for _, authorship := range work.Authorships {
			if authorship.Author.DisplayName != "" {
				authors = append(authors, authorship.Author.DisplayName)
			}
		}

		excerpt := reconstructAbstract(work.AbstractInvertedIndex)
		if excerpt == "" {
			excerpt = work.Title
		}

		// Prefer the DOI link since OpenAlex is DOI-centric.
		link := work.DOI
		if link == "" {
			link = work.ID
		}

		meta := map[string]any{
			"source":  "openalex",
			"authors": authors,
		}
		if work.PublicationYear > 0 {
			meta["year"] = work.PublicationYear
		}
		if work.DOI != "" {
			meta["doi"] = strings.TrimPrefix(work.DOI, "https://doi.org/")
		}
		if work.OpenAccess.OAURL != "" {
			meta["open_access_url"] = work.OpenAccess.OAURL
		}

		set.Items = append(set.Items, types.EvidenceItem{
			ID:       "openalex_" + strings.TrimPrefix(work.ID, "https://openalex.org/"),
			Provider: types.ProviderAcademic,
			Kind:     types.KindAcademic,
			URL:      link,
			Title:    work.Title,
			Excerpt:  excerpt,
			Metadata: meta,
		})
	}
	return set, nil
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationYear       int                  `json:"publication_year"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	OpenAccess            openAlexOpenAccess   `json:"open_access"`
}

type openAlexAuthorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type openAlexOpenAccess struct {
	IsOA  bool   `json:"is_oa"`
	OAURL string `json:"oa_url"`
}
