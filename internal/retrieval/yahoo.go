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
	"time"

	"github.com/pdiddy/terafinder/pkg/types"
)

// yahooSearchAPI is the Yahoo Finance search endpoint. Declared as a var so
// tests can substitute an httptest server.
var yahooSearchAPI = "https://query1.finance.yahoo.com/v1/finance/search"

// YahooFinanceAdapter looks up tickers and market news on Yahoo Finance.
type YahooFinanceAdapter struct {
	Client     *http.Client
	UserAgent  string
	MaxResults int
}

// Provider returns the financial tag.
func (a *YahooFinanceAdapter) Provider() types.Provider { return types.ProviderFinancial }

// Name returns the adapter identifier.
func (a *YahooFinanceAdapter) Name() string { return "yahoo_finance" }

type yahooResponse struct {
	Quotes []yahooQuote `json:"quotes"`
	News   []yahooNews  `json:"news"`
}

type yahooQuote struct {
	Symbol    string `json:"symbol"`
	ShortName string `json:"shortname"`
	LongName  string `json:"longname"`
	QuoteType string `json:"quoteType"`
	Exchange  string `json:"exchDisp"`
	Sector    string `json:"sector"`
	Industry  string `json:"industry"`
}

type yahooNews struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title"`
	Publisher   string `json:"publisher"`
	Link        string `json:"link"`
	PublishTime int64  `json:"providerPublishTime"`
}

// Retrieve searches quotes and news. Quotes come first, then news, both
// capped at MaxResults in total.
func (a *YahooFinanceAdapter) Retrieve(ctx context.Context, query types.Query) (types.EvidenceSet, error) {
	terms := significant(query.Content, 6)
	if len(terms) == 0 {
		return types.EvidenceSet{}, errors.New("empty Yahoo Finance query")
	}
	maxResults := maxOr(a.MaxResults, 5)

	params := url.Values{
		"q":           {strings.Join(terms, " ")},
		"quotesCount": {strconv.Itoa(maxResults)},
		"newsCount":   {strconv.Itoa(maxResults)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, yahooSearchAPI+"?"+params.Encode(), nil)
	if err != nil {
		return types.EvidenceSet{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.UserAgent)

	var yr yahooResponse
	if err := doJSON(a.Client, req, "Yahoo Finance", &yr); err != nil {
		return types.EvidenceSet{}, err
	}

	set := types.EvidenceSet{Items: []types.EvidenceItem{}}
	for _, q := range yr.Quotes {
		if len(set.Items) >= maxResults {
			return set, nil
		}
		if q.Symbol == "" {
			continue
		}
		name := q.LongName
		if name == "" {
			name = q.ShortName
		}
		set.Items = append(set.Items, types.EvidenceItem{
			ID:       "yahoo_" + q.Symbol,
			Provider: types.ProviderFinancial,
			Kind:     types.KindFinancial,
			URL:      "https://finance.yahoo.com/quote/" + url.PathEscape(q.Symbol),
			Title:    fmt.Sprintf("%s: %s", q.Symbol, name),
			Excerpt:  quoteExcerpt(q, name),
			Metadata: map[string]any{
				"symbol":     q.Symbol,
				"quote_type": q.QuoteType,
				"exchange":   q.Exchange,
			},
		})
	}
	for _, n := range yr.News {
		if len(set.Items) >= maxResults {
			break
		}
		meta := map[string]any{"publisher": n.Publisher}
		if n.PublishTime > 0 {
			meta["published"] = time.Unix(n.PublishTime, 0).UTC().Format(time.RFC3339)
		}
		set.Items = append(set.Items, types.EvidenceItem{
			ID:       "yahoo_news_" + n.UUID,
			Provider: types.ProviderFinancial,
			Kind:     types.KindFinancial,
			URL:      n.Link,
			Title:    n.Title,
			Excerpt:  fmt.Sprintf("%s reports: %s", n.Publisher, n.Title),
			Metadata: meta,
		})
	}
	return set, nil
}

func quoteExcerpt(q yahooQuote, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", name, q.Symbol)
	if q.QuoteType != "" {
		fmt.Fprintf(&b, " is a %s", strings.ToLower(q.QuoteType))
	}
	if q.Exchange != "" {
		fmt.Fprintf(&b, " listed on %s", q.Exchange)
	}
	if q.Sector != "" {
		fmt.Fprintf(&b, " in the %s sector", q.Sector)
		if q.Industry != "" {
			fmt.Fprintf(&b, " (%s)", q.Industry)
		}
	}
	b.WriteString(".")
	return b.String()
}
