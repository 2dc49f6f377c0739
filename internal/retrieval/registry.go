// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"net/http"
	"slices"

	"github.com/pdiddy/terafinder/internal/secrets"
	"github.com/pdiddy/terafinder/pkg/types"
)

// DefaultAdapters returns every built-in adapter in canonical order: web,
// academic, social, financial, scraped. Credentials are looked up in
// keys (see secrets.Lookup); a missing optional key only degrades that
// adapter. The scraper gets its own dial-guarded client unless
// cfg.AllowPrivateHosts is set.
func DefaultAdapters(cfg types.RetrievalConfig, keys map[string]string, client *http.Client) []Adapter {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	scrapeClient := client
	if !cfg.AllowPrivateHosts {
		scrapeClient = NewScrapeClient(cfg.Timeout)
	}
	ua := cfg.UserAgent
	n := cfg.MaxResults

	return []Adapter{
		&TavilyAdapter{Client: client, APIKey: secrets.Lookup(keys, secrets.TavilyAPIKey), UserAgent: ua, MaxResults: n},
		&ArxivAdapter{Client: client, UserAgent: ua, MaxResults: n},
		&SemanticScholarAdapter{Client: client, APIKey: secrets.Lookup(keys, secrets.SemanticScholarAPIKey), UserAgent: ua, MaxResults: n},
		&OpenAlexAdapter{Client: client, UserAgent: ua, MaxResults: n},
		&HackerNewsAdapter{Client: client, UserAgent: ua, MaxResults: n},
		&YahooFinanceAdapter{Client: client, UserAgent: ua, MaxResults: n},
		&ScraperAdapter{Client: scrapeClient, UserAgent: ua, MaxURLs: cfg.MaxScrapeURLs, AllowPrivateHosts: cfg.AllowPrivateHosts},
	}
}

// RequiredKeys returns the secret names that explicitly selected providers
// cannot work without.
func RequiredKeys(providers []types.Provider) []string {
	var keys []string
	if slices.Contains(providers, types.ProviderWeb) {
		keys = append(keys, secrets.TavilyAPIKey)
	}
	return keys
}
