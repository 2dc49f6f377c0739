// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the terafinder pipeline:
// queries, evidence, scored evidence, structured answers, the pipeline state
// threaded through every stage, and configuration.
package types

import (
	"fmt"
	"strings"
)

// Query is an immutable research question. It is created by the caller or
// by the decomposer and never mutated.
type Query struct {
	Content string `json:"content" yaml:"content"`
}

// NewQuery returns a Query with surrounding whitespace removed.
func NewQuery(content string) Query {
	return Query{Content: strings.TrimSpace(content)}
}

// Provider is the category of information source an adapter draws from.
type Provider string

const (
	ProviderWeb       Provider = "web"
	ProviderAcademic  Provider = "academic"
	ProviderSocial    Provider = "social"
	ProviderFinancial Provider = "financial"
	ProviderScraped   Provider = "scraped"
)

// AllProviders returns every known provider in canonical order.
func AllProviders() []Provider {
	return []Provider{ProviderWeb, ProviderAcademic, ProviderSocial, ProviderFinancial, ProviderScraped}
}

// ParseProvider validates a provider name (case-insensitive).
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllProviders() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// ParseProviders parses a list of provider names, rejecting unknown ones.
// Duplicates are dropped; order is preserved.
func ParseProviders(names []string) ([]Provider, error) {
	seen := make(map[Provider]bool)
	var out []Provider
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		p, err := ParseProvider(n)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// Kind classifies the content of an evidence item. It drives the quality
// weight used during verification.
type Kind string

const (
	KindWebpage   Kind = "webpage"
	KindAcademic  Kind = "academic"
	KindSocial    Kind = "social"
	KindFinancial Kind = "financial"
	KindDocument  Kind = "document"
	KindOther     Kind = "other"
)

// EvidenceItem is one retrieved unit of content with provenance. Items are
// produced only by retrieval adapters and are read-only downstream.
type EvidenceItem struct {
	// ID is unique within the adapter that produced it (e.g. "arxiv_2301.07041").
	ID string `json:"id" yaml:"id"`

	Provider Provider `json:"provider" yaml:"provider"`
	Kind     Kind     `json:"kind" yaml:"kind"`

	// URL is optional; scraped documents and API records usually carry one.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	Title   string `json:"title" yaml:"title"`
	Excerpt string `json:"excerpt" yaml:"excerpt"`

	// Metadata holds adapter-specific fields (authors, points, ticker, ...).
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// EvidenceSet is an ordered sequence of evidence items. Order is adapter
// order, then per-adapter return order. Items from different providers that
// share a URL are kept so each retains its provider attribution.
type EvidenceSet struct {
	Items []EvidenceItem `json:"items" yaml:"items"`
}

// Len returns the number of items in the set. A nil set has length zero.
func (s *EvidenceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Items)
}

// Providers returns the distinct providers in first-seen order.
func (s *EvidenceSet) Providers() []Provider {
	if s == nil {
		return nil
	}
	seen := make(map[Provider]bool)
	var out []Provider
	for _, it := range s.Items {
		if !seen[it.Provider] {
			seen[it.Provider] = true
			out = append(out, it.Provider)
		}
	}
	return out
}

// Fact is one verified fact derived from a single evidence item.
type Fact struct {
	Key      string   `json:"key" yaml:"key"`
	Content  string   `json:"content" yaml:"content"`
	Title    string   `json:"title" yaml:"title"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
	Provider Provider `json:"provider" yaml:"provider"`
	Kind     Kind     `json:"kind" yaml:"kind"`
	SourceID string   `json:"source_id" yaml:"source_id"`
}

// ScoredEvidence is the output of one verification pass. It is never
// mutated after creation.
type ScoredEvidence struct {
	// Facts is keyed by Fact.Key and kept in evidence order so prompts built
	// from it are reproducible.
	Facts []Fact `json:"facts" yaml:"facts"`

	// Confidence is in [0,1].
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// DiversityScore is the fraction of items from distinct providers, in [0,1].
	DiversityScore float64 `json:"diversity_score" yaml:"diversity_score"`

	// Corroboration maps a fact key to the IDs of the evidence items supporting it.
	Corroboration map[string][]string `json:"corroboration" yaml:"corroboration"`
}

// Fact returns the fact stored under key.
func (s *ScoredEvidence) Fact(key string) (Fact, bool) {
	if s == nil {
		return Fact{}, false
	}
	for _, f := range s.Facts {
		if f.Key == key {
			return f, true
		}
	}
	return Fact{}, false
}

// FactKey returns the key of the n-th fact (zero-based).
func FactKey(n int) string {
	return fmt.Sprintf("fact_%d", n+1)
}
