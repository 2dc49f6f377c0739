// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retrieval fans a query out to provider adapters and merges their
// evidence into one ordered set. Adapters run concurrently; a failing
// adapter yields zero items while the rest still contribute, and the call
// fails only when every enabled adapter failed.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pdiddy/terafinder/internal/httputil"
	"github.com/pdiddy/terafinder/pkg/types"
)

// Adapter retrieves evidence from a single provider. Each source (Tavily,
// arXiv, Hacker News, ...) implements this interface per the Strategy
// pattern.
type Adapter interface {
	// Provider is the capability tag matched against the enabled set.
	Provider() types.Provider
	// Name identifies the adapter in logs and error messages.
	Name() string
	Retrieve(ctx context.Context, query types.Query) (types.EvidenceSet, error)
}

// ErrAllProvidersFailed is returned when every enabled adapter failed.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ProviderError records one adapter's failure. It never aborts the others.
type ProviderError struct {
	Adapter  string
	Provider types.Provider
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Adapter, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Output holds the merged evidence and the failures of individual adapters.
type Output struct {
	Evidence types.EvidenceSet
	Errors   []*ProviderError
}

// ErrorStrings returns the provider failures as display strings.
func (o Output) ErrorStrings() []string {
	out := make([]string, 0, len(o.Errors))
	for _, e := range o.Errors {
		out = append(out, e.Error())
	}
	return out
}

// Orchestrator holds a fixed list of adapters. The list is read-only after
// construction, so one Orchestrator may serve concurrent requests.
type Orchestrator struct {
	adapters []Adapter
	logger   *slog.Logger
}

// NewOrchestrator returns an orchestrator over adapters in the given order.
// A nil logger uses slog.Default.
func NewOrchestrator(adapters []Adapter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{adapters: slices.Clone(adapters), logger: logger}
}

// Adapters returns the configured adapters in order.
func (o *Orchestrator) Adapters() []Adapter {
	return slices.Clone(o.adapters)
}

// Providers returns the distinct provider tags of the configured adapters.
func (o *Orchestrator) Providers() []types.Provider {
	var out []types.Provider
	for _, a := range o.adapters {
		if !slices.Contains(out, a.Provider()) {
			out = append(out, a.Provider())
		}
	}
	return out
}

// Enabled returns the adapters whose tag is in enabled. An empty enabled
// set selects every adapter.
func (o *Orchestrator) Enabled(enabled []types.Provider) []Adapter {
	if len(enabled) == 0 {
		return o.Adapters()
	}
	var out []Adapter
	for _, a := range o.adapters {
		if slices.Contains(enabled, a.Provider()) {
			out = append(out, a)
		}
	}
	return out
}

// Retrieve runs every enabled adapter concurrently and appends their items
// in adapter-list order, regardless of completion order. When all enabled
// adapters fail the returned error wraps ErrAllProvidersFailed and every
// ProviderError; Output is still valid (empty evidence). No enabled
// adapters is not a failure.
func (o *Orchestrator) Retrieve(ctx context.Context, query types.Query, enabled []types.Provider) (Output, error) {
	adapters := o.Enabled(enabled)
	if len(adapters) == 0 {
		return Output{Evidence: types.EvidenceSet{Items: []types.EvidenceItem{}}}, nil
	}

	type adapterResult struct {
		set types.EvidenceSet
		err error
	}

	results := make([]adapterResult, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = adapterResult{err: fmt.Errorf("panic: %v", r)}
				}
			}()
			set, err := a.Retrieve(ctx, query)
			results[i] = adapterResult{set: set, err: err}
		}(i, a)
	}
	wg.Wait()

	out := Output{Evidence: types.EvidenceSet{Items: []types.EvidenceItem{}}}
	for i, r := range results {
		a := adapters[i]
		if r.err != nil {
			pe := &ProviderError{Adapter: a.Name(), Provider: a.Provider(), Err: r.err}
			out.Errors = append(out.Errors, pe)
			o.logger.Warn("provider failed", "adapter", a.Name(), "provider", a.Provider(), "error", r.err)
			continue
		}
		out.Evidence.Items = append(out.Evidence.Items, r.set.Items...)
		o.logger.Debug("provider returned", "adapter", a.Name(), "items", len(r.set.Items))
	}

	if len(out.Errors) == len(adapters) {
		errs := make([]error, len(out.Errors))
		for i, e := range out.Errors {
			errs[i] = e
		}
		return out, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
	}
	return out, nil
}

// stableID generates a deterministic ID from the given parts: the first 12
// hex characters of their SHA-256.
func stableID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// keywords lowercases text and strips punctuation, returning the words.
func keywords(text string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "between": true, "compare": true,
	"difference": true, "does": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "of": true, "on": true, "or": true, "the": true, "to": true, "vs": true,
	"what": true, "when": true, "where": true, "which": true, "who": true, "why": true,
	"with": true,
}

// significant returns up to n keywords of text that are not stopwords.
func significant(text string, n int) []string {
	var out []string
	for _, w := range keywords(text) {
		if stopwords[w] {
			continue
		}
		out = append(out, w)
		if len(out) == n {
			break
		}
	}
	return out
}

// truncate shortens s to at most max bytes on a rune boundary, appending "...".
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// doJSON sends req with 429/503 retries and decodes a 200 JSON body into v.
func doJSON(client *http.Client, req *http.Request, source string, v any) error {
	resp, err := httputil.DoWithRetry(req.Context(), client, req, 0)
	if err != nil {
		return fmt.Errorf("%s API request: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s API returned HTTP %d", source, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing %s response: %w", source, err)
	}
	return nil
}

func maxOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
