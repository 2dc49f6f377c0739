// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/terafinder/internal/httputil"
	"github.com/pdiddy/terafinder/pkg/types"
)

func TestMain(m *testing.M) {
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

// --- mock adapter ---

type mockAdapter struct {
	name     string
	provider types.Provider
	items    []types.EvidenceItem
	err      error
	delay    time.Duration
	panics   bool
}

func (m *mockAdapter) Provider() types.Provider { return m.provider }
func (m *mockAdapter) Name() string             { return m.name }

func (m *mockAdapter) Retrieve(ctx context.Context, _ types.Query) (types.EvidenceSet, error) {
	if m.panics {
		panic("adapter exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return types.EvidenceSet{}, ctx.Err()
		}
	}
	return types.EvidenceSet{Items: m.items}, m.err
}

func item(id string, p types.Provider) types.EvidenceItem {
	return types.EvidenceItem{ID: id, Provider: p, Kind: types.KindWebpage, Title: id}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ids(set types.EvidenceSet) []string {
	var out []string
	for _, it := range set.Items {
		out = append(out, it.ID)
	}
	return out
}

func TestRetrieveMergesInAdapterOrder(t *testing.T) {
	// The first adapter finishes last; order must still follow the list.
	o := NewOrchestrator([]Adapter{
		&mockAdapter{name: "slow", provider: types.ProviderWeb, delay: 30 * time.Millisecond,
			items: []types.EvidenceItem{item("w1", types.ProviderWeb), item("w2", types.ProviderWeb)}},
		&mockAdapter{name: "fast", provider: types.ProviderSocial,
			items: []types.EvidenceItem{item("s1", types.ProviderSocial)}},
	}, quietLogger())

	out, err := o.Retrieve(context.Background(), types.NewQuery("q"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2", "s1"}, ids(out.Evidence))
	assert.Empty(t, out.Errors)
}

func TestRetrieveFiltersEnabledProviders(t *testing.T) {
	o := NewOrchestrator([]Adapter{
		&mockAdapter{name: "web", provider: types.ProviderWeb, items: []types.EvidenceItem{item("w1", types.ProviderWeb)}},
		&mockAdapter{name: "arxiv", provider: types.ProviderAcademic, items: []types.EvidenceItem{item("a1", types.ProviderAcademic)}},
		&mockAdapter{name: "s2", provider: types.ProviderAcademic, items: []types.EvidenceItem{item("a2", types.ProviderAcademic)}},
	}, quietLogger())

	out, err := o.Retrieve(context.Background(), types.NewQuery("q"), []types.Provider{types.ProviderAcademic})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids(out.Evidence))
}

func TestRetrieveIsolatesProviderFailure(t *testing.T) {
	o := NewOrchestrator([]Adapter{
		&mockAdapter{name: "broken", provider: types.ProviderWeb, err: errors.New("HTTP 500")},
		&mockAdapter{name: "exploding", provider: types.ProviderFinancial, panics: true},
		&mockAdapter{name: "ok", provider: types.ProviderSocial, items: []types.EvidenceItem{item("s1", types.ProviderSocial)}},
	}, quietLogger())

	out, err := o.Retrieve(context.Background(), types.NewQuery("q"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids(out.Evidence))
	require.Len(t, out.Errors, 2)
	assert.Equal(t, "broken", out.Errors[0].Adapter)
	assert.Equal(t, "exploding", out.Errors[1].Adapter)
	assert.Contains(t, out.Errors[1].Error(), "panic: adapter exploded")
	assert.Len(t, out.ErrorStrings(), 2)
}

func TestRetrieveAllProvidersFailed(t *testing.T) {
	boom := errors.New("boom")
	o := NewOrchestrator([]Adapter{
		&mockAdapter{name: "a", provider: types.ProviderWeb, err: boom},
		&mockAdapter{name: "b", provider: types.ProviderAcademic, err: errors.New("timeout")},
	}, quietLogger())

	out, err := o.Retrieve(context.Background(), types.NewQuery("q"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.ErrorIs(t, err, boom)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "a", pe.Adapter)

	assert.Equal(t, 0, out.Evidence.Len())
	assert.NotNil(t, out.Evidence.Items)
}

func TestRetrieveNoEnabledAdapters(t *testing.T) {
	o := NewOrchestrator([]Adapter{
		&mockAdapter{name: "web", provider: types.ProviderWeb, err: errors.New("never called")},
	}, quietLogger())

	out, err := o.Retrieve(context.Background(), types.NewQuery("q"), []types.Provider{types.ProviderScraped})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Evidence.Len())
}

func TestRetrieveDoesNotDeduplicate(t *testing.T) {
	shared := "https://example.com/a"
	a := item("w1", types.ProviderWeb)
	a.URL = shared
	b := item("s1", types.ProviderSocial)
	b.URL = shared

	o := NewOrchestrator([]Adapter{
		&mockAdapter{name: "web", provider: types.ProviderWeb, items: []types.EvidenceItem{a}},
		&mockAdapter{name: "social", provider: types.ProviderSocial, items: []types.EvidenceItem{b}},
	}, quietLogger())

	out, err := o.Retrieve(context.Background(), types.NewQuery("q"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Evidence.Len())
}

func TestOrchestratorProviders(t *testing.T) {
	o := NewOrchestrator([]Adapter{
		&mockAdapter{name: "arxiv", provider: types.ProviderAcademic},
		&mockAdapter{name: "web", provider: types.ProviderWeb},
		&mockAdapter{name: "s2", provider: types.ProviderAcademic},
	}, nil)
	assert.Equal(t, []types.Provider{types.ProviderAcademic, types.ProviderWeb}, o.Providers())
	assert.Len(t, o.Enabled(nil), 3)
}

func TestDefaultAdapters(t *testing.T) {
	adapters := DefaultAdapters(types.Defaults().Retrieval, map[string]string{}, nil)
	var got []types.Provider
	for _, a := range adapters {
		got = append(got, a.Provider())
	}
	assert.Equal(t, []types.Provider{
		types.ProviderWeb,
		types.ProviderAcademic, types.ProviderAcademic, types.ProviderAcademic,
		types.ProviderSocial,
		types.ProviderFinancial,
		types.ProviderScraped,
	}, got)
}

func TestRequiredKeys(t *testing.T) {
	assert.Equal(t, []string{"tavily-api-key"}, RequiredKeys([]types.Provider{types.ProviderWeb, types.ProviderSocial}))
	assert.Empty(t, RequiredKeys([]types.Provider{types.ProviderAcademic}))
}

func TestKeywordHelpers(t *testing.T) {
	assert.Equal(t, []string{"what", "is", "go", "1", "25"}, keywords("What is Go 1.25?"))
	assert.Equal(t, []string{"python", "rust", "systems"}, significant("Compare Python and Rust for systems programming", 3))
	assert.Equal(t, "abc...", truncate("abcdefgh", 6))
	assert.Equal(t, "short", truncate("short", 10))
	assert.Len(t, stableID("x"), 12)
	assert.Equal(t, stableID("a", "b"), stableID("a", "b"))
}
