// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	s := NewState("  What is FTS5?  ")

	assert.Equal(t, "What is FTS5?", s.Query.Content)
	assert.NotNil(t, s.Conversation)
	assert.NotNil(t, s.Tasks)
	assert.NotNil(t, s.Memory)
	assert.Zero(t, s.Iteration)
	assert.Nil(t, s.Retrieved)
	assert.Nil(t, s.Verified)
	assert.Nil(t, s.Answer)
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewState("q")
	s.Conversation = append(s.Conversation, "User: q")
	s.Tasks = append(s.Tasks, NewQuery("a"), NewQuery("b"))
	s.Memory[MemNumTasks] = 2

	c := s.Clone()
	c.Conversation[0] = "changed"
	c.Tasks[1] = NewQuery("changed")
	c.Memory[MemNumTasks] = 9
	c.Memory["extra"] = true

	assert.Equal(t, "User: q", s.Conversation[0])
	assert.Equal(t, "b", s.Tasks[1].Content)
	assert.Equal(t, 2, s.Memory.Int(MemNumTasks))
	assert.NotContains(t, s.Memory, "extra")
}

func TestCloneKeepsEmptySlices(t *testing.T) {
	c := NewState("q").Clone()
	assert.NotNil(t, c.Conversation)
	assert.NotNil(t, c.Tasks)

	var zero PipelineState
	assert.NotNil(t, zero.Clone().Memory)
}

func TestCurrentQueryAndRemainingTasks(t *testing.T) {
	tasks := []Query{NewQuery("first"), NewQuery("second")}

	tests := []struct {
		name      string
		tasks     []Query
		index     int
		want      string
		remaining bool
	}{
		{"no tasks uses main query", nil, 0, "main", false},
		{"first task", tasks, 0, "first", true},
		{"last task", tasks, 1, "second", false},
		{"past the end uses main query", tasks, 2, "main", false},
		{"negative index uses main query", tasks, -1, "main", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState("main")
			s.Tasks = tt.tasks
			s.CurrentTaskIndex = tt.index
			assert.Equal(t, tt.want, s.CurrentQuery().Content)
			assert.Equal(t, tt.remaining, s.RemainingTasks())
		})
	}
}

func TestMemoryAccessors(t *testing.T) {
	m := Memory{"s": "text", "f": 0.5, "i": 3, "b": true}

	assert.Equal(t, "text", m.String("s"))
	assert.Equal(t, 0.5, m.Float("f"))
	assert.Equal(t, 3, m.Int("i"))
	assert.True(t, m.Bool("b"))

	assert.Empty(t, m.String("f"), "wrong type reads as zero")
	assert.Zero(t, m.Int("missing"))
	assert.False(t, Memory(nil).Bool("b"))
}

func TestParseProviders(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []Provider
		wantErr string
	}{
		{"empty", nil, nil, ""},
		{"case and space", []string{" Web", "ACADEMIC "}, []Provider{ProviderWeb, ProviderAcademic}, ""},
		{"duplicates dropped", []string{"social", "web", "social"}, []Provider{ProviderSocial, ProviderWeb}, ""},
		{"blank entries skipped", []string{"", "  ", "scraped"}, []Provider{ProviderScraped}, ""},
		{"unknown rejected", []string{"web", "usenet"}, nil, `unknown provider "usenet"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProviders(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvidenceSetHelpers(t *testing.T) {
	var nilSet *EvidenceSet
	assert.Equal(t, 0, nilSet.Len())
	assert.Nil(t, nilSet.Providers())

	set := &EvidenceSet{Items: []EvidenceItem{
		{ID: "a", Provider: ProviderAcademic},
		{ID: "b", Provider: ProviderWeb},
		{ID: "c", Provider: ProviderAcademic},
	}}
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []Provider{ProviderAcademic, ProviderWeb}, set.Providers())
}

func TestScoredEvidenceFact(t *testing.T) {
	s := &ScoredEvidence{Facts: []Fact{
		{Key: FactKey(0), Content: "one"},
		{Key: FactKey(1), Content: "two"},
	}}

	f, ok := s.Fact("fact_2")
	require.True(t, ok)
	assert.Equal(t, "two", f.Content)

	_, ok = s.Fact("fact_3")
	assert.False(t, ok)

	var nilScored *ScoredEvidence
	_, ok = nilScored.Fact("fact_1")
	assert.False(t, ok)
}

func TestDefaults(t *testing.T) {
	d := Defaults()

	assert.Equal(t, BackendAnthropic, d.AI.Backend)
	assert.Equal(t, 5, d.Pipeline.MaxIterations)
	assert.Equal(t, 0.7, d.Pipeline.MinConfidence)
	assert.Equal(t, 3, d.Pipeline.MinSources)
	assert.Equal(t, 5, d.Pipeline.MaxSubtasks)
	assert.True(t, d.Pipeline.IncludeMetadata)
	assert.Empty(t, d.Retrieval.EnabledProviders, "all providers by default")
	assert.Equal(t, ".terafinder", d.History.Dir)
}
