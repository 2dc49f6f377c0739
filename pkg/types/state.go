// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"maps"
	"slices"
)

// Synthesis methods recorded in AnswerMetadata.SynthesisMethod.
const (
	SynthesisLLM      = "llm_structured"
	SynthesisFallback = "fallback"
)

// AnswerMetadata describes how an answer was produced.
type AnswerMetadata struct {
	Confidence      float64 `json:"confidence" yaml:"confidence"`
	NumSources      int     `json:"num_sources,omitempty" yaml:"num_sources,omitempty"`
	SynthesisMethod string  `json:"synthesis_method,omitempty" yaml:"synthesis_method,omitempty"`

	// Error carries the model failure text when SynthesisMethod is fallback.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// StructuredAnswer is the synthesized answer to a query.
type StructuredAnswer struct {
	Reasoning  string         `json:"reasoning" yaml:"reasoning"`
	Conclusion string         `json:"conclusion" yaml:"conclusion"`
	Metadata   AnswerMetadata `json:"metadata" yaml:"metadata"`
}

// Memory keys. Each stage writes only the keys it owns and carries the
// others over untouched.
const (
	MemLastRetrievalSources   = "last_retrieval_sources"
	MemLastRetrievalProviders = "last_retrieval_providers"
	MemRetrievalErrors        = "retrieval_errors"

	MemNumTasks            = "num_tasks"
	MemDecomposed          = "decomposed"
	MemDecompositionMethod = "decomposition_method"

	MemVerificationConfidence = "verification_confidence"
	MemDiversityScore         = "diversity_score"
	MemNumVerifiedFacts       = "num_verified_facts"
	MemVerificationAdjustment = "verification_adjustment"

	MemSynthesisConfidence = "synthesis_confidence"
	MemAnswerLength        = "answer_length"
	MemSynthesisMethod     = "synthesis_method"

	MemShouldContinue = "should_continue"
	MemStopReason     = "stop_reason"

	MemFormattedOutput = "formatted_output"
	MemOutputLength    = "output_length"
)

// Memory is the side channel stages use to publish observations for
// downstream consumers such as the CLI or a websocket client.
type Memory map[string]any

// String returns the string stored under key, or "".
func (m Memory) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Float returns the float64 stored under key, or 0.
func (m Memory) Float(key string) float64 {
	f, _ := m[key].(float64)
	return f
}

// Int returns the int stored under key, or 0.
func (m Memory) Int(key string) int {
	n, _ := m[key].(int)
	return n
}

// Bool returns the bool stored under key, or false.
func (m Memory) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// PipelineState is the single value threaded through every pipeline stage.
// Stages never modify a state in place: they Clone it, change the copy, and
// return the copy. Retrieved, Verified, and Answer point at values that are
// never mutated after creation, so clones may share them.
type PipelineState struct {
	Query            Query             `json:"query" yaml:"query"`
	Conversation     []string          `json:"conversation" yaml:"conversation"`
	Tasks            []Query           `json:"tasks" yaml:"tasks"`
	CurrentTaskIndex int               `json:"current_task_index" yaml:"current_task_index"`
	Retrieved        *EvidenceSet      `json:"retrieved,omitempty" yaml:"retrieved,omitempty"`
	Verified         *ScoredEvidence   `json:"verified,omitempty" yaml:"verified,omitempty"`
	Answer           *StructuredAnswer `json:"answer,omitempty" yaml:"answer,omitempty"`
	Iteration        int               `json:"iteration" yaml:"iteration"`
	Memory           Memory            `json:"memory" yaml:"memory"`
}

// NewState returns the initial state for a request: iteration zero and all
// optional fields empty.
func NewState(query string) PipelineState {
	return PipelineState{
		Query:        NewQuery(query),
		Conversation: []string{},
		Tasks:        []Query{},
		Memory:       Memory{},
	}
}

// Clone returns a copy of s whose slices and memory map can be modified
// without affecting s.
func (s PipelineState) Clone() PipelineState {
	out := s
	out.Conversation = slices.Clone(s.Conversation)
	out.Tasks = slices.Clone(s.Tasks)
	if s.Memory != nil {
		out.Memory = maps.Clone(s.Memory)
	} else {
		out.Memory = Memory{}
	}
	return out
}

// CurrentQuery returns the task being worked on, or the main query when
// there are no tasks or all tasks have been consumed.
func (s PipelineState) CurrentQuery() Query {
	if s.CurrentTaskIndex >= 0 && s.CurrentTaskIndex < len(s.Tasks) {
		return s.Tasks[s.CurrentTaskIndex]
	}
	return s.Query
}

// RemainingTasks reports whether tasks after the current one exist.
func (s PipelineState) RemainingTasks() bool {
	return s.CurrentTaskIndex < len(s.Tasks)-1
}
