// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package decompose splits a complex research question into an ordered
// list of sub-queries. Short questions are taken as atomic. Longer ones go
// to the model when one is configured, and to pattern rules when it is not
// or when the model call fails. The result always holds at least one query.
package decompose

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pdiddy/terafinder/internal/llm"
	"github.com/pdiddy/terafinder/pkg/types"
)

// Defaults for Decomposer fields left at zero.
const (
	DefaultMaxSubtasks    = 5
	DefaultMinQueryLength = 10
)

// Decomposition methods recorded in pipeline memory.
const (
	MethodFastPath  = "fast_path"
	MethodLLM       = "llm"
	MethodHeuristic = "heuristic"
)

// Decomposer splits queries into sub-queries.
type Decomposer struct {
	// Model enables the model-assisted path when non-nil.
	Model llm.Model

	MaxSubtasks    int
	MinQueryLength int

	Logger *slog.Logger
}

// Result is a decomposition and the path that produced it.
type Result struct {
	Tasks  []types.Query
	Method string
}

// modelJudgment is the structured reply expected from the model.
type modelJudgment struct {
	IsComplex    bool     `json:"is_complex"`
	Reasoning    string   `json:"reasoning"`
	SubQuestions []string `json:"sub_questions"`
}

// Decompose returns the sub-queries for q. It never fails and never
// returns an empty list.
func (d *Decomposer) Decompose(ctx context.Context, q types.Query) Result {
	maxSubtasks := d.MaxSubtasks
	if maxSubtasks <= 0 {
		maxSubtasks = DefaultMaxSubtasks
	}
	minLen := d.MinQueryLength
	if minLen <= 0 {
		minLen = DefaultMinQueryLength
	}

	if len(strings.Fields(q.Content)) < minLen {
		return Result{Tasks: []types.Query{q}, Method: MethodFastPath}
	}

	if d.Model != nil {
		tasks, err := d.fromModel(ctx, q, maxSubtasks)
		if err == nil {
			return Result{Tasks: tasks, Method: MethodLLM}
		}
		d.logger().Warn("model decomposition failed, using heuristics", "stage", "decomposition", "error", err)
	}

	return Result{Tasks: Heuristic(q, maxSubtasks), Method: MethodHeuristic}
}

func (d *Decomposer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// fromModel asks the model whether q is complex. A simple verdict or fewer
// than two usable sub-questions keeps q atomic.
func (d *Decomposer) fromModel(ctx context.Context, q types.Query, maxSubtasks int) ([]types.Query, error) {
	prompt, err := llm.DecompositionPrompt(q.Content, maxSubtasks)
	if err != nil {
		return nil, err
	}

	var j modelJudgment
	if err := llm.CompleteJSON(ctx, d.Model, prompt, &j); err != nil {
		return nil, err
	}

	var subs []types.Query
	for _, s := range j.SubQuestions {
		if s = strings.TrimSpace(s); s != "" {
			subs = append(subs, types.NewQuery(s))
		}
	}
	d.logger().Debug("model decomposition", "complex", j.IsComplex, "sub_questions", len(subs), "reasoning", j.Reasoning)

	if !j.IsComplex || len(subs) < 2 {
		return []types.Query{q}, nil
	}
	return subs[:min(len(subs), maxSubtasks)], nil
}

// Heuristic applies the pattern rules in order:
//
//  1. "compare" or "difference between": the clause after the keyword is
//     split on its first " and " into X and Y, giving "What is X?",
//     "What is Y?", and "What are the key differences between X and Y?".
//  2. More than one "?": one sub-query per question.
//  3. " and " or " or ": the text split once on that delimiter.
//  4. Otherwise q itself.
//
// Matching is case-insensitive; sub-query text keeps the original case.
// The result is truncated to maxSubtasks and is never empty.
func Heuristic(q types.Query, maxSubtasks int) []types.Query {
	if maxSubtasks <= 0 {
		maxSubtasks = DefaultMaxSubtasks
	}
	text := q.Content
	lower := strings.ToLower(text)

	if len(lower) != len(text) {
		// Lowercasing changed byte offsets; match case-sensitively.
		lower = text
	}

	var parts []string
	if strings.Contains(lower, "compare") || strings.Contains(lower, "difference between") {
		parts = comparison(text, lower)
	}
	if parts == nil {
		switch {
		case strings.Count(text, "?") > 1:
			parts = questions(text)
		case strings.Contains(lower, " and ") || strings.Contains(lower, " or "):
			parts = splitOnce(text, lower)
		}
	}

	var out []types.Query
	for _, p := range parts {
		if len(out) == maxSubtasks {
			break
		}
		out = append(out, types.NewQuery(p))
	}
	if len(out) == 0 {
		return []types.Query{q}
	}
	return out
}

// comparison implements rule 1. It returns nil when the clause has no
// " and " to split on.
func comparison(text, lower string) []string {
	keyword := "compare"
	idx := strings.Index(lower, keyword)
	if idx < 0 {
		keyword = "difference between"
		idx = strings.Index(lower, keyword)
	}
	clause := text[idx+len(keyword):]
	clauseLower := lower[idx+len(keyword):]

	sep := strings.Index(clauseLower, " and ")
	if sep < 0 {
		return nil
	}
	x := trimClause(clause[:sep])
	y := trimClause(clause[sep+len(" and "):])
	if x == "" || y == "" {
		return nil
	}
	return []string{
		"What is " + x + "?",
		"What is " + y + "?",
		"What are the key differences between " + x + " and " + y + "?",
	}
}

// questions implements rule 2.
func questions(text string) []string {
	var out []string
	for _, seg := range strings.Split(text, "?") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg+"?")
		}
	}
	return out
}

// splitOnce implements rule 3, preferring " and " when both delimiters
// appear. Both halves must be non-empty.
func splitOnce(text, lower string) []string {
	delim := " and "
	idx := strings.Index(lower, delim)
	if idx < 0 {
		delim = " or "
		idx = strings.Index(lower, delim)
	}
	left := strings.TrimSpace(text[:idx])
	right := strings.TrimSpace(text[idx+len(delim):])
	if left == "" || right == "" {
		return nil
	}
	return []string{left, right}
}

func trimClause(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "?.!:;,"))
}
