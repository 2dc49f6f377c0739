// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package synthesize turns scored facts into a structured answer. It never
// returns an error: with no facts it gives a fixed degraded answer, and
// when the model fails it returns the raw facts as the conclusion so the
// caller still sees the evidence.
package synthesize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pdiddy/terafinder/internal/llm"
	"github.com/pdiddy/terafinder/pkg/types"
)

// Fixed answer texts.
const (
	NoFactsReasoning  = "No verified facts available to synthesize."
	NoFactsConclusion = "Unable to provide an answer due to lack of data."
	FallbackReasoning = "Facts were collected from multiple sources but synthesis failed."
)

// ErrNoModel is recorded in fallback answers when no model is configured.
var ErrNoModel = errors.New("no language model configured")

// Synthesizer produces answers from scored evidence.
type Synthesizer struct {
	Model  llm.Model
	Logger *slog.Logger
}

type modelAnswer struct {
	Reasoning  string `json:"reasoning"`
	Conclusion string `json:"conclusion"`
}

// Synthesize builds the answer for scored. A nil scored is treated as
// empty.
func (s *Synthesizer) Synthesize(ctx context.Context, scored *types.ScoredEvidence) types.StructuredAnswer {
	if scored == nil || len(scored.Facts) == 0 {
		return types.StructuredAnswer{
			Reasoning:  NoFactsReasoning,
			Conclusion: NoFactsConclusion,
			Metadata:   types.AnswerMetadata{Confidence: 0},
		}
	}

	summary := FactsSummary(scored)
	meta := types.AnswerMetadata{
		Confidence: scored.Confidence,
		NumSources: len(scored.Facts),
	}

	ans, err := s.fromModel(ctx, summary, scored.Confidence)
	if err != nil {
		s.logger().Warn("synthesis failed, returning facts", "stage", "synthesis", "error", err)
		meta.SynthesisMethod = types.SynthesisFallback
		meta.Error = err.Error()
		return types.StructuredAnswer{
			Reasoning:  FallbackReasoning,
			Conclusion: summary,
			Metadata:   meta,
		}
	}

	meta.SynthesisMethod = types.SynthesisLLM
	return types.StructuredAnswer{
		Reasoning:  ans.Reasoning,
		Conclusion: ans.Conclusion,
		Metadata:   meta,
	}
}

func (s *Synthesizer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Synthesizer) fromModel(ctx context.Context, summary string, confidence float64) (modelAnswer, error) {
	if s.Model == nil {
		return modelAnswer{}, ErrNoModel
	}

	prompt, err := llm.SynthesisPrompt(summary, confidence)
	if err != nil {
		return modelAnswer{}, fmt.Errorf("rendering prompt: %w", err)
	}

	out, err := s.Model.Complete(ctx, prompt)
	if err != nil {
		return modelAnswer{}, err
	}

	ans := parseAnswer(out)
	if strings.TrimSpace(ans.Conclusion) == "" {
		return modelAnswer{}, llm.ErrEmptyResponse
	}
	return ans, nil
}

// parseAnswer accepts a JSON object, REASONING:/CONCLUSION: sections, or
// free text, which becomes the conclusion as-is.
func parseAnswer(out string) modelAnswer {
	var ans modelAnswer
	if err := llm.DecodeJSON(out, &ans); err == nil {
		ans.Reasoning = strings.TrimSpace(ans.Reasoning)
		ans.Conclusion = strings.TrimSpace(ans.Conclusion)
		return ans
	}

	if before, after, ok := strings.Cut(out, "CONCLUSION:"); ok {
		return modelAnswer{
			Reasoning:  strings.TrimSpace(strings.Replace(before, "REASONING:", "", 1)),
			Conclusion: strings.TrimSpace(after),
		}
	}

	return modelAnswer{Reasoning: "Generated synthesis", Conclusion: strings.TrimSpace(out)}
}

// FactsSummary renders facts one per line in key order, e.g.
//
//   - fact_1: Go has goroutines. [web: Go FAQ]
func FactsSummary(scored *types.ScoredEvidence) string {
	var b strings.Builder
	for i, f := range scored.Facts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", f.Key, strings.TrimSpace(f.Content))
		if f.Title != "" {
			fmt.Fprintf(&b, " [%s: %s]", f.Provider, f.Title)
		}
	}
	return b.String()
}
