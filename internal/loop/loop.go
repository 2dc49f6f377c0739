// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package loop decides, after each synthesis in pro mode, whether the
// pipeline gathers more evidence or stops. The iteration ceiling is checked
// before anything else and is the guarantee that every run terminates.
package loop

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/terafinder/pkg/types"
)

// Route is the pipeline edge taken after a loop decision.
type Route int

const (
	// Continue loops back to retrieval.
	Continue Route = iota
	// End proceeds to formatting.
	End
)

// String returns the routing token, "continue" or "end".
func (r Route) String() string {
	if r == Continue {
		return "continue"
	}
	return "end"
}

// Stop and continue reasons.
const (
	ReasonMaxIterations  = "max_iterations_reached"
	ReasonCancelled      = "cancelled"
	ReasonHighConfidence = "high_confidence"
	ReasonAnswerComplete = "answer_complete"
	ReasonNoProgress     = "no_further_progress"

	ReasonRemainingTasks       = "remaining_tasks"
	ReasonInsufficientEvidence = "insufficient_evidence"
	ReasonLowConfidence        = "low_confidence"
)

// DefaultMinAnswerLength is the conclusion length, in characters, above
// which an answer counts as substantive.
const DefaultMinAnswerLength = 50

// Decision is the controller's verdict and the reason for it.
type Decision struct {
	Route  Route
	Reason string
}

// Controller holds the termination thresholds.
type Controller struct {
	MaxIterations   int
	MinConfidence   float64
	MinSources      int
	MinAnswerLength int
}

// NewController returns a controller configured from cfg.
func NewController(cfg types.PipelineConfig) Controller {
	return Controller{
		MaxIterations:   cfg.MaxIterations,
		MinConfidence:   cfg.MinConfidence,
		MinSources:      cfg.MinSources,
		MinAnswerLength: DefaultMinAnswerLength,
	}
}

// Decide evaluates the rules in priority order; the first match wins:
//
//  1. iteration >= MaxIterations: end.
//  2. the request context is done: end.
//  3. confidence >= MinConfidence and at least MinSources items: end.
//  4. a conclusion longer than MinAnswerLength: end.
//  5. unfinished tasks remain: continue.
//  6. too little evidence or confidence below threshold: continue.
//  7. otherwise end.
func (c Controller) Decide(ctx context.Context, s types.PipelineState) Decision {
	if s.Iteration >= c.MaxIterations {
		return Decision{End, ReasonMaxIterations}
	}
	if ctx != nil && ctx.Err() != nil {
		return Decision{End, ReasonCancelled}
	}

	confidence := 0.0
	if s.Verified != nil {
		confidence = s.Verified.Confidence
	}
	sources := s.Retrieved.Len()

	if s.Verified != nil && confidence >= c.MinConfidence && sources >= c.MinSources {
		return Decision{End, ReasonHighConfidence}
	}

	minLen := c.MinAnswerLength
	if minLen <= 0 {
		minLen = DefaultMinAnswerLength
	}
	if s.Answer != nil && utf8.RuneCountInString(strings.TrimSpace(s.Answer.Conclusion)) > minLen {
		return Decision{End, ReasonAnswerComplete}
	}

	if s.RemainingTasks() {
		return Decision{Continue, ReasonRemainingTasks}
	}
	if sources < c.MinSources {
		return Decision{Continue, ReasonInsufficientEvidence}
	}
	if confidence < c.MinConfidence {
		return Decision{Continue, ReasonLowConfidence}
	}
	return Decision{End, ReasonNoProgress}
}

// ShouldContinue reports whether Decide routes back to retrieval.
func (c Controller) ShouldContinue(ctx context.Context, s types.PipelineState) bool {
	return c.Decide(ctx, s).Route == Continue
}
