// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/pdiddy/terafinder/internal/loop"
	"github.com/pdiddy/terafinder/internal/retrieval"
	"github.com/pdiddy/terafinder/internal/verify"
	"github.com/pdiddy/terafinder/pkg/types"
)

// Retrieve fetches evidence for the current task. A total provider outage
// yields an empty evidence set. Each pass replaces Retrieved, so the
// verification and synthesis that follow cover the current task only.
func (p *Pipeline) Retrieve(ctx context.Context, s types.PipelineState) types.PipelineState {
	q := s.CurrentQuery()
	out, err := p.orch.Retrieve(ctx, q, p.providers)
	if errors.Is(err, retrieval.ErrAllProvidersFailed) {
		p.logger.Warn("all providers failed, continuing without evidence", "stage", StageRetrieval, "query", q.Content)
	}

	evidence := out.Evidence
	providers := make([]string, 0)
	for _, prov := range evidence.Providers() {
		providers = append(providers, string(prov))
	}
	errs := out.ErrorStrings()
	if errs == nil {
		errs = []string{}
	}

	next := s.Clone()
	next.Retrieved = &evidence
	next.Memory[types.MemLastRetrievalSources] = evidence.Len()
	next.Memory[types.MemLastRetrievalProviders] = providers
	next.Memory[types.MemRetrievalErrors] = errs
	return next
}

// Decompose splits the main query into tasks and resets the task cursor.
func (p *Pipeline) Decompose(ctx context.Context, s types.PipelineState) types.PipelineState {
	res := p.decomposer.Decompose(ctx, s.Query)

	next := s.Clone()
	next.Tasks = append([]types.Query(nil), res.Tasks...)
	next.CurrentTaskIndex = 0
	next.Memory[types.MemNumTasks] = len(res.Tasks)
	next.Memory[types.MemDecomposed] = len(res.Tasks) > 1
	next.Memory[types.MemDecompositionMethod] = res.Method
	return next
}

// Verify scores the retrieved evidence.
func (p *Pipeline) Verify(ctx context.Context, s types.PipelineState) types.PipelineState {
	res := p.verifier.Verify(ctx, s.Retrieved)
	scored := res.Scored

	next := s.Clone()
	next.Verified = &scored
	next.Memory[types.MemVerificationConfidence] = scored.Confidence
	next.Memory[types.MemDiversityScore] = scored.DiversityScore
	next.Memory[types.MemNumVerifiedFacts] = len(scored.Facts)
	next.Memory[types.MemVerificationAdjustment] = res.Adjustment
	return next
}

// Synthesize answers from the verified evidence. Without a verification
// pass (simple mode) the raw evidence is wrapped with SimpleConfidence and
// SimpleDiversity.
func (p *Pipeline) Synthesize(ctx context.Context, s types.PipelineState) types.PipelineState {
	scored := s.Verified
	if scored == nil {
		wrapped := verify.Wrap(s.Retrieved, SimpleConfidence, SimpleDiversity)
		scored = &wrapped
	}
	answer := p.synthesizer.Synthesize(ctx, scored)

	next := s.Clone()
	next.Answer = &answer
	next.Memory[types.MemSynthesisConfidence] = answer.Metadata.Confidence
	next.Memory[types.MemAnswerLength] = utf8.RuneCountInString(answer.Conclusion)
	next.Memory[types.MemSynthesisMethod] = answer.Metadata.SynthesisMethod
	return next
}

// Decide asks the loop controller whether to run another pass.
func (p *Pipeline) Decide(ctx context.Context, s types.PipelineState) (types.PipelineState, loop.Decision) {
	d := p.controller.Decide(ctx, s)

	next := s.Clone()
	next.Memory[types.MemShouldContinue] = d.Route == loop.Continue
	if d.Route == loop.End {
		next.Memory[types.MemStopReason] = d.Reason
		p.logger.Info("loop ended", "iteration", s.Iteration, "reason", d.Reason)
	} else {
		next.Memory[types.MemStopReason] = ""
		p.logger.Debug("loop continues", "iteration", s.Iteration, "reason", d.Reason)
	}
	return next, d
}

// Advance moves to the next pass: the iteration counter increments and the
// task cursor moves forward, never past len(tasks).
func Advance(s types.PipelineState) types.PipelineState {
	next := s.Clone()
	next.Iteration++
	if next.CurrentTaskIndex < len(next.Tasks) {
		next.CurrentTaskIndex++
	}
	return next
}

// Format renders the answer and records the exchange in the conversation.
// A state without an answer is returned unchanged.
func (p *Pipeline) Format(s types.PipelineState) types.PipelineState {
	if s.Answer == nil {
		p.logger.Warn("no answer to format", "stage", StageFormat)
		return s
	}

	var citations []types.EvidenceItem
	if s.Retrieved != nil {
		citations = s.Retrieved.Items
	}
	out := p.formatter.Format(*s.Answer, citations)

	next := s.Clone()
	next.Memory[types.MemFormattedOutput] = out
	next.Memory[types.MemOutputLength] = len(out)
	next.Conversation = append(next.Conversation,
		"User: "+s.Query.Content,
		"Assistant: "+s.Answer.Conclusion)
	return next
}
