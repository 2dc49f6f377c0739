// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package verify scores an evidence set for confidence and provider
// diversity and derives one fact per evidence item. Scoring is
// deterministic; an optional model pass nudges confidence by at most 0.1
// in either direction based on cross-source agreement.
package verify

import (
	"context"
	"log/slog"
	"math"

	"github.com/pdiddy/terafinder/internal/llm"
	"github.com/pdiddy/terafinder/pkg/types"
)

// DefaultMinSourcesThreshold is the source count at which the base score
// saturates.
const DefaultMinSourcesThreshold = 5

// MaxAdjustment bounds the model-assisted confidence adjustment.
const MaxAdjustment = 0.1

// agreementSources is how many items are shown to the model.
const agreementSources = 5

// KindWeights is the per-item quality weight by content kind. Kinds not
// listed weigh the same as KindOther.
var KindWeights = map[types.Kind]float64{
	types.KindAcademic:  1.0,
	types.KindFinancial: 0.9,
	types.KindWebpage:   0.8,
	types.KindDocument:  0.8,
	types.KindOther:     0.6,
	types.KindSocial:    0.5,
}

func weight(k types.Kind) float64 {
	if w, ok := KindWeights[k]; ok {
		return w
	}
	return KindWeights[types.KindOther]
}

// Verifier scores evidence sets.
type Verifier struct {
	// MinSourcesThreshold is the source count where the base score reaches
	// 0.5 (default 5).
	MinSourcesThreshold int

	// Model enables cross-source agreement checking when non-nil.
	Model llm.Model

	Logger *slog.Logger
}

// Result is the outcome of one verification pass.
type Result struct {
	Scored types.ScoredEvidence

	// Adjustment is the model-assisted change applied to confidence, zero
	// when agreement checking is off or failed.
	Adjustment float64
}

// Verify scores evidence. It never fails: an empty or nil set scores zero,
// and a failed agreement check leaves the deterministic score unchanged.
func (v *Verifier) Verify(ctx context.Context, evidence *types.EvidenceSet) Result {
	threshold := v.MinSourcesThreshold
	if threshold <= 0 {
		threshold = DefaultMinSourcesThreshold
	}

	if evidence.Len() == 0 {
		return Result{Scored: Empty()}
	}

	confidence, diversity := Score(evidence.Items, threshold)
	facts, corroboration := BuildFacts(evidence.Items)

	var adj float64
	if v.Model != nil && evidence.Len() > 1 {
		adj = v.agreement(ctx, evidence.Items)
		confidence = clamp(confidence+adj, 0, 1)
	}

	return Result{
		Scored: types.ScoredEvidence{
			Facts:          facts,
			Confidence:     confidence,
			DiversityScore: diversity,
			Corroboration:  corroboration,
		},
		Adjustment: adj,
	}
}

// Empty returns the scored evidence of an empty set.
func Empty() types.ScoredEvidence {
	return types.ScoredEvidence{
		Facts:         []types.Fact{},
		Corroboration: map[string][]string{},
	}
}

// Score computes confidence and diversity for items:
//
//	base          = min(n/threshold, 1) * 0.5
//	diversity     = distinct providers / n
//	quality_bonus = max(0, (mean kind weight - 0.5) * 0.4)
//	confidence    = min(base + diversity*0.2 + quality_bonus, 1)
//
// Both results are in [0,1]; an empty slice scores (0, 0).
func Score(items []types.EvidenceItem, threshold int) (confidence, diversity float64) {
	n := len(items)
	if n == 0 {
		return 0, 0
	}
	if threshold <= 0 {
		threshold = DefaultMinSourcesThreshold
	}

	base := math.Min(float64(n)/float64(threshold), 1.0) * 0.5

	providers := make(map[types.Provider]bool)
	var total float64
	for _, it := range items {
		providers[it.Provider] = true
		total += weight(it.Kind)
	}
	diversity = float64(len(providers)) / float64(n)

	qualityBonus := math.Max(0, (total/float64(n)-0.5)*0.4)

	confidence = math.Min(base+diversity*0.2+qualityBonus, 1.0)
	return clamp(confidence, 0, 1), clamp(diversity, 0, 1)
}

// BuildFacts derives one fact per item, keyed fact_1..fact_n in evidence
// order, and the 1:1 corroboration map from each fact to its source id.
func BuildFacts(items []types.EvidenceItem) ([]types.Fact, map[string][]string) {
	facts := make([]types.Fact, 0, len(items))
	corroboration := make(map[string][]string, len(items))
	for i, it := range items {
		key := types.FactKey(i)
		content := it.Excerpt
		if content == "" {
			content = it.Title
		}
		facts = append(facts, types.Fact{
			Key:      key,
			Content:  content,
			Title:    it.Title,
			URL:      it.URL,
			Provider: it.Provider,
			Kind:     it.Kind,
			SourceID: it.ID,
		})
		corroboration[key] = []string{it.ID}
	}
	return facts, corroboration
}

// Wrap builds scored evidence from a raw set with fixed confidence and
// diversity, skipping scoring. Simple mode uses it so one synthesizer
// serves both run modes.
func Wrap(evidence *types.EvidenceSet, confidence, diversity float64) types.ScoredEvidence {
	if evidence.Len() == 0 {
		s := Empty()
		s.Confidence = confidence
		s.DiversityScore = diversity
		return s
	}
	facts, corroboration := BuildFacts(evidence.Items)
	return types.ScoredEvidence{
		Facts:          facts,
		Confidence:     confidence,
		DiversityScore: diversity,
		Corroboration:  corroboration,
	}
}

type agreementReply struct {
	Adjustment     float64  `json:"adjustment"`
	Agreements     []string `json:"agreements"`
	Contradictions []string `json:"contradictions"`
}

// agreement asks the model how well the first few sources agree and
// returns its adjustment clamped to [-MaxAdjustment, MaxAdjustment].
// Any failure yields zero.
func (v *Verifier) agreement(ctx context.Context, items []types.EvidenceItem) float64 {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sources := make([]llm.AgreementSource, 0, agreementSources)
	for _, it := range items[:min(len(items), agreementSources)] {
		sources = append(sources, llm.AgreementSource{
			Provider: string(it.Provider),
			Title:    it.Title,
			Excerpt:  it.Excerpt,
		})
	}

	prompt, err := llm.AgreementPrompt(sources)
	if err != nil {
		logger.Warn("rendering agreement prompt", "error", err)
		return 0
	}

	var reply agreementReply
	if err := llm.CompleteJSON(ctx, v.Model, prompt, &reply); err != nil {
		logger.Warn("agreement check failed", "stage", "verification", "error", err)
		return 0
	}
	if math.IsNaN(reply.Adjustment) {
		return 0
	}
	logger.Debug("agreement check", "adjustment", reply.Adjustment,
		"agreements", len(reply.Agreements), "contradictions", len(reply.Contradictions))
	return clamp(reply.Adjustment, -MaxAdjustment, MaxAdjustment)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
