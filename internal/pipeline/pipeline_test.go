// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/terafinder/internal/llm"
	"github.com/pdiddy/terafinder/internal/retrieval"
	"github.com/pdiddy/terafinder/internal/synthesize"
	"github.com/pdiddy/terafinder/pkg/types"
)

// stubAdapter returns a fixed number of items per call and records the
// queries it saw.
type stubAdapter struct {
	name     string
	provider types.Provider
	kind     types.Kind
	n        int
	err      error

	mu      sync.Mutex
	queries []string
}

func (a *stubAdapter) Provider() types.Provider { return a.provider }
func (a *stubAdapter) Name() string             { return a.name }

func (a *stubAdapter) Retrieve(ctx context.Context, q types.Query) (types.EvidenceSet, error) {
	a.mu.Lock()
	a.queries = append(a.queries, q.Content)
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.EvidenceSet{}, err
	}
	if a.err != nil {
		return types.EvidenceSet{}, a.err
	}
	set := types.EvidenceSet{Items: []types.EvidenceItem{}}
	for i := 0; i < a.n; i++ {
		set.Items = append(set.Items, types.EvidenceItem{
			ID:       fmt.Sprintf("%s_%d", a.name, i),
			Provider: a.provider,
			Kind:     a.kind,
			URL:      fmt.Sprintf("https://%s.example/%d", a.name, i),
			Title:    fmt.Sprintf("%s result %d", a.name, i),
			Excerpt:  fmt.Sprintf("Finding %d from %s.", i, a.name),
		})
	}
	return set, nil
}

func (a *stubAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queries)
}

const longConclusion = "Transformers gained efficiency through sparse attention and mixture-of-experts layers."

// answerModel replies to synthesis prompts with conclusion and records
// every prompt.
type answerModel struct {
	conclusion string

	mu      sync.Mutex
	prompts []string
}

func (m *answerModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.Contains(prompt, "sub_questions") {
		return `{"is_complex": false, "reasoning": "single topic", "sub_questions": []}`, nil
	}
	return fmt.Sprintf(`{"reasoning": "Combined the facts.", "conclusion": %q}`, m.conclusion), nil
}

func (m *answerModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[len(m.prompts)-1]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, cfg types.PipelineConfig, model llm.Model, adapters ...retrieval.Adapter) *Pipeline {
	t.Helper()
	p, err := New(Options{
		Config:       cfg,
		Orchestrator: retrieval.NewOrchestrator(adapters, quietLogger()),
		Model:        model,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	return p
}

func TestSimpleModeWrapsEvidence(t *testing.T) {
	web := &stubAdapter{name: "web", provider: types.ProviderWeb, kind: types.KindWebpage, n: 2}
	hn := &stubAdapter{name: "hn", provider: types.ProviderSocial, kind: types.KindSocial, n: 2}
	model := &answerModel{conclusion: longConclusion}
	p := newPipeline(t, types.DefaultPipelineConfig(), model, web, hn)

	s, err := p.Run(context.Background(), ModeSimple, "What is new in transformers?", nil)
	require.NoError(t, err)

	require.NotNil(t, s.Retrieved)
	assert.Equal(t, 4, s.Retrieved.Len())
	assert.Nil(t, s.Verified, "simple mode skips verification")
	assert.Empty(t, s.Tasks)
	assert.Equal(t, 0, s.Iteration)

	require.NotNil(t, s.Answer)
	assert.Equal(t, longConclusion, s.Answer.Conclusion)
	assert.Equal(t, SimpleConfidence, s.Answer.Metadata.Confidence)
	assert.Equal(t, 4, s.Answer.Metadata.NumSources)
	assert.Contains(t, model.lastPrompt(), "Confidence: 70.00%")
	assert.Contains(t, model.lastPrompt(), "fact_4")

	assert.Equal(t, 4, s.Memory.Int(types.MemLastRetrievalSources))
	assert.Equal(t, []string{"web", "social"}, s.Memory[types.MemLastRetrievalProviders])
	assert.Equal(t, []string{}, s.Memory[types.MemRetrievalErrors])
	assert.Equal(t, types.SynthesisLLM, s.Memory.String(types.MemSynthesisMethod))
	assert.Equal(t, len([]rune(longConclusion)), s.Memory.Int(types.MemAnswerLength))
	assert.NotContains(t, s.Memory, types.MemStopReason)

	out := s.Memory.String(types.MemFormattedOutput)
	assert.Contains(t, out, "## Summary")
	assert.Contains(t, out, "web result 0")
	assert.Equal(t, len(out), s.Memory.Int(types.MemOutputLength))
	assert.Equal(t, []string{
		"User: What is new in transformers?",
		"Assistant: " + longConclusion,
	}, s.Conversation)
}

func TestProModeEndsWithCompleteAnswer(t *testing.T) {
	arxiv := &stubAdapter{name: "arxiv", provider: types.ProviderAcademic, kind: types.KindAcademic, n: 3}
	web := &stubAdapter{name: "web", provider: types.ProviderWeb, kind: types.KindWebpage, n: 1}
	model := &answerModel{conclusion: longConclusion}
	p := newPipeline(t, types.DefaultPipelineConfig(), model, arxiv, web)

	s, err := p.Run(context.Background(), ModePro, "Latest advances in transformers?", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Iteration)
	assert.Equal(t, 1, arxiv.calls())
	assert.Equal(t, "fast_path", s.Memory.String(types.MemDecompositionMethod))
	assert.Equal(t, false, s.Memory[types.MemDecomposed])
	assert.Equal(t, 1, s.Memory.Int(types.MemNumTasks))

	require.NotNil(t, s.Verified)
	assert.Len(t, s.Verified.Facts, 4)
	assert.Equal(t, s.Verified.Confidence, s.Memory.Float(types.MemVerificationConfidence))
	assert.Equal(t, 0.5, s.Memory.Float(types.MemDiversityScore))
	assert.Equal(t, 0.0, s.Memory.Float(types.MemVerificationAdjustment))

	assert.Equal(t, false, s.Memory[types.MemShouldContinue])
	assert.Equal(t, "answer_complete", s.Memory.String(types.MemStopReason))
	assert.NotEmpty(t, s.Memory.String(types.MemFormattedOutput))
}

func TestProModeTerminatesAtMaxIterations(t *testing.T) {
	web := &stubAdapter{name: "web", provider: types.ProviderWeb, kind: types.KindWebpage, n: 1}
	model := &answerModel{conclusion: "Too short."}
	cfg := types.DefaultPipelineConfig()
	cfg.MaxIterations = 2
	p := newPipeline(t, cfg, model, web)

	var stages []Stage
	s, err := p.Run(context.Background(), ModePro, "short query", func(e Event) {
		stages = append(stages, e.Stage)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, 3, web.calls(), "passes are bounded by max_iterations + 1")
	assert.Equal(t, "max_iterations_reached", s.Memory.String(types.MemStopReason))
	assert.Equal(t, 1, s.CurrentTaskIndex, "task cursor never passes len(tasks)")

	want := []Stage{StageDecomposition}
	for i := 0; i < 3; i++ {
		want = append(want, StageRetrieval, StageVerification, StageSynthesis, StageLoopDecision)
	}
	want = append(want, StageFormat)
	assert.Equal(t, want, stages)
}

func TestProModeWorksThroughTasks(t *testing.T) {
	web := &stubAdapter{name: "web", provider: types.ProviderWeb, kind: types.KindWebpage, n: 1}
	model := &answerModel{conclusion: "Too short."}
	cfg := types.DefaultPipelineConfig()
	cfg.MinQueryLength = 3
	p := newPipeline(t, cfg, llm.ModelFunc(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "sub_questions") {
			return "", errors.New("model offline")
		}
		return model.Complete(ctx, prompt)
	}), web)

	s, err := p.Run(context.Background(), ModePro, "Compare Python and Rust for systems programming", nil)
	require.NoError(t, err)

	assert.Equal(t, "heuristic", s.Memory.String(types.MemDecompositionMethod))
	assert.Equal(t, true, s.Memory[types.MemDecomposed])
	require.Len(t, s.Tasks, 3)

	web.mu.Lock()
	queries := append([]string(nil), web.queries...)
	web.mu.Unlock()
	require.GreaterOrEqual(t, len(queries), 3)
	for i, task := range s.Tasks {
		assert.Equal(t, task.Content, queries[i], "pass %d retrieves task %d", i, i)
	}
}

func TestAllProvidersFailedDegrades(t *testing.T) {
	for _, mode := range []Mode{ModeSimple, ModePro} {
		t.Run(string(mode), func(t *testing.T) {
			a := &stubAdapter{name: "web", provider: types.ProviderWeb, err: errors.New("connection refused")}
			b := &stubAdapter{name: "arxiv", provider: types.ProviderAcademic, err: errors.New("HTTP 500")}
			model := &answerModel{conclusion: longConclusion}
			p := newPipeline(t, types.DefaultPipelineConfig(), model, a, b)

			s, err := p.Run(context.Background(), mode, "quantum error correction", nil)
			require.NoError(t, err)

			require.NotNil(t, s.Retrieved)
			assert.Equal(t, 0, s.Retrieved.Len())
			assert.Len(t, s.Memory[types.MemRetrievalErrors], 2)
			require.NotNil(t, s.Answer)
			assert.Equal(t, synthesize.NoFactsConclusion, s.Answer.Conclusion)
			assert.Equal(t, 0.0, s.Answer.Metadata.Confidence)
			if mode == ModePro {
				require.NotNil(t, s.Verified)
				assert.Equal(t, 0.0, s.Verified.Confidence)
			}
			assert.Contains(t, s.Memory.String(types.MemFormattedOutput), synthesize.NoFactsConclusion)
		})
	}
}

func TestModelFailureFallsBack(t *testing.T) {
	web := &stubAdapter{name: "web", provider: types.ProviderWeb, kind: types.KindWebpage, n: 2}
	failing := llm.ModelFunc(func(context.Context, string) (string, error) {
		return "", errors.New("Claude API returned 529")
	})
	p := newPipeline(t, types.DefaultPipelineConfig(), failing, web)

	s, err := p.Run(context.Background(), ModeSimple, "query", nil)
	require.NoError(t, err)

	require.NotNil(t, s.Answer)
	assert.Equal(t, types.SynthesisFallback, s.Answer.Metadata.SynthesisMethod)
	assert.Equal(t, types.SynthesisFallback, s.Memory.String(types.MemSynthesisMethod))
	assert.Contains(t, s.Answer.Conclusion, "fact_1")
	assert.Contains(t, s.Memory.String(types.MemFormattedOutput), "fallback")
}

func TestCancelledRequestStops(t *testing.T) {
	web := &stubAdapter{name: "web", provider: types.ProviderWeb, kind: types.KindWebpage, n: 3}
	model := &answerModel{conclusion: "Too short."}
	p := newPipeline(t, types.DefaultPipelineConfig(), model, web)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := p.Run(ctx, ModePro, "query", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Iteration)
	assert.Equal(t, "cancelled", s.Memory.String(types.MemStopReason))
	assert.NotEmpty(t, s.Memory.String(types.MemFormattedOutput))
}

func TestStagesArePure(t *testing.T) {
	web := &stubAdapter{name: "web", provider: types.ProviderWeb, kind: types.KindWebpage, n: 2}
	arxiv := &stubAdapter{name: "arxiv", provider: types.ProviderAcademic, kind: types.KindAcademic, n: 1}
	model := &answerModel{conclusion: longConclusion}
	p := newPipeline(t, types.DefaultPipelineConfig(), model, web, arxiv)
	ctx := context.Background()

	s0 := types.NewState("What is retrieval-augmented generation?")
	s0.Memory["caller_key"] = "kept"
	s1 := p.Retrieve(ctx, s0)
	s2 := p.Verify(ctx, s1)
	s3 := p.Synthesize(ctx, s2)
	s4, _ := p.Decide(ctx, s3)
	s5 := p.Format(s4)

	steps := []struct {
		name string
		in   types.PipelineState
		run  func(types.PipelineState) types.PipelineState
	}{
		{"retrieval", s0, func(s types.PipelineState) types.PipelineState { return p.Retrieve(ctx, s) }},
		{"decomposition", s0, func(s types.PipelineState) types.PipelineState { return p.Decompose(ctx, s) }},
		{"verification", s1, func(s types.PipelineState) types.PipelineState { return p.Verify(ctx, s) }},
		{"synthesis", s2, func(s types.PipelineState) types.PipelineState { return p.Synthesize(ctx, s) }},
		{"loop decision", s3, func(s types.PipelineState) types.PipelineState { next, _ := p.Decide(ctx, s); return next }},
		{"advance", s4, Advance},
		{"format", s4, p.Format},
	}
	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			before := step.in.Clone()
			first := step.run(step.in)
			second := step.run(step.in)

			assert.Equal(t, first, second, "same input yields the same output")
			assert.Equal(t, before, step.in, "input is not modified")
			assert.Equal(t, "kept", first.Memory["caller_key"], "foreign memory keys survive")
		})
	}

	assert.Equal(t, "kept", s5.Memory["caller_key"])
	assert.Len(t, s5.Conversation, 2)
	assert.Empty(t, s4.Conversation)
}

// echoAdapter returns one item titled with the query it was asked.
type echoAdapter struct{}

func (echoAdapter) Provider() types.Provider { return types.ProviderWeb }
func (echoAdapter) Name() string             { return "echo" }

func (echoAdapter) Retrieve(_ context.Context, q types.Query) (types.EvidenceSet, error) {
	return types.EvidenceSet{Items: []types.EvidenceItem{{
		ID:       "echo_" + q.Content,
		Provider: types.ProviderWeb,
		Kind:     types.KindWebpage,
		Title:    q.Content,
		Excerpt:  "About " + q.Content + ".",
	}}}, nil
}

func TestRetrieveReplacesPreviousEvidence(t *testing.T) {
	p := newPipeline(t, types.DefaultPipelineConfig(), &answerModel{conclusion: longConclusion}, echoAdapter{})
	ctx := context.Background()

	s := types.NewState("Compare Python and Rust")
	s.Tasks = []types.Query{types.NewQuery("Python"), types.NewQuery("Rust")}

	first := p.Retrieve(ctx, s)
	require.Equal(t, 1, first.Retrieved.Len())
	assert.Equal(t, "Python", first.Retrieved.Items[0].Title)

	second := p.Retrieve(ctx, Advance(first))
	require.Equal(t, 1, second.Retrieved.Len(), "earlier tasks' evidence is not accumulated")
	assert.Equal(t, "Rust", second.Retrieved.Items[0].Title)
	assert.Equal(t, 1, second.Memory.Int(types.MemLastRetrievalSources))
}

func TestAdvance(t *testing.T) {
	s := types.NewState("q")
	s.Tasks = []types.Query{types.NewQuery("a"), types.NewQuery("b")}

	s = Advance(s)
	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, 1, s.CurrentTaskIndex)
	assert.Equal(t, "b", s.CurrentQuery().Content)

	s = Advance(Advance(s))
	assert.Equal(t, 3, s.Iteration)
	assert.Equal(t, 2, s.CurrentTaskIndex)
	assert.Equal(t, "q", s.CurrentQuery().Content)
}

func TestFollowUpCarriesConversation(t *testing.T) {
	web := &stubAdapter{name: "web", provider: types.ProviderWeb, kind: types.KindWebpage, n: 1}
	p := newPipeline(t, types.DefaultPipelineConfig(), &answerModel{conclusion: longConclusion}, web)
	ctx := context.Background()

	first, err := p.Run(ctx, ModeSimple, "first question", nil)
	require.NoError(t, err)
	second, err := p.RunState(ctx, ModeSimple, FollowUp(first, "second question"), nil)
	require.NoError(t, err)

	assert.Len(t, first.Conversation, 2)
	require.Len(t, second.Conversation, 4)
	assert.Equal(t, "User: second question", second.Conversation[2])
	assert.Equal(t, "second question", second.Query.Content)
}

func TestRunRejectsBadInput(t *testing.T) {
	web := &stubAdapter{name: "web", provider: types.ProviderWeb, n: 1}
	p := newPipeline(t, types.DefaultPipelineConfig(), &answerModel{}, web)

	_, err := p.Run(context.Background(), ModeSimple, "   ", nil)
	assert.Error(t, err)
	_, err = p.Run(context.Background(), Mode("turbo"), "query", nil)
	assert.Error(t, err)
	assert.Equal(t, 0, web.calls())
}

func TestNewConfigErrors(t *testing.T) {
	web := &stubAdapter{name: "web", provider: types.ProviderWeb}
	orch := retrieval.NewOrchestrator([]retrieval.Adapter{web}, quietLogger())
	model := &answerModel{}

	tests := []struct {
		name string
		opts func() Options
	}{
		{"no orchestrator", func() Options {
			return Options{Config: types.DefaultPipelineConfig(), Model: model}
		}},
		{"no model", func() Options {
			return Options{Config: types.DefaultPipelineConfig(), Orchestrator: orch}
		}},
		{"no enabled adapter", func() Options {
			return Options{Config: types.DefaultPipelineConfig(), Orchestrator: orch, Model: model,
				Providers: []types.Provider{types.ProviderFinancial}}
		}},
		{"empty orchestrator", func() Options {
			return Options{Config: types.DefaultPipelineConfig(), Orchestrator: retrieval.NewOrchestrator(nil, nil), Model: model}
		}},
		{"negative iterations", func() Options {
			cfg := types.DefaultPipelineConfig()
			cfg.MaxIterations = -1
			return Options{Config: cfg, Orchestrator: orch, Model: model}
		}},
		{"confidence out of range", func() Options {
			cfg := types.DefaultPipelineConfig()
			cfg.MinConfidence = 1.5
			return Options{Config: cfg, Orchestrator: orch, Model: model}
		}},
		{"zero min query length", func() Options {
			cfg := types.DefaultPipelineConfig()
			cfg.MinQueryLength = 0
			return Options{Config: cfg, Orchestrator: orch, Model: model}
		}},
		{"zero subtasks", func() Options {
			cfg := types.DefaultPipelineConfig()
			cfg.MaxSubtasks = 0
			return Options{Config: cfg, Orchestrator: orch, Model: model}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}

	_, err := New(Options{Config: types.DefaultPipelineConfig(), Orchestrator: orch, Model: model,
		Providers: []types.Provider{types.ProviderWeb}})
	assert.NoError(t, err)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeSimple, false},
		{"simple", ModeSimple, false},
		{" PRO ", ModePro, false},
		{"deep", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
