// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline sequences the research stages into the two run modes.
//
// Simple mode runs retrieval, synthesis, and formatting once. Pro mode
// decomposes the query, then loops retrieval, verification, synthesis, and
// the loop decision until the controller ends the run, and finally formats.
// Every stage takes a PipelineState and returns a new one; per-stage
// failures degrade the state instead of aborting the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pdiddy/terafinder/internal/decompose"
	"github.com/pdiddy/terafinder/internal/format"
	"github.com/pdiddy/terafinder/internal/llm"
	"github.com/pdiddy/terafinder/internal/loop"
	"github.com/pdiddy/terafinder/internal/retrieval"
	"github.com/pdiddy/terafinder/internal/synthesize"
	"github.com/pdiddy/terafinder/internal/verify"
	"github.com/pdiddy/terafinder/pkg/types"
)

// ErrConfig marks a configuration failure. The pipeline refuses to start.
var ErrConfig = errors.New("configuration failure")

// Mode selects the run path.
type Mode string

const (
	ModeSimple Mode = "simple"
	ModePro    Mode = "pro"
)

// ParseMode validates a mode name. Empty selects simple.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSimple, nil
	case ModeSimple, ModePro:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want simple or pro)", s)
	}
}

// Stage names a pipeline step.
type Stage string

const (
	StageDecomposition Stage = "decomposition"
	StageRetrieval     Stage = "retrieval"
	StageVerification  Stage = "verification"
	StageSynthesis     Stage = "synthesis"
	StageLoopDecision  Stage = "loop_decision"
	StageFormat        Stage = "format"
)

// Event is emitted after every stage.
type Event struct {
	Stage     Stage
	Iteration int
	State     types.PipelineState
}

// Observer receives stage events. It runs on the pipeline goroutine and
// must not block for long.
type Observer func(Event)

// Formatter renders the final answer. format.Markdown satisfies it.
type Formatter interface {
	Format(answer types.StructuredAnswer, citations []types.EvidenceItem) string
}

// Simple mode wraps raw evidence with these fixed scores.
const (
	SimpleConfidence = 0.7
	SimpleDiversity  = 0.5
)

// Options configures New.
type Options struct {
	Config types.PipelineConfig

	// Providers restricts retrieval to these provider tags. Empty enables
	// every adapter in the orchestrator.
	Providers []types.Provider

	Orchestrator *retrieval.Orchestrator
	Model        llm.Model

	// Formatter defaults to format.Markdown with Config.IncludeMetadata.
	Formatter Formatter

	Logger *slog.Logger
}

// Pipeline is a configured set of stages. It holds no per-request state
// and is safe for concurrent runs.
type Pipeline struct {
	cfg       types.PipelineConfig
	providers []types.Provider

	orch        *retrieval.Orchestrator
	decomposer  *decompose.Decomposer
	verifier    *verify.Verifier
	synthesizer *synthesize.Synthesizer
	controller  loop.Controller
	formatter   Formatter

	logger *slog.Logger
}

// New validates opts and builds a pipeline. Every error wraps ErrConfig.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("%w: no retrieval orchestrator", ErrConfig)
	}
	if len(opts.Orchestrator.Enabled(opts.Providers)) == 0 {
		return nil, fmt.Errorf("%w: no retrieval adapter enabled for providers %v", ErrConfig, opts.Providers)
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("%w: no language model configured", ErrConfig)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	formatter := opts.Formatter
	if formatter == nil {
		formatter = format.Markdown{IncludeMetadata: cfg.IncludeMetadata}
	}

	verifier := &verify.Verifier{
		MinSourcesThreshold: cfg.MinSourcesForHighConfidence,
		Logger:              logger,
	}
	if cfg.UseLLMVerification {
		verifier.Model = opts.Model
	}

	return &Pipeline{
		cfg:       cfg,
		providers: opts.Providers,
		orch:      opts.Orchestrator,
		decomposer: &decompose.Decomposer{
			Model:          opts.Model,
			MaxSubtasks:    cfg.MaxSubtasks,
			MinQueryLength: cfg.MinQueryLength,
			Logger:         logger,
		},
		verifier:    verifier,
		synthesizer: &synthesize.Synthesizer{Model: opts.Model, Logger: logger},
		controller:  loop.NewController(cfg),
		formatter:   formatter,
		logger:      logger,
	}, nil
}

func validate(cfg types.PipelineConfig) error {
	switch {
	case cfg.MaxIterations < 0:
		return fmt.Errorf("max_iterations must be >= 0, got %d", cfg.MaxIterations)
	case cfg.MinConfidence < 0 || cfg.MinConfidence > 1:
		return fmt.Errorf("min_confidence must be in [0,1], got %v", cfg.MinConfidence)
	case cfg.MinSources < 0:
		return fmt.Errorf("min_sources must be >= 0, got %d", cfg.MinSources)
	case cfg.MaxSubtasks < 1:
		return fmt.Errorf("max_subtasks must be >= 1, got %d", cfg.MaxSubtasks)
	case cfg.MinQueryLength < 1:
		return fmt.Errorf("min_query_length must be >= 1 (1 always decomposes), got %d", cfg.MinQueryLength)
	case cfg.MinSourcesForHighConfidence < 1:
		return fmt.Errorf("min_sources_for_high_confidence must be >= 1, got %d", cfg.MinSourcesForHighConfidence)
	case cfg.RequestTimeout < 0:
		return fmt.Errorf("request_timeout must be >= 0, got %v", cfg.RequestTimeout)
	}
	return nil
}

// Config returns the construction-time options.
func (p *Pipeline) Config() types.PipelineConfig { return p.cfg }

// Providers returns the enabled provider tags, or nil when all are enabled.
func (p *Pipeline) Providers() []types.Provider { return p.providers }

// Run answers query from a fresh state.
func (p *Pipeline) Run(ctx context.Context, mode Mode, query string, observe Observer) (types.PipelineState, error) {
	return p.RunState(ctx, mode, types.NewState(query), observe)
}

// FollowUp returns the initial state for query that continues the
// conversation of prev.
func FollowUp(prev types.PipelineState, query string) types.PipelineState {
	s := types.NewState(query)
	s.Conversation = append(s.Conversation, prev.Conversation...)
	return s
}

// RunState runs mode starting from initial. The only errors are an unknown
// mode or an empty query; provider, model, and timeout failures produce a
// degraded but complete state.
func (p *Pipeline) RunState(ctx context.Context, mode Mode, initial types.PipelineState, observe Observer) (types.PipelineState, error) {
	if strings.TrimSpace(initial.Query.Content) == "" {
		return initial, errors.New("query is empty")
	}
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}
	emit := func(stage Stage, s types.PipelineState) {
		p.logger.Debug("stage complete", "stage", stage, "iteration", s.Iteration)
		if observe != nil {
			observe(Event{Stage: stage, Iteration: s.Iteration, State: s})
		}
	}

	var s types.PipelineState
	switch mode {
	case ModeSimple:
		s = p.runSimple(ctx, initial, emit)
	case ModePro:
		s = p.runPro(ctx, initial, emit)
	default:
		return initial, fmt.Errorf("unknown mode %q", mode)
	}

	p.logger.Info("research complete",
		"mode", mode,
		"iterations", s.Iteration+1,
		"sources", s.Retrieved.Len(),
		"method", s.Memory.String(types.MemSynthesisMethod),
		"stop_reason", s.Memory.String(types.MemStopReason))
	return s, nil
}

func (p *Pipeline) runSimple(ctx context.Context, s types.PipelineState, emit func(Stage, types.PipelineState)) types.PipelineState {
	s = p.Retrieve(ctx, s)
	emit(StageRetrieval, s)
	s = p.Synthesize(ctx, s)
	emit(StageSynthesis, s)
	s = p.Format(s)
	emit(StageFormat, s)
	return s
}

func (p *Pipeline) runPro(ctx context.Context, s types.PipelineState, emit func(Stage, types.PipelineState)) types.PipelineState {
	s = p.Decompose(ctx, s)
	emit(StageDecomposition, s)

	for {
		s = p.Retrieve(ctx, s)
		emit(StageRetrieval, s)
		s = p.Verify(ctx, s)
		emit(StageVerification, s)
		s = p.Synthesize(ctx, s)
		emit(StageSynthesis, s)

		var d loop.Decision
		s, d = p.Decide(ctx, s)
		emit(StageLoopDecision, s)
		if d.Route == loop.End {
			break
		}
		s = Advance(s)
	}

	s = p.Format(s)
	emit(StageFormat, s)
	return s
}
