// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by adapters and model backends
// that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "terafinder/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// RetrievalConfig holds settings for the retrieval stage.
type RetrievalConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// EnabledProviders selects which adapters run. Empty means all
	// registered adapters.
	EnabledProviders []string `json:"enabled_providers" yaml:"enabled_providers" mapstructure:"enabled_providers"`

	// MaxResults caps the items each adapter returns (default 5).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// MaxScrapeURLs caps how many URLs the scraper fetches per query (default 5).
	MaxScrapeURLs int `json:"max_scrape_urls" yaml:"max_scrape_urls" mapstructure:"max_scrape_urls"`

	// AllowPrivateHosts lets the scraper fetch loopback, private, and
	// link-local addresses (default false).
	AllowPrivateHosts bool `json:"allow_private_hosts" yaml:"allow_private_hosts" mapstructure:"allow_private_hosts"`
}

// AIBackend selects the language-model API.
type AIBackend string

const (
	BackendAnthropic AIBackend = "anthropic"
	BackendOpenAI    AIBackend = "openai"
)

// AIConfig holds settings for the language-model capability.
type AIConfig struct {
	// Backend is anthropic or openai (any OpenAI-compatible endpoint).
	Backend AIBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Model is the model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// BaseURL overrides the API endpoint for OpenAI-compatible services.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxRetries is the number of retry attempts for failed API calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// Timeout bounds a single model call.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// PipelineConfig holds the construction-time options of the pipeline.
// MinQueryLength is the word count below which pro mode skips
// decomposition; 1 decomposes every non-empty query.
type PipelineConfig struct {
	MaxIterations               int           `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`
	MinConfidence               float64       `json:"min_confidence" yaml:"min_confidence" mapstructure:"min_confidence"`
	MinSources                  int           `json:"min_sources" yaml:"min_sources" mapstructure:"min_sources"`
	MaxSubtasks                 int           `json:"max_subtasks" yaml:"max_subtasks" mapstructure:"max_subtasks"`
	MinQueryLength              int           `json:"min_query_length" yaml:"min_query_length" mapstructure:"min_query_length"`
	MinSourcesForHighConfidence int           `json:"min_sources_for_high_confidence" yaml:"min_sources_for_high_confidence" mapstructure:"min_sources_for_high_confidence"`
	UseLLMVerification          bool          `json:"use_llm_verification" yaml:"use_llm_verification" mapstructure:"use_llm_verification"`
	RequestTimeout              time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`
	IncludeMetadata             bool          `json:"include_metadata" yaml:"include_metadata" mapstructure:"include_metadata"`
}

// HistoryConfig holds settings for the run history store.
type HistoryConfig struct {
	// Enabled controls whether finished runs are saved.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Dir is the directory containing history.db.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// MaxResults is the default number of rows for list and search (default 20).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// ServerConfig holds settings for the session transport.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// Config groups every configuration section.
type Config struct {
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval" mapstructure:"retrieval"`
	AI        AIConfig        `json:"ai" yaml:"ai" mapstructure:"ai"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	History   HistoryConfig   `json:"history" yaml:"history" mapstructure:"history"`
	Server    ServerConfig    `json:"server" yaml:"server" mapstructure:"server"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Retrieval: RetrievalConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   30 * time.Second,
				UserAgent: "terafinder/0.1",
			},
			MaxResults:    5,
			MaxScrapeURLs: 5,
		},
		AI: AIConfig{
			Backend:    BackendAnthropic,
			Model:      "claude-sonnet-4-5-20250929",
			MaxRetries: 3,
			Timeout:    60 * time.Second,
		},
		Pipeline: DefaultPipelineConfig(),
		History: HistoryConfig{
			Enabled:    true,
			Dir:        ".terafinder",
			MaxResults: 20,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
	}
}

// DefaultPipelineConfig returns the pipeline defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxIterations:               5,
		MinConfidence:               0.7,
		MinSources:                  3,
		MaxSubtasks:                 5,
		MinQueryLength:              10,
		MinSourcesForHighConfidence: 5,
		UseLLMVerification:          false,
		RequestTimeout:              2 * time.Minute,
		IncludeMetadata:             true,
	}
}
