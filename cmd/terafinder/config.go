// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/terafinder/internal/llm"
	"github.com/pdiddy/terafinder/internal/pipeline"
	"github.com/pdiddy/terafinder/internal/retrieval"
	"github.com/pdiddy/terafinder/internal/secrets"
	"github.com/pdiddy/terafinder/pkg/types"
)

// setDefaults registers every configuration key so environment variables
// such as TERAFINDER_PIPELINE_MAX_ITERATIONS are recognized.
func setDefaults() {
	d := types.Defaults()

	viper.SetDefault("retrieval.timeout", d.Retrieval.Timeout)
	viper.SetDefault("retrieval.user_agent", d.Retrieval.UserAgent)
	viper.SetDefault("retrieval.enabled_providers", d.Retrieval.EnabledProviders)
	viper.SetDefault("retrieval.max_results", d.Retrieval.MaxResults)
	viper.SetDefault("retrieval.max_scrape_urls", d.Retrieval.MaxScrapeURLs)
	viper.SetDefault("retrieval.allow_private_hosts", d.Retrieval.AllowPrivateHosts)

	viper.SetDefault("ai.backend", string(d.AI.Backend))
	viper.SetDefault("ai.model", d.AI.Model)
	viper.SetDefault("ai.base_url", d.AI.BaseURL)
	viper.SetDefault("ai.api_key", d.AI.APIKey)
	viper.SetDefault("ai.max_retries", d.AI.MaxRetries)
	viper.SetDefault("ai.timeout", d.AI.Timeout)

	viper.SetDefault("pipeline.max_iterations", d.Pipeline.MaxIterations)
	viper.SetDefault("pipeline.min_confidence", d.Pipeline.MinConfidence)
	viper.SetDefault("pipeline.min_sources", d.Pipeline.MinSources)
	viper.SetDefault("pipeline.max_subtasks", d.Pipeline.MaxSubtasks)
	viper.SetDefault("pipeline.min_query_length", d.Pipeline.MinQueryLength)
	viper.SetDefault("pipeline.min_sources_for_high_confidence", d.Pipeline.MinSourcesForHighConfidence)
	viper.SetDefault("pipeline.use_llm_verification", d.Pipeline.UseLLMVerification)
	viper.SetDefault("pipeline.request_timeout", d.Pipeline.RequestTimeout)
	viper.SetDefault("pipeline.include_metadata", d.Pipeline.IncludeMetadata)

	viper.SetDefault("history.enabled", d.History.Enabled)
	viper.SetDefault("history.dir", d.History.Dir)
	viper.SetDefault("history.max_results", d.History.MaxResults)

	viper.SetDefault("server.addr", d.Server.Addr)
}

// bindFlags binds the named flags of cmd to configuration keys. Binding
// happens when the command runs so commands that share a flag name do not
// overwrite each other's binding.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

// loadConfig decodes the merged configuration.
func loadConfig() (types.Config, error) {
	cfg := types.Defaults()
	if err := viper.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("%w: decoding config: %w", pipeline.ErrConfig, err)
	}
	return cfg, nil
}

// modelKey returns the secret name holding the API key for backend.
func modelKey(backend types.AIBackend) string {
	if backend == types.BackendOpenAI {
		return secrets.OpenAIAPIKey
	}
	return secrets.AnthropicAPIKey
}

// buildPipeline checks credentials and assembles the pipeline. Missing
// credentials and invalid settings are configuration failures.
func buildPipeline(cfg types.Config) (*pipeline.Pipeline, error) {
	providers, err := types.ParseProviders(cfg.Retrieval.EnabledProviders)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfig, err)
	}

	required := retrieval.RequiredKeys(providers)
	apiKey := cfg.AI.APIKey
	if apiKey == "" {
		required = append(required, modelKey(cfg.AI.Backend))
	}
	if err := secrets.Require(loadedSecrets, required...); err != nil {
		return nil, err
	}
	if apiKey == "" {
		apiKey = secrets.Lookup(loadedSecrets, modelKey(cfg.AI.Backend))
	}

	model, err := llm.New(cfg.AI, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfig, err)
	}

	orch := retrieval.NewOrchestrator(retrieval.DefaultAdapters(cfg.Retrieval, loadedSecrets, nil), logger)
	return pipeline.New(pipeline.Options{
		Config:       cfg.Pipeline,
		Providers:    providers,
		Orchestrator: orch,
		Model:        model,
		Logger:       logger,
	})
}
