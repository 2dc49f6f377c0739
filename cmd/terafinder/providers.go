// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/terafinder/internal/pipeline"
	"github.com/pdiddy/terafinder/internal/retrieval"
	"github.com/pdiddy/terafinder/internal/secrets"
	"github.com/pdiddy/terafinder/pkg/types"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List retrieval adapters and their credential status",
	Long: `Providers lists every built-in retrieval adapter, the provider tag it
answers for, whether the current configuration enables it, and whether the
API key it uses is present.`,
	RunE: runProviders,
}

// adapterKeys maps adapter names to the secret they read.
var adapterKeys = map[string]string{
	"tavily":           secrets.TavilyAPIKey,
	"semantic_scholar": secrets.SemanticScholarAPIKey,
}

type providerRow struct {
	Adapter  string `json:"adapter"`
	Provider string `json:"provider"`
	Enabled  bool   `json:"enabled"`
	Key      string `json:"key"`
}

func runProviders(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, map[string]string{"providers": "retrieval.enabled_providers"}); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	enabled, err := types.ParseProviders(cfg.Retrieval.EnabledProviders)
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrConfig, err)
	}

	var rows []providerRow
	for _, a := range retrieval.DefaultAdapters(cfg.Retrieval, loadedSecrets, nil) {
		row := providerRow{
			Adapter:  a.Name(),
			Provider: string(a.Provider()),
			Enabled:  len(enabled) == 0 || slices.Contains(enabled, a.Provider()),
			Key:      "none needed",
		}
		if key, ok := adapterKeys[a.Name()]; ok {
			row.Key = "missing (" + secrets.EnvName(key) + ")"
			if secrets.Lookup(loadedSecrets, key) != "" {
				row.Key = "present"
			}
		}
		rows = append(rows, row)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Fprintf(os.Stdout, "%-18s  %-10s  %-8s  %s\n", "Adapter", "Provider", "Enabled", "Key")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 70))
	for _, r := range rows {
		fmt.Fprintf(os.Stdout, "%-18s  %-10s  %-8t  %s\n", r.Adapter, r.Provider, r.Enabled, r.Key)
	}
	return nil
}

func init() {
	providersCmd.Flags().StringSlice("providers", nil, "providers to treat as enabled")
	providersCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(providersCmd)
}
