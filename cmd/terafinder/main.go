// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the terafinder CLI.
//
// terafinder answers research questions by gathering evidence from web,
// academic, social, financial, and scraped sources, scoring it, and
// synthesizing a cited answer with a language model.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/terafinder/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from the secrets directory at startup.
var loadedSecrets map[string]string

// logger is configured from --verbose and --quiet before any command runs.
var logger = slog.Default()

// rootCmd is the base command for the terafinder CLI.
var rootCmd = &cobra.Command{
	Use:   "terafinder",
	Short: "Multi-source research assistant",
	Long: `terafinder answers a research question by retrieving evidence from several
providers (web, academic, social, financial, scraped pages), scoring it for
reliability, and synthesizing a cited answer.

Simple mode runs one retrieval and synthesis pass. Pro mode decomposes the
question, verifies evidence, and loops until the answer is confident,
complete, or the iteration budget is spent.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(cmd)

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", "keys", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./terafinder.yaml or ~/.config/terafinder/terafinder.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets", "directory of API key files")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "log errors only and hide progress")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("terafinder")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "terafinder"))
		}
	}

	viper.SetEnvPrefix("TERAFINDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelWarn
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	if q, _ := cmd.Flags().GetBool("quiet"); q {
		level = slog.LevelError
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
