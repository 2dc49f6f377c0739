// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/terafinder/internal/format"
	"github.com/pdiddy/terafinder/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse saved research runs (list, show, search, export, delete)",
	Long: `History manages the local SQLite store of finished research runs. Each
run keeps its question, answer, scores, and the evidence it was built from.`,
}

// --- list subcommand ---

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printRuns(cmd, runs)
	},
}

// --- search subcommand ---

var historySearchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Search runs by question and evidence text",
	Long: `Search matches runs whose question contains the text or whose evidence
titles and excerpts match it. Evidence matching uses SQLite FTS5 when the
binary is built with it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.Search(cmd.Context(), strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		return printRuns(cmd, runs)
	},
}

// --- show subcommand ---

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a saved run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		switch output {
		case "json", "yaml":
			return history.Encode(os.Stdout, output, rec)
		case "markdown", "":
			render, _ := cmd.Flags().GetString("render")
			if err := checkOutput("markdown", render); err != nil {
				return err
			}
			return writeMarkdown(os.Stdout, rec.Formatted, render)
		default:
			return fmt.Errorf("unknown output %q (want markdown, json, or yaml)", output)
		}
	},
}

// --- export subcommand ---

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every run with its evidence to YAML or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		f, _ := cmd.Flags().GetString("format")
		path, _ := cmd.Flags().GetString("out")
		if path == "" {
			return store.Export(cmd.Context(), os.Stdout, f)
		}

		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		if err := store.Export(cmd.Context(), out, f); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported to %s\n", path)
		return nil
	},
}

// --- delete subcommand ---

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved run and its evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// --- shared helpers ---

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.History)
}

func printRuns(cmd *cobra.Command, runs []history.Record) error {
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		if runs == nil {
			runs = []history.Record{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-16s  %-6s  %-10s  %s\n",
		"ID", "Created", "Mode", "Confidence", "Query")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))

	for _, r := range runs {
		query := r.Query
		if len([]rune(query)) > 40 {
			query = string([]rune(query)[:37]) + "..."
		}
		_, label := format.ConfidenceLabel(r.Confidence)
		fmt.Fprintf(os.Stdout, "%-36s  %-16s  %-6s  %-10s  %s\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Mode, label, query)
	}

	fmt.Fprintf(os.Stdout, "\n%d results\n", len(runs))
	return nil
}

func init() {
	for _, c := range []*cobra.Command{historyListCmd, historySearchCmd} {
		c.Flags().Int("limit", 0, "maximum number of runs (default history.max_results)")
		c.Flags().Bool("json", false, "output results as JSON")
	}
	historyShowCmd.Flags().StringP("output", "o", "markdown", "output format: markdown, json, or yaml")
	historyShowCmd.Flags().String("render", "auto", "render markdown for the terminal: auto, always, or never")
	historyExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	historyExportCmd.Flags().String("out", "", "write to this file instead of stdout")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historySearchCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}
