// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pdiddy/terafinder/internal/format"
	"github.com/pdiddy/terafinder/internal/history"
	"github.com/pdiddy/terafinder/internal/pipeline"
	"github.com/pdiddy/terafinder/pkg/types"
)

// researchFlags are shared by the simple and pro commands.
func researchFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("providers", nil, "providers to query (web, academic, social, financial, scraped); default all")
	cmd.Flags().StringP("output", "o", "markdown", "output format: markdown, json, or yaml")
	cmd.Flags().String("render", "auto", "render markdown for the terminal: auto, always, or never")
	cmd.Flags().Bool("no-history", false, "do not save this run to history")
	cmd.Flags().Bool("no-metadata", false, "omit the metadata block from markdown output")
}

var researchKeys = map[string]string{
	"providers": "retrieval.enabled_providers",
}

// runResearch runs one question in mode and writes the answer to stdout.
func runResearch(cmd *cobra.Command, args []string, mode pipeline.Mode, extra map[string]string) error {
	keys := map[string]string{}
	for k, v := range researchKeys {
		keys[k] = v
	}
	for k, v := range extra {
		keys[k] = v
	}
	if err := bindFlags(cmd, keys); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noMeta, _ := cmd.Flags().GetBool("no-metadata"); noMeta {
		cfg.Pipeline.IncludeMetadata = false
	}

	output, _ := cmd.Flags().GetString("output")
	render, _ := cmd.Flags().GetString("render")
	if err := checkOutput(output, render); err != nil {
		return err
	}

	pipe, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	var observe pipeline.Observer
	if !quiet {
		observe = progress(os.Stderr)
	}

	query := strings.Join(args, " ")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	final, err := pipe.Run(ctx, mode, query, observe)
	if err != nil {
		return err
	}

	rec := history.NewRecord(string(mode), final)
	if noHistory, _ := cmd.Flags().GetBool("no-history"); cfg.History.Enabled && !noHistory {
		if err := saveRun(ctx, cfg.History, &rec); err != nil {
			logger.Warn("saving run failed", "error", err)
		}
	}

	switch output {
	case "json", "yaml":
		return history.Encode(os.Stdout, output, rec)
	default:
		return writeMarkdown(os.Stdout, final.Memory.String(types.MemFormattedOutput), render)
	}
}

func checkOutput(output, render string) error {
	switch output {
	case "markdown", "json", "yaml":
	default:
		return fmt.Errorf("%w: unknown output %q (want markdown, json, or yaml)", pipeline.ErrConfig, output)
	}
	switch render {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("%w: unknown render mode %q (want auto, always, or never)", pipeline.ErrConfig, render)
	}
	return nil
}

func saveRun(ctx context.Context, cfg types.HistoryConfig, rec *history.Record) error {
	store, err := history.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Save(ctx, *rec)
	if err != nil {
		return err
	}
	rec.ID = id
	logger.Debug("run saved", "id", id, "path", store.Path())
	return nil
}

// writeMarkdown prints md, rendered through glamour when stdout is a
// terminal or rendering is forced.
func writeMarkdown(w io.Writer, md, render string) error {
	fd := int(os.Stdout.Fd())
	tty := term.IsTerminal(fd)
	if render == "always" || (render == "auto" && tty) {
		width := 80
		if tty {
			if cols, _, err := term.GetSize(fd); err == nil && cols > 0 {
				width = cols
			}
		}
		out, err := format.Render(md, width)
		if err == nil {
			_, err = io.WriteString(w, out)
			return err
		}
		logger.Warn("rendering markdown failed", "error", err)
	}
	_, err := io.WriteString(w, md)
	return err
}

// progress returns an observer printing one line per stage.
func progress(w io.Writer) pipeline.Observer {
	return func(e pipeline.Event) {
		m := e.State.Memory
		var detail string
		switch e.Stage {
		case pipeline.StageDecomposition:
			detail = fmt.Sprintf("%d task(s) via %s", m.Int(types.MemNumTasks), m.String(types.MemDecompositionMethod))
		case pipeline.StageRetrieval:
			detail = fmt.Sprintf("%d source(s)", m.Int(types.MemLastRetrievalSources))
		case pipeline.StageVerification:
			detail = fmt.Sprintf("confidence %.2f, diversity %.2f",
				m.Float(types.MemVerificationConfidence), m.Float(types.MemDiversityScore))
		case pipeline.StageSynthesis:
			detail = fmt.Sprintf("%s answer, confidence %.2f",
				m.String(types.MemSynthesisMethod), m.Float(types.MemSynthesisConfidence))
		case pipeline.StageLoopDecision:
			if m.Bool(types.MemShouldContinue) {
				detail = "continue"
			} else {
				detail = "stop: " + m.String(types.MemStopReason)
			}
		case pipeline.StageFormat:
			detail = "done"
		}
		fmt.Fprintf(w, "[%d] %-14s %s\n", e.Iteration, e.Stage, detail)
	}
}
