// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"

	"github.com/pdiddy/terafinder/internal/pipeline"
)

var proCmd = &cobra.Command{
	Use:   "pro [question]",
	Short: "Research a question with decomposition, verification, and iteration",
	Long: `Pro decomposes the question into sub-questions, retrieves and verifies
evidence for each, and synthesizes an answer. It keeps iterating until the
answer is confident and complete, no tasks remain, or --max-iterations is
reached.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResearch(cmd, args, pipeline.ModePro, map[string]string{
			"max-iterations":    "pipeline.max_iterations",
			"min-confidence":    "pipeline.min_confidence",
			"min-sources":       "pipeline.min_sources",
			"max-subtasks":      "pipeline.max_subtasks",
			"verify-with-model": "pipeline.use_llm_verification",
		})
	},
}

func init() {
	researchFlags(proCmd)
	proCmd.Flags().Int("max-iterations", 5, "maximum refinement iterations after the first pass")
	proCmd.Flags().Float64("min-confidence", 0.7, "confidence at which the answer is accepted")
	proCmd.Flags().Int("min-sources", 3, "sources required before the answer is accepted")
	proCmd.Flags().Int("max-subtasks", 5, "maximum sub-questions produced by decomposition")
	proCmd.Flags().Bool("verify-with-model", false, "ask the model to adjust verification confidence")

	rootCmd.AddCommand(proCmd)
}
