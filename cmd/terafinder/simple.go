// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"

	"github.com/pdiddy/terafinder/internal/pipeline"
)

var simpleCmd = &cobra.Command{
	Use:   "simple [question]",
	Short: "Answer a question with one retrieval and synthesis pass",
	Long: `Simple queries every enabled provider once, synthesizes an answer from
the combined evidence, and prints it as markdown with numbered citations.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResearch(cmd, args, pipeline.ModeSimple, nil)
	},
}

func init() {
	researchFlags(simpleCmd)
	rootCmd.AddCommand(simpleCmd)
}
