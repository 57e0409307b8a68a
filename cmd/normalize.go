package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/smilezzm/schools-of-professors/internal/pipeline"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

var normalizeFlags stageFlags

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Map school names to standard abbreviations",
	Long:  "Resolves each enriched degree school through manual review decisions, the alias table, and the chat model; uncertain values are flagged for review instead of guessed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		p := pipeline.New(cfg)
		opts := normalizeFlags.options()
		return recordRun(ctx, "normalize", opts.Resume, func(ctx context.Context) ([]*stage.Summary, error) {
			sum, err := p.Normalize(ctx, opts)
			if sum == nil {
				return nil, err
			}
			return []*stage.Summary{sum}, err
		})
	},
}

func init() {
	normalizeFlags.register(normalizeCmd, false)
	rootCmd.AddCommand(normalizeCmd)
}
