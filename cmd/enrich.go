package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smilezzm/schools-of-professors/internal/pipeline"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

var (
	enrichFlags   stageFlags
	enrichWorkers int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fill professor records via the chat model",
	Long:  "Asks the configured chat model for each discovered professor's title, degrees, and join year, and appends the results to the enriched store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cfg.LLMKey() == "" {
			zap.L().Warn("no model provider configured, enriched rows will be recorded as incomplete")
		}
		if enrichWorkers > 0 {
			cfg.Enrich.Workers = enrichWorkers
		}
		p := pipeline.New(cfg)
		opts := enrichFlags.options()
		return recordRun(ctx, "enrich", opts.Resume, func(ctx context.Context) ([]*stage.Summary, error) {
			sum, err := p.Enrich(ctx, opts)
			if sum == nil {
				return nil, err
			}
			return []*stage.Summary{sum}, err
		})
	},
}

func init() {
	enrichFlags.register(enrichCmd, false)
	enrichCmd.Flags().IntVar(&enrichWorkers, "workers", 0, "override the enrichment worker count")
	rootCmd.AddCommand(enrichCmd)
}
