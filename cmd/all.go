package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/smilezzm/schools-of-professors/internal/pipeline"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

var (
	allFlags    stageFlags
	allMaxPages int
	allNoRender bool
	allWorkers  int
)

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run discover, enrich, normalize, and export in order",
	Long:  "Runs the full pipeline. A stage failure stops the sequence; completed stages keep their progress, so rerunning picks up where the failure left off.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if allMaxPages > 0 {
			cfg.Crawl.MaxPagesPerSeed = allMaxPages
		}
		if allNoRender {
			cfg.Render.URL = ""
		}
		if allWorkers > 0 {
			cfg.Enrich.Workers = allWorkers
		}
		p := pipeline.New(cfg)
		opts := allFlags.options()
		return recordRun(ctx, "all", opts.Resume, func(ctx context.Context) ([]*stage.Summary, error) {
			return p.All(ctx, opts)
		})
	},
}

func init() {
	allFlags.register(allCmd, true)
	allCmd.Flags().IntVar(&allMaxPages, "max-pages", 0, "override the per-seed page cap")
	allCmd.Flags().BoolVar(&allNoRender, "no-render-fallback", false, "disable the remote render fallback for script-built pages")
	allCmd.Flags().IntVar(&allWorkers, "workers", 0, "override the enrichment worker count")
	rootCmd.AddCommand(allCmd)
}
