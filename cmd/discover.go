package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/smilezzm/schools-of-professors/internal/pipeline"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

var (
	discoverFlags    stageFlags
	discoverMaxPages int
	discoverNoRender bool
	discoverTimeout  int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Crawl seed rosters and harvest professor names",
	Long:  "Walks each seed school's faculty listing, saves the pages, extracts name candidates, and promotes validated names into the name store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if discoverMaxPages > 0 {
			cfg.Crawl.MaxPagesPerSeed = discoverMaxPages
		}
		if discoverNoRender {
			cfg.Render.URL = ""
		}
		if discoverTimeout > 0 {
			cfg.Crawl.TimeoutSecs = discoverTimeout
		}
		p := pipeline.New(cfg)
		opts := discoverFlags.options()
		return recordRun(ctx, "discover", opts.Resume, func(ctx context.Context) ([]*stage.Summary, error) {
			return p.Discover(ctx, opts)
		})
	},
}

func init() {
	discoverFlags.register(discoverCmd, true)
	discoverCmd.Flags().IntVar(&discoverMaxPages, "max-pages", 0, "override the per-seed page cap")
	discoverCmd.Flags().BoolVar(&discoverNoRender, "no-render-fallback", false, "disable the remote render fallback for script-built pages")
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 0, "override the per-request fetch timeout in seconds")
	rootCmd.AddCommand(discoverCmd)
}
