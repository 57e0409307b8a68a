package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smilezzm/schools-of-professors/internal/pipeline"
	"github.com/smilezzm/schools-of-professors/internal/runlog"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

// stageFlags holds the run parameters shared by the stage commands.
type stageFlags struct {
	noResume   bool
	limit      int
	seedStart  int
	seedLimit  int
	requireLLM bool
}

func (f *stageFlags) register(cmd *cobra.Command, seeds bool) {
	cmd.Flags().BoolVar(&f.noResume, "no-resume", false, "rebuild the stage store from scratch instead of resuming")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "max rows to process this run (0 = no limit)")
	if seeds {
		cmd.Flags().IntVar(&f.seedStart, "seed-start", 0, "zero-based index of the first seed row to crawl")
		cmd.Flags().IntVar(&f.seedLimit, "seed-limit", 0, "max seed rows to crawl (0 = all)")
		cmd.Flags().BoolVar(&f.requireLLM, "require-llm", false, "fail instead of degrading when no model provider is configured")
	}
}

func (f *stageFlags) options() pipeline.Options {
	return pipeline.Options{
		Resume:     !f.noResume,
		Limit:      f.limit,
		SeedStart:  f.seedStart,
		SeedLimit:  f.seedLimit,
		RequireLLM: f.requireLLM,
	}
}

// recordRun wraps a stage invocation with run-history bookkeeping and
// prints each recorded stage summary. The runlog is best-effort: a
// history failure is logged, never fatal to the pipeline itself.
func recordRun(ctx context.Context, command string, resume bool, fn func(ctx context.Context) ([]*stage.Summary, error)) error {
	var (
		log *runlog.Store
		run *runlog.Run
	)
	if st, err := runlog.Open(cfg.Runlog.Path); err != nil {
		zap.L().Warn("run history unavailable", zap.Error(err))
	} else {
		log = st
		defer log.Close() //nolint:errcheck
		if run, err = log.StartRun(ctx, command, stage.Mode(resume)); err != nil {
			zap.L().Warn("run history start failed", zap.Error(err))
			run = nil
		}
	}

	summaries, runErr := fn(ctx)

	for _, sum := range summaries {
		if sum == nil {
			continue
		}
		if log != nil && run != nil {
			if err := log.RecordStage(ctx, run.ID, sum); err != nil {
				zap.L().Warn("run history stage record failed", zap.Error(err))
			}
		}
		printSummary(os.Stdout, sum)
	}

	if log != nil && run != nil {
		if err := log.FinishRun(ctx, run.ID, runErr); err != nil {
			zap.L().Warn("run history finish failed", zap.Error(err))
		}
	}
	return runErr
}

func printSummary(w *os.File, sum *stage.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s)\tinputs=%d\tskipped=%d\tprocessed=%d\tfailed=%d\ttotal=%d\tduration=%s\n",
		sum.Stage, sum.Mode, sum.Inputs, sum.Skipped, sum.Processed, sum.Failed, sum.Total, sum.Duration.Round(1e6))
	_ = tw.Flush()
	for _, warn := range sum.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	for _, itemErr := range sum.Errors {
		fmt.Fprintf(w, "  error: %s: %s\n", itemErr.Key, itemErr.Reason)
	}
}
