package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smilezzm/schools-of-professors/internal/pipeline"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Merge normalized rows into the output CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		p := pipeline.New(cfg)
		return recordRun(ctx, "export", true, func(context.Context) ([]*stage.Summary, error) {
			sum, err := p.Export()
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(os.Stdout, "export\tcolumns=%d\texisting=%d\tmerged=%d\ttotal=%d\n",
				sum.Columns, sum.Existing, sum.Merged, sum.Total)
			return []*stage.Summary{sum.StageSummary()}, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
