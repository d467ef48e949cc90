package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"neurolab/internal/storage"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored pipeline runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE:  runRunsList,
}

func init() {
	runsCmd.AddCommand(runsListCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := storage.New(ctx, cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer repo.Close()

	sums, err := repo.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(sums) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs stored")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tDATASET\tSCHEMA\tSTATUS\tSTARTED\tDURATION")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.RunID, s.DatasetName, s.SchemaName, s.OverallStatus,
			s.StartedAt.Format("2006-01-02 15:04:05"),
			s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}
