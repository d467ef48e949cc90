package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"neurolab/internal/pipeline"
)

// printRunSummary renders the run outcome for the terminal. The full
// record lives in the store; this is the glanceable version.
func printRunSummary(w io.Writer, run *pipeline.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", run.RunID)
	fmt.Fprintf(tw, "status\t%s\n", run.OverallStatus)
	fmt.Fprintf(tw, "dataset\t%s (%s)\n", run.DatasetName, short(run.DatasetFingerprint))
	fmt.Fprintf(tw, "schema\t%s@%s\n", run.SchemaName, run.SchemaVersion)
	fmt.Fprintf(tw, "rows\t%d in, %d analyzed\n", run.RowsIn, run.RowsOut)
	if run.Validation != nil && len(run.Validation.Violations) > 0 {
		fmt.Fprintf(tw, "violations\t%d\n", len(run.Validation.Violations))
	}
	if run.Cleaning != nil {
		fmt.Fprintf(tw, "cleaning\t%d log entries\n", len(run.Cleaning.Entries))
	}
	if run.Analysis != nil {
		fmt.Fprintf(tw, "columns analyzed\t%d\n", len(run.Analysis.Descriptive))
		if reg := run.Analysis.Regression; reg != nil {
			switch {
			case reg.FailureReason != "":
				fmt.Fprintf(tw, "regression\t%s: %s\n", reg.Target, reg.FailureReason)
			case reg.RSquared != nil:
				fmt.Fprintf(tw, "regression\t%s: r²=%.4f\n", reg.Target, *reg.RSquared)
			}
		}
	}
	for _, pr := range run.PluginResults {
		detail := ""
		if pr.ErrorDetail != "" {
			detail = ": " + pr.ErrorDetail
		}
		fmt.Fprintf(tw, "plugin %s@%s\t%s%s\n", pr.PluginName, pr.PluginVersion, pr.Status, detail)
	}
	if run.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", run.Error)
	}
	tw.Flush()
}

// short abbreviates a hex fingerprint for display.
func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
