package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/config"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/dispatch"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/render"
)

func newReportCmd(a *app) *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report SCAN_ID...",
		Short: "Compose reports from stored scans in-process",
		Long: `Report composes one report per image from the given scan ids, or a single
aggregate report with --aggregate, and prints the report documents as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.runReport,
	}
	reportCmd.Flags().Bool("aggregate", false, "Compose one aggregate report over all scans")
	reportCmd.Flags().Bool("ignore-failed", false, "Drop scans that fail to report instead of failing the run")
	reportCmd.Flags().String("format", render.FormatLatex, "Report format")
	reportCmd.Flags().StringP("output-file", "o", "", "Output file for results")
	return reportCmd
}

func (a *app) runReport(cmd *cobra.Command, args []string) error {
	if err := a.cfg.Validate(config.RoleLocal); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	aggregate, _ := cmd.Flags().GetBool("aggregate")        //nolint:errcheck
	ignoreFailed, _ := cmd.Flags().GetBool("ignore-failed") //nolint:errcheck
	format, _ := cmd.Flags().GetString("format")            //nolint:errcheck
	outputFile, _ := cmd.Flags().GetString("output-file")   //nolint:errcheck

	ctx := cmd.Context()
	w, err := a.newWorkers(ctx)
	if err != nil {
		return err
	}
	defer w.Close() //nolint:errcheck

	out, reportErr := a.localDispatcher(w).DispatchReports(ctx, dispatch.ReportRequest{
		ScanIDs:      args,
		Aggregate:    aggregate,
		IgnoreFailed: ignoreFailed,
		Format:       format,
	})
	if out != nil {
		if err := writeOutput(cmd.OutOrStdout(), outputFile, out); err != nil {
			return err
		}
	}
	return reportErr
}
