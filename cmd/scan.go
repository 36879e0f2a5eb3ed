package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/config"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/dispatch"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/render"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/scan"
)

type scanOutput struct {
	Scans   []model.ScanLog     `json:"scans"`
	Reports *dispatch.ReportOut `json:"reports,omitempty"`
}

// imageFile is the mapping form of an image list file.
type imageFile struct {
	Images []string `yaml:"images"`
}

func newScanCmd(a *app) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [IMAGE...]",
		Short: "Scan images in-process and print their scan logs",
		Long: `Scan resolves and scans every image given as an argument or listed in --file,
stores the raw results and prints the scan logs as JSON. With --report the
scans are also composed into reports.`,
		RunE: a.runScan,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			file, err := cmd.Flags().GetString("file")
			if err != nil {
				return fmt.Errorf("%w: file: %w", errFlagRetrieval, err)
			}
			if len(args) == 0 && file == "" {
				return fmt.Errorf("images %w", errRequiredFlagEmpty)
			}
			return nil
		},
	}
	scanCmd.Flags().StringP("file", "f", "", "YAML file listing the images to scan")
	scanCmd.Flags().StringP("backend", "b", scan.SnykBackendName, "Scanner backend")
	scanCmd.Flags().Bool("ignore-failed", false, "Drop failed images instead of failing the run")
	scanCmd.Flags().Bool("report", false, "Compose reports for the scanned images")
	scanCmd.Flags().Bool("aggregate", false, "With --report, compose one aggregate report")
	scanCmd.Flags().String("format", render.FormatLatex, "Report format")
	scanCmd.Flags().StringP("output-file", "o", "", "Output file for results")
	return scanCmd
}

func (a *app) runScan(cmd *cobra.Command, args []string) error {
	if err := a.cfg.Validate(config.RoleLocal); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	file, _ := cmd.Flags().GetString("file")                //nolint:errcheck
	backend, _ := cmd.Flags().GetString("backend")          //nolint:errcheck
	ignoreFailed, _ := cmd.Flags().GetBool("ignore-failed") //nolint:errcheck
	withReport, _ := cmd.Flags().GetBool("report")          //nolint:errcheck
	aggregate, _ := cmd.Flags().GetBool("aggregate")        //nolint:errcheck
	format, _ := cmd.Flags().GetString("format")            //nolint:errcheck
	outputFile, _ := cmd.Flags().GetString("output-file")   //nolint:errcheck

	images := args
	if file != "" {
		listed, err := readImageFile(file)
		if err != nil {
			return err
		}
		images = append(images, listed...)
	}

	ctx := cmd.Context()
	w, err := a.newWorkers(ctx)
	if err != nil {
		return err
	}
	defer w.Close() //nolint:errcheck
	d := a.localDispatcher(w)

	logs, scanErr := d.DispatchScans(ctx, images, backend, ignoreFailed)
	out := scanOutput{Scans: logs}
	if out.Scans == nil {
		out.Scans = []model.ScanLog{}
	}
	if withReport && scanErr == nil {
		reports, err := d.DispatchReports(ctx, dispatch.ReportRequest{
			ScanIDs:      lo.Map(logs, func(l model.ScanLog, _ int) string { return l.ID }),
			Aggregate:    aggregate,
			IgnoreFailed: ignoreFailed,
			Format:       format,
		})
		out.Reports = reports
		scanErr = err
	}
	if err := writeOutput(cmd.OutOrStdout(), outputFile, out); err != nil {
		return err
	}
	return scanErr
}

// readImageFile reads a YAML list of images, either a bare sequence or a
// mapping with an images key.
func readImageFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc imageFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse image file %s: %w", path, err)
	}
	if len(doc.Images) == 0 {
		return nil, errors.New("image file lists no images")
	}
	return doc.Images, nil
}

// writeOutput prints v as indented JSON to outputFile, or to stdout when empty.
func writeOutput(stdout io.Writer, outputFile string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	data = append(data, '\n')
	if outputFile == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputFile, data, 0o600); err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	return nil
}
