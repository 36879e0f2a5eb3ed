package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/config"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/server"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/scanlog"
)

func newServeCmd(a *app) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one role of the pipeline as an HTTP service",
	}
	serveCmd.PersistentFlags().String("listen-addr", ":8080", "Address the service listens on")
	bindFlags(a.v, serveCmd.PersistentFlags())

	serveCmd.AddCommand(
		&cobra.Command{
			Use:   config.RoleAPI,
			Short: "Accept scan and report requests and fan them out to the scanner and reporter",
			Args:  cobra.NoArgs,
			RunE:  a.serveAPI,
		},
		&cobra.Command{
			Use:   config.RoleScanner,
			Short: "Resolve, scan and log one image per request",
			Args:  cobra.NoArgs,
			RunE:  a.serveWorker(config.RoleScanner),
		},
		&cobra.Command{
			Use:   config.RoleReporter,
			Short: "Compose and render one report per request",
			Args:  cobra.NoArgs,
			RunE:  a.serveWorker(config.RoleReporter),
		},
	)
	return serveCmd
}

func (a *app) serveAPI(cmd *cobra.Command, _ []string) error {
	if err := a.cfg.Validate(config.RoleAPI); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := cmd.Context()
	docs, err := a.openDocstore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := docs.Close(); err != nil {
			a.logger.Warn("failed to close document store", zap.Error(err))
		}
	}()

	// The api role only reads scan documents; it never touches blobs.
	lookup := scanlog.New(nil, docs, a.cfg.BucketScans, a.cfg.CollectionScans)
	dispatcher, scanner, reporter := a.remoteDispatcher(ctx, lookup)
	handler := server.NewAPIHandler(server.APIConfig{
		Dispatcher:        dispatcher,
		Scans:             lookup,
		Docs:              docs,
		ReportsCollection: a.cfg.CollectionReports,
		Scanner:           scanner,
		Reporter:          reporter,
		Metrics:           a.metrics.MetricsHandler(),
		Logger:            log.NewLogger(ctx),
	})
	return server.Serve(ctx, a.cfg.ListenAddr, handler)
}

func (a *app) serveWorker(role string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := a.cfg.Validate(role); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		ctx := cmd.Context()
		w, err := a.newWorkers(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				a.logger.Warn("failed to close stores", zap.Error(err))
			}
		}()

		logger := log.NewLogger(ctx)
		handler := server.NewScannerHandler(w.scans, Version, a.metrics.MetricsHandler(), logger)
		if role == config.RoleReporter {
			handler = server.NewReporterHandler(w.reports, Version, a.metrics.MetricsHandler(), logger)
		}
		return server.Serve(ctx, a.cfg.ListenAddr, handler)
	}
}
