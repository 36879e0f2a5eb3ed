package cmd

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/config"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/credentials"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/executor"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/metrics"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/retry"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/server"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/sql"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/blob"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/compose"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/dispatch"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/pipeline"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/registry"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/render"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/report"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/scan"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/scanlog"
)

// retryPolicy counts every retry in the pipeline metrics.
func (a *app) retryPolicy(ctx context.Context) retry.Policy {
	p := retry.DefaultPolicy()
	p.OnRetry = func(operation string) {
		if err := a.metrics.AddCounter(ctx, metrics.RetriesTotal, 1, operation); err != nil {
			a.logger.Debug("failed to count retry", zap.Error(err))
		}
	}
	return p
}

func (a *app) googleOptions() []option.ClientOption {
	if a.cfg.GoogleApplicationCredentials == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(a.cfg.GoogleApplicationCredentials)}
}

// openDocstore connects to the configured document store. SQLite databases
// are migrated on open; server databases are migrated by table-init.
func (a *app) openDocstore(ctx context.Context) (docstore.Store, error) {
	if a.cfg.DocstoreBackend == config.DocstoreFirestore {
		fs, err := docstore.NewFirestoreStore(ctx, a.cfg.GoogleCloudProject, a.googleOptions()...)
		if err != nil {
			return nil, err
		}
		return docstore.WithRetry(fs, a.retryPolicy(ctx)), nil
	}

	connector, err := sql.CreateDBConnector(sql.Options{
		Type:                   a.cfg.DocstoreBackend,
		Path:                   a.cfg.DBPath,
		Host:                   a.cfg.DBHost,
		Port:                   a.cfg.DBPort,
		User:                   a.cfg.DBUser,
		Password:               a.cfg.DBPassword,
		Name:                   a.cfg.DBName,
		SSLMode:                a.cfg.DBSSLMode,
		InstanceConnectionName: a.cfg.DBInstanceConnectionName,
		Verbose:                a.cfg.LogLevel == "debug",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}
	db, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if a.cfg.DocstoreBackend == config.DocstoreSQLite {
		if err := docstore.Migrate(db); err != nil {
			return nil, err
		}
	}
	gs, err := docstore.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	return docstore.WithRetry(gs, a.retryPolicy(ctx)), nil
}

func (a *app) openBlobstore(ctx context.Context) (blob.Store, error) {
	if a.cfg.BlobstoreBackend == config.BlobstoreFilesystem {
		fs, err := blob.NewFilesystemStore(a.cfg.BlobstoreRoot)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	gcs, err := blob.NewGCSStore(ctx, a.googleOptions()...)
	if err != nil {
		return nil, err
	}
	return gcs, nil
}

// workers are the in-process scan and report services with the stores they own.
type workers struct {
	docs    docstore.Store
	blobs   blob.Store
	scanLog *scanlog.Logger
	scans   *pipeline.ScanService
	reports *pipeline.ReportService
}

func (a *app) newWorkers(ctx context.Context) (*workers, error) {
	docs, err := a.openDocstore(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := a.openBlobstore(ctx)
	if err != nil {
		_ = docs.Close() //nolint:errcheck
		return nil, err
	}

	policy := a.retryPolicy(ctx)
	keychain := credentials.NewKeychain(credentials.ParseCredentials(a.cfg.RegistryCreds), credentials.NewTokenCache())
	resolver := registry.NewClient(
		registry.NewRemoteTagLister(keychain, a.cfg.TimeoutScanner),
		registry.WithRetryPolicy(policy),
	)
	runner := scan.NewRunner(
		scan.NewSnykBackend(executor.NewInheritingCommandExecutor(), a.cfg.SnykBinary, nil, nil),
	)
	recorder := scanlog.New(blobs, docs, a.cfg.BucketScans, a.cfg.CollectionScans)

	renderers := render.Registry{
		render.FormatLatex: render.NewLatexRenderer(executor.NewInheritingCommandExecutor(), a.cfg.LatexBinary),
	}
	composer := compose.New(blobs, docs, renderers, compose.Config{
		ReportsBucket:     a.cfg.BucketReports,
		ReportsCollection: a.cfg.CollectionReports,
		TrendWindow:       a.cfg.TrendWindow(),
	}, compose.WithMetrics(a.metrics))

	return &workers{
		docs:    docs,
		blobs:   blobs,
		scanLog: recorder,
		scans:   pipeline.NewScanService(resolver, runner, recorder, a.cfg.GoogleCloudProject),
		reports: pipeline.NewReportService(recorder, composer),
	}, nil
}

// Close releases both stores.
func (w *workers) Close() error {
	return multierror.Append(nil, w.docs.Close(), w.blobs.Close()).ErrorOrNil()
}

func (a *app) dispatchConfig() dispatch.Config {
	return dispatch.Config{
		Backends: report.Backends(),
		Formats:  []string{render.FormatLatex},
	}
}

// localDispatcher runs scans and reports in this process.
func (a *app) localDispatcher(w *workers) *dispatch.Dispatcher {
	return dispatch.New(w.scans, w.reports, w.scanLog, a.dispatchConfig(), dispatch.WithMetrics(a.metrics))
}

// remoteDispatcher sends scans and reports to the scanner and reporter roles.
func (a *app) remoteDispatcher(ctx context.Context, lookup dispatch.ScanLookup) (*dispatch.Dispatcher, *server.ScannerClient, *server.ReporterClient) {
	policy := a.retryPolicy(ctx)
	scanner := server.NewScannerClient(a.cfg.URLScanner, a.cfg.TimeoutScanner, server.WithRetryPolicy(policy))
	reporter := server.NewReporterClient(a.cfg.URLReporter, a.cfg.TimeoutReporter, server.WithRetryPolicy(policy))
	return dispatch.New(scanner, reporter, lookup, a.dispatchConfig(), dispatch.WithMetrics(a.metrics)), scanner, reporter
}
