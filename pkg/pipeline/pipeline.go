// Package pipeline runs scans and reports in process: the scan service
// resolves, scans and logs an image; the report service loads scan logs and
// composes their report.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/compose"
)

// Resolver turns a reference into image metadata.
type Resolver interface {
	Resolve(ctx context.Context, ref, project string) (*model.ImageInfo, error)
}

// Runner scans resolved images.
type Runner interface {
	RunScan(ctx context.Context, image model.ImageInfo, backend string) (*model.ScanResult, error)
	Supports(backend string) bool
}

// ScanRecorder stores scan results and reads them back.
type ScanRecorder interface {
	LogScan(ctx context.Context, result *model.ScanResult, image model.ImageInfo, backend string) (*model.ScanLog, error)
	Get(ctx context.Context, id string) (*model.ScanLog, error)
}

// Composer renders and stores reports.
type Composer interface {
	ComposeReport(ctx context.Context, scanLog model.ScanLog, opts compose.Options) (*model.ReportData, error)
	ComposeAggregate(ctx context.Context, scanLogs []model.ScanLog, opts compose.Options) (*model.ReportData, error)
}

// ScanService resolves, scans and logs images.
type ScanService struct {
	resolver Resolver
	runner   Runner
	recorder ScanRecorder
	project  string
}

// NewScanService returns a ScanService. project qualifies references with a
// single path segment.
func NewScanService(resolver Resolver, runner Runner, recorder ScanRecorder, project string) *ScanService {
	return &ScanService{resolver: resolver, runner: runner, recorder: recorder, project: project}
}

// Scan implements dispatch.ScanService.
func (s *ScanService) Scan(ctx context.Context, ref, backend string) (*model.ScanLog, error) {
	if !s.runner.Supports(backend) {
		return nil, errdefs.UnknownBackend(backend)
	}
	image, err := s.resolver.Resolve(ctx, ref, s.project)
	if err != nil {
		return nil, err
	}
	result, err := s.runner.RunScan(ctx, *image, backend)
	if err != nil {
		return nil, err
	}
	scanLog, err := s.recorder.LogScan(ctx, result, *image, backend)
	if err != nil {
		return nil, err
	}
	log.NewLogger(ctx).Info("image scanned", zap.String("ref", ref), zap.String("scan", scanLog.ID))
	return scanLog, nil
}

// ReportService composes reports from logged scans.
type ReportService struct {
	scans    ScanRecorder
	composer Composer
}

// NewReportService returns a ReportService reading scan logs from scans.
func NewReportService(scans ScanRecorder, composer Composer) *ReportService {
	return &ReportService{scans: scans, composer: composer}
}

// Report implements dispatch.ReportService.
func (s *ReportService) Report(ctx context.Context, scanIDs []string, aggregate bool, format string) (*model.ReportData, error) {
	if len(scanIDs) == 0 {
		return nil, errdefs.User(errdefs.SubsystemReporter, errdefs.ErrInvalidArguments, "`scanIds` must contain at least one id")
	}
	if !aggregate && len(scanIDs) != 1 {
		return nil, errdefs.User(errdefs.SubsystemReporter, errdefs.ErrInvalidArguments, "a single report takes exactly one scan id")
	}
	logs := make([]model.ScanLog, 0, len(scanIDs))
	for _, id := range scanIDs {
		scanLog, err := s.scans.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *scanLog)
	}
	opts := compose.Options{Format: format}
	if aggregate {
		return s.composer.ComposeAggregate(ctx, logs, opts)
	}
	return s.composer.ComposeReport(ctx, logs[0], opts)
}
