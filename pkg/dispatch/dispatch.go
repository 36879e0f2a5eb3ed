// Package dispatch fans scan and report requests out to the services doing the work.
package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/metrics"
)

// ScanService scans one image and records the result.
type ScanService interface {
	Scan(ctx context.Context, image, backend string) (*model.ScanLog, error)
}

// ReportService composes one report from scanIDs.
type ReportService interface {
	Report(ctx context.Context, scanIDs []string, aggregate bool, format string) (*model.ReportData, error)
}

// ScanLookup reads stored ScanLogs.
type ScanLookup interface {
	Get(ctx context.Context, id string) (*model.ScanLog, error)
}

// ReportRequest asks for reports over stored scans.
type ReportRequest struct {
	ScanIDs      []string `json:"scanIds"`
	Aggregate    bool     `json:"aggregate"`
	IgnoreFailed bool     `json:"ignoreFailed"`
	Format       string   `json:"format"`
}

// ReportOut lists the composed reports and, when failures were ignored, what failed.
type ReportOut struct {
	Reports  []model.ReportData `json:"reports"`
	Failures []errdefs.Failure  `json:"failures"`
}

// Config lists what the dispatcher accepts before any work starts.
type Config struct {
	Backends []string
	Formats  []string
}

// Dispatcher runs scans and reports concurrently.
type Dispatcher struct {
	scans   ScanService
	reports ReportService
	lookup  ScanLookup
	cfg     Config
	metrics metrics.Collector
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics counts scan outcomes in m.
func WithMetrics(m metrics.Collector) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New returns a Dispatcher.
func New(scans ScanService, reports ReportService, lookup ScanLookup, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{scans: scans, reports: reports, lookup: lookup, cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchScans scans every distinct image concurrently with backend. Results
// follow the order of images. Without ignoreFailed any failure returns an
// *errdefs.PartialFailure together with the successful logs, which stay
// persisted. With ignoreFailed failures are logged and dropped, unless every
// image failed.
func (d *Dispatcher) DispatchScans(ctx context.Context, images []string, backend string, ignoreFailed bool) ([]model.ScanLog, error) {
	if !lo.Contains(d.cfg.Backends, backend) {
		return nil, errdefs.UnknownBackend(backend)
	}
	images = lo.Uniq(lo.Compact(images))
	if len(images) == 0 {
		return nil, errdefs.User("", errdefs.ErrInvalidArguments, "`images` must not be empty")
	}
	logger := log.NewLogger(ctx)

	results := make([]*model.ScanLog, len(images))
	failures := errdefs.NewPartialFailure(len(images))
	var wg sync.WaitGroup
	for i, image := range images {
		wg.Add(1)
		go func(i int, image string) {
			defer wg.Done()
			scanLog, err := d.scans.Scan(ctx, image, backend)
			if err != nil {
				logger.Warn("scan failed", zap.String("image", image), zap.String("backend", backend), zap.Error(err))
				failures.Add(image, err)
				d.count(ctx, metrics.ScansTotal, backend, metrics.OutcomeFailure)
				return
			}
			results[i] = scanLog
			d.count(ctx, metrics.ScansTotal, backend, metrics.OutcomeSuccess)
		}(i, image)
	}
	wg.Wait()

	logs := make([]model.ScanLog, 0, len(images))
	for _, r := range results {
		if r != nil {
			logs = append(logs, *r)
		}
	}
	if err := failurePolicy(failures, ignoreFailed); err != nil {
		return logs, err
	}
	return logs, nil
}

// DispatchReports composes the reports of req. An aggregate request yields one
// report. Otherwise each scan yields a report; scans of different images run
// concurrently while scans of one image run one at a time, oldest first, so
// that the newest report of an image is always written last.
func (d *Dispatcher) DispatchReports(ctx context.Context, req ReportRequest) (*ReportOut, error) {
	ids := lo.Uniq(lo.Compact(req.ScanIDs))
	if len(ids) == 0 {
		return nil, errdefs.User("", errdefs.ErrInvalidArguments, "`scanIds` must contain at least one id")
	}
	if !lo.Contains(d.cfg.Formats, req.Format) {
		return nil, errdefs.UnknownFormat(req.Format)
	}
	logger := log.NewLogger(ctx)
	failures := errdefs.NewPartialFailure(len(ids))

	logs := make([]model.ScanLog, 0, len(ids))
	for _, id := range ids {
		scanLog, err := d.lookup.Get(ctx, id)
		if err != nil {
			logger.Warn("scan not loaded", zap.String("scan", id), zap.Error(err))
			failures.Add(id, err)
			continue
		}
		logs = append(logs, *scanLog)
	}

	out := &ReportOut{Reports: []model.ReportData{}}
	if req.Aggregate {
		if len(logs) > 0 && (req.IgnoreFailed || failures.Len() == 0) {
			data, err := d.reports.Report(ctx, lo.Map(logs, func(l model.ScanLog, _ int) string { return l.ID }), true, req.Format)
			if err != nil {
				return nil, err
			}
			out.Reports = append(out.Reports, *data)
		}
		out.Failures = failures.Failures()
		return out, failurePolicy(failures, req.IgnoreFailed)
	}

	if len(logs) > 0 {
		out.Reports = d.reportPerImage(ctx, logs, ids, req.Format, failures)
	}
	out.Failures = failures.Failures()
	return out, failurePolicy(failures, req.IgnoreFailed)
}

func (d *Dispatcher) reportPerImage(ctx context.Context, logs []model.ScanLog, order []string, format string, failures *errdefs.PartialFailure) []model.ReportData {
	logger := log.NewLogger(ctx)
	groups := lo.GroupBy(logs, func(l model.ScanLog) string { return l.Image.CanonicalName })

	var mu sync.Mutex
	byID := make(map[string]model.ReportData, len(logs))
	var wg sync.WaitGroup
	for image, group := range groups {
		sort.SliceStable(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })
		wg.Add(1)
		go func(image string, group []model.ScanLog) {
			defer wg.Done()
			for _, scanLog := range group {
				data, err := d.reports.Report(ctx, []string{scanLog.ID}, false, format)
				if err != nil {
					logger.Warn("report failed", zap.String("scan", scanLog.ID), zap.String("image", image), zap.Error(err))
					failures.Add(scanLog.ID, err)
					continue
				}
				mu.Lock()
				byID[scanLog.ID] = *data
				mu.Unlock()
			}
		}(image, group)
	}
	wg.Wait()

	out := make([]model.ReportData, 0, len(byID))
	for _, id := range order {
		if data, ok := byID[id]; ok {
			out = append(out, data)
		}
	}
	return out
}

// failurePolicy decides whether recorded failures fail the whole fan-out.
func failurePolicy(failures *errdefs.PartialFailure, ignoreFailed bool) error {
	if failures.Len() == 0 {
		return nil
	}
	if ignoreFailed && !failures.All() {
		return nil
	}
	return failures
}

func (d *Dispatcher) count(ctx context.Context, name string, labels ...string) {
	if d.metrics == nil {
		return
	}
	if err := d.metrics.AddCounter(ctx, name, 1, labels...); err != nil {
		log.NewLogger(ctx).Debug("metric not recorded", zap.String("metric", name), zap.Error(err))
	}
}
