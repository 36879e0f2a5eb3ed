// Package compose turns stored scans into rendered, persisted reports.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/metrics"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/blob"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/history"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/render"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/report"
)

const (
	contentTypePDF = "application/pdf"
	// VulnerabilitiesCollection is the sub-collection of a report holding one
	// document per severity.
	VulnerabilitiesCollection = "vulnerabilities"
)

// renderGate serialises renders across the process; LaTeX runs are memory
// hungry and share the scratch file system.
var renderGate = semaphore.NewWeighted(1)

// Config names where reports are stored.
type Config struct {
	ReportsBucket     string
	ReportsCollection string
	// TrendWindow bounds the previous reports plotted in a document.
	TrendWindow time.Duration
}

// Options select how one report is produced.
type Options struct {
	Format string
}

// Composer builds reports from ScanLogs.
type Composer struct {
	blobs     blob.Store
	docs      docstore.Store
	resolver  *history.Resolver
	renderers render.Registry
	cfg       Config
	gate      *semaphore.Weighted
	metrics   metrics.Collector
	now       func() time.Time
	newID     func() string
}

// Option configures a Composer.
type Option func(*Composer)

// WithClock replaces the clock used to date documents and window history.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		c.now = now
		c.resolver.WithClock(now)
	}
}

// WithMetrics records render timings and report outcomes in m.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Composer) {
		c.metrics = m
	}
}

// WithGate replaces the process-wide render gate.
func WithGate(gate *semaphore.Weighted) Option {
	return func(c *Composer) {
		c.gate = gate
	}
}

// WithIDGenerator replaces the generator of aggregate report ids.
func WithIDGenerator(newID func() string) Option {
	return func(c *Composer) {
		c.newID = newID
	}
}

// New returns a Composer reading scans from blobs and storing reports in
// blobs and docs.
func New(blobs blob.Store, docs docstore.Store, renderers render.Registry, cfg Config, opts ...Option) *Composer {
	c := &Composer{
		blobs:     blobs,
		docs:      docs,
		resolver:  history.NewResolver(docs),
		renderers: renderers,
		cfg:       cfg,
		gate:      renderGate,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ComposeReport renders and stores the report of one scan.
func (c *Composer) ComposeReport(ctx context.Context, scanLog model.ScanLog, opts Options) (*model.ReportData, error) {
	renderer, err := c.renderers.Lookup(opts.Format)
	if err != nil {
		return nil, err
	}
	rep, err := c.load(ctx, scanLog)
	if err != nil {
		return nil, err
	}
	return c.compose(ctx, rep, renderer)
}

// ComposeAggregate renders and stores one report combining scanLogs.
func (c *Composer) ComposeAggregate(ctx context.Context, scanLogs []model.ScanLog, opts Options) (*model.ReportData, error) {
	if len(scanLogs) == 0 {
		return nil, errdefs.User(errdefs.SubsystemReport, errdefs.ErrInvalidArguments, "an aggregate report needs at least one scan")
	}
	renderer, err := c.renderers.Lookup(opts.Format)
	if err != nil {
		return nil, err
	}
	members := make([]*report.Report, 0, len(scanLogs))
	for _, scanLog := range scanLogs {
		rep, err := c.load(ctx, scanLog)
		if err != nil {
			return nil, err
		}
		members = append(members, rep)
	}
	agg, err := report.NewAggregate(c.newID(), members, log.NewLogger(ctx))
	if err != nil {
		return nil, errdefs.User(errdefs.SubsystemReport, err, "%s", err.Error())
	}
	return c.compose(ctx, agg, renderer)
}

func (c *Composer) load(ctx context.Context, scanLog model.ScanLog) (*report.Report, error) {
	raw, err := c.blobs.GetObject(ctx, scanLog.BucketName, scanLog.BlobName)
	if err != nil {
		return nil, err
	}
	return report.Parse(ctx, scanLog, raw)
}

func (c *Composer) compose(ctx context.Context, rep report.Reader, renderer render.Renderer) (out *model.ReportData, err error) {
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
		}
		c.count(ctx, metrics.ReportsTotal, strconv.FormatBool(rep.Aggregate()), outcome)
	}()

	previous, err := c.resolver.PreviousReports(ctx, rep, c.cfg.ReportsCollection,
		history.Within(c.cfg.TrendWindow), history.Options{IgnoreSelf: true})
	if err != nil {
		return nil, err
	}

	pdf, err := c.render(ctx, renderer, render.Input{Report: rep, Previous: previous, Now: c.now().UTC()})
	if err != nil {
		return nil, err
	}
	handle, err := c.blobs.PutObject(ctx, c.cfg.ReportsBucket, blob.Sanitize(rep.ID())+".pdf", pdf, contentTypePDF)
	if err != nil {
		return nil, err
	}

	data := reportData(rep, handle.URL)
	siblings, err := c.siblings(ctx, rep)
	if err != nil {
		return nil, err
	}
	for _, s := range siblings {
		if !s.Historical && s.Timestamp.After(data.Timestamp) {
			// A newer report of this image is already stored.
			data.Historical = true
			break
		}
	}
	if err := c.store(ctx, data); err != nil {
		return nil, err
	}
	c.writeVulnerabilities(ctx, rep)
	if !data.Historical {
		if err := c.flipHistorical(ctx, data, siblings); err != nil {
			return nil, errdefs.Internal(errdefs.SubsystemDocstore, err,
				"report %s stored but older reports of %s were not marked historical: %s", data.ID, data.Image.CanonicalName, err.Error())
		}
	}
	log.NewLogger(ctx).Info("report composed", zap.String("report", rep.ID()), zap.String("image", rep.Image().CanonicalName),
		zap.String("url", handle.URL), zap.Bool("historical", data.Historical))
	return &data, nil
}

// render runs renderer under the gate in a scratch directory and returns the PDF.
func (c *Composer) render(ctx context.Context, renderer render.Renderer, in render.Input) ([]byte, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.gate.Release(1)

	if c.metrics != nil {
		if done, err := c.metrics.MeasureFunctionExecutionTime(ctx, "render"); err == nil {
			defer done()
		}
	}

	dir, err := os.MkdirTemp("", "report-")
	if err != nil {
		return nil, errdefs.Render(err, "failed to create scratch directory: %s", err.Error())
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.NewLogger(ctx).Warn("failed to remove scratch directory", zap.String("dir", dir), zap.Error(err))
		}
	}()

	path, err := renderer.Render(ctx, in, dir)
	if err != nil {
		return nil, err
	}
	pdf, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Render(err, "failed to read rendered document: %s", err.Error())
	}
	return pdf, nil
}

func reportData(rep report.Reader, url string) model.ReportData {
	vulns := rep.Vulnerabilities()
	return model.ReportData{
		ID:                     rep.ID(),
		Image:                  rep.Image(),
		Timestamp:              rep.Timestamp().UTC(),
		Cvss:                   rep.Stats(),
		Distribution:           rep.Distribution(),
		ReportURL:              url,
		Aggregate:              rep.Aggregate(),
		UpgradePaths:           nonNil(rep.UpgradePaths()),
		DockerfileInstructions: nonNil(rep.DockerfileInstructions()),
		Backend:                rep.Backend(),
		ScanIDs:                rep.ScanIDs(),
		VulnerabilityCount:     len(vulns),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (c *Composer) store(ctx context.Context, data model.ReportData) error {
	fields, err := docstore.FieldsOf(data)
	if err != nil {
		return errdefs.Internal(errdefs.SubsystemReporter, err, "failed to encode report: %s", err.Error())
	}
	delete(fields, "id")
	_, err = c.docs.Set(ctx, docstore.DocRef{Collection: c.cfg.ReportsCollection, ID: data.ID}, fields)
	return err
}

// SubcollectionPath is the collection holding the per-severity documents of report id.
func SubcollectionPath(reports, id string) string {
	return fmt.Sprintf("%s/%s/%s", reports, id, VulnerabilitiesCollection)
}

// writeVulnerabilities stores one document per severity. Lists too large for
// a document are replaced by an empty list with ok=false. Failures are logged;
// the report document is already written.
func (c *Composer) writeVulnerabilities(ctx context.Context, rep report.Reader) {
	logger := log.NewLogger(ctx)
	collection := SubcollectionPath(c.cfg.ReportsCollection, rep.ID())
	vulns := rep.Vulnerabilities()
	for _, severity := range model.Severities {
		bucket := model.VulnerabilityBucket{Severity: severity, OK: true, Vulnerabilities: []model.Vulnerability{}}
		for _, v := range vulns {
			if v.Severity == severity {
				bucket.Vulnerabilities = append(bucket.Vulnerabilities, v)
			}
		}
		if encoded, err := json.Marshal(bucket); err != nil || len(encoded) > docstore.MaxDocumentSize {
			logger.Warn("vulnerability list too large to store",
				zap.String("report", rep.ID()), zap.String("severity", string(severity)), zap.Int("count", len(bucket.Vulnerabilities)))
			bucket.OK = false
			bucket.Vulnerabilities = []model.Vulnerability{}
		}
		fields, err := docstore.FieldsOf(bucket)
		if err != nil {
			logger.Warn("failed to encode vulnerability list", zap.String("severity", string(severity)), zap.Error(err))
			continue
		}
		if _, err := c.docs.Set(ctx, docstore.DocRef{Collection: collection, ID: string(severity)}, fields); err != nil {
			logger.Warn("failed to store vulnerability list", zap.String("severity", string(severity)), zap.Error(err))
		}
	}
}

// siblings returns the other stored reports sharing rep's canonical name,
// single and aggregate alike.
func (c *Composer) siblings(ctx context.Context, rep report.Reader) ([]model.ReportData, error) {
	q := docstore.NewQuery(c.cfg.ReportsCollection).Where(history.CanonicalNamePath, "==", rep.Image().CanonicalName)
	docs, err := docstore.All(c.docs.Documents(ctx, q))
	if err != nil {
		return nil, err
	}
	logger := log.NewLogger(ctx)
	var out []model.ReportData
	for _, doc := range docs {
		if doc.Ref.ID == rep.ID() {
			continue
		}
		data, err := history.Decode(doc)
		if err != nil {
			logger.Warn("skipping undecodable report", zap.String("id", doc.Ref.ID), zap.Error(err))
			continue
		}
		out = append(out, *data)
	}
	return out, nil
}

// flipHistorical marks every older non-historical sibling of data as
// historical. Each update is a single-document write; every sibling is tried
// and the failed updates are returned together.
func (c *Composer) flipHistorical(ctx context.Context, data model.ReportData, siblings []model.ReportData) error {
	var result *multierror.Error
	flipped := 0
	for _, s := range siblings {
		if s.Historical || !s.Timestamp.Before(data.Timestamp) {
			continue
		}
		err := c.docs.Update(ctx, docstore.DocRef{Collection: c.cfg.ReportsCollection, ID: s.ID}, []docstore.Update{
			{Path: "historical", Value: true},
			{Path: "updated", Value: docstore.ServerTimestamp},
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("report %s: %w", s.ID, err))
			continue
		}
		flipped++
	}
	if flipped > 0 {
		log.NewLogger(ctx).Debug("marked reports historical", zap.String("report", data.ID), zap.Int("count", flipped))
	}
	return result.ErrorOrNil()
}

func (c *Composer) count(ctx context.Context, name string, labels ...string) {
	if c.metrics == nil {
		return
	}
	if err := c.metrics.AddCounter(ctx, name, 1, labels...); err != nil {
		log.NewLogger(ctx).Debug("metric not recorded", zap.String("metric", name), zap.Error(err))
	}
}
