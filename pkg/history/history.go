// Package history looks up the reports previously stored for an image.
package history

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/report"
)

// CanonicalNamePath is the document path of the image canonical name.
const CanonicalNamePath = "image.canonicalName"

// MaxAge bounds how far back reports are considered: either a duration before
// now or an absolute cutoff.
type MaxAge struct {
	duration time.Duration
	cutoff   time.Time
}

// Within keeps reports newer than now minus d.
func Within(d time.Duration) MaxAge {
	return MaxAge{duration: d}
}

// Since keeps reports newer than t.
func Since(t time.Time) MaxAge {
	return MaxAge{cutoff: t.UTC()}
}

// Cutoff returns the exclusive lower bound of the window at now.
func (m MaxAge) Cutoff(now time.Time) time.Time {
	if !m.cutoff.IsZero() {
		return m.cutoff
	}
	return now.Add(-m.duration).UTC()
}

// Options filter the reports returned by PreviousReports.
type Options struct {
	// IgnoreSelf drops the document of the report being composed.
	IgnoreSelf bool
	// ByImage windows on the image creation time instead of the report time.
	ByImage bool
	// SkipHistorical drops documents already superseded by a newer report.
	SkipHistorical bool
}

// Resolver queries stored ReportData documents.
type Resolver struct {
	docs docstore.Store
	now  func() time.Time
}

// NewResolver returns a Resolver over docs.
func NewResolver(docs docstore.Store) *Resolver {
	return &Resolver{docs: docs, now: time.Now}
}

// WithClock replaces the resolver's clock.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// PreviousReports returns the reports of rep's image in collection whose
// chosen timestamp lies in (cutoff, now], oldest first. Single and aggregate
// reports sharing the canonical name are both returned. The query is an
// equality on the canonical name only; everything else is filtered here so
// that no composite index is needed. Undecodable documents and documents
// without a usable timestamp are skipped with a warning.
func (r *Resolver) PreviousReports(ctx context.Context, rep report.Reader, collection string, maxAge MaxAge, opts Options) ([]model.ReportData, error) {
	logger := log.NewLogger(ctx)
	now := r.now().UTC()
	cutoff := maxAge.Cutoff(now)

	q := docstore.NewQuery(collection).Where(CanonicalNamePath, "==", rep.Image().CanonicalName)
	docs, err := docstore.All(r.docs.Documents(ctx, q))
	if err != nil {
		return nil, err
	}

	type dated struct {
		data model.ReportData
		at   time.Time
	}
	var kept []dated
	for _, doc := range docs {
		if opts.IgnoreSelf && doc.Ref.ID == rep.ID() {
			continue
		}
		data, err := Decode(doc)
		if err != nil {
			logger.Warn("skipping undecodable report", zap.String("id", doc.Ref.ID), zap.Error(err))
			continue
		}
		if opts.SkipHistorical && data.Historical {
			continue
		}
		at := data.Timestamp
		if opts.ByImage {
			at = data.Image.Created
		}
		if at.IsZero() {
			logger.Warn("skipping report without timestamp", zap.String("id", doc.Ref.ID))
			continue
		}
		at = at.UTC()
		if !at.After(cutoff) || at.After(now) {
			continue
		}
		kept = append(kept, dated{data: *data, at: at})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].at.Before(kept[j].at) })
	out := make([]model.ReportData, 0, len(kept))
	for _, k := range kept {
		out = append(out, k.data)
	}
	return out, nil
}

// Decode converts a stored document into ReportData carrying the document id.
func Decode(doc *docstore.Document) (*model.ReportData, error) {
	var data model.ReportData
	if err := doc.Fields.Decode(&data); err != nil {
		return nil, errdefs.Data(errdefs.SubsystemDocstore, err, "report %s cannot be decoded: %s", doc.Ref.ID, err.Error())
	}
	data.ID = doc.Ref.ID
	data.Timestamp = data.Timestamp.UTC()
	return &data, nil
}

// Get reads one ReportData document.
func Get(ctx context.Context, docs docstore.Store, collection, id string) (*model.ReportData, error) {
	doc, err := docs.Get(ctx, docstore.DocRef{Collection: collection, ID: id})
	if err != nil {
		return nil, err
	}
	return Decode(doc)
}
