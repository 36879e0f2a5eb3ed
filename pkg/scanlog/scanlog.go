// Package scanlog records successful scans: the raw result goes to blob
// storage and a ScanLog document pointing at it goes to the document store.
package scanlog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/blob"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
)

const contentTypeJSON = "application/json"

// Logger writes scan results to a bucket and a collection.
type Logger struct {
	blobs      blob.Store
	docs       docstore.Store
	bucket     string
	collection string
	now        func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock replaces the clock used to name blobs.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New returns a Logger writing blobs to bucket and documents to collection.
func New(blobs blob.Store, docs docstore.Store, bucket, collection string, opts ...Option) *Logger {
	l := &Logger{blobs: blobs, docs: docs, bucket: bucket, collection: collection, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BlobName is the object name of a raw result for image scanned at t.
func BlobName(canonicalName string, t time.Time) string {
	return blob.Sanitize(canonicalName+"_"+t.UTC().Format(time.RFC3339Nano)) + ".json"
}

// LogScan uploads the raw result and adds a ScanLog document for it. A failed
// upload writes no document. A failed document write leaves the uploaded blob
// behind; retrying LogScan writes a new blob.
func (l *Logger) LogScan(ctx context.Context, result *model.ScanResult, image model.ImageInfo, backend string) (*model.ScanLog, error) {
	if result == nil || !result.OK {
		stderr := ""
		if result != nil {
			stderr = result.Stderr
		}
		return nil, errdefs.Internal(errdefs.SubsystemScanner, errdefs.ErrScanFailed,
			"scan of %s failed: %s", image.ScanTarget(), stderr)
	}
	logger := log.NewLogger(ctx)

	name := BlobName(image.CanonicalName, l.now())
	handle, err := l.blobs.PutObject(ctx, l.bucket, name, result.RawJSON, contentTypeJSON)
	if err != nil {
		return nil, err
	}

	entry := model.ScanLog{
		Image:      image,
		Backend:    backend,
		BlobName:   handle.Name,
		BucketName: handle.Bucket,
		URL:        handle.URL,
	}
	fields, err := docstore.FieldsOf(entry)
	if err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemDocstore, err, "failed to encode scan log: %s", err.Error())
	}
	delete(fields, "id")
	fields["timestamp"] = docstore.ServerTimestamp

	doc, err := l.docs.Add(ctx, l.collection, fields)
	if err != nil {
		logger.Warn("scan log not written, blob left behind",
			zap.String("bucket", handle.Bucket), zap.String("blob", handle.Name), zap.Error(err))
		return nil, err
	}
	out, err := Decode(doc)
	if err != nil {
		return nil, err
	}
	logger.Info("scan logged", zap.String("id", out.ID), zap.String("image", image.CanonicalName), zap.String("blob", handle.Name))
	return out, nil
}

// Get reads the ScanLog with id.
func (l *Logger) Get(ctx context.Context, id string) (*model.ScanLog, error) {
	doc, err := l.docs.Get(ctx, docstore.DocRef{Collection: l.collection, ID: id})
	if err != nil {
		return nil, err
	}
	return Decode(doc)
}

// Decode converts a stored document into a ScanLog carrying the document id.
func Decode(doc *docstore.Document) (*model.ScanLog, error) {
	var entry model.ScanLog
	if err := doc.Fields.Decode(&entry); err != nil {
		return nil, errdefs.Data(errdefs.SubsystemDocstore, err, "scan log %s cannot be decoded: %s", doc.Ref.ID, err.Error())
	}
	entry.ID = doc.Ref.ID
	entry.Timestamp = entry.Timestamp.UTC()
	return &entry, nil
}
