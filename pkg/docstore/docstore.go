// Package docstore is a small document database abstraction with a Firestore
// backend and a SQL backend built on GORM.
package docstore

import (
	"context"
	"errors"
	"time"

	"google.golang.org/api/iterator"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
)

// MaxDocumentSize is the largest encoded document a store accepts.
const MaxDocumentSize = 1 << 20

var (
	// ErrNotFound is wrapped by errors for missing documents.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidArgument is wrapped by errors for rejected writes and queries,
	// including documents larger than MaxDocumentSize.
	ErrInvalidArgument = errors.New("invalid argument")
	// Done is returned by Iterator.Next when the results are exhausted.
	Done = iterator.Done
)

// serverTimestamp marks a field the store fills with its commit time.
type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's commit time when written.
var ServerTimestamp = serverTimestamp{}

// DocRef addresses a document. Collection may be a slash-separated
// sub-collection path such as reports/<id>/vulnerabilities.
type DocRef struct {
	Collection string
	ID         string
}

// Document is a stored document.
type Document struct {
	Ref        DocRef
	Fields     Fields
	CreateTime time.Time
	UpdateTime time.Time
}

// Update sets the field at a dotted Path.
type Update struct {
	Path  string
	Value interface{}
}

// Iterator walks query results. Next returns Done after the last document.
type Iterator interface {
	Next() (*Document, error)
	Stop()
}

// Store is a document database.
type Store interface {
	// Add creates a document with a store-assigned id.
	Add(ctx context.Context, collection string, fields Fields) (*Document, error)
	// Set creates or replaces the document at ref.
	Set(ctx context.Context, ref DocRef, fields Fields) (*Document, error)
	// Get reads the document at ref.
	Get(ctx context.Context, ref DocRef) (*Document, error)
	// Update patches fields of an existing document.
	Update(ctx context.Context, ref DocRef, updates []Update) error
	// Documents runs q.
	Documents(ctx context.Context, q Query) Iterator
	// Close releases the client.
	Close() error
}

// All drains it.
func All(it Iterator) ([]*Document, error) {
	defer it.Stop()
	var docs []*Document
	for {
		doc, err := it.Next()
		if errors.Is(err, Done) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

func notFound(ref DocRef, err error) error {
	return errdefs.NotFound(errdefs.SubsystemDocstore, errors.Join(ErrNotFound, err),
		"document %s/%s not found", ref.Collection, ref.ID)
}

func invalidArgument(err error, format string, args ...interface{}) error {
	return errdefs.Internal(errdefs.SubsystemDocstore, errors.Join(ErrInvalidArgument, err), format, args...)
}

// sliceIterator serves documents already in memory.
type sliceIterator struct {
	docs []*Document
	err  error
}

func (s *sliceIterator) Next() (*Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.docs) == 0 {
		return nil, Done
	}
	doc := s.docs[0]
	s.docs = s.docs[1:]
	return doc, nil
}

func (s *sliceIterator) Stop() {
	s.docs = nil
}
