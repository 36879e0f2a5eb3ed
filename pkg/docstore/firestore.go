package docstore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
)

// FirestoreStore keeps documents in Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore opens a Firestore client for projectID with application default credentials.
func NewFirestoreStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemDocstore, err, "failed to create client: %s", err.Error())
	}
	return &FirestoreStore{client: client}, nil
}

// toFirestore swaps ServerTimestamp for the Firestore sentinel.
func toFirestore(v interface{}) interface{} {
	switch t := v.(type) {
	case serverTimestamp:
		return firestore.ServerTimestamp
	case Fields:
		return toFirestoreMap(t)
	case map[string]interface{}:
		return toFirestoreMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = toFirestore(e)
		}
		return out
	default:
		return v
	}
}

func toFirestoreMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, e := range m {
		out[k] = toFirestore(e)
	}
	return out
}

func snapshotDocument(collection string, snap *firestore.DocumentSnapshot) *Document {
	return &Document{
		Ref:        DocRef{Collection: collection, ID: snap.Ref.ID},
		Fields:     Fields(snap.Data()),
		CreateTime: snap.CreateTime.UTC(),
		UpdateTime: snap.UpdateTime.UTC(),
	}
}

// Add implements Store.
func (s *FirestoreStore) Add(ctx context.Context, collection string, fields Fields) (*Document, error) {
	ref, wr, err := s.client.Collection(collection).Add(ctx, toFirestoreMap(fields))
	if err != nil {
		return nil, classifyFirestoreError(err, DocRef{Collection: collection})
	}
	at := wr.UpdateTime.UTC()
	resolved, _ := resolveServerTimestamps(fields, at).(Fields)
	return &Document{Ref: DocRef{Collection: collection, ID: ref.ID}, Fields: resolved, CreateTime: at, UpdateTime: at}, nil
}

// Set implements Store.
func (s *FirestoreStore) Set(ctx context.Context, ref DocRef, fields Fields) (*Document, error) {
	wr, err := s.client.Collection(ref.Collection).Doc(ref.ID).Set(ctx, toFirestoreMap(fields))
	if err != nil {
		return nil, classifyFirestoreError(err, ref)
	}
	at := wr.UpdateTime.UTC()
	resolved, _ := resolveServerTimestamps(fields, at).(Fields)
	return &Document{Ref: ref, Fields: resolved, CreateTime: at, UpdateTime: at}, nil
}

// Get implements Store.
func (s *FirestoreStore) Get(ctx context.Context, ref DocRef) (*Document, error) {
	snap, err := s.client.Collection(ref.Collection).Doc(ref.ID).Get(ctx)
	if err != nil {
		return nil, classifyFirestoreError(err, ref)
	}
	return snapshotDocument(ref.Collection, snap), nil
}

// Update implements Store.
func (s *FirestoreStore) Update(ctx context.Context, ref DocRef, updates []Update) error {
	fu := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		fu = append(fu, firestore.Update{Path: u.Path, Value: toFirestore(u.Value)})
	}
	if _, err := s.client.Collection(ref.Collection).Doc(ref.ID).Update(ctx, fu); err != nil {
		return classifyFirestoreError(err, ref)
	}
	return nil
}

// Documents implements Store.
func (s *FirestoreStore) Documents(ctx context.Context, q Query) Iterator {
	if err := q.validate(); err != nil {
		return &sliceIterator{err: err}
	}
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Path, f.Op, f.Value)
	}
	for _, o := range q.Orders {
		dir := firestore.Asc
		if o.Direction == Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(o.Path, dir)
	}
	if q.LimitN > 0 {
		fq = fq.Limit(q.LimitN)
	}
	return &firestoreIterator{collection: q.Collection, it: fq.Documents(ctx)}
}

// Close implements Store.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

type firestoreIterator struct {
	collection string
	it         *firestore.DocumentIterator
}

func (f *firestoreIterator) Next() (*Document, error) {
	snap, err := f.it.Next()
	if errors.Is(err, Done) {
		return nil, Done
	}
	if err != nil {
		return nil, classifyFirestoreError(err, DocRef{Collection: f.collection})
	}
	return snapshotDocument(f.collection, snap), nil
}

func (f *firestoreIterator) Stop() {
	f.it.Stop()
}

func classifyFirestoreError(err error, ref DocRef) error {
	switch status.Code(err) {
	case codes.NotFound:
		return notFound(ref, err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return invalidArgument(err, "%s: %s", ref.Collection, status.Convert(err).Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return errdefs.Transient(errdefs.SubsystemDocstore, err, "%s: %s", ref.Collection, status.Convert(err).Message())
	default:
		return errdefs.Internal(errdefs.SubsystemDocstore, err, "%s: %s", ref.Collection, err.Error())
	}
}
