package docstore

import (
	"context"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/retry"
)

// retryingStore retries single-document operations on transient errors.
// Queries are not retried once streaming has started.
type retryingStore struct {
	Store
	policy retry.Policy
}

// WithRetry wraps s so that Add, Set, Get and Update follow policy.
func WithRetry(s Store, policy retry.Policy) Store {
	return &retryingStore{Store: s, policy: policy}
}

func (r *retryingStore) Add(ctx context.Context, collection string, fields Fields) (*Document, error) {
	var doc *Document
	err := retry.Do(ctx, log.NewLogger(ctx), r.policy, "docstore.add", func(ctx context.Context) error {
		var err error
		doc, err = r.Store.Add(ctx, collection, fields)
		return err
	})
	return doc, err //nolint:wrapcheck
}

func (r *retryingStore) Set(ctx context.Context, ref DocRef, fields Fields) (*Document, error) {
	var doc *Document
	err := retry.Do(ctx, log.NewLogger(ctx), r.policy, "docstore.set", func(ctx context.Context) error {
		var err error
		doc, err = r.Store.Set(ctx, ref, fields)
		return err
	})
	return doc, err //nolint:wrapcheck
}

func (r *retryingStore) Get(ctx context.Context, ref DocRef) (*Document, error) {
	var doc *Document
	err := retry.Do(ctx, log.NewLogger(ctx), r.policy, "docstore.get", func(ctx context.Context) error {
		var err error
		doc, err = r.Store.Get(ctx, ref)
		return err
	})
	return doc, err //nolint:wrapcheck
}

func (r *retryingStore) Update(ctx context.Context, ref DocRef, updates []Update) error {
	return retry.Do(ctx, log.NewLogger(ctx), r.policy, "docstore.update", func(ctx context.Context) error { //nolint:wrapcheck
		return r.Store.Update(ctx, ref, updates)
	})
}
