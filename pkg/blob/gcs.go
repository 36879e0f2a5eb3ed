package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/retry"
)

// GCSStore keeps objects in Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	policy retry.Policy
}

// NewGCSStore opens a storage client with application default credentials.
func NewGCSStore(ctx context.Context, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemStorage, err, "failed to create storage client: %s", err.Error())
	}
	return &GCSStore{client: client, policy: retry.DefaultPolicy()}, nil
}

// PutObject implements Store.
func (g *GCSStore) PutObject(ctx context.Context, bucket, name string, data []byte, contentType string) (*Handle, error) {
	var handle *Handle
	err := retry.Do(ctx, log.NewLogger(ctx), g.policy, "blob.put", func(ctx context.Context) error {
		w := g.client.Bucket(bucket).Object(name).NewWriter(ctx)
		w.ContentType = contentType
		if _, err := w.Write(data); err != nil {
			_ = w.Close() //nolint:errcheck
			return classifyGCSError(err, bucket, name)
		}
		if err := w.Close(); err != nil {
			return classifyGCSError(err, bucket, name)
		}
		attrs := w.Attrs()
		handle = &Handle{
			Bucket:    bucket,
			Name:      name,
			URL:       PublicURL(bucket, name),
			SelfLink:  SelfLink(bucket, name),
			MediaLink: attrs.MediaLink,
		}
		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return handle, nil
}

// GetObject implements Store.
func (g *GCSStore) GetObject(ctx context.Context, bucket, name string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, log.NewLogger(ctx), g.policy, "blob.get", func(ctx context.Context) error {
		r, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
		if err != nil {
			return classifyGCSError(err, bucket, name)
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		if err != nil {
			return classifyGCSError(err, bucket, name)
		}
		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return data, nil
}

// Close implements Store.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

// PublicURL is the browser URL of an object.
func PublicURL(bucket, name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, url.PathEscape(name))
}

// SelfLink is the JSON API URL of an object.
func SelfLink(bucket, name string) string {
	return fmt.Sprintf("https://www.googleapis.com/storage/v1/b/%s/o/%s", bucket, url.PathEscape(name))
}

func classifyGCSError(err error, bucket, name string) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return errdefs.NotFound(errdefs.SubsystemStorage, err, "object %s/%s not found", bucket, name)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			return errdefs.NotFound(errdefs.SubsystemStorage, err, "object %s/%s not found", bucket, name)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError:
			return errdefs.Transient(errdefs.SubsystemStorage, err, "%s/%s: %s", bucket, name, gerr.Message)
		}
		return errdefs.Internal(errdefs.SubsystemStorage, err, "%s/%s: %s", bucket, name, gerr.Message)
	}
	if errors.Is(err, context.Canceled) {
		return errdefs.Internal(errdefs.SubsystemStorage, err, "%s/%s: %s", bucket, name, err.Error())
	}
	return errdefs.Transient(errdefs.SubsystemStorage, err, "%s/%s: %s", bucket, name, err.Error())
}
