package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
)

// FilesystemStore keeps objects as files under root/<bucket>/<name>.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore returns a store rooted at root, creating it when missing.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if root == "" {
		return nil, errdefs.Internal(errdefs.SubsystemStorage, nil, "filesystem store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemStorage, err, "failed to create %s: %s", root, err.Error())
	}
	return &FilesystemStore{root: root}, nil
}

func (f *FilesystemStore) path(bucket, name string) (string, error) {
	if bucket == "" || name == "" || strings.Contains(bucket, "..") || strings.ContainsAny(bucket, `/\`) ||
		strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", errdefs.User(errdefs.SubsystemStorage, errdefs.ErrInvalidArguments, "invalid object name %q/%q", bucket, name)
	}
	return filepath.Join(f.root, bucket, name), nil
}

// PutObject implements Store.
func (f *FilesystemStore) PutObject(_ context.Context, bucket, name string, data []byte, _ string) (*Handle, error) {
	p, err := f.path(bucket, name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemStorage, err, "failed to create bucket %s: %s", bucket, err.Error())
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemStorage, err, "failed to write %s/%s: %s", bucket, name, err.Error())
	}
	if err := os.Rename(tmp, p); err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemStorage, err, "failed to write %s/%s: %s", bucket, name, err.Error())
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	return &Handle{Bucket: bucket, Name: name, URL: u.String(), MediaLink: u.String()}, nil
}

// GetObject implements Store.
func (f *FilesystemStore) GetObject(_ context.Context, bucket, name string) ([]byte, error) {
	p, err := f.path(bucket, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errdefs.NotFound(errdefs.SubsystemStorage, err, "object %s/%s not found", bucket, name)
	}
	if err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemStorage, err, "failed to read %s/%s: %s", bucket, name, err.Error())
	}
	return data, nil
}

// Close implements Store.
func (f *FilesystemStore) Close() error {
	return nil
}

// String describes the store for logs.
func (f *FilesystemStore) String() string {
	return fmt.Sprintf("filesystem:%s", f.root)
}
