// Package registry resolves image references to immutable image metadata.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/retry"
)

// TagLister fetches the tags manifest of a repository.
type TagLister interface {
	ListTags(ctx context.Context, repo name.Repository) (*TagsManifest, error)
}

// Client resolves references against registries.
type Client struct {
	lister TagLister
	policy retry.Policy
	now    func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the retry policy used for manifest lookups.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithClock overrides the clock used for synthesised Docker Hub metadata.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient returns a Client reading tags manifests through lister.
func NewClient(lister TagLister, opts ...Option) *Client {
	c := &Client{lister: lister, policy: retry.DefaultPolicy(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve parses ref and returns the metadata of the image it designates.
// project is used for references with a single path segment.
func (c *Client) Resolve(ctx context.Context, ref, project string) (*model.ImageInfo, error) {
	parsed, err := ParseReference(ref, project)
	if err != nil {
		return nil, err
	}
	logger := log.NewLogger(ctx)

	if parsed.IsDockerHub() {
		logger.Debug("synthesising image metadata", zap.String("image", parsed.CanonicalName()))
		return c.synthesize(parsed), nil
	}

	repo, err := parsed.repository()
	if err != nil {
		return nil, malformed(ref, "%s", err.Error())
	}

	var manifest *TagsManifest
	err = retry.Do(ctx, logger, c.policy, "registry.tags", func(ctx context.Context) error {
		var lerr error
		manifest, lerr = c.lister.ListTags(ctx, repo)
		return lerr
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return selectImage(parsed, manifest)
}

func (c *Client) synthesize(ref Reference) *model.ImageInfo {
	now := c.now().UTC()
	info := &model.ImageInfo{
		SizeBytes:     "0",
		MediaType:     model.MediaTypeDockerManifestV2,
		Tags:          []string{""},
		Created:       now,
		Uploaded:      now,
		CanonicalName: ref.CanonicalName(),
	}
	switch ref.Mode {
	case ModeTag:
		info.Tags = []string{ref.Value}
	case ModeDigest:
		info.Digest = ref.Value
	}
	return info
}

func selectImage(ref Reference, manifest *TagsManifest) (*model.ImageInfo, error) {
	canonical := ref.CanonicalName()
	switch ref.Mode {
	case ModeDigest:
		entry, ok := manifest.Manifest[ref.Value]
		if !ok {
			return nil, errdefs.NotFound(errdefs.SubsystemRegistry, errdefs.ErrImageNotFound,
				"no image with digest %s in %s", ref.Value, canonical)
		}
		info := entry.imageInfo(canonical, ref.Value)
		return &info, nil
	case ModeTag:
		digest, ok := manifest.newestWithTag(ref.Value)
		if !ok {
			return nil, errdefs.NotFound(errdefs.SubsystemRegistry, errdefs.ErrImageNotFound,
				"no image tagged %s in %s", ref.Value, canonical)
		}
		info := manifest.Manifest[digest].imageInfo(canonical, digest)
		return &info, nil
	default:
		digest, ok := manifest.newestWithTag("latest")
		if !ok {
			return nil, errdefs.NotFound(errdefs.SubsystemRegistry, errdefs.ErrImageNotFound,
				"no image tagged latest in %s", canonical)
		}
		info := manifest.Manifest[digest].imageInfo(canonical, digest)
		return &info, nil
	}
}

// RemoteTagLister reads tags manifests over the registry HTTP API.
type RemoteTagLister struct {
	keychain authn.Keychain
	base     http.RoundTripper
	timeout  time.Duration
}

// NewRemoteTagLister returns a lister authenticating through keychain.
// A zero timeout disables the per-request limit.
func NewRemoteTagLister(keychain authn.Keychain, timeout time.Duration) *RemoteTagLister {
	return &RemoteTagLister{keychain: keychain, base: http.DefaultTransport, timeout: timeout}
}

// ListTags implements TagLister.
func (l *RemoteTagLister) ListTags(ctx context.Context, repo name.Repository) (*TagsManifest, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	auth, err := l.keychain.Resolve(repo)
	if err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemRegistry, err, "failed to resolve credentials for %s", repo.RegistryStr())
	}
	tr, err := transport.NewWithContext(ctx, repo.Registry, auth, l.base, []string{repo.Scope(transport.PullScope)})
	if err != nil {
		return nil, classifyTransportError(err, repo)
	}

	u := url.URL{
		Scheme: repo.Registry.Scheme(),
		Host:   repo.RegistryStr(),
		Path:   fmt.Sprintf("/v2/%s/tags/list", repo.RepositoryStr()),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errdefs.Internal(errdefs.SubsystemRegistry, err, "failed to build request")
	}
	resp, err := (&http.Client{Transport: tr}).Do(req)
	if err != nil {
		return nil, errdefs.Transient(errdefs.SubsystemRegistry, err, "request to %s failed: %s", repo.RegistryStr(), err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errdefs.NotFound(errdefs.SubsystemRegistry, errdefs.ErrImageNotFound, "repository %s not found", repo.Name())
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, errdefs.Transient(errdefs.SubsystemRegistry, nil, "%s returned %s", repo.RegistryStr(), resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, errdefs.Internal(errdefs.SubsystemRegistry, nil, "%s returned %s", repo.RegistryStr(), resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdefs.Transient(errdefs.SubsystemRegistry, err, "failed to read tags of %s", repo.Name())
	}
	var manifest TagsManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, errdefs.Data(errdefs.SubsystemRegistry, fmt.Errorf("%w: %w", errdefs.ErrTagsParse, err),
			"failed to parse tags of %s", repo.Name())
	}
	return &manifest, nil
}

func classifyTransportError(err error, repo name.Repository) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch {
		case terr.StatusCode == http.StatusNotFound:
			return errdefs.NotFound(errdefs.SubsystemRegistry, errdefs.ErrImageNotFound, "repository %s not found", repo.Name())
		case terr.StatusCode >= http.StatusInternalServerError:
			return errdefs.Transient(errdefs.SubsystemRegistry, err, "%s returned %d", repo.RegistryStr(), terr.StatusCode)
		}
		return errdefs.Internal(errdefs.SubsystemRegistry, err, "authentication with %s failed: %s", repo.RegistryStr(), err.Error())
	}
	return errdefs.Transient(errdefs.SubsystemRegistry, err, "could not reach %s: %s", repo.RegistryStr(), err.Error())
}
