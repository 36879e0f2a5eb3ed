package scan

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
)

// Backend runs one scanner against an image.
type Backend interface {
	// Name is the backend identifier used in requests and stored scan logs.
	Name() string
	// Scan runs the scanner. A scanner that ran but reported failure yields a
	// result with OK=false; err is reserved for a scanner that could not run.
	Scan(ctx context.Context, image model.ImageInfo) (*model.ScanResult, error)
}

// Runner dispatches scans to registered backends.
type Runner struct {
	backends map[string]Backend
}

// NewRunner returns a Runner knowing the given backends.
func NewRunner(backends ...Backend) *Runner {
	r := &Runner{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

// Backends returns the registered backend names, sorted.
func (r *Runner) Backends() []string {
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether a backend named name is registered.
func (r *Runner) Supports(name string) bool {
	_, ok := r.backends[name]
	return ok
}

// RunScan scans image with the named backend.
func (r *Runner) RunScan(ctx context.Context, image model.ImageInfo, backend string) (*model.ScanResult, error) {
	b, ok := r.backends[backend]
	if !ok {
		return nil, errdefs.UnknownBackend(backend)
	}
	logger := log.NewLogger(ctx)
	logger.Info("running scan", zap.String("image", image.ScanTarget()), zap.String("backend", backend))

	result, err := b.Scan(ctx, image)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		logger.Warn("scan failed", zap.String("image", image.ScanTarget()), zap.String("stderr", result.Stderr))
	}
	return result, nil
}
