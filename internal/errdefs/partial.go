package errdefs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Failure describes one failed unit of a fan-out.
type Failure struct {
	Image  string `json:"image"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// PartialFailure collects the failures of a fan-out. Add is safe for concurrent use.
type PartialFailure struct {
	mu       sync.Mutex
	failures []Failure
	errs     *multierror.Error
	total    int
}

// NewPartialFailure returns an empty collector for a fan-out of total units.
func NewPartialFailure(total int) *PartialFailure {
	return &PartialFailure{total: total, errs: new(multierror.Error)}
}

// Add records the failure of the unit identified by image.
func (p *PartialFailure) Add(image string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, Failure{
		Image:  image,
		Kind:   KindOf(err).String(),
		Detail: Detail(err),
	})
	p.errs = multierror.Append(p.errs, fmt.Errorf("%s: %w", image, err))
}

// Failures returns the recorded failures ordered by image.
func (p *PartialFailure) Failures() []Failure {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]Failure(nil), p.failures...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Image < out[j].Image })
	return out
}

// Len returns the number of recorded failures.
func (p *PartialFailure) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failures)
}

// All reports whether every unit of the fan-out failed.
func (p *PartialFailure) All() bool {
	return p.Len() > 0 && p.Len() >= p.total
}

// ErrorOrNil returns p when at least one failure was recorded.
func (p *PartialFailure) ErrorOrNil() error {
	if p.Len() == 0 {
		return nil
	}
	return p
}

// Error implements the error interface.
func (p *PartialFailure) Error() string {
	failures := p.Failures()
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Image, f.Detail))
	}
	return fmt.Sprintf("%d of %d failed: %s", len(failures), p.total, strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (p *PartialFailure) Unwrap() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs.WrappedErrors()
}
