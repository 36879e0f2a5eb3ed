package report

import (
	"context"
	"sort"
	"sync"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/scan"
)

// ParseFunc normalises the raw output of one scanner backend.
type ParseFunc func(raw []byte) ([]model.Vulnerability, error)

var (
	parsersMu sync.RWMutex
	parsers   = map[string]ParseFunc{
		scan.SnykBackendName: ParseSnyk,
	}
)

// Register adds or replaces the parser for backend.
func Register(backend string, fn ParseFunc) {
	parsersMu.Lock()
	defer parsersMu.Unlock()
	parsers[backend] = fn
}

// Backends lists the backends with a registered parser.
func Backends() []string {
	parsersMu.RLock()
	defer parsersMu.RUnlock()
	names := make([]string, 0, len(parsers))
	for n := range parsers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Parse builds the report of scanLog from the raw scanner output, choosing
// the parser by the backend recorded in the log.
func Parse(ctx context.Context, scanLog model.ScanLog, raw []byte) (*Report, error) {
	parsersMu.RLock()
	fn, ok := parsers[scanLog.Backend]
	parsersMu.RUnlock()
	if !ok {
		return nil, errdefs.UnknownBackend(scanLog.Backend)
	}
	vulns, err := fn(raw)
	if err != nil {
		return nil, errdefs.Data(errdefs.SubsystemReport, err, "scan %s cannot be parsed: %s", scanLog.ID, err.Error())
	}
	return New(scanLog.ID, scanLog.Image, scanLog.Timestamp, scanLog.Backend, vulns, log.NewLogger(ctx)), nil
}
