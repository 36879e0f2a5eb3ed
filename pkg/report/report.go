// Package report turns raw scanner output into reports and derives the
// statistics, rankings and plot data shown in rendered documents.
package report

import (
	"time"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

// Reader is the surface shared by single-scan and aggregate reports.
type Reader interface {
	ID() string
	Image() model.ImageInfo
	Timestamp() time.Time
	Backend() string
	// Aggregate reports whether the report spans several scans.
	Aggregate() bool
	// ScanIDs lists the scan logs the report was built from.
	ScanIDs() []string
	Vulnerabilities() []model.Vulnerability

	Stats() model.CvssStats
	StatsIncludingZero() model.CvssStats
	Distribution() model.SeverityDistribution
	HighestSeverity() model.Severity
	TopNMostSevere(n int, upgradableOnly bool) []model.Vulnerability
	MostCommonCVEs(n int) []CVECount
	AgeCohorts(now time.Time) []Cohort
	AgePoints() []AgePoint
	Exploitable() []model.Vulnerability
	Critical() []model.Vulnerability
	UpgradePaths() []string
	DockerfileInstructions() []string
}

// Report is the normalised result of one scan. It owns its vulnerabilities.
type Report struct {
	view
	id        string
	image     model.ImageInfo
	timestamp time.Time
	backend   string
}

var (
	_ Reader = (*Report)(nil)
	_ Reader = (*AggregateReport)(nil)
)

// New builds a report. vulns is copied.
func New(id string, image model.ImageInfo, timestamp time.Time, backend string, vulns []model.Vulnerability, logger types.Logger) *Report {
	return &Report{
		view:      newView(append([]model.Vulnerability(nil), vulns...), logger),
		id:        id,
		image:     image,
		timestamp: timestamp.UTC(),
		backend:   backend,
	}
}

// ID implements Reader.
func (r *Report) ID() string { return r.id }

// Image implements Reader.
func (r *Report) Image() model.ImageInfo { return r.image }

// Timestamp implements Reader.
func (r *Report) Timestamp() time.Time { return r.timestamp }

// Backend implements Reader.
func (r *Report) Backend() string { return r.backend }

// Aggregate implements Reader.
func (r *Report) Aggregate() bool { return false }

// ScanIDs implements Reader.
func (r *Report) ScanIDs() []string { return []string{r.id} }
