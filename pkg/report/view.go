package report

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

// CVECount is how often a CVE occurs in a report.
type CVECount struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// Cohort groups vulnerabilities by age since publication.
type Cohort struct {
	Label string `json:"label"`
	// MinDays is the exclusive lower bound of the cohort's age in days.
	MinDays         int                   `json:"minDays"`
	Vulnerabilities []model.Vulnerability `json:"vulnerabilities"`
}

// AgePoint is one vulnerability placed on the age scatter plot.
type AgePoint struct {
	Published  time.Time `json:"published"`
	Score      float64   `json:"score"`
	ColorIndex int       `json:"colorIndex"`
	Color      string    `json:"color"`
}

// cohortBounds are the exclusive lower bounds, in days, of the age cohorts.
var cohortBounds = []struct {
	label string
	days  int
}{
	{"more than a year", 365},
	{"more than 6 months", 180},
	{"more than 3 months", 90},
	{"more than a month", 30},
	{"last 30 days", -1},
}

// view computes everything derived from a fixed list of vulnerabilities.
type view struct {
	vulns  []model.Vulnerability
	logger types.Logger
}

func newView(vulns []model.Vulnerability, logger types.Logger) view {
	if logger == nil {
		logger = &types.MockLogger{}
	}
	return view{vulns: vulns, logger: logger}
}

// Vulnerabilities returns a copy of the vulnerability list.
func (v view) Vulnerabilities() []model.Vulnerability {
	return append([]model.Vulnerability(nil), v.vulns...)
}

// Stats summarises the non-zero CVSS scores. A score of zero means unknown.
func (v view) Stats() model.CvssStats {
	scores := lo.FilterMap(v.vulns, func(x model.Vulnerability, _ int) (float64, bool) {
		return x.CVSSScore, x.CVSSScore != 0
	})
	return v.stats(scores)
}

// StatsIncludingZero summarises every CVSS score.
func (v view) StatsIncludingZero() model.CvssStats {
	return v.stats(lo.Map(v.vulns, func(x model.Vulnerability, _ int) float64 { return x.CVSSScore }))
}

func (v view) stats(scores []float64) model.CvssStats {
	if len(scores) == 0 {
		v.logger.Warn("no scored vulnerabilities, statistics are zero", zap.Int("vulnerabilities", len(v.vulns)))
		return model.CvssStats{}
	}
	return ComputeStats(scores)
}

// ComputeStats returns the mean, median (linear interpolation), population
// standard deviation, minimum and maximum of scores, which must not be empty.
func ComputeStats(scores []float64) model.CvssStats {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	n := len(sorted)

	sum := 0.0
	for _, s := range sorted {
		sum += s
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, s := range sorted {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(n)

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return model.CvssStats{
		Mean:   mean,
		Median: median,
		Stdev:  math.Sqrt(variance),
		Min:    sorted[0],
		Max:    sorted[n-1],
	}
}

// Distribution counts vulnerabilities per severity band. Undefined severities are not counted.
func (v view) Distribution() model.SeverityDistribution {
	var d model.SeverityDistribution
	for _, x := range v.vulns {
		switch x.Severity {
		case model.SeverityLow:
			d.Low++
		case model.SeverityMedium:
			d.Medium++
		case model.SeverityHigh:
			d.High++
		case model.SeverityCritical:
			d.Critical++
		}
	}
	return d
}

// HighestSeverity is the most severe band present, low when there is none.
func (v view) HighestSeverity() model.Severity {
	highest := model.SeverityLow
	for _, x := range v.vulns {
		if x.Severity.Rank() > highest.Rank() {
			highest = x.Severity
		}
	}
	return highest
}

// TopNMostSevere returns at most n vulnerabilities by descending score, ties
// kept in report order.
func (v view) TopNMostSevere(n int, upgradableOnly bool) []model.Vulnerability {
	candidates := v.Vulnerabilities()
	if upgradableOnly {
		candidates = lo.Filter(candidates, func(x model.Vulnerability, _ int) bool { return x.IsUpgradable })
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CVSSScore > candidates[j].CVSSScore
	})
	if n < 0 {
		n = 0
	}
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// MostCommonCVEs counts CVE identifiers and returns the n most frequent,
// ties in order of first appearance. n <= 0 returns every identifier.
func (v view) MostCommonCVEs(n int) []CVECount {
	counts := map[string]int{}
	var order []string
	for _, x := range v.vulns {
		for _, id := range x.CVEs() {
			if _, seen := counts[id]; !seen {
				order = append(order, id)
			}
			counts[id]++
		}
	}
	out := lo.Map(order, func(id string, _ int) CVECount { return CVECount{ID: id, Count: counts[id]} })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// AgeCohorts partitions vulnerabilities with a publication time by their age at now.
func (v view) AgeCohorts(now time.Time) []Cohort {
	cohorts := make([]Cohort, len(cohortBounds))
	for i, b := range cohortBounds {
		cohorts[i] = Cohort{Label: b.label, MinDays: b.days}
	}
	skipped := 0
	for _, x := range v.vulns {
		if x.PublicationTime == nil || x.PublicationTime.IsZero() {
			skipped++
			continue
		}
		age := now.Sub(*x.PublicationTime)
		for i, b := range cohortBounds {
			if age > time.Duration(b.days)*24*time.Hour || i == len(cohortBounds)-1 {
				cohorts[i].Vulnerabilities = append(cohorts[i].Vulnerabilities, x)
				break
			}
		}
	}
	if skipped > 0 {
		v.logger.Warn("vulnerabilities without publication time left out of age cohorts", zap.Int("skipped", skipped))
	}
	return cohorts
}

// AgePoints places every vulnerability with a publication time on the age
// plot, oldest first.
func (v view) AgePoints() []AgePoint {
	points := lo.FilterMap(v.vulns, func(x model.Vulnerability, _ int) (AgePoint, bool) {
		if x.PublicationTime == nil || x.PublicationTime.IsZero() {
			return AgePoint{}, false
		}
		idx := ColorIndex(x.CVSSScore)
		return AgePoint{Published: x.PublicationTime.UTC(), Score: x.CVSSScore, ColorIndex: idx, Color: Colormap[idx]}, true
	})
	sort.SliceStable(points, func(i, j int) bool { return points[i].Published.Before(points[j].Published) })
	return points
}

// Exploitable returns the vulnerabilities with a known working exploit.
func (v view) Exploitable() []model.Vulnerability {
	return lo.Filter(v.vulns, func(x model.Vulnerability, _ int) bool { return x.IsExploitable })
}

// Critical returns the critical vulnerabilities.
func (v view) Critical() []model.Vulnerability {
	return lo.Filter(v.vulns, func(x model.Vulnerability, _ int) bool { return x.Severity == model.SeverityCritical })
}

// UpgradePaths returns the distinct upgrade steps suggested by the scanner.
func (v view) UpgradePaths() []string {
	var paths []string
	for _, x := range v.vulns {
		for _, p := range x.UpgradePath {
			if strings.TrimSpace(p) != "" {
				paths = append(paths, p)
			}
		}
	}
	return lo.Uniq(paths)
}

// DockerfileInstructions returns the distinct Dockerfile instructions that introduced vulnerabilities.
func (v view) DockerfileInstructions() []string {
	return lo.Uniq(lo.FilterMap(v.vulns, func(x model.Vulnerability, _ int) (string, bool) {
		return x.DockerfileInstruction, strings.TrimSpace(x.DockerfileInstruction) != ""
	}))
}
