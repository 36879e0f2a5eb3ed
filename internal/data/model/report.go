package model

import "time"

// CvssStats summarises a set of CVSS scores.
type CvssStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Stdev  float64 `json:"stdev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Field returns the statistic named by field (mean, median, stdev, min or max).
func (s CvssStats) Field(field string) (float64, bool) {
	switch field {
	case "mean":
		return s.Mean, true
	case "median":
		return s.Median, true
	case "stdev":
		return s.Stdev, true
	case "min":
		return s.Min, true
	case "max":
		return s.Max, true
	default:
		return 0, false
	}
}

// SeverityDistribution counts vulnerabilities per band.
type SeverityDistribution struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

// Total returns the number of counted vulnerabilities.
func (d SeverityDistribution) Total() int {
	return d.Low + d.Medium + d.High + d.Critical
}

// Count returns the count of one band.
func (d SeverityDistribution) Count(s Severity) int {
	switch s {
	case SeverityLow:
		return d.Low
	case SeverityMedium:
		return d.Medium
	case SeverityHigh:
		return d.High
	case SeverityCritical:
		return d.Critical
	default:
		return 0
	}
}

// ReportData is the persisted summary of a rendered report.
// For each canonical image name only the newest document has Historical=false.
type ReportData struct {
	ID                     string               `json:"id"`
	Image                  ImageInfo            `json:"image"`
	Timestamp              time.Time            `json:"timestamp"`
	Cvss                   CvssStats            `json:"cvss"`
	Distribution           SeverityDistribution `json:"distribution"`
	ReportURL              string               `json:"reportUrl,omitempty"`
	Aggregate              bool                 `json:"aggregate"`
	Historical             bool                 `json:"historical"`
	Updated                *time.Time           `json:"updated,omitempty"`
	UpgradePaths           []string             `json:"upgradePaths"`
	DockerfileInstructions []string             `json:"dockerfileInstructions"`
	Backend                string               `json:"backend"`
	ScanIDs                []string             `json:"scanIds"`
	VulnerabilityCount     int                  `json:"vulnerabilityCount"`
}

// VulnerabilityBucket is the per-severity document stored under a report.
// OK is false when the list was dropped for exceeding the document size limit.
type VulnerabilityBucket struct {
	Severity        Severity        `json:"severity"`
	OK              bool            `json:"ok"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}
