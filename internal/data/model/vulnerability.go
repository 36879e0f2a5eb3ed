package model

import (
	"strings"
	"time"
)

// Severity is the severity band of a vulnerability.
type Severity string

// Severity bands, lowest first.
const (
	SeverityUndefined Severity = "undefined"
	SeverityLow       Severity = "low"
	SeverityMedium    Severity = "medium"
	SeverityHigh      Severity = "high"
	SeverityCritical  Severity = "critical"
)

// Severities lists the defined bands from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity maps a scanner severity label onto a band, case-insensitively.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityUndefined
	}
}

// Rank orders bands; undefined ranks lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// UpperBound is the CVSS score assumed for a vulnerability of this band when
// the scanner reports none.
func (s Severity) UpperBound() float64 {
	switch s {
	case SeverityLow:
		return 3.9
	case SeverityMedium:
		return 6.9
	case SeverityHigh:
		return 8.9
	case SeverityCritical:
		return 10.0
	default:
		return 0.0
	}
}

// Vulnerability is one finding of a scan.
type Vulnerability struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	CVSSScore             float64    `json:"cvssScore"`
	Severity              Severity   `json:"severity"`
	IsUpgradable          bool       `json:"isUpgradable"`
	IsExploitable         bool       `json:"isExploitable"`
	Exploit               string     `json:"exploit,omitempty"`
	PublicationTime       *time.Time `json:"publicationTime,omitempty"`
	UpgradePath           []string   `json:"upgradePath,omitempty"`
	DockerfileInstruction string     `json:"dockerfileInstruction,omitempty"`
	Identifiers           []string   `json:"identifiers,omitempty"`
	PackageName           string     `json:"packageName,omitempty"`
	Version               string     `json:"version,omitempty"`
}

// CVEs returns the CVE identifiers of v, or its own id when it has none.
func (v Vulnerability) CVEs() []string {
	if len(v.Identifiers) > 0 {
		return v.Identifiers
	}
	return []string{v.ID}
}
