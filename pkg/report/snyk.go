package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
)

var errNoSnykProjects = errors.New("no snyk projects in output")

// exploitMaturities are the Snyk exploit levels treated as a working exploit.
var exploitMaturities = map[string]bool{
	"functional": true,
	"high":       true,
	"mature":     true,
}

type snykProject struct {
	Vulnerabilities []snykVulnerability `json:"vulnerabilities"`
	Error           string              `json:"error"`
}

type snykVulnerability struct {
	ID                    string            `json:"id"`
	Title                 string            `json:"title"`
	CVSSScore             *float64          `json:"cvssScore"`
	Severity              string            `json:"severity"`
	SeverityWithCritical  string            `json:"severityWithCritical"`
	IsUpgradable          bool              `json:"isUpgradable"`
	Exploit               string            `json:"exploit"`
	PublicationTime       string            `json:"publicationTime"`
	UpgradePath           []json.RawMessage `json:"upgradePath"`
	DockerfileInstruction string            `json:"dockerfileInstruction"`
	Identifiers           struct {
		CVE []string `json:"CVE"`
	} `json:"identifiers"`
	PackageName string `json:"packageName"`
	Version     string `json:"version"`
}

// ParseSnyk reads `snyk container test --json` output: one project object or
// an array of them.
func ParseSnyk(raw []byte) ([]model.Vulnerability, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errNoSnykProjects
	}

	var projects []snykProject
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &projects); err != nil {
			return nil, fmt.Errorf("failed to decode snyk projects: %w", err)
		}
	} else {
		var p snykProject
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode snyk project: %w", err)
		}
		projects = []snykProject{p}
	}
	if len(projects) == 0 {
		return nil, errNoSnykProjects
	}

	var out []model.Vulnerability
	for _, p := range projects {
		for _, v := range p.Vulnerabilities {
			out = append(out, v.normalise())
		}
	}
	return out, nil
}

func (v snykVulnerability) normalise() model.Vulnerability {
	label := v.SeverityWithCritical
	if label == "" {
		label = v.Severity
	}
	severity := model.ParseSeverity(label)

	score := severity.UpperBound()
	if v.CVSSScore != nil {
		score = *v.CVSSScore
	}

	out := model.Vulnerability{
		ID:                    v.ID,
		Title:                 v.Title,
		CVSSScore:             score,
		Severity:              severity,
		IsUpgradable:          v.IsUpgradable,
		IsExploitable:         exploitMaturities[strings.ToLower(strings.TrimSpace(v.Exploit))],
		Exploit:               v.Exploit,
		DockerfileInstruction: strings.TrimSpace(v.DockerfileInstruction),
		Identifiers:           v.Identifiers.CVE,
		PackageName:           v.PackageName,
		Version:               v.Version,
	}
	if v.PublicationTime != "" {
		if t, err := model.ParseTimestamp(v.PublicationTime); err == nil {
			out.PublicationTime = &t
		}
	}
	for _, step := range v.UpgradePath {
		var s string
		if err := json.Unmarshal(step, &s); err == nil && strings.TrimSpace(s) != "" {
			out.UpgradePath = append(out.UpgradePath, s)
		}
	}
	return out
}
