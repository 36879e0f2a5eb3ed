package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/report"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

const (
	texName     = "report.tex"
	pdfName     = "report.pdf"
	tableRows   = 10
	maxLogBytes = 2048
)

// LatexRenderer writes LaTeX source and runs a LaTeX engine (pdflatex by default) on it.
type LatexRenderer struct {
	executor types.CommandExecutor
	binary   string
}

// NewLatexRenderer returns a renderer invoking binary through executor.
func NewLatexRenderer(executor types.CommandExecutor, binary string) *LatexRenderer {
	if binary == "" {
		binary = "pdflatex"
	}
	return &LatexRenderer{executor: executor, binary: binary}
}

// Render implements Renderer.
func (l *LatexRenderer) Render(ctx context.Context, in Input, dir string) (string, error) {
	logger := log.NewLogger(ctx)

	var src bytes.Buffer
	if err := WriteLatex(&src, in); err != nil {
		return "", errdefs.Render(err, "failed to generate document source: %s", err.Error())
	}
	texPath := filepath.Join(dir, texName)
	if err := os.WriteFile(texPath, src.Bytes(), 0o600); err != nil {
		return "", errdefs.Render(err, "failed to write document source: %s", err.Error())
	}

	args := []string{"-interaction=nonstopmode", "-halt-on-error", "-output-directory", dir, texPath}
	// Two passes so that page references settle.
	for pass := 1; pass <= 2; pass++ {
		stdout, stderr, err := l.executor.ExecuteCommand(ctx, l.binary, args, nil)
		if err != nil {
			logger.Error("latex run failed", zap.Int("pass", pass), zap.String("stdout", tail(stdout)), zap.String("stderr", tail(stderr)))
			return "", errdefs.Render(err, "%s failed: %s", l.binary, err.Error())
		}
	}

	pdfPath := filepath.Join(dir, pdfName)
	if _, err := os.Stat(pdfPath); err != nil {
		return "", errdefs.Render(err, "%s produced no document", l.binary)
	}
	return pdfPath, nil
}

func tail(s string) string {
	if len(s) <= maxLogBytes {
		return s
	}
	return s[len(s)-maxLogBytes:]
}

// WriteLatex writes the LaTeX source of the document for in.
func WriteLatex(w io.Writer, in Input) error {
	if in.Report == nil {
		return errors.New("no report to render")
	}
	data := newDocument(in)
	if err := latexTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// document is the template view of a report. Strings are already escaped.
type document struct {
	Title        string
	Subtitle     string
	Date         string
	Aggregate    bool
	Stats        model.CvssStats
	Distribution model.SeverityDistribution
	Total        int
	Highest      string
	Top          []row
	TopUpgrade   []row
	Exploitable  []row
	Critical     []row
	PerMember    []memberRow
	CommonCVEs   []report.CVECount
	Cohorts      []cohortRow
	AgePoints    []point
	Colors       []colorDef
	Trend        []trendPoint
	UpgradePaths []string
	Dockerfile   []string
}

type row struct {
	ID, Title, Package, Severity string
	Score                        float64
}

type memberRow struct {
	Member string
	row
}

type cohortRow struct {
	Label string
	Count int
}

type point struct {
	X     float64
	Score float64
	Color string
}

type colorDef struct {
	Name, Hex string
}

type trendPoint struct {
	X          float64
	Mean, Max  float64
	Historical bool
}

func newDocument(in Input) document {
	r := in.Report
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	img := r.Image()
	subtitle := img.DisplayTag()
	if img.Digest != "" {
		subtitle = strings.TrimSpace(subtitle + " " + img.Digest)
	}

	d := document{
		Title:        escape(img.CanonicalName),
		Subtitle:     escape(subtitle),
		Date:         now.Format("2 January 2006"),
		Aggregate:    r.Aggregate(),
		Stats:        r.Stats(),
		Distribution: r.Distribution(),
		Total:        len(r.Vulnerabilities()),
		Highest:      string(r.HighestSeverity()),
		Top:          rows(r.TopNMostSevere(tableRows, false)),
		TopUpgrade:   rows(r.TopNMostSevere(tableRows, true)),
		Exploitable:  rows(firstN(r.Exploitable(), tableRows)),
		Critical:     rows(firstN(r.Critical(), tableRows)),
		CommonCVEs:   escapeCounts(r.MostCommonCVEs(tableRows)),
		UpgradePaths: escapeAll(firstStrings(r.UpgradePaths(), tableRows)),
		Dockerfile:   escapeAll(firstStrings(r.DockerfileInstructions(), tableRows)),
	}
	for _, c := range r.AgeCohorts(now) {
		d.Cohorts = append(d.Cohorts, cohortRow{Label: c.Label, Count: len(c.Vulnerabilities)})
	}

	used := map[int]bool{}
	for _, p := range r.AgePoints() {
		name := fmt.Sprintf("cvss%d", p.ColorIndex)
		if !used[p.ColorIndex] {
			used[p.ColorIndex] = true
			d.Colors = append(d.Colors, colorDef{Name: name, Hex: strings.TrimPrefix(p.Color, "#")})
		}
		d.AgePoints = append(d.AgePoints, point{X: decimalYear(p.Published), Score: p.Score, Color: name})
	}

	for _, prev := range in.Previous {
		d.Trend = append(d.Trend, trendPoint{X: decimalYear(prev.Timestamp), Mean: prev.Cvss.Mean, Max: prev.Cvss.Max, Historical: prev.Historical})
	}
	d.Trend = append(d.Trend, trendPoint{X: decimalYear(r.Timestamp()), Mean: d.Stats.Mean, Max: d.Stats.Max})

	if agg, ok := r.(*report.AggregateReport); ok {
		for _, m := range agg.Members() {
			top, ok := agg.MostSeverePerMember()[m.ID()]
			if !ok {
				continue
			}
			d.PerMember = append(d.PerMember, memberRow{Member: escape(m.Image().CanonicalName), row: toRow(top)})
		}
	}
	return d
}

func decimalYear(t time.Time) float64 {
	t = t.UTC()
	start := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return float64(t.Year()) + float64(t.Sub(start))/float64(end.Sub(start))
}

func toRow(v model.Vulnerability) row {
	return row{
		ID:       escape(v.ID),
		Title:    escape(v.Title),
		Package:  escape(strings.TrimSpace(v.PackageName + " " + v.Version)),
		Severity: string(v.Severity),
		Score:    v.CVSSScore,
	}
}

func rows(vulns []model.Vulnerability) []row {
	out := make([]row, 0, len(vulns))
	for _, v := range vulns {
		out = append(out, toRow(v))
	}
	return out
}

func firstN(vulns []model.Vulnerability, n int) []model.Vulnerability {
	if len(vulns) > n {
		return vulns[:n]
	}
	return vulns
}

func firstStrings(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func escapeAll(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = escape(v)
	}
	return out
}

func escapeCounts(counts []report.CVECount) []report.CVECount {
	out := make([]report.CVECount, len(counts))
	for i, c := range counts {
		out[i] = report.CVECount{ID: escape(c.ID), Count: c.Count}
	}
	return out
}

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
	`<`, `\textless{}`,
	`>`, `\textgreater{}`,
)

// escape makes s safe inside LaTeX text.
func escape(s string) string {
	return latexEscaper.Replace(s)
}

var latexTemplate = template.Must(template.New("report").Delims("[[", "]]").Funcs(template.FuncMap{
	"score": func(f float64) string { return fmt.Sprintf("%.1f", f) },
	"num":   func(f float64) string { return fmt.Sprintf("%.4f", f) },
}).Parse(latexSource))
