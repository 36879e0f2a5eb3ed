// Package render typesets reports into PDF documents.
package render

import (
	"context"
	"time"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/report"
)

// FormatLatex renders through a LaTeX engine.
const FormatLatex = "latex"

// Input is everything a rendered document shows.
type Input struct {
	Report report.Reader
	// Previous are earlier reports of the same image, oldest first, used for trend plots.
	Previous []model.ReportData
	// Now dates the document and anchors the age cohorts.
	Now time.Time
}

// Renderer writes a PDF for in into dir and returns its path.
// Implementations are not safe for concurrent use; callers serialise them.
type Renderer interface {
	Render(ctx context.Context, in Input, dir string) (string, error)
}

// Registry maps report formats to renderers.
type Registry map[string]Renderer

// Lookup returns the renderer for format.
func (r Registry) Lookup(format string) (Renderer, error) {
	renderer, ok := r[format]
	if !ok {
		return nil, errdefs.UnknownFormat(format)
	}
	return renderer, nil
}
