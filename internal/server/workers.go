package server

import (
	"net/http"

	"github.com/defenseunicorns/uds-vuln-reporter/pkg/dispatch"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/render"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/scan"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

// Service names reported by /status.
const (
	ScannerName  = "scanner"
	ReporterName = "reporter"
)

type scanRequest struct {
	Image   string `json:"image"`
	Backend string `json:"backend"`
}

type reportRequest struct {
	ScanIDs   []string `json:"scanIds"`
	Aggregate bool     `json:"aggregate"`
	Format    string   `json:"format"`
}

// NewScannerHandler returns the router of the scanner role.
func NewScannerHandler(svc dispatch.ScanService, version string, metrics http.Handler, logger types.Logger) http.Handler {
	r := newRouter(logger)
	r.HandleFunc("/scan", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req := scanRequest{Backend: scan.SnykBackendName}
		if err := decodeBody(w, r, &req); err != nil {
			writeError(ctx, w, err)
			return
		}
		scanLog, err := svc.Scan(ctx, req.Image, req.Backend)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, scanLog)
	}).Methods(http.MethodPost)
	r.HandleFunc("/status", statusHandler(ScannerName, version)).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

// NewReporterHandler returns the router of the reporter role.
func NewReporterHandler(svc dispatch.ReportService, version string, metrics http.Handler, logger types.Logger) http.Handler {
	r := newRouter(logger)
	r.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req := reportRequest{Format: render.FormatLatex}
		if err := decodeBody(w, r, &req); err != nil {
			writeError(ctx, w, err)
			return
		}
		data, err := svc.Report(ctx, req.ScanIDs, req.Aggregate, req.Format)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, data)
	}).Methods(http.MethodPost)
	r.HandleFunc("/status", statusHandler(ReporterName, version)).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}
