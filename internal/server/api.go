package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/dispatch"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/history"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/render"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/scan"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

// Dispatcher fans requests out to the scanner and reporter services.
type Dispatcher interface {
	DispatchScans(ctx context.Context, images []string, backend string, ignoreFailed bool) ([]model.ScanLog, error)
	DispatchReports(ctx context.Context, req dispatch.ReportRequest) (*dispatch.ReportOut, error)
}

// StatusChecker reports the health of a downstream service.
type StatusChecker interface {
	Status(ctx context.Context) ServiceStatus
}

// APIConfig wires the api role.
type APIConfig struct {
	Dispatcher        Dispatcher
	Scans             dispatch.ScanLookup
	Docs              docstore.Store
	ReportsCollection string
	Scanner           StatusChecker
	Reporter          StatusChecker
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  types.Logger
}

type scansRequest struct {
	Images       []string `json:"images"`
	Backend      string   `json:"backend"`
	IgnoreFailed bool     `json:"ignoreFailed"`
}

type apiStatus struct {
	Scanner  ServiceStatus `json:"scanner"`
	Reporter ServiceStatus `json:"reporter"`
}

type api struct {
	APIConfig
}

// NewAPIHandler returns the router of the api role.
func NewAPIHandler(cfg APIConfig) http.Handler {
	a := &api{APIConfig: cfg}
	r := newRouter(cfg.Logger)
	r.HandleFunc("/scans", a.postScans).Methods(http.MethodPost)
	r.HandleFunc("/scans/{id}", a.getScan).Methods(http.MethodGet)
	r.HandleFunc("/reports", a.postReports).Methods(http.MethodPost)
	r.HandleFunc("/reports", a.listReports).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}", a.getReport).Methods(http.MethodGet)
	r.HandleFunc("/status", a.status).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}
	return r
}

func (a *api) postScans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := scansRequest{Backend: scan.SnykBackendName}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	logs, err := a.Dispatcher.DispatchScans(ctx, req.Images, req.Backend, req.IgnoreFailed)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, logs)
}

func (a *api) getScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scanLog, err := a.Scans.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, scanLog)
}

func (a *api) postReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := dispatch.ReportRequest{Format: render.FormatLatex}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	out, err := a.Dispatcher.DispatchReports(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, out)
}

func (a *api) listReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := history.ParseListQuery(r.URL.Query())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	reports, err := history.List(ctx, a.Docs, a.ReportsCollection, q)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if reports == nil {
		reports = []model.ReportData{}
	}
	writeJSON(ctx, w, http.StatusOK, reports)
}

func (a *api) getReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := history.Get(ctx, a.Docs, a.ReportsCollection, mux.Vars(r)["id"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, data)
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(ctx, w, http.StatusOK, apiStatus{
		Scanner:  a.Scanner.Status(ctx),
		Reporter: a.Reporter.Status(ctx),
	})
}
