// Package server exposes the pipeline over HTTP. The api role accepts client
// requests and fans them out; the scanner and reporter roles each run one unit
// of work per request.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

const (
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 1 << 20
)

// ServiceStatus describes the health of one service.
type ServiceStatus struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Detail  string `json:"detail,omitempty"`
}

type errorBody struct {
	Detail   string            `json:"detail"`
	Failures []errdefs.Failure `json:"failures,omitempty"`
}

// newRouter returns a router whose handlers see logger in their request context.
func newRouter(logger types.Logger) *mux.Router {
	if logger == nil {
		logger = log.NewLogger(context.Background())
	}
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ctx := log.WithLogger(req.Context(), logger)
			next.ServeHTTP(w, req.WithContext(ctx))
			logger.Debug("request served", zap.String("method", req.Method), zap.String("path", req.URL.Path),
				zap.Duration("elapsed", time.Since(start)))
		})
	})
	return r
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	logger := log.NewLogger(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           gzhttp.GzipHandler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server on %s failed: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down server", zap.String("addr", addr))
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server on %s: %w", addr, err)
		}
		return nil
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errdefs.User("", errdefs.ErrInvalidArguments, "invalid request body: %s", err.Error())
	}
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.NewLogger(ctx).Warn("failed to write response", zap.Error(err))
	}
}

// writeError maps err to a status and a {"detail"} body. Partial failures are
// always a server error and list what failed.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := log.NewLogger(ctx)
	var partial *errdefs.PartialFailure
	if errors.As(err, &partial) {
		logger.Error("request partially failed", zap.Error(err))
		writeJSON(ctx, w, http.StatusInternalServerError, errorBody{Detail: partial.Error(), Failures: partial.Failures()})
		return
	}
	status := errdefs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Error(err))
	}
	writeJSON(ctx, w, status, errorBody{Detail: errdefs.Detail(err)})
}

func statusHandler(name, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, http.StatusOK, ServiceStatus{Name: name, OK: true, Version: version})
	}
}
