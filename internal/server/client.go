package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/retry"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

const statusTimeout = 5 * time.Second

var errRemote = errors.New("remote service error")

// Client calls a scanner or reporter service.
type Client struct {
	name      string
	baseURL   string
	subsystem string
	http      types.HTTPClientInterface
	policy    retry.Policy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c types.HTTPClientInterface) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithRetryPolicy replaces the retry policy for transient failures.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(cl *Client) {
		cl.policy = p
	}
}

func newClient(name, subsystem, baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		subsystem: subsystem,
		http:      types.NewRealHTTPClientWithTimeout(timeout),
		policy:    retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ScannerClient is a dispatch.ScanService backed by a remote scanner role.
type ScannerClient struct {
	*Client
}

// NewScannerClient returns a client for the scanner at baseURL. Each request
// is abandoned after timeout.
func NewScannerClient(baseURL string, timeout time.Duration, opts ...ClientOption) *ScannerClient {
	return &ScannerClient{Client: newClient(ScannerName, errdefs.SubsystemScanner, baseURL, timeout, opts...)}
}

// Scan implements dispatch.ScanService.
func (c *ScannerClient) Scan(ctx context.Context, image, backend string) (*model.ScanLog, error) {
	var out model.ScanLog
	if err := c.call(ctx, "/scan", scanRequest{Image: image, Backend: backend}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReporterClient is a dispatch.ReportService backed by a remote reporter role.
type ReporterClient struct {
	*Client
}

// NewReporterClient returns a client for the reporter at baseURL. Each request
// is abandoned after timeout.
func NewReporterClient(baseURL string, timeout time.Duration, opts ...ClientOption) *ReporterClient {
	return &ReporterClient{Client: newClient(ReporterName, errdefs.SubsystemReporter, baseURL, timeout, opts...)}
}

// Report implements dispatch.ReportService.
func (c *ReporterClient) Report(ctx context.Context, scanIDs []string, aggregate bool, format string) (*model.ReportData, error) {
	var out model.ReportData
	if err := c.call(ctx, "/report", reportRequest{ScanIDs: scanIDs, Aggregate: aggregate, Format: format}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status asks the service for its health. Failures are reported in the status.
func (c *Client) Status(ctx context.Context) ServiceStatus {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return ServiceStatus{Name: c.name, Detail: err.Error()}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ServiceStatus{Name: c.name, Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ServiceStatus{Name: c.name, Detail: fmt.Sprintf("status endpoint returned %d", resp.StatusCode)}
	}
	var status ServiceStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return ServiceStatus{Name: c.name, Detail: fmt.Sprintf("invalid status response: %s", err.Error())}
	}
	return status
}

// call posts body to path and decodes the response into out. Transport errors
// and 502/503/504 responses are retried; other failures keep the remote
// detail and the kind implied by the status.
func (c *Client) call(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return retry.Do(ctx, log.NewLogger(ctx), c.policy, c.name+path, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errdefs.Transient(c.subsystem, err, "%s unreachable: %s", c.name, err.Error())
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return errdefs.Internal(c.subsystem, err, "invalid response from %s: %s", c.name, err.Error())
			}
			return nil
		}
		return c.remoteError(resp)
	})
}

func (c *Client) remoteError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	var body errorBody
	detail := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		detail = body.Detail
	}
	if detail == "" {
		detail = fmt.Sprintf("%s returned %d", c.name, resp.StatusCode)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return errdefs.Transient("", errRemote, "%s", detail)
	case http.StatusBadRequest:
		return errdefs.User("", errRemote, "%s", detail)
	case http.StatusNotFound:
		return errdefs.NotFound("", errRemote, "%s", detail)
	default:
		// The remote detail already carries its subsystem prefix.
		return errdefs.Internal("", errRemote, "%s", detail)
	}
}
