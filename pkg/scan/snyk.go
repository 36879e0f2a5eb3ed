package scan

import (
	"context"
	"errors"
	"os/exec"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

// SnykBackendName identifies the Snyk container scanner.
const SnykBackendName = "snyk"

// Snyk exit codes: 0 no vulnerabilities, 1 vulnerabilities found, 2 failure, 3 no supported projects.
const (
	snykExitClean      = 0
	snykExitVulnsFound = 1
)

// SnykBackend runs `snyk container test` through a command executor.
type SnykBackend struct {
	executor types.CommandExecutor
	binary   string
	args     []string
	env      []string
}

// NewSnykBackend returns a backend invoking binary (snyk when empty).
// extraArgs are appended to every invocation.
func NewSnykBackend(executor types.CommandExecutor, binary string, extraArgs []string, env []string) *SnykBackend {
	if binary == "" {
		binary = "snyk"
	}
	return &SnykBackend{executor: executor, binary: binary, args: extraArgs, env: env}
}

// Name implements Backend.
func (s *SnykBackend) Name() string {
	return SnykBackendName
}

// Scan implements Backend. Stdout is kept verbatim as the raw result.
func (s *SnykBackend) Scan(ctx context.Context, image model.ImageInfo) (*model.ScanResult, error) {
	args := append([]string{"container", "test", image.ScanTarget(), "--json"}, s.args...)
	stdout, stderr, err := s.executor.ExecuteCommand(ctx, s.binary, args, s.env)

	result := &model.ScanResult{
		Backend: SnykBackendName,
		RawJSON: []byte(stdout),
		Stderr:  stderr,
		Image:   image,
	}
	if err == nil {
		result.OK = true
		return result, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errdefs.Internal(errdefs.SubsystemScanner, ctxErr, "scan of %s cancelled", image.ScanTarget())
		}
		return nil, errdefs.Internal(errdefs.SubsystemScanner, err, "failed to run %s: %s", s.binary, err.Error())
	}
	switch exitErr.ExitCode() {
	case snykExitClean, snykExitVulnsFound:
		result.OK = true
	default:
		result.OK = false
	}
	return result, nil
}
