package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

// RealCommandExecutor is a struct that implements the CommandExecutor interface.
type RealCommandExecutor struct {
	// inheritEnv prepends the current process environment to the per-call env.
	inheritEnv bool
}

// ExecuteCommand executes a command and returns the stdout, stderr, and error.
//
//nolint:gocritic
func (r *RealCommandExecutor) ExecuteCommand(ctx context.Context, name string, args []string,
	env []string) (stdout string, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if r.inheritEnv {
		cmd.Env = append(os.Environ(), env...)
	} else {
		cmd.Env = append([]string{}, env...)
	}
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	err = cmd.Run()
	return outb.String(), errb.String(), err
}

// NewCommandExecutor creates a new instance of the RealCommandExecutor.
// Commands only see the environment passed to ExecuteCommand.
func NewCommandExecutor() types.CommandExecutor {
	return &RealCommandExecutor{}
}

// NewInheritingCommandExecutor creates a RealCommandExecutor whose commands also
// inherit the environment of the running process, which external scanners need
// for their auth tokens and PATH.
func NewInheritingCommandExecutor() types.CommandExecutor {
	return &RealCommandExecutor{inheritEnv: true}
}
