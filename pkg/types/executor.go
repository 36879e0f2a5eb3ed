package types

import "context"

// CommandExecutor is an interface for executing commands.
type CommandExecutor interface {
	// ExecuteCommand executes a command with the given name, arguments, and environment variables.
	// It returns the standard output, standard error, and any error that occurred during execution.
	// A non-zero exit status is reported as an *exec.ExitError, so callers can inspect the code.
	// The command is killed when ctx is done.
	ExecuteCommand(ctx context.Context, name string, args []string, env []string) (stdout string, stderr string, err error)
}
