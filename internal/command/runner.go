// Package command runs external host commands (package installers, firewall
// tools) and reports their output for operator diagnostics.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks -source=runner.go Runner

// Runner runs an external command and returns its combined output
type Runner interface {
	// Run executes name with args in dir (empty dir means the current directory)
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExitError describes a command that could not be started or exited non-zero
type ExitError struct {
	Command string
	Output  string
	Err     error
}

// Error returns the error message
func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Output)
}

// Unwrap returns the underlying error
func (e *ExitError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the command binary could not be located
func (e *ExitError) NotFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound)
}

type execRunner struct{}

// NewExecRunner creates a Runner backed by os/exec
func NewExecRunner() Runner {
	return &execRunner{}
}

// Run executes the command and captures stdout and stderr together
func (*execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
	slog.DebugContext(ctx, "Running command", "command", cmdline, "dir", dir)

	// #nosec G204 -- command names come from deployer configuration, not user input
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, &ExitError{
			Command: cmdline,
			Output:  strings.TrimSpace(string(output)),
			Err:     err,
		}
	}
	return output, nil
}
