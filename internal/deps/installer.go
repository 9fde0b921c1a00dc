// Package deps installs the collaborator service's Python dependencies into its
// virtual environment.
package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fpl-mcp/mcp-deployer/internal/command"
	"github.com/fpl-mcp/mcp-deployer/internal/versions"
)

// ErrUnsupportedPython is returned when the venv interpreter is older than required
var ErrUnsupportedPython = errors.New("unsupported python version")

// Config locates the virtual environment and the source tree to install
type Config struct {
	VenvDir   string
	SourceDir string
	// PythonConstraint is a semver constraint such as ">= 3.10"; empty skips the check
	PythonConstraint string
}

// Result describes a completed installation
type Result struct {
	PythonVersion string
}

// Installer installs the service package in editable mode
type Installer struct {
	runner command.Runner
	config Config
}

// NewInstaller creates an Installer
func NewInstaller(runner command.Runner, config Config) *Installer {
	return &Installer{runner: runner, config: config}
}

// Install checks the interpreter version then runs "pip install -e <source>"
func (i *Installer) Install(ctx context.Context) (*Result, error) {
	bin := filepath.Join(i.config.VenvDir, "bin")

	out, err := i.runner.Run(ctx, i.config.SourceDir, filepath.Join(bin, "python"), "--version")
	if err != nil {
		return nil, fmt.Errorf("failed to run venv python: %w", err)
	}
	pythonVersion := strings.TrimSpace(string(out))

	if i.config.PythonConstraint != "" {
		ok, err := versions.Satisfies(pythonVersion, i.config.PythonConstraint)
		if err != nil {
			return nil, fmt.Errorf("failed to check python version: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s does not satisfy %q", ErrUnsupportedPython, pythonVersion, i.config.PythonConstraint)
		}
	}

	slog.InfoContext(ctx, "Installing service dependencies", "source", i.config.SourceDir, "python", pythonVersion)
	if _, err := i.runner.Run(ctx, i.config.SourceDir, filepath.Join(bin, "pip"), "install", "--quiet", "-e", i.config.SourceDir); err != nil {
		return nil, fmt.Errorf("pip install failed: %w", err)
	}

	return &Result{PythonVersion: pythonVersion}, nil
}
