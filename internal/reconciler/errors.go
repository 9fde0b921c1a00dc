package reconciler

import (
	"errors"
	"fmt"

	"github.com/fpl-mcp/mcp-deployer/internal/transport"
)

// Errors returned by Apply. Fatal step failures wrap one of these in a *StepError,
// so callers can use errors.Is.
var (
	// ErrInvalidSelection is returned before any side effect for an unknown transport
	ErrInvalidSelection = transport.ErrInvalidSelection

	// ErrLocked is returned when another run holds the lock
	ErrLocked = errors.New("another reconciliation is in progress")

	// ErrSourceSync is returned when the source tree cannot be brought up to date
	ErrSourceSync = errors.New("source sync failed")

	// ErrDependencyInstall is returned when the dependency set cannot be installed
	ErrDependencyInstall = errors.New("dependency install failed")

	// ErrRenderUnit is returned when the unit file cannot be rendered or written
	ErrRenderUnit = errors.New("unit render failed")

	// ErrInitReload is returned when systemd does not accept the rendered unit
	ErrInitReload = errors.New("init system reload failed")

	// ErrServiceStart is returned when the unit does not reach the running state
	ErrServiceStart = errors.New("service start failed")
)

var stepErrors = map[Step]error{
	StepSourceSync:        ErrSourceSync,
	StepDependencyInstall: ErrDependencyInstall,
	StepRenderUnit:        ErrRenderUnit,
	StepInitReload:        ErrInitReload,
	StepEnableStart:       ErrServiceStart,
}

// StepError is the error of a fatal step
type StepError struct {
	Step Step
	// Kind is one of the Err* sentinels
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
}

// Unwrap exposes both the sentinel and the cause
func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newStepError(step Step, err error) *StepError {
	kind, ok := stepErrors[step]
	if !ok {
		kind = fmt.Errorf("%s failed", step)
	}
	return &StepError{Step: step, Kind: kind, Err: err}
}
