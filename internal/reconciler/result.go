package reconciler

import (
	"slices"
	"strings"
	"time"

	"github.com/fpl-mcp/mcp-deployer/internal/endpoint"
	"github.com/fpl-mcp/mcp-deployer/internal/status"
	"github.com/fpl-mcp/mcp-deployer/internal/systemd"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
)

// Step names a reconciliation step
type Step string

// Steps in execution order
const (
	StepSourceSync        Step = "source-sync"
	StepDependencyInstall Step = "dependency-install"
	StepStopOthers        Step = "stop-others"
	StepDisableOthers     Step = "disable-others"
	StepRenderUnit        Step = "render-unit"
	StepInitReload        Step = "init-reload"
	StepEnableStart       Step = "enable-start"
	StepFirewall          Step = "firewall"
	StepIPLookup          Step = "ip-lookup"
	StepVerify            Step = "verify"
)

// Severity decides whether a failed step aborts the run
type Severity string

const (
	// SeverityFatal failures abort the run
	SeverityFatal Severity = "fatal"
	// SeverityAdvisory failures are recorded and the run continues
	SeverityAdvisory Severity = "advisory"
)

// StepStatus is the outcome of a step
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records one executed step
type StepResult struct {
	Step     Step          `json:"step" yaml:"step"`
	Severity Severity      `json:"severity" yaml:"severity"`
	Status   StepStatus    `json:"status" yaml:"status"`
	Message  string        `json:"message,omitempty" yaml:"message,omitempty"`
	Err      error         `json:"-" yaml:"-"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// UnitChange is a unit whose activity differs between the start and end of a run
type UnitChange struct {
	Unit   string            `json:"unit" yaml:"unit"`
	Before systemd.UnitState `json:"before" yaml:"before"`
	After  systemd.UnitState `json:"after" yaml:"after"`
}

// Result describes a reconciliation run
type Result struct {
	RunID     string         `json:"runId" yaml:"runId"`
	Transport transport.Kind `json:"transport" yaml:"transport"`
	Unit      string         `json:"unit" yaml:"unit"`
	// Revision is the source commit after the sync step
	Revision string       `json:"revision,omitempty" yaml:"revision,omitempty"`
	Steps    []StepResult `json:"steps" yaml:"steps"`

	// Before and After are the live states of every transport unit at the
	// start and end of the run; nil when the query failed
	Before map[string]systemd.UnitState `json:"before,omitempty" yaml:"before,omitempty"`
	After  map[string]systemd.UnitState `json:"after,omitempty" yaml:"after,omitempty"`

	Endpoints  []endpoint.HostEndpoint `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	StartedAt  time.Time               `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time               `json:"finishedAt" yaml:"finishedAt"`
}

// Succeeded reports whether no fatal step failed
func (r *Result) Succeeded() bool {
	return r.FatalStep() == nil
}

// FatalStep returns the fatal step that aborted the run, if any
func (r *Result) FatalStep() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Severity == SeverityFatal && r.Steps[i].Status == StepFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

// Advisories returns the advisory steps that failed
func (r *Result) Advisories() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Severity == SeverityAdvisory && s.Status == StepFailed {
			out = append(out, s)
		}
	}
	return out
}

// Duration is the wall time of the run
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Changes lists units whose active or sub state changed during the run,
// sorted by unit name
func (r *Result) Changes() []UnitChange {
	if r.Before == nil || r.After == nil {
		return nil
	}

	var changes []UnitChange
	for name, after := range r.After {
		before := r.Before[name]
		if before.ActiveState != after.ActiveState || before.SubState != after.SubState {
			changes = append(changes, UnitChange{Unit: name, Before: before, After: after})
		}
	}
	slices.SortFunc(changes, func(a, b UnitChange) int {
		return strings.Compare(a.Unit, b.Unit)
	})
	return changes
}

// EndpointURLs renders the endpoints
func (r *Result) EndpointURLs() []string {
	urls := make([]string, 0, len(r.Endpoints))
	for _, e := range r.Endpoints {
		urls = append(urls, e.URL())
	}
	return urls
}

// applyTo folds the run into the persisted status of previous runs
func (r *Result) applyTo(prev *status.ReconcileStatus) *status.ReconcileStatus {
	finished := r.FinishedAt
	st := *prev
	st.RunID = r.RunID
	st.Transport = string(r.Transport)
	st.Unit = r.Unit
	st.LastAttempt = &finished
	st.Endpoints = r.EndpointURLs()
	if r.Revision != "" {
		st.Revision = r.Revision
	}

	st.Steps = make([]status.StepRecord, 0, len(r.Steps))
	for _, s := range r.Steps {
		st.Steps = append(st.Steps, status.StepRecord{
			Step:     string(s.Step),
			Severity: string(s.Severity),
			Status:   string(s.Status),
			Message:  s.Message,
			Duration: s.Duration.Round(time.Millisecond).String(),
		})
	}

	if fatal := r.FatalStep(); fatal != nil {
		st.Phase = status.PhaseFailed
		st.Message = string(fatal.Step) + ": " + fatal.Message
		st.AttemptCount++
		return &st
	}

	st.Phase = status.PhaseComplete
	st.Message = "transport " + string(r.Transport) + " running"
	st.LastSuccess = &finished
	st.LastSuccessTransport = string(r.Transport)
	st.AttemptCount = 0
	return &st
}
