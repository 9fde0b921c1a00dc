package status

import "time"

// Phase represents the outcome phase of the last reconciliation
type Phase string

const (
	// PhaseApplying means a run started and has not recorded its outcome
	PhaseApplying Phase = "Applying"

	// PhaseComplete means the last run brought the selected transport up
	PhaseComplete Phase = "Complete"

	// PhaseFailed means the last run stopped at a fatal step
	PhaseFailed Phase = "Failed"
)

// ReconcileStatus is the persisted record of the deployer's runs on this host
type ReconcileStatus struct {
	Phase Phase `json:"phase" yaml:"phase"`

	// RunID identifies the run that wrote this status
	RunID string `json:"runId,omitempty" yaml:"runId,omitempty"`

	// Transport and Unit are the selection of the last run
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`
	Unit      string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// Revision is the source commit deployed by the last run
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`

	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	LastAttempt *time.Time `json:"lastAttempt,omitempty" yaml:"lastAttempt,omitempty"`

	// LastSuccess is the last time a run completed without a fatal failure
	LastSuccess *time.Time `json:"lastSuccess,omitempty" yaml:"lastSuccess,omitempty"`

	// LastSuccessTransport is the transport brought up by the last successful run
	LastSuccessTransport string `json:"lastSuccessTransport,omitempty" yaml:"lastSuccessTransport,omitempty"`

	// AttemptCount counts consecutive failed runs; reset on success
	AttemptCount int `json:"attemptCount" yaml:"attemptCount"`

	Steps     []StepRecord `json:"steps,omitempty" yaml:"steps,omitempty"`
	Endpoints []string     `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// StepRecord is the persisted outcome of one reconciliation step
type StepRecord struct {
	Step     string `json:"step" yaml:"step"`
	Severity string `json:"severity" yaml:"severity"`
	Status   string `json:"status" yaml:"status"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`
	Duration string `json:"duration" yaml:"duration"`
}
