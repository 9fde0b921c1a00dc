package reconciler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpl-mcp/mcp-deployer/internal/status"
	"github.com/fpl-mcp/mcp-deployer/internal/systemd"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
)

func TestResult_ApplyTo(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(12 * time.Second)
	earlier := started.Add(-time.Hour)

	tests := []struct {
		name   string
		result Result
		prev   status.ReconcileStatus
		check  func(t *testing.T, st *status.ReconcileStatus)
	}{
		{
			name: "success resets attempts",
			result: Result{
				RunID: "run-2", Transport: transport.KindSSE, Unit: "mcp-sse.service", Revision: "abc",
				Steps:     []StepResult{{Step: StepSourceSync, Severity: SeverityFatal, Status: StepOK, Duration: 1500 * time.Microsecond}},
				StartedAt: started, FinishedAt: finished,
			},
			prev: status.ReconcileStatus{AttemptCount: 3, Revision: "old"},
			check: func(t *testing.T, st *status.ReconcileStatus) {
				t.Helper()
				assert.Equal(t, status.PhaseComplete, st.Phase)
				assert.Zero(t, st.AttemptCount)
				assert.Equal(t, "abc", st.Revision)
				assert.Equal(t, "sse", st.LastSuccessTransport)
				require.NotNil(t, st.LastSuccess)
				assert.Equal(t, finished, *st.LastSuccess)
				require.Len(t, st.Steps, 1)
				assert.Equal(t, "2ms", st.Steps[0].Duration)
			},
		},
		{
			name: "failure keeps last success",
			result: Result{
				RunID: "run-3", Transport: transport.KindHTTP, Unit: "mcp-http.service",
				Steps: []StepResult{
					{Step: StepSourceSync, Severity: SeverityFatal, Status: StepFailed, Message: "worktree has local changes"},
				},
				StartedAt: started, FinishedAt: finished,
			},
			prev: status.ReconcileStatus{AttemptCount: 1, Revision: "old", LastSuccess: &earlier, LastSuccessTransport: "sse"},
			check: func(t *testing.T, st *status.ReconcileStatus) {
				t.Helper()
				assert.Equal(t, status.PhaseFailed, st.Phase)
				assert.Equal(t, 2, st.AttemptCount)
				assert.Equal(t, "old", st.Revision)
				assert.Equal(t, "sse", st.LastSuccessTransport)
				assert.Equal(t, earlier, *st.LastSuccess)
				assert.Equal(t, "source-sync: worktree has local changes", st.Message)
				assert.Equal(t, "http", st.Transport)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			prev := tt.prev
			st := tt.result.applyTo(&prev)
			assert.Equal(t, tt.result.RunID, st.RunID)
			tt.check(t, st)
		})
	}
}

func TestResult_Advisories(t *testing.T) {
	t.Parallel()

	r := Result{Steps: []StepResult{
		{Step: StepStopOthers, Severity: SeverityAdvisory, Status: StepFailed},
		{Step: StepRenderUnit, Severity: SeverityFatal, Status: StepOK},
		{Step: StepFirewall, Severity: SeverityAdvisory, Status: StepSkipped},
		{Step: StepVerify, Severity: SeverityAdvisory, Status: StepFailed},
	}}

	assert.True(t, r.Succeeded())
	assert.Nil(t, r.FatalStep())
	advisories := r.Advisories()
	require.Len(t, advisories, 2)
	assert.Equal(t, StepStopOthers, advisories[0].Step)
	assert.Equal(t, StepVerify, advisories[1].Step)
}

func TestResult_ChangesWithoutSnapshot(t *testing.T) {
	t.Parallel()

	r := Result{After: map[string]systemd.UnitState{}}
	assert.Nil(t, r.Changes())
}

func TestStepError(t *testing.T) {
	t.Parallel()

	cause := errors.New("exit status 1")
	err := newStepError(StepDependencyInstall, cause)

	assert.ErrorIs(t, err, ErrDependencyInstall)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrSourceSync)
	assert.Equal(t, "dependency-install: dependency install failed: exit status 1", err.Error())

	advisory := newStepError(StepVerify, cause)
	assert.Equal(t, "verify: verify failed: exit status 1", advisory.Error())
}
