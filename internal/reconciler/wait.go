package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fpl-mcp/mcp-deployer/internal/systemd"
)

// waitRunning polls the unit until it is active and running. A unit in the
// failed state ends the wait at once; a unit that is still activating when
// timeout elapses is reported with its last state.
func (r *Reconciler) waitRunning(ctx context.Context, unit string) (systemd.UnitState, error) {
	poll := func() (systemd.UnitState, error) {
		states, err := r.deps.Systemd.States(ctx, []string{unit})
		if err != nil {
			return systemd.UnitState{}, err
		}
		st := states[unit]
		if st.IsFailed() {
			return st, backoff.Permanent(fmt.Errorf("unit %s entered the failed state", unit))
		}
		if !st.IsRunning() {
			return st, fmt.Errorf("unit %s is %s", unit, st)
		}
		return st, nil
	}

	st, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.settings.PollInterval)),
		backoff.WithMaxElapsedTime(r.settings.StartTimeout),
	)
	if err != nil {
		return st, fmt.Errorf("unit did not reach running within %s: %w", r.settings.StartTimeout, err)
	}

	if r.settings.SettleTime <= 0 {
		return st, nil
	}

	// A process that crashes right after exec is briefly reported as running
	select {
	case <-time.After(r.settings.SettleTime):
	case <-ctx.Done():
		return st, ctx.Err()
	}
	st, err = poll()
	if err != nil {
		return st, fmt.Errorf("unit exited after start: %w", err)
	}
	return st, nil
}
