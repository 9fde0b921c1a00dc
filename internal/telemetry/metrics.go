package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fpl-mcp/mcp-deployer"

// ApplyMetrics records the outcome of reconciliation runs
type ApplyMetrics struct {
	applyDuration metric.Float64Histogram
	stepFailures  metric.Int64Counter
}

// NewApplyMetrics creates the apply instruments on the given provider.
// A nil provider returns nil, and every method on a nil *ApplyMetrics is a no-op.
func NewApplyMetrics(provider metric.MeterProvider) (*ApplyMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(meterName)

	applyDuration, err := meter.Float64Histogram(
		"mcp_deployer_apply_duration_seconds",
		metric.WithDescription("Duration of reconciliation runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create apply duration histogram: %w", err)
	}

	stepFailures, err := meter.Int64Counter(
		"mcp_deployer_step_failures_total",
		metric.WithDescription("Number of failed reconciliation steps"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step failure counter: %w", err)
	}

	return &ApplyMetrics{
		applyDuration: applyDuration,
		stepFailures:  stepFailures,
	}, nil
}

// RecordApply records the duration of one run for the selected transport
func (m *ApplyMetrics) RecordApply(ctx context.Context, transport string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.applyDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.Bool("success", success),
		),
	)
}

// RecordStepFailure counts a failed step, labelled with its severity
func (m *ApplyMetrics) RecordStepFailure(ctx context.Context, step, severity string) {
	if m == nil {
		return
	}
	m.stepFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("severity", severity),
		),
	)
}
