package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		opts          []Option
		wantNoopTrace bool
		wantNoopMeter bool
		wantErr       string
	}{
		{
			name:          "no config",
			wantNoopTrace: true,
			wantNoopMeter: true,
		},
		{
			name:          "disabled",
			opts:          []Option{WithTelemetryConfig(&Config{Enabled: false})},
			wantNoopTrace: true,
			wantNoopMeter: true,
		},
		{
			name: "enabled without signals",
			opts: []Option{WithTelemetryConfig(&Config{
				Enabled:  true,
				Endpoint: "localhost:4318",
				Insecure: true,
			})},
			wantNoopTrace: true,
			wantNoopMeter: true,
		},
		{
			name: "tracing and metrics",
			opts: []Option{WithTelemetryConfig(&Config{
				Enabled:  true,
				Endpoint: "localhost:4318",
				Insecure: true,
				Tracing:  &TracingConfig{Enabled: true, Sampling: 0.5},
				Metrics:  &MetricsConfig{Enabled: true},
			})},
		},
		{
			name: "invalid sampling",
			opts: []Option{WithTelemetryConfig(&Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1.5},
			})},
			wantErr: "sampling must be between 0.0 and 1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			tel, err := New(ctx, tt.opts...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

			if tt.wantNoopTrace {
				assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
			} else {
				assert.IsType(t, &sdktrace.TracerProvider{}, tel.TracerProvider())
			}
			if tt.wantNoopMeter {
				assert.IsType(t, metricnoop.MeterProvider{}, tel.MeterProvider())
			} else {
				assert.IsType(t, &sdkmetric.MeterProvider{}, tel.MeterProvider())
			}
			assert.NotNil(t, tel.Tracer("test"))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.InDelta(t, DefaultSampling, (&TracingConfig{}).GetSampling(), 0.0001)

	var nilCfg *Config
	assert.NoError(t, nilCfg.Validate())
	assert.Error(t, (&Config{Enabled: true, Endpoint: "/collector"}).Validate())
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	tel, err := New(context.Background())
	require.NoError(t, err)
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}
