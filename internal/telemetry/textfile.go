package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ApplySummary is the last-run information exposed through the textfile collector
type ApplySummary struct {
	Transport string
	Unit      string
	Success   bool
	Duration  time.Duration
	Finished  time.Time
	Failed    int
}

// WriteTextfile writes summary in Prometheus exposition format to path,
// for pickup by node_exporter's textfile collector. The file is replaced
// atomically.
func WriteTextfile(path string, summary ApplySummary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create textfile directory: %w", err)
	}

	reg := prometheus.NewRegistry()

	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_deployer_last_apply_success",
		Help: "Whether the last apply completed without a fatal step failure",
	})
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_deployer_last_apply_timestamp_seconds",
		Help: "Unix time the last apply finished",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_deployer_last_apply_duration_seconds",
		Help: "Duration of the last apply",
	})
	failed := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_deployer_last_apply_failed_steps",
		Help: "Number of steps that failed in the last apply",
	})
	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcp_deployer_active_transport_info",
		Help: "Transport selected by the last apply",
	}, []string{"transport", "unit"})

	reg.MustRegister(success, finished, duration, failed, active)

	if summary.Success {
		success.Set(1)
	}
	finished.Set(float64(summary.Finished.Unix()))
	duration.Set(summary.Duration.Seconds())
	failed.Set(float64(summary.Failed))
	active.WithLabelValues(summary.Transport, summary.Unit).Set(1)

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
