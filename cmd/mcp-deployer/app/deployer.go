package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fpl-mcp/mcp-deployer/internal/command"
	"github.com/fpl-mcp/mcp-deployer/internal/config"
	"github.com/fpl-mcp/mcp-deployer/internal/deps"
	"github.com/fpl-mcp/mcp-deployer/internal/endpoint"
	"github.com/fpl-mcp/mcp-deployer/internal/firewall"
	"github.com/fpl-mcp/mcp-deployer/internal/httpclient"
	"github.com/fpl-mcp/mcp-deployer/internal/probe"
	"github.com/fpl-mcp/mcp-deployer/internal/reconciler"
	"github.com/fpl-mcp/mcp-deployer/internal/source"
	"github.com/fpl-mcp/mcp-deployer/internal/status"
	"github.com/fpl-mcp/mcp-deployer/internal/systemd"
	"github.com/fpl-mcp/mcp-deployer/internal/telemetry"
	"github.com/fpl-mcp/mcp-deployer/internal/units"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
	tracerName               = "github.com/fpl-mcp/mcp-deployer/reconciler"
)

// deployer owns the resources of one apply run
type deployer struct {
	reconciler *reconciler.Reconciler
	systemd    systemd.Manager
	telemetry  *telemetry.Telemetry
}

// newDeployer wires a Reconciler to the host's systemd, git, pip and firewall
func newDeployer(ctx context.Context, o *rootOptions, cfg *config.Config) (*deployer, error) {
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	d := &deployer{telemetry: tel}

	metrics, err := telemetry.NewApplyMetrics(tel.MeterProvider())
	if err != nil {
		d.close()
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	settings, err := reconciler.SettingsFromConfig(cfg)
	if err != nil {
		d.close()
		return nil, err
	}

	mgr, err := o.newManager(ctx)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	d.systemd = mgr

	runner := command.NewExecRunner()
	client := httpclient.NewDefaultClient(cfg.GetNetworkTimeout())

	d.reconciler, err = reconciler.New(reconciler.Dependencies{
		Registry: units.NewRegistry(cfg),
		Writer:   units.NewWriter(cfg.Systemd.UnitDir),
		Systemd:  mgr,
		Source:   source.NewGitSyncer(),
		Installer: deps.NewInstaller(runner, deps.Config{
			VenvDir:          cfg.Install.VenvDir,
			SourceDir:        cfg.Source.Path,
			PythonConstraint: cfg.Python.MinVersion,
		}),
		Firewall: firewall.NewOpener(runner, cfg.Firewall.Tool),
		Resolver: endpoint.NewResolver(client, cfg.Network.IPLookupURL),
		Verifier: probe.NewProber(client, cfg.GetNetworkTimeout()),
		Status:   status.NewFilePersistence(cfg.State.StatusDir),
	}, settings,
		reconciler.WithTracer(tel.Tracer(tracerName)),
		reconciler.WithMetrics(metrics),
	)
	if err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

// close releases the systemd connection and flushes telemetry
func (d *deployer) close() {
	if d.systemd != nil {
		d.systemd.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := d.telemetry.Shutdown(ctx); err != nil {
		slog.Warn("Failed to shut down telemetry", "error", err)
	}
}
