// Package reconciler converges the host's systemd units to one selected FPL MCP
// transport.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/fpl-mcp/mcp-deployer/internal/config"
	"github.com/fpl-mcp/mcp-deployer/internal/deps"
	"github.com/fpl-mcp/mcp-deployer/internal/endpoint"
	"github.com/fpl-mcp/mcp-deployer/internal/otel"
	"github.com/fpl-mcp/mcp-deployer/internal/probe"
	"github.com/fpl-mcp/mcp-deployer/internal/source"
	"github.com/fpl-mcp/mcp-deployer/internal/status"
	"github.com/fpl-mcp/mcp-deployer/internal/systemd"
	"github.com/fpl-mcp/mcp-deployer/internal/telemetry"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
	"github.com/fpl-mcp/mcp-deployer/internal/units"
)

// DefaultPollInterval is how often the target unit's state is checked while starting
const DefaultPollInterval = 500 * time.Millisecond

// DefaultSettleTime is how long a unit must stay running after it first reports running
const DefaultSettleTime = 2 * time.Second

// DependencyInstaller installs the service's runtime dependencies
type DependencyInstaller interface {
	Install(ctx context.Context) (*deps.Result, error)
}

// UnitWriter installs a rendered unit file and reports whether it changed
type UnitWriter interface {
	Write(def units.ServiceDefinition) (bool, error)
}

// FirewallOpener allows inbound TCP on a port
type FirewallOpener interface {
	Allow(ctx context.Context, port int) error
}

// IPResolver returns the host's public IP address
type IPResolver interface {
	PublicIP(ctx context.Context) (string, error)
}

// Verifier probes a running transport
type Verifier interface {
	Probe(ctx context.Context, kind transport.Kind, host string, port int) (*probe.Report, error)
}

// Dependencies are the collaborators of a Reconciler. Firewall, Resolver,
// Verifier and Status are optional; their steps are skipped when nil.
type Dependencies struct {
	Registry  *units.Registry
	Writer    UnitWriter
	Systemd   systemd.Manager
	Source    source.Syncer
	Installer DependencyInstaller
	Firewall  FirewallOpener
	Resolver  IPResolver
	Verifier  Verifier
	Status    status.Persistence
}

// Settings tune a run
type Settings struct {
	Source source.SyncConfig

	// LockFile guards against concurrent runs; empty disables locking
	LockFile string

	StartTimeout time.Duration
	PollInterval time.Duration
	SettleTime   time.Duration

	FirewallEnabled bool
	VerifyEnabled   bool

	// Textfile is a Prometheus textfile written after each run; empty disables it
	Textfile string
}

// SettingsFromConfig derives run settings from the host configuration
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	s := Settings{
		Source: source.SyncConfig{
			Path:   cfg.Source.Path,
			Remote: cfg.Source.Remote,
			Branch: cfg.Source.Branch,
		},
		LockFile:        cfg.State.LockFile,
		StartTimeout:    cfg.GetStartTimeout(),
		PollInterval:    DefaultPollInterval,
		SettleTime:      DefaultSettleTime,
		FirewallEnabled: cfg.Firewall.Enabled,
		VerifyEnabled:   cfg.Verify.Enabled,
	}
	if cfg.Source.Auth != nil {
		password, err := cfg.Source.Auth.GetPassword()
		if err != nil {
			return Settings{}, err
		}
		s.Source.Auth = &source.AuthConfig{Username: cfg.Source.Auth.Username, Password: password}
	}
	if cfg.Telemetry != nil {
		s.Textfile = cfg.Telemetry.Textfile
	}
	return s, nil
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithTracer sets the tracer used for run and step spans
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Reconciler) {
		r.tracer = tracer
	}
}

// WithMetrics sets the apply metrics recorder
func WithMetrics(metrics *telemetry.ApplyMetrics) Option {
	return func(r *Reconciler) {
		r.metrics = metrics
	}
}

// Reconciler applies a transport selection to the host
type Reconciler struct {
	deps     Dependencies
	settings Settings
	tracer   trace.Tracer
	metrics  *telemetry.ApplyMetrics
}

// New creates a Reconciler
func New(d Dependencies, settings Settings, opts ...Option) (*Reconciler, error) {
	switch {
	case d.Registry == nil:
		return nil, errors.New("reconciler: registry is required")
	case d.Writer == nil:
		return nil, errors.New("reconciler: unit writer is required")
	case d.Systemd == nil:
		return nil, errors.New("reconciler: systemd manager is required")
	case d.Source == nil:
		return nil, errors.New("reconciler: source syncer is required")
	case d.Installer == nil:
		return nil, errors.New("reconciler: dependency installer is required")
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultPollInterval
	}
	if settings.StartTimeout <= 0 {
		settings.StartTimeout = config.DefaultStartTimeout
	}

	r := &Reconciler{deps: d, settings: settings}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// run carries the state of one Apply call
type run struct {
	result *Result
	def    units.ServiceDefinition
	logger *slog.Logger
}

// Apply converges the host to the transport named by selection. Steps run in
// order and the first fatal failure ends the run; its error wraps one of the
// Err* sentinels. The returned Result is non-nil whenever the selection is
// valid and the lock was acquired, including on failure.
func (r *Reconciler) Apply(ctx context.Context, selection string) (*Result, error) {
	kind, err := transport.Parse(selection)
	if err != nil {
		return nil, err
	}
	def, err := r.deps.Registry.Get(kind)
	if err != nil {
		return nil, err
	}

	unlock, err := acquireLock(r.settings.LockFile)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &Result{
		RunID:     uuid.NewString(),
		Transport: kind,
		Unit:      def.UnitFile(),
		StartedAt: time.Now(),
	}
	logger := slog.With("run_id", result.RunID, "transport", kind, "unit", result.Unit)

	ctx, span := otel.StartSpan(ctx, r.tracer, "reconciler.Apply",
		trace.WithAttributes(
			otel.AttrRunID.String(result.RunID),
			otel.AttrTransport.String(string(kind)),
			otel.AttrUnit.String(result.Unit),
		),
	)
	defer span.End()

	logger.InfoContext(ctx, "Starting reconciliation")
	r.markApplying(ctx, result, logger)

	result.Before = r.liveStates(ctx, logger)
	runErr := r.execute(ctx, &run{result: result, def: def, logger: logger})
	result.After = r.liveStates(ctx, logger)
	result.FinishedAt = time.Now()

	if result.Revision != "" {
		span.SetAttributes(otel.AttrRevision.String(result.Revision))
	}
	otel.RecordError(span, runErr)
	r.record(ctx, result, logger)

	if runErr != nil {
		logger.ErrorContext(ctx, "Reconciliation failed", "error", runErr, "duration", result.Duration())
		return result, runErr
	}
	logger.InfoContext(ctx, "Reconciliation complete",
		"duration", result.Duration(),
		"changes", len(result.Changes()),
		"advisories", len(result.Advisories()),
	)
	return result, nil
}

// stepFunc performs a step and returns a short outcome message.
// Returning skip(reason) marks the step skipped.
type stepFunc func(ctx context.Context, rn *run) (string, error)

type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

func skip(reason string) error { return &skipError{reason: reason} }

func (r *Reconciler) execute(ctx context.Context, rn *run) error {
	steps := []struct {
		step     Step
		severity Severity
		fn       stepFunc
	}{
		{StepSourceSync, SeverityFatal, r.syncSource},
		{StepDependencyInstall, SeverityFatal, r.installDependencies},
		{StepStopOthers, SeverityAdvisory, r.stopOthers},
		{StepDisableOthers, SeverityAdvisory, r.disableOthers},
		{StepRenderUnit, SeverityFatal, r.renderUnit},
		{StepInitReload, SeverityFatal, r.reloadInit},
		{StepEnableStart, SeverityFatal, r.enableStart},
		{StepFirewall, SeverityAdvisory, r.openFirewall},
		{StepIPLookup, SeverityAdvisory, r.lookupEndpoints},
		{StepVerify, SeverityAdvisory, r.verify},
	}

	for _, s := range steps {
		if err := r.runStep(ctx, rn, s.step, s.severity, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// runStep executes one step and records its result. Only fatal failures are returned.
func (r *Reconciler) runStep(ctx context.Context, rn *run, step Step, severity Severity, fn stepFunc) error {
	ctx, span := otel.StartSpan(ctx, r.tracer, "reconciler."+string(step),
		trace.WithAttributes(
			otel.AttrStep.String(string(step)),
			otel.AttrSeverity.String(string(severity)),
		),
	)
	defer span.End()

	start := time.Now()
	msg, err := fn(ctx, rn)
	res := StepResult{Step: step, Severity: severity, Status: StepOK, Message: msg, Duration: time.Since(start)}

	var skipped *skipError
	switch {
	case errors.As(err, &skipped):
		res.Status = StepSkipped
		res.Message = skipped.reason
	case err != nil:
		res.Status = StepFailed
		res.Err = err
		if res.Message == "" {
			res.Message = err.Error()
		} else {
			res.Message += ": " + err.Error()
		}
	}
	span.SetAttributes(otel.AttrStatus.String(string(res.Status)))
	rn.result.Steps = append(rn.result.Steps, res)

	logger := rn.logger.With("step", step, "severity", severity, "duration", res.Duration)
	switch res.Status {
	case StepOK:
		logger.InfoContext(ctx, "Step completed", "message", res.Message)
	case StepSkipped:
		logger.InfoContext(ctx, "Step skipped", "reason", res.Message)
	case StepFailed:
		otel.RecordError(span, err)
		r.metrics.RecordStepFailure(ctx, string(step), string(severity))
		if severity == SeverityAdvisory {
			logger.WarnContext(ctx, "Advisory step failed", "error", err)
			return nil
		}
		logger.ErrorContext(ctx, "Fatal step failed", "error", err)
		return newStepError(step, err)
	}
	return nil
}

func (r *Reconciler) syncSource(ctx context.Context, rn *run) (string, error) {
	cfg := r.settings.Source
	res, err := r.deps.Source.Sync(ctx, &cfg)
	if err != nil {
		return "", err
	}
	rn.result.Revision = res.Current
	if res.Updated {
		return fmt.Sprintf("updated %s -> %s", short(res.Previous), short(res.Current)), nil
	}
	return "already at " + short(res.Current), nil
}

func (r *Reconciler) installDependencies(ctx context.Context, _ *run) (string, error) {
	res, err := r.deps.Installer.Install(ctx)
	if err != nil {
		return "", err
	}
	return "installed with " + res.PythonVersion, nil
}

// stopOthers stops every non-target unit. Units with neither a unit file nor
// a live process are already absent, which counts as stopped.
func (r *Reconciler) stopOthers(ctx context.Context, rn *run) (string, error) {
	var stopped, absent []string
	var errs []error

	for _, other := range r.deps.Registry.Others(rn.def.Transport) {
		name := other.UnitFile()
		if st, ok := rn.result.Before[name]; ok && st.IsGone() {
			absent = append(absent, name)
			continue
		}

		err := r.deps.Systemd.Stop(ctx, name)
		switch {
		case errors.Is(err, systemd.ErrNoSuchUnit):
			absent = append(absent, name)
		case err != nil:
			rn.logger.WarnContext(ctx, "Failed to stop unit", "target", name, "error", err)
			errs = append(errs, err)
		default:
			stopped = append(stopped, name)
		}
	}

	return summarize("stopped", stopped, absent), errors.Join(errs...)
}

// disableOthers removes every non-target unit from boot
func (r *Reconciler) disableOthers(ctx context.Context, rn *run) (string, error) {
	var disabled, absent []string
	var errs []error

	for _, other := range r.deps.Registry.Others(rn.def.Transport) {
		name := other.UnitFile()
		if st, ok := rn.result.Before[name]; ok && !st.Exists() {
			absent = append(absent, name)
			continue
		}

		err := r.deps.Systemd.Disable(ctx, []string{name})
		switch {
		case errors.Is(err, systemd.ErrNoSuchUnit):
			absent = append(absent, name)
		case err != nil:
			rn.logger.WarnContext(ctx, "Failed to disable unit", "target", name, "error", err)
			errs = append(errs, err)
		default:
			disabled = append(disabled, name)
		}
	}

	return summarize("disabled", disabled, absent), errors.Join(errs...)
}

func (r *Reconciler) renderUnit(_ context.Context, rn *run) (string, error) {
	changed, err := r.deps.Writer.Write(rn.def)
	if err != nil {
		return "", err
	}
	if changed {
		return rn.def.UnitFile() + " written", nil
	}
	return rn.def.UnitFile() + " unchanged", nil
}

// reloadInit reloads systemd and checks that it loaded the target unit
func (r *Reconciler) reloadInit(ctx context.Context, rn *run) (string, error) {
	if err := r.deps.Systemd.Reload(ctx); err != nil {
		return "", err
	}

	name := rn.def.UnitFile()
	states, err := r.deps.Systemd.States(ctx, []string{name})
	if err != nil {
		return "", err
	}
	if st := states[name]; !st.IsLoaded() {
		return "", fmt.Errorf("systemd did not load %s: load state %q", name, st.LoadState)
	}
	return name + " loaded", nil
}

// enableStart enables the target at boot and restarts it so it runs the
// freshly synced code, then waits for it to be running
func (r *Reconciler) enableStart(ctx context.Context, rn *run) (string, error) {
	name := rn.def.UnitFile()
	if err := r.deps.Systemd.Enable(ctx, []string{name}); err != nil {
		return "", err
	}
	if err := r.deps.Systemd.Restart(ctx, name); err != nil {
		return "", err
	}

	st, err := r.waitRunning(ctx, name)
	if err != nil {
		return "", err
	}
	return name + " " + st.String(), nil
}

func (r *Reconciler) openFirewall(ctx context.Context, rn *run) (string, error) {
	switch {
	case !r.settings.FirewallEnabled || r.deps.Firewall == nil:
		return "", skip("firewall management disabled")
	case rn.def.ListenPort <= 0:
		return "", skip("transport has no listen port")
	}
	if err := r.deps.Firewall.Allow(ctx, rn.def.ListenPort); err != nil {
		return "", err
	}
	return fmt.Sprintf("allowed %d/tcp", rn.def.ListenPort), nil
}

// lookupEndpoints resolves the public IP; on failure endpoints are omitted
func (r *Reconciler) lookupEndpoints(ctx context.Context, rn *run) (string, error) {
	switch {
	case r.deps.Resolver == nil:
		return "", skip("no IP resolver configured")
	case rn.def.ListenPort <= 0:
		return "", skip("transport has no listen port")
	}

	ip, err := r.deps.Resolver.PublicIP(ctx)
	if err != nil {
		return "", err
	}
	rn.result.Endpoints = endpointsFor(ip, rn.def)
	return "public IP " + ip, nil
}

// verify probes the transport on the loopback interface
func (r *Reconciler) verify(ctx context.Context, rn *run) (string, error) {
	switch {
	case !r.settings.VerifyEnabled || r.deps.Verifier == nil:
		return "", skip("verification disabled")
	case rn.def.ListenPort <= 0:
		return "", skip("transport has no listen port")
	}

	report, err := r.deps.Verifier.Probe(ctx, rn.def.Transport, "127.0.0.1", rn.def.ListenPort)
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("%d checks passed", len(report.Checks))
	if len(report.Tools) > 0 {
		msg += fmt.Sprintf(", %d tools", len(report.Tools))
	}
	if report.NotConfigured() {
		msg += ", awaiting configuration"
	}
	return msg, nil
}

// liveStates queries every transport unit; a failed query is logged and yields nil
func (r *Reconciler) liveStates(ctx context.Context, logger *slog.Logger) map[string]systemd.UnitState {
	states, err := r.deps.Systemd.States(ctx, r.deps.Registry.UnitNames())
	if err != nil {
		logger.WarnContext(ctx, "Failed to query unit states", "error", err)
		return nil
	}
	return states
}

func (r *Reconciler) markApplying(ctx context.Context, result *Result, logger *slog.Logger) {
	if r.deps.Status == nil {
		return
	}
	prev, err := r.deps.Status.Load(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Failed to load previous status", "error", err)
		prev = &status.ReconcileStatus{}
	}
	started := result.StartedAt
	prev.Phase = status.PhaseApplying
	prev.RunID = result.RunID
	prev.Transport = string(result.Transport)
	prev.Unit = result.Unit
	prev.Message = "applying " + string(result.Transport)
	prev.LastAttempt = &started
	if err := r.deps.Status.Save(ctx, prev); err != nil {
		logger.WarnContext(ctx, "Failed to save status", "error", err)
	}
}

// record persists the run outcome and emits metrics; failures are logged only
func (r *Reconciler) record(ctx context.Context, result *Result, logger *slog.Logger) {
	r.metrics.RecordApply(ctx, string(result.Transport), result.Duration(), result.Succeeded())

	if r.deps.Status != nil {
		prev, err := r.deps.Status.Load(ctx)
		if err != nil {
			prev = &status.ReconcileStatus{}
		}
		if err := r.deps.Status.Save(ctx, result.applyTo(prev)); err != nil {
			logger.WarnContext(ctx, "Failed to save status", "error", err)
		}
	}

	if r.settings.Textfile != "" {
		failed := len(result.Advisories())
		if result.FatalStep() != nil {
			failed++
		}
		err := telemetry.WriteTextfile(r.settings.Textfile, telemetry.ApplySummary{
			Transport: string(result.Transport),
			Unit:      result.Unit,
			Success:   result.Succeeded(),
			Duration:  result.Duration(),
			Finished:  result.FinishedAt,
			Failed:    failed,
		})
		if err != nil {
			logger.WarnContext(ctx, "Failed to write metrics textfile", "error", err)
		}
	}
}

func endpointsFor(ip string, def units.ServiceDefinition) []endpoint.HostEndpoint {
	return endpoint.Build(ip, def.Transport, def.ListenPort)
}

func summarize(verb string, done, absent []string) string {
	var parts []string
	if len(done) > 0 {
		parts = append(parts, verb+" "+strings.Join(done, ", "))
	}
	if len(absent) > 0 {
		parts = append(parts, "already absent "+strings.Join(absent, ", "))
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, "; ")
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
