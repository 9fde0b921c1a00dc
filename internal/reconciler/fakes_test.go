package reconciler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fpl-mcp/mcp-deployer/internal/config"
	"github.com/fpl-mcp/mcp-deployer/internal/deps"
	"github.com/fpl-mcp/mcp-deployer/internal/probe"
	"github.com/fpl-mcp/mcp-deployer/internal/source"
	"github.com/fpl-mcp/mcp-deployer/internal/status"
	"github.com/fpl-mcp/mcp-deployer/internal/systemd"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
	"github.com/fpl-mcp/mcp-deployer/internal/units"
)

type fakeUnit struct {
	loaded  bool
	enabled bool
	running bool
	failed  bool
}

// fakeSystemd is an in-memory init system reading unit files from unitDir on Reload
type fakeSystemd struct {
	mu      sync.Mutex
	unitDir string
	units   map[string]*fakeUnit

	reloadErr error
	// badUnits are reported with LoadState "bad-setting" after reload
	badUnits map[string]bool
	// crashing units fail right after they are started
	crashing map[string]bool
	stopErr  map[string]error

	calls []string
}

func newFakeSystemd(unitDir string) *fakeSystemd {
	return &fakeSystemd{
		unitDir:  unitDir,
		units:    map[string]*fakeUnit{},
		badUnits: map[string]bool{},
		crashing: map[string]bool{},
		stopErr:  map[string]error{},
	}
}

func (f *fakeSystemd) record(call string) {
	f.calls = append(f.calls, call)
}

// install puts a running unit in place as if an earlier deploy had started it
func (f *fakeSystemd) install(t *testing.T, def units.ServiceDefinition) {
	t.Helper()
	_, err := units.NewWriter(f.unitDir).Write(def)
	require.NoError(t, err)
	f.units[def.UnitFile()] = &fakeUnit{loaded: true, enabled: true, running: true}
}

func (f *fakeSystemd) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reload")
	if f.reloadErr != nil {
		return f.reloadErr
	}
	entries, err := os.ReadDir(f.unitDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".service") {
			continue
		}
		u, ok := f.units[e.Name()]
		if !ok {
			u = &fakeUnit{}
			f.units[e.Name()] = u
		}
		u.loaded = true
	}
	return nil
}

func (f *fakeSystemd) Enable(_ context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range names {
		f.record("enable " + name)
		u, ok := f.units[name]
		if !ok || !u.loaded {
			return systemd.ErrNoSuchUnit
		}
		u.enabled = true
	}
	return nil
}

func (f *fakeSystemd) Disable(_ context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range names {
		f.record("disable " + name)
		u, ok := f.units[name]
		if !ok || !u.loaded {
			return systemd.ErrNoSuchUnit
		}
		u.enabled = false
	}
	return nil
}

func (f *fakeSystemd) Restart(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("restart " + name)
	u, ok := f.units[name]
	if !ok || !u.loaded {
		return systemd.ErrNoSuchUnit
	}
	if f.crashing[name] {
		u.running, u.failed = false, true
		return nil
	}
	u.running, u.failed = true, false
	return nil
}

func (f *fakeSystemd) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop " + name)
	if err := f.stopErr[name]; err != nil {
		return err
	}
	u, ok := f.units[name]
	if !ok || !u.loaded {
		return systemd.ErrNoSuchUnit
	}
	u.running = false
	return nil
}

func (f *fakeSystemd) States(_ context.Context, names []string) (map[string]systemd.UnitState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	states := make(map[string]systemd.UnitState, len(names))
	for _, name := range names {
		states[name] = f.state(name)
	}
	return states, nil
}

func (f *fakeSystemd) state(name string) systemd.UnitState {
	u, ok := f.units[name]
	switch {
	case !ok || !u.loaded:
		return systemd.UnitState{Name: name, LoadState: "not-found", ActiveState: "inactive", SubState: "dead"}
	case f.badUnits[name]:
		return systemd.UnitState{Name: name, LoadState: "bad-setting", ActiveState: "inactive", SubState: "dead"}
	case u.failed:
		return systemd.UnitState{Name: name, LoadState: "loaded", ActiveState: "failed", SubState: "failed"}
	case u.running:
		return systemd.UnitState{Name: name, LoadState: "loaded", ActiveState: "active", SubState: "running"}
	}
	return systemd.UnitState{Name: name, LoadState: "loaded", ActiveState: "inactive", SubState: "dead"}
}

func (*fakeSystemd) Close() {}

// running lists running units
func (f *fakeSystemd) running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name, u := range f.units {
		if u.running {
			out = append(out, name)
		}
	}
	return out
}

func (f *fakeSystemd) enabled(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[name]
	return ok && u.enabled
}

type fakeSource struct {
	err     error
	updated bool
	calls   int
}

func (f *fakeSource) Sync(_ context.Context, cfg *source.SyncConfig) (*source.SyncResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if cfg.Branch == "" {
		return nil, errors.New("branch required")
	}
	res := &source.SyncResult{Previous: "1111111111111111111111111111111111111111", Current: "1111111111111111111111111111111111111111"}
	if f.updated {
		res.Current = "2222222222222222222222222222222222222222"
		res.Updated = true
	}
	return res, nil
}

type fakeInstaller struct {
	err   error
	calls int
}

func (f *fakeInstaller) Install(context.Context) (*deps.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &deps.Result{PythonVersion: "Python 3.11.4"}, nil
}

type fakeFirewall struct {
	err   error
	ports []int
}

func (f *fakeFirewall) Allow(_ context.Context, port int) error {
	f.ports = append(f.ports, port)
	return f.err
}

type fakeResolver struct {
	ip  string
	err error
}

func (f *fakeResolver) PublicIP(context.Context) (string, error) {
	return f.ip, f.err
}

type fakeVerifier struct {
	err           error
	notConfigured bool
	hosts         []string
}

func (f *fakeVerifier) Probe(_ context.Context, kind transport.Kind, host string, _ int) (*probe.Report, error) {
	f.hosts = append(f.hosts, host)
	report := &probe.Report{Transport: kind, Checks: []probe.Check{{Name: "health", OK: f.err == nil}}, Tools: []string{"get_player_info"}}
	if f.notConfigured {
		report.Tools = nil
		report.Checks = append(report.Checks, probe.Check{Name: "tools/list", OK: true, NotConfigured: true})
	}
	return report, f.err
}

// harness wires a Reconciler to fakes rooted in a temporary directory
type harness struct {
	cfg       *config.Config
	registry  *units.Registry
	systemd   *fakeSystemd
	source    *fakeSource
	installer *fakeInstaller
	firewall  *fakeFirewall
	resolver  *fakeResolver
	verifier  *fakeVerifier
	status    status.Persistence
	settings  Settings
	unitDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Systemd.UnitDir = filepath.Join(root, "system")
	cfg.State.StatusDir = filepath.Join(root, "state")
	cfg.State.LockFile = filepath.Join(root, "state", "apply.lock")

	settings, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	settings.PollInterval = time.Millisecond
	settings.StartTimeout = 50 * time.Millisecond
	settings.SettleTime = 0

	return &harness{
		cfg:       cfg,
		registry:  units.NewRegistry(cfg),
		systemd:   newFakeSystemd(cfg.Systemd.UnitDir),
		source:    &fakeSource{},
		installer: &fakeInstaller{},
		firewall:  &fakeFirewall{},
		resolver:  &fakeResolver{ip: "203.0.113.7"},
		verifier:  &fakeVerifier{},
		status:    status.NewFilePersistence(cfg.State.StatusDir),
		settings:  settings,
		unitDir:   cfg.Systemd.UnitDir,
	}
}

func (h *harness) reconciler(t *testing.T, opts ...Option) *Reconciler {
	t.Helper()
	r, err := New(Dependencies{
		Registry:  h.registry,
		Writer:    units.NewWriter(h.unitDir),
		Systemd:   h.systemd,
		Source:    h.source,
		Installer: h.installer,
		Firewall:  h.firewall,
		Resolver:  h.resolver,
		Verifier:  h.verifier,
		Status:    h.status,
	}, h.settings, opts...)
	require.NoError(t, err)
	return r
}

func (h *harness) definition(t *testing.T, kind transport.Kind) units.ServiceDefinition {
	t.Helper()
	def, err := h.registry.Get(kind)
	require.NoError(t, err)
	return def
}
