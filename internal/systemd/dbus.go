package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
)

const (
	noSuchUnitError = "org.freedesktop.systemd1.NoSuchUnit"
	jobModeReplace  = "replace"
	jobResultDone   = "done"
)

// conn is the subset of the go-systemd connection used by DBusManager
type conn interface {
	ReloadContext(ctx context.Context) error
	EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []sddbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]sddbus.DisableUnitFileChange, error)
	RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]sddbus.UnitStatus, error)
	Close()
}

// DBusManager implements Manager over the systemd D-Bus API
type DBusManager struct {
	conn conn
}

var _ Manager = (*DBusManager)(nil)

// NewDBusManager connects to the system instance of systemd
func NewDBusManager(ctx context.Context) (*DBusManager, error) {
	c, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &DBusManager{conn: c}, nil
}

// Reload implements Manager.Reload
func (m *DBusManager) Reload(ctx context.Context) error {
	slog.DebugContext(ctx, "Reloading systemd unit files")
	if err := m.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload failed: %w", err)
	}
	return nil
}

// Enable implements Manager.Enable
func (m *DBusManager) Enable(ctx context.Context, units []string) error {
	_, changes, err := m.conn.EnableUnitFilesContext(ctx, units, false, true)
	if err != nil {
		return fmt.Errorf("failed to enable %v: %w", units, wrapDBusError(err))
	}
	for _, c := range changes {
		slog.DebugContext(ctx, "Unit file change", "type", c.Type, "filename", c.Filename, "destination", c.Destination)
	}
	return nil
}

// Disable implements Manager.Disable
func (m *DBusManager) Disable(ctx context.Context, units []string) error {
	changes, err := m.conn.DisableUnitFilesContext(ctx, units, false)
	if err != nil {
		return fmt.Errorf("failed to disable %v: %w", units, wrapDBusError(err))
	}
	for _, c := range changes {
		slog.DebugContext(ctx, "Unit file change", "type", c.Type, "filename", c.Filename, "destination", c.Destination)
	}
	return nil
}

// Restart implements Manager.Restart
func (m *DBusManager) Restart(ctx context.Context, unit string) error {
	ch := make(chan string, 1)
	if _, err := m.conn.RestartUnitContext(ctx, unit, jobModeReplace, ch); err != nil {
		return fmt.Errorf("failed to restart %s: %w", unit, wrapDBusError(err))
	}
	return waitJob(ctx, "restart", unit, ch)
}

// Stop implements Manager.Stop
func (m *DBusManager) Stop(ctx context.Context, unit string) error {
	ch := make(chan string, 1)
	if _, err := m.conn.StopUnitContext(ctx, unit, jobModeReplace, ch); err != nil {
		return fmt.Errorf("failed to stop %s: %w", unit, wrapDBusError(err))
	}
	return waitJob(ctx, "stop", unit, ch)
}

// States implements Manager.States
func (m *DBusManager) States(ctx context.Context, units []string) (map[string]UnitState, error) {
	statuses, err := m.conn.ListUnitsByNamesContext(ctx, units)
	if err != nil {
		return nil, fmt.Errorf("failed to query unit states: %w", err)
	}

	states := make(map[string]UnitState, len(units))
	for _, name := range units {
		states[name] = UnitState{Name: name, LoadState: LoadStateNotFound, ActiveState: ActiveStateInactive, SubState: "dead"}
	}
	for _, s := range statuses {
		states[s.Name] = UnitState{
			Name:        s.Name,
			LoadState:   s.LoadState,
			ActiveState: s.ActiveState,
			SubState:    s.SubState,
		}
	}
	return states, nil
}

// Close closes the D-Bus connection
func (m *DBusManager) Close() {
	m.conn.Close()
}

func waitJob(ctx context.Context, op, unit string, ch <-chan string) error {
	select {
	case result := <-ch:
		if result != jobResultDone {
			return fmt.Errorf("%s job for %s finished with result %q", op, unit, result)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s job of %s: %w", op, unit, ctx.Err())
	}
}

// wrapDBusError maps systemd's NoSuchUnit error onto ErrNoSuchUnit
func wrapDBusError(err error) error {
	var name string
	var value dbus.Error
	var ptr *dbus.Error
	switch {
	case errors.As(err, &value):
		name = value.Name
	case errors.As(err, &ptr):
		name = ptr.Name
	}
	if name == noSuchUnitError {
		return fmt.Errorf("%w: %v", ErrNoSuchUnit, err)
	}
	return err
}
