// Package systemd adapts the host init system for the reconciler.
package systemd

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks -source=manager.go Manager

// ErrNoSuchUnit is returned when an operation targets a unit systemd does not know
var ErrNoSuchUnit = errors.New("no such unit")

// Manager controls systemd units. Unit names include the ".service" suffix.
type Manager interface {
	// Reload makes systemd re-read unit files from disk
	Reload(ctx context.Context) error

	// Enable marks units to start at boot
	Enable(ctx context.Context, units []string) error

	// Disable removes units from boot. Returns ErrNoSuchUnit when a unit file is absent.
	Disable(ctx context.Context, units []string) error

	// Restart starts the unit, or restarts it when already running, and waits
	// for the start job to finish
	Restart(ctx context.Context, unit string) error

	// Stop stops the unit and waits for the stop job. Returns ErrNoSuchUnit for unknown units.
	Stop(ctx context.Context, unit string) error

	// States returns the live state of each unit, keyed by unit name.
	// Units unknown to systemd are reported with LoadState "not-found".
	States(ctx context.Context, units []string) (map[string]UnitState, error)

	Close()
}

// UnitState is the live state of a unit as reported by systemd
type UnitState struct {
	Name        string `json:"name" yaml:"name"`
	LoadState   string `json:"loadState" yaml:"loadState"`
	ActiveState string `json:"activeState" yaml:"activeState"`
	SubState    string `json:"subState" yaml:"subState"`
}

// Well-known systemd state values
const (
	LoadStateLoaded   = "loaded"
	LoadStateNotFound = "not-found"

	ActiveStateActive     = "active"
	ActiveStateInactive   = "inactive"
	ActiveStateFailed     = "failed"
	ActiveStateActivating = "activating"

	SubStateRunning = "running"
)

// IsLoaded reports whether systemd has a valid unit file loaded
func (s UnitState) IsLoaded() bool {
	return s.LoadState == LoadStateLoaded
}

// Exists reports whether systemd knows the unit at all
func (s UnitState) Exists() bool {
	return s.LoadState != "" && s.LoadState != LoadStateNotFound
}

// IsGone reports whether the unit has neither a unit file nor a live process.
// A unit whose file was deleted while it ran is not-found but still active.
func (s UnitState) IsGone() bool {
	if s.Exists() {
		return false
	}
	return s.ActiveState == "" || s.ActiveState == ActiveStateInactive
}

// IsActive reports whether the unit is active
func (s UnitState) IsActive() bool {
	return s.ActiveState == ActiveStateActive
}

// IsRunning reports whether the unit's main process is running
func (s UnitState) IsRunning() bool {
	return s.IsActive() && s.SubState == SubStateRunning
}

// IsFailed reports whether the unit entered the failed state
func (s UnitState) IsFailed() bool {
	return s.ActiveState == ActiveStateFailed
}

// String renders the state the way systemctl shows it, e.g. "loaded active (running)"
func (s UnitState) String() string {
	if s.IsGone() {
		return LoadStateNotFound
	}
	if !s.Exists() {
		return LoadStateNotFound + " " + s.ActiveState + " (" + s.SubState + ")"
	}
	return s.LoadState + " " + s.ActiveState + " (" + s.SubState + ")"
}
