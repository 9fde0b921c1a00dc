package units

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

// ErrInvalidDefinition is returned when a definition cannot be rendered
var ErrInvalidDefinition = errors.New("invalid service definition")

// Validate checks that the definition has everything a unit file needs
func (d ServiceDefinition) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	case strings.ContainsAny(d.Name, "/ \t\n"):
		return fmt.Errorf("%w: name %q contains illegal characters", ErrInvalidDefinition, d.Name)
	case !filepath.IsAbs(d.ExecPath):
		return fmt.Errorf("%w: %s: exec path must be absolute, got %q", ErrInvalidDefinition, d.Name, d.ExecPath)
	case d.WorkingDirectory != "" && !filepath.IsAbs(d.WorkingDirectory):
		return fmt.Errorf("%w: %s: working directory must be absolute", ErrInvalidDefinition, d.Name)
	case d.EnvironmentFile != "" && !filepath.IsAbs(d.EnvironmentFile):
		return fmt.Errorf("%w: %s: environment file must be absolute", ErrInvalidDefinition, d.Name)
	case d.ListenPort < 0 || d.ListenPort > 65535:
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidDefinition, d.Name, d.ListenPort)
	}
	return nil
}

// Options returns the unit options of the definition in file order
func (d ServiceDefinition) Options() []*unit.UnitOption {
	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", d.Description),
		unit.NewUnitOption("Unit", "After", "network-online.target"),
		unit.NewUnitOption("Unit", "Wants", "network-online.target"),
		unit.NewUnitOption("Service", "Type", "simple"),
	}
	if d.User != "" {
		opts = append(opts, unit.NewUnitOption("Service", "User", d.User))
	}
	if d.WorkingDirectory != "" {
		opts = append(opts, unit.NewUnitOption("Service", "WorkingDirectory", d.WorkingDirectory))
	}
	if d.EnvironmentFile != "" {
		// "-" lets the unit start when the file is absent
		opts = append(opts, unit.NewUnitOption("Service", "EnvironmentFile", "-"+d.EnvironmentFile))
	}
	opts = append(opts,
		unit.NewUnitOption("Service", "Environment", "PYTHONUNBUFFERED=1"),
		unit.NewUnitOption("Service", "ExecStart", d.ExecPath),
	)
	if d.Restart.Always {
		opts = append(opts,
			unit.NewUnitOption("Service", "Restart", "always"),
			unit.NewUnitOption("Service", "RestartSec", strconv.Itoa(int(d.Restart.Delay.Seconds()))),
		)
	} else {
		opts = append(opts, unit.NewUnitOption("Service", "Restart", "no"))
	}
	if d.EnabledAtBoot {
		opts = append(opts, unit.NewUnitOption("Install", "WantedBy", "multi-user.target"))
	}
	return opts
}

// Render serializes the definition to unit-file bytes
func Render(def ServiceDefinition) ([]byte, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(unit.Serialize(def.Options()))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize unit %s: %w", def.Name, err)
	}
	return data, nil
}

// Parse reads a unit file back into its options
func Parse(data []byte) ([]*unit.UnitOption, error) {
	opts, err := unit.DeserializeOptions(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit file: %w", err)
	}
	return opts, nil
}

// Value returns the last value of section/name among opts, and whether it was set
func Value(opts []*unit.UnitOption, section, name string) (string, bool) {
	value, found := "", false
	for _, opt := range opts {
		if opt.Section == section && opt.Name == name {
			value, found = opt.Value, true
		}
	}
	return value, found
}
