// Package units models the init-system services of the FPL MCP transports and
// renders them to systemd unit files.
package units

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fpl-mcp/mcp-deployer/internal/config"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
)

// DefaultRestartDelay is the pause systemd takes before restarting a crashed service
const DefaultRestartDelay = 10 * time.Second

// RestartPolicy describes how the init system restarts a service
type RestartPolicy struct {
	Always bool
	Delay  time.Duration
}

// ServiceDefinition is the init-system description of one transport's service.
// Definitions are built by NewRegistry and treated as immutable afterwards.
type ServiceDefinition struct {
	// Name is the unit name without the ".service" suffix
	Name             string
	Description      string
	Transport        transport.Kind
	ExecPath         string
	EnvironmentFile  string
	WorkingDirectory string
	// ListenPort is the port the service binds, fixed by the service itself;
	// 0 for transports without a network listener
	ListenPort    int
	Restart       RestartPolicy
	EnabledAtBoot bool
	User          string
}

// UnitFile returns the unit file name, e.g. "mcp-http.service"
func (d ServiceDefinition) UnitFile() string {
	return d.Name + ".service"
}

// Registry maps every transport to its service definition
type Registry struct {
	defs []ServiceDefinition
}

// NewRegistry builds the definitions of all transports from the host configuration
func NewRegistry(cfg *config.Config) *Registry {
	defs := make([]ServiceDefinition, 0, len(transport.All()))
	for _, kind := range transport.All() {
		spec, _ := transport.Lookup(kind)
		defs = append(defs, ServiceDefinition{
			Name:             spec.UnitName,
			Description:      spec.Description,
			Transport:        kind,
			ExecPath:         filepath.Join(cfg.BinDir(), spec.Executable),
			EnvironmentFile:  cfg.Install.EnvFile,
			WorkingDirectory: cfg.Install.Dir,
			ListenPort:       spec.Port,
			Restart:          RestartPolicy{Always: true, Delay: DefaultRestartDelay},
			EnabledAtBoot:    true,
			User:             cfg.Install.User,
		})
	}
	return &Registry{defs: defs}
}

// Get returns the definition for a transport
func (r *Registry) Get(kind transport.Kind) (ServiceDefinition, error) {
	for _, def := range r.defs {
		if def.Transport == kind {
			return def, nil
		}
	}
	return ServiceDefinition{}, fmt.Errorf("%w: no service definition for %q", transport.ErrInvalidSelection, kind)
}

// Definitions returns every definition in canonical transport order
func (r *Registry) Definitions() []ServiceDefinition {
	return append([]ServiceDefinition(nil), r.defs...)
}

// UnitNames returns the unit file names of every definition
func (r *Registry) UnitNames() []string {
	names := make([]string, 0, len(r.defs))
	for _, def := range r.defs {
		names = append(names, def.UnitFile())
	}
	return names
}

// Others returns every definition except the one for kind
func (r *Registry) Others(kind transport.Kind) []ServiceDefinition {
	others := make([]ServiceDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		if def.Transport != kind {
			others = append(others, def)
		}
	}
	return others
}
