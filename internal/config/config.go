// Package config provides configuration loading and management for the deployer.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fpl-mcp/mcp-deployer/internal/telemetry"
)

// EnvPrefix is the prefix of environment variables read by the deployer
const EnvPrefix = "MCP_DEPLOYER"

const (
	// DefaultInstallDir is where the collaborator service source is checked out
	DefaultInstallDir = "/opt/mcp-server"

	// DefaultUnitDir is the systemd unit-definition directory
	DefaultUnitDir = "/etc/systemd/system"

	// DefaultStateDir holds the deployer status file and run lock
	DefaultStateDir = "/var/lib/mcp-deployer"

	// DefaultRemote is the git remote pulled from
	DefaultRemote = "origin"

	// DefaultBranch is the git branch pulled from
	DefaultBranch = "main"

	// DefaultStartTimeout bounds how long a started unit may take to reach running
	DefaultStartTimeout = 30 * time.Second

	// DefaultNetworkTimeout bounds external IP lookups and probes
	DefaultNetworkTimeout = 10 * time.Second

	// DefaultIPLookupURL returns the caller's public IP address as plain text
	DefaultIPLookupURL = "https://api.ipify.org"

	// DefaultPythonConstraint is the minimum interpreter version of the service
	DefaultPythonConstraint = ">= 3.10"

	// DefaultFirewallTool is the firewall front-end used to open ports
	DefaultFirewallTool = "ufw"

	// DefaultGitPasswordEnv is read when source.auth.passwordEnv is empty
	DefaultGitPasswordEnv = EnvPrefix + "_GIT_PASSWORD"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Install InstallConfig `yaml:"install"`
	Systemd SystemdConfig `yaml:"systemd"`

	Python   PythonConfig   `yaml:"python"`
	Network  NetworkConfig  `yaml:"network"`
	Firewall FirewallConfig `yaml:"firewall"`
	Verify   VerifyConfig   `yaml:"verify"`
	State    StateConfig    `yaml:"state"`

	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// SourceConfig defines where the service source tree lives and how it is synced
type SourceConfig struct {
	// Path is the local git checkout; defaults to install.dir
	Path string `yaml:"path,omitempty"`

	// Remote is the git remote to pull from
	Remote string `yaml:"remote,omitempty"`

	// Branch is the branch to pull
	Branch string `yaml:"branch,omitempty"`

	// Auth configures HTTP basic authentication for private remotes
	Auth *GitAuthConfig `yaml:"auth,omitempty"`
}

// GitAuthConfig defines HTTP basic authentication for git
type GitAuthConfig struct {
	Username string `yaml:"username"`

	// PasswordEnv names the environment variable holding the password or token
	PasswordEnv string `yaml:"passwordEnv,omitempty"`
}

// InstallConfig describes the installed service layout
type InstallConfig struct {
	// Dir is the service working directory
	Dir string `yaml:"dir,omitempty"`

	// VenvDir is the Python virtual environment; defaults to <dir>/venv
	VenvDir string `yaml:"venvDir,omitempty"`

	// EnvFile is the environment file read by the service; defaults to <dir>/.env
	EnvFile string `yaml:"envFile,omitempty"`

	// User runs the service; empty means root
	User string `yaml:"user,omitempty"`
}

// SystemdConfig defines init-system settings
type SystemdConfig struct {
	UnitDir string `yaml:"unitDir,omitempty"`

	// StartTimeout is how long a unit may take to reach running (e.g. "30s")
	StartTimeout string `yaml:"startTimeout,omitempty"`
}

// PythonConfig defines the interpreter preflight
type PythonConfig struct {
	// MinVersion is a semver constraint the venv interpreter must satisfy
	MinVersion string `yaml:"minVersion,omitempty"`
}

// NetworkConfig defines external network lookups
type NetworkConfig struct {
	IPLookupURL string `yaml:"ipLookupURL,omitempty"`
	Timeout     string `yaml:"timeout,omitempty"`
}

// FirewallConfig controls opening the selected transport's port
type FirewallConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tool    string `yaml:"tool,omitempty"`
}

// VerifyConfig controls probing the collaborator service after start
type VerifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StateConfig defines where the deployer keeps its own state
type StateConfig struct {
	StatusDir string `yaml:"statusDir,omitempty"`

	// LockFile guards against concurrent runs; defaults to <statusDir>/apply.lock
	LockFile string `yaml:"lockFile,omitempty"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file when a path option is given,
// otherwise returns the defaults
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Unknown keys are rejected so a misspelt or retired setting is not silently ignored
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyDefaults fills every unset field
func (c *Config) applyDefaults() {
	if c.Install.Dir == "" {
		c.Install.Dir = DefaultInstallDir
	}
	if c.Install.VenvDir == "" {
		c.Install.VenvDir = filepath.Join(c.Install.Dir, "venv")
	}
	if c.Install.EnvFile == "" {
		c.Install.EnvFile = filepath.Join(c.Install.Dir, ".env")
	}

	if c.Source.Path == "" {
		c.Source.Path = c.Install.Dir
	}
	if c.Source.Remote == "" {
		c.Source.Remote = DefaultRemote
	}
	if c.Source.Branch == "" {
		c.Source.Branch = DefaultBranch
	}
	if c.Source.Auth != nil && c.Source.Auth.PasswordEnv == "" {
		c.Source.Auth.PasswordEnv = DefaultGitPasswordEnv
	}

	if c.Systemd.UnitDir == "" {
		c.Systemd.UnitDir = DefaultUnitDir
	}
	if c.Systemd.StartTimeout == "" {
		c.Systemd.StartTimeout = DefaultStartTimeout.String()
	}

	if c.Python.MinVersion == "" {
		c.Python.MinVersion = DefaultPythonConstraint
	}

	if c.Network.IPLookupURL == "" {
		c.Network.IPLookupURL = DefaultIPLookupURL
	}
	if c.Network.Timeout == "" {
		c.Network.Timeout = DefaultNetworkTimeout.String()
	}

	if c.Firewall.Tool == "" {
		c.Firewall.Tool = DefaultFirewallTool
	}

	if c.State.StatusDir == "" {
		c.State.StatusDir = DefaultStateDir
	}
	if c.State.LockFile == "" {
		c.State.LockFile = filepath.Join(c.State.StatusDir, "apply.lock")
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	for name, path := range map[string]string{
		"install.dir":     c.Install.Dir,
		"install.venvDir": c.Install.VenvDir,
		"install.envFile": c.Install.EnvFile,
		"source.path":     c.Source.Path,
		"systemd.unitDir": c.Systemd.UnitDir,
	} {
		if !filepath.IsAbs(path) {
			return fmt.Errorf("%s must be an absolute path, got %q", name, path)
		}
	}

	if strings.ContainsAny(c.Install.User, " \t\n") {
		return fmt.Errorf("install.user must not contain whitespace")
	}

	if c.Source.Auth != nil && c.Source.Auth.Username == "" {
		return fmt.Errorf("source.auth.username is required when source.auth is set")
	}

	if err := validateDuration("systemd.startTimeout", c.Systemd.StartTimeout); err != nil {
		return err
	}
	if err := validateDuration("network.timeout", c.Network.Timeout); err != nil {
		return err
	}

	lookup, err := url.Parse(c.Network.IPLookupURL)
	if err != nil || (lookup.Scheme != "http" && lookup.Scheme != "https") || lookup.Host == "" {
		return fmt.Errorf("network.ipLookupURL must be an http(s) URL, got %q", c.Network.IPLookupURL)
	}

	return nil
}

func validateDuration(field, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '1m'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

// GetStartTimeout returns systemd.startTimeout as a duration
func (c *Config) GetStartTimeout() time.Duration {
	d, err := time.ParseDuration(c.Systemd.StartTimeout)
	if err != nil || d <= 0 {
		return DefaultStartTimeout
	}
	return d
}

// GetNetworkTimeout returns network.timeout as a duration
func (c *Config) GetNetworkTimeout() time.Duration {
	d, err := time.ParseDuration(c.Network.Timeout)
	if err != nil || d <= 0 {
		return DefaultNetworkTimeout
	}
	return d
}

// BinDir returns the directory holding the venv executables
func (c *Config) BinDir() string {
	return filepath.Join(c.Install.VenvDir, "bin")
}

// GetPassword returns the git password from the configured environment variable
func (a *GitAuthConfig) GetPassword() (string, error) {
	if a == nil {
		return "", nil
	}
	env := a.PasswordEnv
	if env == "" {
		env = DefaultGitPasswordEnv
	}
	password := strings.TrimSpace(os.Getenv(env))
	if password == "" {
		return "", fmt.Errorf("no git password configured: set the %s environment variable", env)
	}
	return password, nil
}
