// Package app provides the commands of the mcp-deployer CLI.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fpl-mcp/mcp-deployer/internal/config"
	"github.com/fpl-mcp/mcp-deployer/internal/systemd"
	"github.com/fpl-mcp/mcp-deployer/internal/versions"
)

// LogLevel is the level of the default logger; --debug lowers it
var LogLevel = new(slog.LevelVar)

// rootOptions carries state shared by the subcommands of one root command
type rootOptions struct {
	v *viper.Viper

	// newManager connects to the init system
	newManager func(ctx context.Context) (systemd.Manager, error)
}

func newRootOptions() *rootOptions {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return &rootOptions{
		v: v,
		newManager: func(ctx context.Context) (systemd.Manager, error) {
			return systemd.NewDBusManager(ctx)
		},
	}
}

// loadConfig loads the file named by --config, or the defaults when none is given
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.v.GetString("config")
	if path == "" {
		slog.Debug("No configuration file given, using defaults")
		return config.LoadConfig()
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Debug("Loaded configuration", "path", path)
	return cfg, nil
}

// NewRootCmd creates the root command of the deployer
func NewRootCmd() *cobra.Command {
	return newRootCmd(newRootOptions())
}

func newRootCmd(o *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "mcp-deployer",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Deploy the FPL MCP server on this host",
		Long: `mcp-deployer converges the systemd units of the FPL MCP server to one
selected transport: it syncs the source tree, installs dependencies, stops and
disables every other transport, renders the selected unit and starts it.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if o.v.GetBool("debug") {
				LogLevel.Set(slog.LevelDebug)
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, optional)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	for _, name := range []string{"config", "debug"} {
		if err := o.v.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}

	rootCmd.AddCommand(newApplyCmd(o))
	rootCmd.AddCommand(newStatusCmd(o))
	rootCmd.AddCommand(newRenderCmd(o))
	rootCmd.AddCommand(newProbeCmd(o))
	rootCmd.AddCommand(newEnvCmd(o))
	rootCmd.AddCommand(newTransportsCmd(o))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("error retrieving format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("error formatting version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "mcp-deployer %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
