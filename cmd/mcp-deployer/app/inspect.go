package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpl-mcp/mcp-deployer/internal/envfile"
	"github.com/fpl-mcp/mcp-deployer/internal/httpclient"
	"github.com/fpl-mcp/mcp-deployer/internal/probe"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
	"github.com/fpl-mcp/mcp-deployer/internal/units"
)

func newRenderCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "render <transport>",
		Short:     "Print the unit file for a transport without touching the host",
		Args:      cobra.ExactArgs(1),
		ValidArgs: transport.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := transport.Parse(args[0])
			if err != nil {
				return err
			}
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			def, err := units.NewRegistry(cfg).Get(kind)
			if err != nil {
				return err
			}
			data, err := units.Render(def)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newProbeCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <transport>",
		Short: "Check that a running transport answers on its endpoints",
		Long: `Check that a running transport answers on its endpoints.

TCP transports are dialled. HTTP transports must report healthy on /health;
the MCP and n8n transports must also list their tools.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: transport.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := transport.Parse(args[0])
			if err != nil {
				return err
			}
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			host, _ := cmd.Flags().GetString("host")
			spec, _ := transport.Lookup(kind)
			port := spec.Port
			if cmd.Flags().Changed("port") {
				port, _ = cmd.Flags().GetInt("port")
			}
			format, _ := cmd.Flags().GetString("output")
			if err := validateFormat(format, outputTable, outputJSON, outputYAML); err != nil {
				return err
			}

			timeout := cfg.GetNetworkTimeout()
			prober := probe.NewProber(httpclient.NewDefaultClient(timeout), timeout)
			report, probeErr := prober.Probe(cmd.Context(), kind, host, port)
			if report == nil {
				return probeErr
			}

			if format != outputTable {
				if err := writeStructured(cmd.OutOrStdout(), format, report); err != nil {
					return err
				}
				return probeErr
			}

			rows := make([][]string, 0, len(report.Checks))
			for _, c := range report.Checks {
				result := "ok"
				switch {
				case !c.OK:
					result = "FAIL"
				case c.NotConfigured:
					result = "not configured"
				}
				rows = append(rows, []string{c.Name, c.Target, result, c.Message})
			}
			if err := writeTable(cmd.OutOrStdout(), []string{"Check", "Target", "Result", "Message"}, rows); err != nil {
				return err
			}
			if len(report.Tools) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Tools (%d): %s\n", len(report.Tools), strings.Join(report.Tools, ", "))
			}
			return probeErr
		},
	}
	cmd.Flags().String("host", "127.0.0.1", "Host the transport listens on")
	cmd.Flags().Int("port", 0, "Port to probe (defaults to the transport's port)")
	cmd.Flags().StringP("output", "o", outputTable, "Output format (table, json, yaml)")
	return cmd
}

func newEnvCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Inspect the service environment file (key names only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			report, err := envfile.Inspect(cfg.Install.EnvFile)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if !report.Present {
				fmt.Fprintf(w, "%s %s does not exist; the service starts without FPL credentials\n",
					warnStyle.Render("warning:"), report.Path)
				return nil
			}
			fmt.Fprintf(w, "%s\n", headingStyle.Render(report.Path))
			fmt.Fprintf(w, "Keys: %s\n", strings.Join(report.Keys, ", "))
			if len(report.Missing) > 0 {
				fmt.Fprintf(w, "%s missing or empty: %s\n", warnStyle.Render("warning:"), strings.Join(report.Missing, ", "))
			}
			if report.WorldReadable {
				fmt.Fprintf(w, "%s file is readable by other users; consider chmod 600\n", warnStyle.Render("warning:"))
			}
			if report.Complete() {
				fmt.Fprintln(w, okStyle.Render("All credential keys are set"))
			}
			return nil
		},
	}
}

func newTransportsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transports",
		Short: "List the supported transports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}

			var rows [][]string
			for _, def := range units.NewRegistry(cfg).Definitions() {
				port := "-"
				if def.ListenPort > 0 {
					port = strconv.Itoa(def.ListenPort)
				}
				var paths string
				if spec, ok := transport.Lookup(def.Transport); ok {
					paths = strings.Join(spec.Paths, " ")
				}
				rows = append(rows, []string{string(def.Transport), def.UnitFile(), def.ExecPath, port, paths})
			}
			return writeTable(cmd.OutOrStdout(), []string{"Transport", "Unit", "Executable", "Port", "Paths"}, rows)
		},
	}
}
