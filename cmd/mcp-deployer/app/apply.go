package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpl-mcp/mcp-deployer/internal/reconciler"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
)

func newApplyCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <transport>",
		Short: "Converge this host to the selected transport",
		Long: `Converge this host to the selected transport.

Valid transports: ` + strings.Join(transport.Names(), ", ") + ` (n8n is accepted for n8n-bridge).

The source tree is pulled, dependencies are installed, every other transport
unit is stopped and disabled, and the selected unit is rendered, enabled and
restarted. The command exits non-zero when a fatal step fails.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: transport.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, o, args[0])
		},
	}
	cmd.Flags().Bool("verify", false, "Probe the service after it starts (overrides verify.enabled)")
	cmd.Flags().Bool("firewall", false, "Open the transport's port (overrides firewall.enabled)")
	cmd.Flags().StringP("output", "o", outputText, "Output format (text, json, yaml)")
	return cmd
}

func runApply(cmd *cobra.Command, o *rootOptions, selection string) error {
	format, _ := cmd.Flags().GetString("output")
	if err := validateFormat(format, outputText, outputJSON, outputYAML); err != nil {
		return err
	}
	// Fail fast, before connecting to anything
	if _, err := transport.Parse(selection); err != nil {
		return err
	}

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("verify") {
		cfg.Verify.Enabled, _ = cmd.Flags().GetBool("verify")
	}
	if cmd.Flags().Changed("firewall") {
		cfg.Firewall.Enabled, _ = cmd.Flags().GetBool("firewall")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDeployer(ctx, o, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	result, applyErr := d.reconciler.Apply(ctx, selection)
	if result != nil {
		var err error
		if format == outputText {
			err = printSummary(cmd.OutOrStdout(), result, applyErr)
		} else {
			err = writeStructured(cmd.OutOrStdout(), format, result)
		}
		if err != nil {
			return errors.Join(applyErr, err)
		}
	}
	return applyErr
}

// printSummary reports the run to the operator
func printSummary(w io.Writer, result *reconciler.Result, applyErr error) error {
	var b strings.Builder

	if applyErr == nil {
		b.WriteString(okStyle.Render(fmt.Sprintf("Transport %s is running as %s", result.Transport, result.Unit)))
	} else {
		step := "unknown step"
		if fatal := result.FatalStep(); fatal != nil {
			step = string(fatal.Step)
		}
		b.WriteString(failStyle.Render(fmt.Sprintf("Applying %s failed at %s", result.Transport, step)))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("  (run %s, %s)", result.RunID, result.Duration().Round(time.Millisecond))))
	b.WriteString("\n")
	if result.Revision != "" {
		fmt.Fprintf(&b, "Revision: %s\n", result.Revision)
	}

	b.WriteString("\n" + headingStyle.Render("Steps") + "\n")
	for _, s := range result.Steps {
		label := string(s.Status)
		switch s.Status {
		case reconciler.StepOK:
			label = okStyle.Render(fmt.Sprintf("%-7s", label))
		case reconciler.StepFailed:
			if s.Severity == reconciler.SeverityAdvisory {
				label = warnStyle.Render(fmt.Sprintf("%-7s", "warn"))
			} else {
				label = failStyle.Render(fmt.Sprintf("%-7s", label))
			}
		default:
			label = dimStyle.Render(fmt.Sprintf("%-7s", label))
		}
		fmt.Fprintf(&b, "  %s %-20s %s\n", label, s.Step, s.Message)
	}

	if changes := result.Changes(); len(changes) > 0 {
		b.WriteString("\n" + headingStyle.Render("Unit changes") + "\n")
		for _, c := range changes {
			fmt.Fprintf(&b, "  %-20s %s -> %s\n", c.Unit, c.Before, c.After)
		}
	}

	if urls := result.EndpointURLs(); len(urls) > 0 {
		b.WriteString("\n" + headingStyle.Render("Endpoints") + "\n")
		for _, u := range urls {
			b.WriteString("  " + u + "\n")
		}
	}

	b.WriteString("\n" + headingStyle.Render("Operate") + "\n")
	fmt.Fprintf(&b, "  systemctl status %s\n", result.Unit)
	fmt.Fprintf(&b, "  journalctl -u %s -f\n", result.Unit)

	_, err := io.WriteString(w, b.String())
	return err
}
