package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpl-mcp/mcp-deployer/internal/config"
	"github.com/fpl-mcp/mcp-deployer/internal/status"
	"github.com/fpl-mcp/mcp-deployer/internal/systemd"
	"github.com/fpl-mcp/mcp-deployer/internal/units"
)

// hostStatus is the persisted record of the last run plus the live unit states
type hostStatus struct {
	Status *status.ReconcileStatus `json:"status" yaml:"status"`
	Units  []unitRow               `json:"units,omitempty" yaml:"units,omitempty"`
}

type unitRow struct {
	Unit      string `json:"unit" yaml:"unit"`
	Transport string `json:"transport" yaml:"transport"`
	Load      string `json:"load" yaml:"load"`
	Active    string `json:"active" yaml:"active"`
	Sub       string `json:"sub" yaml:"sub"`
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last reconciliation and the live state of every transport unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("output")
			if err := validateFormat(format, outputTable, outputJSON, outputYAML); err != nil {
				return err
			}
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}

			hs, err := collectStatus(cmd.Context(), o, cfg)
			if err != nil {
				return err
			}
			if format == outputTable {
				return printStatus(cmd.OutOrStdout(), hs)
			}
			return writeStructured(cmd.OutOrStdout(), format, hs)
		},
	}
	cmd.Flags().StringP("output", "o", outputTable, "Output format (table, json, yaml)")
	return cmd
}

// collectStatus loads the status file and queries systemd. Live states are
// left out when systemd cannot be reached.
func collectStatus(ctx context.Context, o *rootOptions, cfg *config.Config) (*hostStatus, error) {
	st, err := status.NewFilePersistence(cfg.State.StatusDir).Load(ctx)
	if err != nil {
		return nil, err
	}
	hs := &hostStatus{Status: st}

	mgr, err := o.newManager(ctx)
	if err != nil {
		slog.Warn("Unable to query systemd, showing persisted status only", "error", err)
		return hs, nil
	}
	defer mgr.Close()

	registry := units.NewRegistry(cfg)
	states, err := mgr.States(ctx, registry.UnitNames())
	if err != nil {
		slog.Warn("Failed to query unit states", "error", err)
		return hs, nil
	}
	for _, def := range registry.Definitions() {
		s := states[def.UnitFile()]
		if s.Name == "" {
			s = systemd.UnitState{LoadState: systemd.LoadStateNotFound}
		}
		hs.Units = append(hs.Units, unitRow{
			Unit:      def.UnitFile(),
			Transport: string(def.Transport),
			Load:      s.LoadState,
			Active:    s.ActiveState,
			Sub:       s.SubState,
		})
	}
	return hs, nil
}

func printStatus(w io.Writer, hs *hostStatus) error {
	st := hs.Status
	var b strings.Builder
	if st.Phase == "" {
		b.WriteString(dimStyle.Render("No reconciliation has run on this host") + "\n")
	} else {
		style := okStyle
		switch st.Phase {
		case status.PhaseFailed:
			style = failStyle
		case status.PhaseApplying:
			style = warnStyle
		}
		fmt.Fprintf(&b, "Phase:        %s\n", style.Render(string(st.Phase)))
		fmt.Fprintf(&b, "Transport:    %s (%s)\n", st.Transport, st.Unit)
		if st.Revision != "" {
			fmt.Fprintf(&b, "Revision:     %s\n", st.Revision)
		}
		fmt.Fprintf(&b, "Last attempt: %s\n", formatTime(st.LastAttempt))
		fmt.Fprintf(&b, "Last success: %s", formatTime(st.LastSuccess))
		if st.LastSuccessTransport != "" {
			fmt.Fprintf(&b, " (%s)", st.LastSuccessTransport)
		}
		b.WriteString("\n")
		if st.AttemptCount > 0 {
			fmt.Fprintf(&b, "Failed runs:  %d\n", st.AttemptCount)
		}
		if st.Message != "" {
			fmt.Fprintf(&b, "Message:      %s\n", st.Message)
		}
		for _, e := range st.Endpoints {
			fmt.Fprintf(&b, "Endpoint:     %s\n", e)
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	if len(hs.Units) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	rows := make([][]string, 0, len(hs.Units))
	for _, u := range hs.Units {
		rows = append(rows, []string{u.Unit, u.Transport, u.Load, u.Active, u.Sub})
	}
	return writeTable(w, []string{"Unit", "Transport", "Load", "Active", "Sub"}, rows)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
