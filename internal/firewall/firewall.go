// Package firewall opens the selected transport's port in the host firewall.
package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fpl-mcp/mcp-deployer/internal/command"
)

// Opener allows inbound TCP traffic on a port
type Opener struct {
	runner command.Runner
	tool   string
}

// NewOpener creates an Opener driving tool, a ufw-compatible front-end
func NewOpener(runner command.Runner, tool string) *Opener {
	return &Opener{runner: runner, tool: tool}
}

// Allow runs "<tool> allow <port>/tcp". Rules are idempotent in ufw, so an
// existing rule is not an error.
func (o *Opener) Allow(ctx context.Context, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	rule := strconv.Itoa(port) + "/tcp"
	out, err := o.runner.Run(ctx, "", o.tool, "allow", rule)
	if err != nil {
		return fmt.Errorf("failed to allow %s with %s: %w", rule, o.tool, err)
	}

	slog.InfoContext(ctx, "Firewall rule applied", "rule", rule, "output", strings.TrimSpace(string(out)))
	return nil
}
