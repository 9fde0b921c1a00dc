// Package probe verifies that a deployed transport answers on its endpoints.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fpl-mcp/mcp-deployer/internal/httpclient"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
)

// ErrNotProbeable is returned for transports without a network listener
var ErrNotProbeable = errors.New("transport has no network endpoint to probe")

// Check is the outcome of one request against the service
type Check struct {
	Name    string `json:"name" yaml:"name"`
	Target  string `json:"target" yaml:"target"`
	OK      bool   `json:"ok" yaml:"ok"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	// NotConfigured marks a service that answers but has not been given its
	// credentials yet. Such a check counts as passed.
	NotConfigured bool `json:"notConfigured,omitempty" yaml:"notConfigured,omitempty"`
}

// Report summarises a probe run
type Report struct {
	Transport transport.Kind `json:"transport" yaml:"transport"`
	Address   string         `json:"address" yaml:"address"`
	Service   string         `json:"service,omitempty" yaml:"service,omitempty"`
	Tools     []string       `json:"tools,omitempty" yaml:"tools,omitempty"`
	Checks    []Check        `json:"checks" yaml:"checks"`
}

// Healthy reports whether every check passed
func (r *Report) Healthy() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return len(r.Checks) > 0
}

// NotConfigured reports whether any check found the service awaiting configuration
func (r *Report) NotConfigured() bool {
	for _, c := range r.Checks {
		if c.NotConfigured {
			return true
		}
	}
	return false
}

// Prober runs checks against a transport
type Prober struct {
	client      httpclient.Client
	dialTimeout time.Duration
}

// NewProber creates a Prober using client for HTTP transports
func NewProber(client httpclient.Client, dialTimeout time.Duration) *Prober {
	return &Prober{client: client, dialTimeout: dialTimeout}
}

// Probe checks the transport kind listening on host:port. The returned report
// is complete even when err is non-nil; err joins every failed check.
func (p *Prober) Probe(ctx context.Context, kind transport.Kind, host string, port int) (*Report, error) {
	spec, ok := transport.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", transport.ErrInvalidSelection, kind)
	}
	if spec.Scheme == transport.SchemeNone || port <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotProbeable, kind)
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	report := &Report{Transport: kind, Address: address}

	if spec.Scheme == transport.SchemeTCP {
		report.Checks = append(report.Checks, p.dial(ctx, address))
		return report, report.err()
	}

	base := "http://" + address
	report.Checks = append(report.Checks, p.health(ctx, base+"/health", report))

	switch kind {
	case transport.KindHTTP, transport.KindSSE:
		report.Checks = append(report.Checks, p.listTools(ctx, base+"/mcp/call", report))
	case transport.KindN8NBridge:
		report.Checks = append(report.Checks, p.listTools(ctx, base+"/tools/list", report))
	}

	slog.DebugContext(ctx, "Probe finished", "transport", kind, "address", address, "healthy", report.Healthy())
	return report, report.err()
}

func (r *Report) err() error {
	var errs []error
	for _, c := range r.Checks {
		if !c.OK {
			errs = append(errs, fmt.Errorf("%s %s: %s", c.Name, c.Target, c.Message))
		}
	}
	return errors.Join(errs...)
}

func (p *Prober) dial(ctx context.Context, address string) Check {
	check := Check{Name: "dial", Target: address}
	dialer := net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		check.Message = err.Error()
		return check
	}
	_ = conn.Close()
	check.OK = true
	return check
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (p *Prober) health(ctx context.Context, url string, report *Report) Check {
	check := Check{Name: "health", Target: url}

	body, err := p.client.Get(ctx, url)
	if err != nil {
		check.Message = err.Error()
		return check
	}

	var resp healthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		check.Message = fmt.Sprintf("invalid health response: %v", err)
		return check
	}
	report.Service = resp.Service
	if resp.Status != "healthy" {
		check.Message = fmt.Sprintf("status %q", resp.Status)
		return check
	}

	check.OK = true
	check.Message = resp.Service
	return check
}

// rpcRequest is the JSON-RPC envelope accepted by the HTTP transports
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
}

// rpcResponse covers both the JSON-RPC reply of the MCP process and the
// {"success": ..., "result": ...} envelope of the SSE transport
type rpcResponse struct {
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	Success *bool           `json:"success"`
}

func (p *Prober) listTools(ctx context.Context, url string, report *Report) Check {
	check := Check{Name: "tools/list", Target: url}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      1,
		Method:  string(mcp.MethodToolsList),
	})
	if err != nil {
		check.Message = err.Error()
		return check
	}

	body, err := p.client.Post(ctx, url, payload)
	if report.Transport == transport.KindN8NBridge && bridgeNotConfigured(err) {
		check.OK = true
		check.NotConfigured = true
		check.Message = "bridge not configured, POST /configure to enable tools"
		return check
	}
	if err != nil {
		check.Message = err.Error()
		return check
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		check.Message = fmt.Sprintf("invalid JSON-RPC response: %v", err)
		return check
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		check.Message = "service error: " + errorMessage(resp.Error)
		return check
	}
	if resp.Success != nil && !*resp.Success {
		check.Message = "service reported failure"
		return check
	}
	if len(resp.Result) == 0 {
		check.Message = "response has no result"
		return check
	}

	var tools mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &tools); err != nil {
		check.Message = fmt.Sprintf("invalid tools/list result: %v", err)
		return check
	}

	for _, tool := range tools.Tools {
		report.Tools = append(report.Tools, tool.Name)
	}
	check.OK = true
	check.Message = fmt.Sprintf("%d tools", len(tools.Tools))
	return check
}

// bridgeNotConfigured matches the reply of an n8n bridge that has not received
// its /configure call: HTTP 500 with {"detail": "Bridge not configured"}
func bridgeNotConfigured(err error) bool {
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
		return false
	}
	return strings.Contains(strings.ToLower(httpErr.Detail), "not configured")
}

// errorMessage extracts a message from a string or a JSON-RPC error object
func errorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return fmt.Sprintf("%s (code %d)", obj.Message, obj.Code)
	}
	return string(raw)
}
