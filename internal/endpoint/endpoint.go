// Package endpoint derives the operator-facing addresses of the running transport.
package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/fpl-mcp/mcp-deployer/internal/httpclient"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
)

// HostEndpoint is an address at which the selected transport is reachable.
// Endpoints are derived for reporting only.
type HostEndpoint struct {
	IP     string           `json:"ip" yaml:"ip"`
	Port   int              `json:"port" yaml:"port"`
	Path   string           `json:"path,omitempty" yaml:"path,omitempty"`
	Scheme transport.Scheme `json:"scheme" yaml:"scheme"`
}

// URL renders the endpoint, e.g. "http://203.0.113.7:8002/health" or "tcp://203.0.113.7:8001"
func (e HostEndpoint) URL() string {
	hostPort := net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
	return string(e.Scheme) + "://" + hostPort + e.Path
}

// BaseURL returns the URL without a path
func (e HostEndpoint) BaseURL() string {
	return string(e.Scheme) + "://" + net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// Build derives the endpoints of kind listening on port at ip.
// Transports without a listener have no endpoints.
func Build(ip string, kind transport.Kind, port int) []HostEndpoint {
	spec, ok := transport.Lookup(kind)
	if !ok || ip == "" || port <= 0 || spec.Scheme == transport.SchemeNone {
		return nil
	}

	if len(spec.Paths) == 0 {
		return []HostEndpoint{{IP: ip, Port: port, Scheme: spec.Scheme}}
	}

	endpoints := make([]HostEndpoint, 0, len(spec.Paths))
	for _, path := range spec.Paths {
		endpoints = append(endpoints, HostEndpoint{IP: ip, Port: port, Path: path, Scheme: spec.Scheme})
	}
	return endpoints
}

// Resolver discovers the host's public IP address
type Resolver struct {
	client    httpclient.Client
	lookupURL string
}

// NewResolver creates a Resolver querying lookupURL, which must answer with a
// bare IP address
func NewResolver(client httpclient.Client, lookupURL string) *Resolver {
	return &Resolver{client: client, lookupURL: lookupURL}
}

// PublicIP returns the host's public IP address
func (r *Resolver) PublicIP(ctx context.Context) (string, error) {
	body, err := r.client.Get(ctx, r.lookupURL)
	if err != nil {
		return "", fmt.Errorf("public IP lookup failed: %w", err)
	}

	raw := strings.TrimSpace(string(body))
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", fmt.Errorf("public IP lookup returned %q: %w", truncate(raw, 64), err)
	}
	return addr.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
