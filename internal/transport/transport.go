// Package transport defines the transport variants through which the FPL MCP
// service can be exposed on a host, and the canonical settings for each one.
package transport

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a transport selection supplied by the operator
type Kind string

const (
	// KindStdio runs the MCP server over stdin/stdout
	KindStdio Kind = "stdio"

	// KindTCP exposes the stdio server through a raw TCP bridge
	KindTCP Kind = "tcp"

	// KindSSE exposes the server over HTTP with a Server-Sent-Events stream
	KindSSE Kind = "sse"

	// KindHTTP exposes the generic HTTP API wrapping the MCP server
	KindHTTP Kind = "http"

	// KindN8NBridge exposes the n8n webhook bridge
	KindN8NBridge Kind = "n8n-bridge"

	// KindDirect exposes the direct (simple) REST API
	KindDirect Kind = "direct"
)

// ErrInvalidSelection is returned when a transport selection is not one of the known kinds
var ErrInvalidSelection = errors.New("invalid transport selection")

// Scheme describes how clients reach a transport over the network
type Scheme string

const (
	// SchemeNone means the transport has no network listener
	SchemeNone Scheme = ""
	// SchemeTCP means a raw TCP listener
	SchemeTCP Scheme = "tcp"
	// SchemeHTTP means an HTTP listener
	SchemeHTTP Scheme = "http"
)

// Spec holds the canonical settings of a transport
type Spec struct {
	Kind        Kind
	UnitName    string
	Executable  string
	Port        int
	Scheme      Scheme
	Description string
	// Paths are the operator-facing endpoints documented for the transport
	Paths []string
}

var specs = []Spec{
	{
		Kind:        KindStdio,
		UnitName:    "mcp-stdio",
		Executable:  "fpl-mcp-stdio",
		Description: "FPL MCP server (stdio)",
	},
	{
		Kind:        KindTCP,
		UnitName:    "mcp-tcp",
		Executable:  "fpl-mcp-tcp",
		Port:        8001,
		Scheme:      SchemeTCP,
		Description: "FPL MCP server (TCP bridge)",
	},
	{
		Kind:        KindSSE,
		UnitName:    "mcp-sse",
		Executable:  "fpl-mcp-sse",
		Port:        8000,
		Scheme:      SchemeHTTP,
		Description: "FPL MCP server (SSE transport)",
		Paths:       []string{"/health", "/mcp/capabilities", "/mcp/call", "/mcp/stream"},
	},
	{
		Kind:        KindHTTP,
		UnitName:    "mcp-http",
		Executable:  "fpl-mcp-http",
		Port:        8002,
		Scheme:      SchemeHTTP,
		Description: "FPL MCP server (HTTP API)",
		Paths:       []string{"/health", "/capabilities", "/mcp/call", "/mcp/stream"},
	},
	{
		Kind:        KindN8NBridge,
		UnitName:    "mcp-n8n",
		Executable:  "fpl-mcp-n8n",
		Port:        8003,
		Scheme:      SchemeHTTP,
		Description: "FPL MCP server (n8n bridge)",
		Paths:       []string{"/health", "/tools/list", "/tools/call", "/configure"},
	},
	{
		Kind:        KindDirect,
		UnitName:    "mcp-direct",
		Executable:  "fpl-direct-api",
		Port:        8080,
		Scheme:      SchemeHTTP,
		Description: "FPL direct REST API",
		Paths:       []string{"/health", "/players", "/teams", "/gameweek", "/fixtures"},
	},
}

// Parse converts an operator-supplied string into a Kind.
// Matching is case-insensitive and "n8n" is accepted as an alias for "n8n-bridge".
func Parse(s string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "n8n" {
		normalized = string(KindN8NBridge)
	}
	for _, spec := range specs {
		if string(spec.Kind) == normalized {
			return spec.Kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q (valid: %s)", ErrInvalidSelection, s, strings.Join(Names(), ", "))
}

// All returns every transport kind in canonical order
func All() []Kind {
	kinds := make([]Kind, 0, len(specs))
	for _, spec := range specs {
		kinds = append(kinds, spec.Kind)
	}
	return kinds
}

// Names returns the string form of every transport kind in canonical order
func Names() []string {
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, string(spec.Kind))
	}
	return names
}

// Lookup returns the canonical spec for a kind
func Lookup(kind Kind) (Spec, bool) {
	for _, spec := range specs {
		if spec.Kind == kind {
			out := spec
			out.Paths = append([]string(nil), spec.Paths...)
			return out, true
		}
	}
	return Spec{}, false
}

// String implements fmt.Stringer
func (k Kind) String() string {
	return string(k)
}

// HasListener reports whether the transport binds a network port
func (s Spec) HasListener() bool {
	return s.Port > 0 && s.Scheme != SchemeNone
}
