package probe

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpl-mcp/mcp-deployer/internal/httpclient"
	"github.com/fpl-mcp/mcp-deployer/internal/transport"
)

const toolsResult = `{"tools":[
	{"name":"get_player_info","description":"Player details","inputSchema":{"type":"object"}},
	{"name":"get_gameweek_status","description":"Current gameweek","inputSchema":{"type":"object"}}
]}`

// fakeCollaborator mimics the routes of the FPL MCP transports
func fakeCollaborator(t *testing.T, service string, mcpCall http.HandlerFunc) (string, int) {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"` + service + `"}`))
	})
	if mcpCall != nil {
		r.Post("/mcp/call", mcpCall)
		r.Post("/tools/list", mcpCall)
	}

	server := httptest.NewServer(r)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func jsonRPCTools(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Method != "tools/list" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + toolsResult + `}`))
}

func newProber() *Prober {
	return NewProber(httpclient.NewDefaultClient(2*time.Second), time.Second)
}

func TestProbe_HTTPTransport(t *testing.T) {
	t.Parallel()

	host, port := fakeCollaborator(t, "mcp-http", jsonRPCTools)

	report, err := newProber().Probe(context.Background(), transport.KindHTTP, host, port)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, "mcp-http", report.Service)
	assert.Equal(t, []string{"get_player_info", "get_gameweek_status"}, report.Tools)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "2 tools", report.Checks[1].Message)
}

func TestProbe_SSEEnvelope(t *testing.T) {
	t.Parallel()

	host, port := fakeCollaborator(t, "mcp-sse", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"result":` + toolsResult + `}`))
	})

	report, err := newProber().Probe(context.Background(), transport.KindSSE, host, port)
	require.NoError(t, err)
	assert.Len(t, report.Tools, 2)
}

func TestProbe_N8NBridge(t *testing.T) {
	t.Parallel()

	host, port := fakeCollaborator(t, "n8n-mcp-bridge", jsonRPCTools)

	report, err := newProber().Probe(context.Background(), transport.KindN8NBridge, host, port)
	require.NoError(t, err)
	assert.Equal(t, "n8n-mcp-bridge", report.Service)
	assert.Contains(t, report.Checks[1].Target, "/tools/list")
}

func TestN8NBridge_AwaitingConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		detail        string
		wantErr       bool
		notConfigured bool
	}{
		{name: "before configure", detail: "Bridge not configured", notConfigured: true},
		{name: "other server error", detail: "MCP process exited", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			host, port := fakeCollaborator(t, "n8n-mcp-bridge", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"detail":"` + tt.detail + `"}`))
			})

			report, err := newProber().Probe(context.Background(), transport.KindN8NBridge, host, port)
			require.NotNil(t, report)
			require.Len(t, report.Checks, 2)
			assert.Equal(t, tt.notConfigured, report.NotConfigured())
			assert.Equal(t, tt.notConfigured, report.Checks[1].NotConfigured)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.detail)
				assert.False(t, report.Healthy())
				return
			}
			require.NoError(t, err)
			assert.True(t, report.Healthy())
			assert.Empty(t, report.Tools)
		})
	}
}

func TestProbe_DirectOnlyChecksHealth(t *testing.T) {
	t.Parallel()

	host, port := fakeCollaborator(t, "fpl-direct-api", nil)

	report, err := newProber().Probe(context.Background(), transport.KindDirect, host, port)
	require.NoError(t, err)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "health", report.Checks[0].Name)
}

func TestProbe_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "json-rpc error object",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`))
			},
			wantErr: "Method not found (code -32601)",
		},
		{
			name: "error string",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"error":"No response from MCP process"}`))
			},
			wantErr: "No response from MCP process",
		},
		{
			name: "sse failure envelope",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success":false}`))
			},
			wantErr: "service reported failure",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "Bridge not configured", http.StatusInternalServerError)
			},
			wantErr: "HTTP 500",
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html></html>"))
			},
			wantErr: "invalid JSON-RPC response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			host, port := fakeCollaborator(t, "mcp-http", tt.handler)

			report, err := newProber().Probe(context.Background(), transport.KindHTTP, host, port)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			require.NotNil(t, report)
			assert.False(t, report.Healthy())
			assert.True(t, report.Checks[0].OK, "health still passes")
		})
	}
}

func TestProbe_TCP(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port

	report, err := newProber().Probe(context.Background(), transport.KindTCP, "127.0.0.1", port)
	require.NoError(t, err)
	assert.True(t, report.Healthy())

	require.NoError(t, listener.Close())
	_, err = newProber().Probe(context.Background(), transport.KindTCP, "127.0.0.1", port)
	assert.Error(t, err)
}

func TestProbe_NotProbeable(t *testing.T) {
	t.Parallel()

	_, err := newProber().Probe(context.Background(), transport.KindStdio, "127.0.0.1", 0)
	assert.ErrorIs(t, err, ErrNotProbeable)

	_, err = newProber().Probe(context.Background(), transport.Kind("grpc"), "127.0.0.1", 9000)
	assert.ErrorIs(t, err, transport.ErrInvalidSelection)
}
