package httpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *HTTPError
		want string
	}{
		{
			name: "with detail",
			err:  &HTTPError{StatusCode: 503, URL: "http://127.0.0.1:8080/players", Detail: "FPL credentials not configured"},
			want: "HTTP 503 from http://127.0.0.1:8080/players: FPL credentials not configured",
		},
		{
			name: "without detail",
			err:  &HTTPError{StatusCode: 502, URL: "https://api.ipify.org"},
			want: "HTTP 502 from https://api.ipify.org",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.EqualError(t, tt.err, tt.want)
		})
	}
}

func TestErrorDetail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "fastapi detail", body: `{"detail":"Not Found"}`, want: "Not Found"},
		{name: "error string", body: `{"error":"Bridge not configured"}`, want: "Bridge not configured"},
		{name: "json-rpc error object", body: `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"}}`, want: "Method not found"},
		{name: "plain text", body: "Bridge not configured\n", want: "Bridge not configured"},
		{name: "json without message", body: `{"status":"unhealthy"}`, want: `{"status":"unhealthy"}`},
		{name: "empty", body: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errorDetail([]byte(tt.body)))
		})
	}
}
