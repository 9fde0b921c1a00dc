package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxDetailSize bounds how much of an error response body is kept
const maxDetailSize = 512

// HTTPError is a non-2xx response. Detail carries the service's own error
// text, e.g. the "not configured" message of a transport started without
// credentials.
type HTTPError struct {
	StatusCode int
	URL        string
	Detail     string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// newHTTPError builds an HTTPError from resp, reading at most maxDetailSize
// bytes of its body
func newHTTPError(resp *http.Response, url string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailSize))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		URL:        url,
		Detail:     errorDetail(data),
	}
}

// errorDetail extracts the message of a JSON error body ({"detail": ...} or
// {"error": ...}) and falls back to the trimmed text
func errorDetail(data []byte) string {
	var body struct {
		Detail any `json:"detail"`
		Error  any `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		for _, v := range []any{body.Detail, body.Error} {
			switch msg := v.(type) {
			case string:
				if msg != "" {
					return msg
				}
			case map[string]any:
				if s, ok := msg["message"].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return strings.TrimSpace(string(data))
}
