package httpclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fpl-mcp/mcp-deployer/internal/httpclient"
)

func TestHTTPClient(t *testing.T) {
	t.Parallel()
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTPClient Suite")
}

var _ = Describe("DefaultClient", func() {
	var (
		client     httpclient.Client
		mockServer *httptest.Server
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = httpclient.NewDefaultClient(time.Second)
	})

	AfterEach(func() {
		if mockServer != nil {
			mockServer.Close()
			mockServer = nil
		}
	})

	Describe("Get", func() {
		It("returns the body and sends identifying headers", func() {
			mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodGet))
				Expect(r.Header.Get("User-Agent")).To(HavePrefix("mcp-deployer/"))
				_, _ = w.Write([]byte("203.0.113.7"))
			}))

			body, err := client.Get(ctx, mockServer.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("203.0.113.7"))
		})

		It("returns an HTTPError for non-2xx responses", func() {
			mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"detail":"FPL credentials not configured"}`))
			}))

			_, err := client.Get(ctx, mockServer.URL+"/health")
			Expect(err).To(HaveOccurred())

			var httpErr *httpclient.HTTPError
			Expect(errors.As(err, &httpErr)).To(BeTrue())
			Expect(httpErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(httpErr.URL).To(HaveSuffix("/health"))
			Expect(httpErr.Detail).To(Equal("FPL credentials not configured"))
		})

		It("rejects oversized responses", func() {
			mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.Copy(w, strings.NewReader(strings.Repeat("x", httpclient.MaxResponseSize+10)))
			}))

			_, err := client.Get(ctx, mockServer.URL)
			Expect(err).To(MatchError(ContainSubstring("exceeds maximum allowed size")))
		})

		It("honours the client timeout", func() {
			mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				time.Sleep(200 * time.Millisecond)
				w.WriteHeader(http.StatusOK)
			}))

			_, err := httpclient.NewDefaultClient(50*time.Millisecond).Get(ctx, mockServer.URL)
			Expect(err).To(MatchError(ContainSubstring("failed to execute request")))
		})

		It("fails on malformed URLs", func() {
			_, err := client.Get(ctx, "://bad")
			Expect(err).To(MatchError(ContainSubstring("failed to create request")))
		})
	})

	Describe("Post", func() {
		It("sends a JSON body", func() {
			mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
				body, _ := io.ReadAll(r.Body)
				Expect(string(body)).To(Equal(`{"method":"tools/list"}`))
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`))
			}))

			body, err := client.Post(ctx, mockServer.URL+"/mcp/call", []byte(`{"method":"tools/list"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`"tools":[]`))
		})
	})
})
