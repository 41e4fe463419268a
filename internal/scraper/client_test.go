// internal/scraper/client_test.go
package scraper

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/valpere/MediaScrapexter/internal/config"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/proxy"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

func TestNewHTTPClient_DefaultConfig(t *testing.T) {
	client := NewHTTPClient(ClientConfig{})
	if client == nil {
		t.Fatal("Expected client to be created with default config")
	}
	if client.timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", client.timeout)
	}
	if client.StdClient().Timeout != 30*time.Second {
		t.Errorf("Expected the shared client to carry the 30s timeout, got %v", client.StdClient().Timeout)
	}
	if client.httpClient.Timeout != 0 {
		t.Errorf("Expected no whole-exchange cap on streamed downloads, got %v", client.httpClient.Timeout)
	}
	if client.StdClient().Jar == nil {
		t.Error("Expected a cookie jar")
	}
	if len(client.userAgents) == 0 {
		t.Error("Expected default user agents")
	}
}

func TestHTTPClient_Get_Success(t *testing.T) {
	var gotUA, gotReferer, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotCustom = r.Header.Get("X-Test")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>Test Content</body></html>"))
	}))
	defer server.Close()

	client := NewHTTPClient(ClientConfig{UserAgents: []string{"TestAgent/1.0"}})
	body, contentType, err := client.GetBody(context.Background(), server.URL, RequestOptions{
		Referer: "https://example.com/",
		Headers: map[string]string{"X-Test": "yes"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(string(body), "Test Content") {
		t.Errorf("Unexpected body %q", body)
	}
	if contentType != "text/html" {
		t.Errorf("Expected text/html, got %q", contentType)
	}
	if gotUA != "TestAgent/1.0" || gotReferer != "https://example.com/" || gotCustom != "yes" {
		t.Errorf("Headers not applied: ua=%q referer=%q custom=%q", gotUA, gotReferer, gotCustom)
	}
}

func TestHTTPClient_StatusKinds(t *testing.T) {
	tests := []struct {
		status int
		want   types.ErrorKind
	}{
		{http.StatusUnauthorized, types.ErrAuthRequired},
		{http.StatusForbidden, types.ErrForbidden},
		{http.StatusNotFound, types.ErrNotFound},
		{http.StatusGone, types.ErrNotFound},
		{http.StatusTooManyRequests, types.ErrRateLimited},
		{http.StatusTeapot, types.ErrUpstream4xx},
		{http.StatusBadGateway, types.ErrUpstream5xx},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client := NewHTTPClient(ClientConfig{})
		_, err := client.Get(context.Background(), server.URL, RequestOptions{})
		if kind := mmerrors.KindOf(err); kind != tt.want {
			t.Errorf("Status %d: expected %s, got %s (%v)", tt.status, tt.want, kind, err)
		}
		server.Close()
	}
}

func TestHTTPClient_BodyCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	client := NewHTTPClient(ClientConfig{MaxBodyBytes: 16})
	_, _, err := client.GetBody(context.Background(), server.URL, RequestOptions{})
	if kind := mmerrors.KindOf(err); kind != types.ErrParse {
		t.Errorf("Expected PARSE for oversized body, got %s", kind)
	}
}

func TestHTTPClient_InvalidURL(t *testing.T) {
	client := NewHTTPClient(ClientConfig{})
	_, err := client.Get(context.Background(), "not a url", RequestOptions{})
	if kind := mmerrors.KindOf(err); kind != types.ErrInvalidInput {
		t.Errorf("Expected INVALID_INPUT, got %s", kind)
	}
}

func TestHTTPClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client := NewHTTPClient(ClientConfig{Timeout: 2 * time.Second})
	_, err := client.Get(context.Background(), addr, RequestOptions{})
	if kind := mmerrors.KindOf(err); kind != types.ErrNetwork {
		t.Errorf("Expected NETWORK, got %s (%v)", kind, err)
	}
}

func TestHTTPClient_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewHTTPClient(ClientConfig{})
	_, err := client.Get(ctx, server.URL, RequestOptions{})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if kind := mmerrors.KindOf(err); kind != types.ErrTimeout {
		t.Errorf("Expected TIMEOUT for context deadline, got %s", kind)
	}
}

func TestHTTPClient_SlowBodyOutlivesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 6; i++ {
			w.Write([]byte("chunk"))
			w.(http.Flusher).Flush()
			time.Sleep(50 * time.Millisecond)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(ClientConfig{Timeout: 100 * time.Millisecond})
	resp, err := client.Get(context.Background(), server.URL, RequestOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Expected the body to stream past the timeout, got %v", err)
	}
	if want := strings.Repeat("chunk", 6); string(body) != want {
		t.Errorf("Expected %q, got %q", want, body)
	}
}

func TestHTTPClient_HeaderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(ClientConfig{Timeout: 50 * time.Millisecond})
	_, err := client.Get(context.Background(), server.URL, RequestOptions{})
	if kind := mmerrors.KindOf(err); kind != types.ErrTimeout {
		t.Errorf("Expected TIMEOUT waiting for headers, got %s (%v)", kind, err)
	}
}

func TestHTTPClient_GetBodyTimeoutCoversBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(ClientConfig{Timeout: 50 * time.Millisecond})
	_, _, err := client.GetBody(context.Background(), server.URL, RequestOptions{})
	if kind := mmerrors.KindOf(err); kind != types.ErrTimeout {
		t.Errorf("Expected TIMEOUT for a stalled page, got %s (%v)", kind, err)
	}
}

func TestHTTPClient_UserAgentRotation(t *testing.T) {
	client := NewHTTPClient(ClientConfig{UserAgents: []string{"A", "B"}})

	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("User-Agent"))
	}))
	defer server.Close()

	for i := 0; i < 3; i++ {
		resp, err := client.Get(context.Background(), server.URL, RequestOptions{})
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	want := []string{"A", "B", "A"}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Request %d: expected agent %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestHTTPClient_WaitsOnLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	rl := NewAdaptiveRateLimiter(RateLimiterConfig{Source: "s", PerMinute: 1})
	client := NewHTTPClient(ClientConfig{})

	resp, err := client.Get(context.Background(), server.URL, RequestOptions{Limiter: rl})
	if err != nil {
		t.Fatalf("First request should pass: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := client.Get(ctx, server.URL, RequestOptions{Limiter: rl}); err == nil {
		t.Error("Expected the second request to be held by the limiter")
	}
}

func TestCreateClient_Proxies(t *testing.T) {
	var hits int
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Host != "media.example" {
			t.Errorf("Expected absolute target at the proxy, got %s", r.URL)
		}
	}))
	defer proxyServer.Close()
	host, portStr, _ := net.SplitHostPort(proxyServer.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.DefaultConfig()
	cfg.Proxy = proxy.Config{Enabled: true, Providers: []proxy.Provider{{Name: "local", Host: host, Port: port}}}

	client, err := NewClientFactory().CreateClient(cfg)
	if err != nil {
		t.Fatalf("CreateClient failed: %v", err)
	}
	resp, err := client.Get(context.Background(), "http://media.example/a.jpg", RequestOptions{})
	if err != nil {
		t.Fatalf("Get through proxy failed: %v", err)
	}
	resp.Body.Close()

	if hits != 1 {
		t.Errorf("Expected 1 proxied request, got %d", hits)
	}
	if st := client.ProxyStats(); len(st) != 1 || st[0].Uses != 1 {
		t.Errorf("Unexpected proxy stats %+v", st)
	}

	cfg.Proxy.Providers = nil
	if _, err := NewClientFactory().CreateClient(cfg); err == nil {
		t.Error("Expected error for enabled proxies without providers")
	}
}
