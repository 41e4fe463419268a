// internal/scraper/client.go
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/proxy"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// DefaultMaxBodyBytes caps pages read into memory
const DefaultMaxBodyBytes = 16 << 20

// HTTPClient is the HTTP client methods share. It rotates user agents,
// keeps cookies per public suffix and turns failures into kind-tagged
// errors. It does not retry; the executor owns retries.
//
// The configured timeout bounds the wait for response headers on Get and
// the whole exchange on GetBody. Streamed bodies from Get are bounded only
// by the caller's context.
type HTTPClient struct {
	httpClient   *http.Client
	timeout      time.Duration
	userAgents   []string
	currentUA    int
	uaMutex      sync.Mutex
	headers      map[string]string
	maxBodyBytes int64
	proxies      *proxy.Manager
}

// ClientConfig defines configuration options for the HTTP client
type ClientConfig struct {
	Timeout      time.Duration
	UserAgents   []string
	Headers      map[string]string
	MaxBodyBytes int64

	// Proxies, when set, rotate outbound requests through a proxy set
	Proxies *proxy.Manager

	// Transport overrides the default transport, mainly for tests
	Transport http.RoundTripper
}

// RequestOptions are per-request settings
type RequestOptions struct {
	Referer string
	Accept  string
	Headers map[string]string

	// Limiter, when set, is waited on before the request is sent
	Limiter Limiter
}

// NewHTTPClient creates a new HTTP client with the specified configuration
func NewHTTPClient(config ClientConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = getDefaultUserAgents()
	}

	transport := config.Transport
	if transport == nil {
		base := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
		transport = base
		if config.Proxies != nil {
			transport = config.Proxies.Transport(base)
		}
	}

	// cookiejar.New only fails with a nil-safe options struct
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		timeout:      config.Timeout,
		userAgents:   config.UserAgents,
		headers:      config.Headers,
		maxBodyBytes: config.MaxBodyBytes,
		proxies:      config.Proxies,
	}
}

// Get performs a GET request. A non-2xx response is closed and returned as
// an error tagged with the kind its status maps to.
func (c *HTTPClient) Get(ctx context.Context, targetURL string, opts RequestOptions) (*http.Response, error) {
	if _, err := url.ParseRequestURI(targetURL); err != nil {
		return nil, mmerrors.Wrap(types.ErrInvalidInput, err, "invalid URL")
	}

	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		cancel()
		return nil, mmerrors.Wrap(types.ErrInvalidInput, err, "failed to create request")
	}
	c.setRequestHeaders(req, opts)

	timer := time.AfterFunc(c.timeout, cancel)
	resp, err := c.httpClient.Do(req)
	expired := !timer.Stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if expired {
			return nil, mmerrors.Wrap(types.ErrTimeout, err, fmt.Sprintf("no response from %s within %v", targetURL, c.timeout))
		}
		return nil, mmerrors.Wrap(mmerrors.KindOf(err), err, "request failed")
	}
	if expired {
		resp.Body.Close()
		cancel()
		return nil, mmerrors.New(types.ErrTimeout, "no response from %s within %v", targetURL, c.timeout)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	cancel()
	return nil, mmerrors.HTTPStatus(resp.StatusCode, targetURL)
}

// cancelOnClose releases a response's request context with its body
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// GetBody performs a GET and reads the body, capped at MaxBodyBytes
func (c *HTTPClient) GetBody(ctx context.Context, targetURL string, opts RequestOptions) ([]byte, string, error) {
	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
		opts.Limiter = nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.Get(ctx, targetURL, opts)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", mmerrors.Wrap(types.ErrNetwork, err, "failed to read body")
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, "", mmerrors.New(types.ErrParse, "response from %s exceeds %d bytes", targetURL, c.maxBodyBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Do sends a prepared request with the client's headers and cookies, for
// callers that need a different method or body. The request's context is
// its only deadline.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.setRequestHeaders(req, RequestOptions{})
	return c.httpClient.Do(req)
}

// StdClient returns a client sharing the transport and cookie jar, with
// the configured timeout over each whole exchange, for libraries that take
// one
func (c *HTTPClient) StdClient() *http.Client {
	std := *c.httpClient
	std.Timeout = c.timeout
	return &std
}

// setRequestHeaders configures request headers including user agent rotation
func (c *HTTPClient) setRequestHeaders(req *http.Request, opts RequestOptions) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.getNextUserAgent())
	}

	accept := opts.Accept
	if accept == "" {
		accept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")

	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
}

// getNextUserAgent returns the next user agent in rotation
func (c *HTTPClient) getNextUserAgent() string {
	c.uaMutex.Lock()
	defer c.uaMutex.Unlock()

	if len(c.userAgents) == 0 {
		return "MediaScrapexter/1.0"
	}

	userAgent := c.userAgents[c.currentUA]
	c.currentUA = (c.currentUA + 1) % len(c.userAgents)

	return userAgent
}

// UserAgent returns the agent the next request will use, without rotating
func (c *HTTPClient) UserAgent() string {
	c.uaMutex.Lock()
	defer c.uaMutex.Unlock()
	if len(c.userAgents) == 0 {
		return "MediaScrapexter/1.0"
	}
	return c.userAgents[c.currentUA]
}

// getDefaultUserAgents returns a set of realistic user agent strings
func getDefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	}
}

// ProxyStats reports the rotated proxies, nil when none are configured
func (c *HTTPClient) ProxyStats() []proxy.Stat {
	if c.proxies == nil {
		return nil
	}
	return c.proxies.Stats()
}

// String returns a short description for logs
func (c *HTTPClient) String() string {
	return fmt.Sprintf("HTTPClient(timeout=%v, agents=%d)", c.httpClient.Timeout, len(c.userAgents))
}
