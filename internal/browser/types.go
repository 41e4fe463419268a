// internal/browser/types.go

// Package browser drives headless Chrome through chromedp. Browsers are
// pooled; each render runs in its own tab and collects media URLs in-page.
package browser

import (
	"context"
	"time"
)

// Config defines browser automation configuration
type Config struct {
	Headless       bool
	ExecPath       string
	NoSandbox      bool
	ProxyAddress   string
	UserAgent      string
	Timeout        time.Duration
	WaitDelay      time.Duration
	ViewportWidth  int
	ViewportHeight int
}

// DefaultConfig returns default browser configuration
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		Timeout:        60 * time.Second,
		WaitDelay:      time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}

// RenderRequest describes one page visit
type RenderRequest struct {
	URL string

	// WaitSelector, when set, is waited on for up to WaitTimeout
	WaitSelector string
	WaitTimeout  time.Duration

	// Selectors pick media elements; the first non-empty attribute of
	// Attributes on each element is taken as its URL
	Selectors  []string
	Attributes []string

	// ScrollCount scrolls to the bottom this many times to trigger lazy loading
	ScrollCount int
}

// RenderResult is what a render found
type RenderResult struct {
	FinalURL  string
	MediaURLs []string
	LoadTime  time.Duration
}

// Client is one browser instance
type Client interface {
	Render(ctx context.Context, req RenderRequest) (*RenderResult, error)
	Close() error
}

// Factory starts a browser
type Factory func() (Client, error)

// Stats contains browser automation statistics
type Stats struct {
	PagesLoaded     int           `json:"pages_loaded"`
	AverageLoadTime time.Duration `json:"average_load_time"`
	Errors          int           `json:"errors"`
	WaitTimeouts    int           `json:"wait_timeouts"`
}
