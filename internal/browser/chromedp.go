// internal/browser/chromedp.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	defaultWaitTimeout = 10 * time.Second
	scrollPause        = 500 * time.Millisecond
)

// DefaultAttributes are read from media elements when none are configured
var DefaultAttributes = []string{"data-src", "src", "href"}

// ChromeClient implements Client using chromedp
type ChromeClient struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	config        Config
	stats         Stats
	mu            sync.Mutex
}

// NewChromeClient starts a Chrome instance
func NewChromeClient(config Config) (*ChromeClient, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
	}
	if config.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if config.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}
	if config.ProxyAddress != "" {
		opts = append(opts, chromedp.ProxyServer(config.ProxyAddress))
	}
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ViewportWidth > 0 && config.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight))
	}

	// The allocator must outlive the browser context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run launches the browser
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &ChromeClient{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		config:        config,
	}, nil
}

// Render opens req.URL in a new tab and collects media URLs
func (c *ChromeClient) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	start := time.Now()

	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	defer cancel()
	if c.config.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		tabCtx, cancelTimeout = context.WithTimeout(tabCtx, c.config.Timeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		c.recordError()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("navigation failed: %w", err)
	}

	if req.WaitSelector != "" {
		timeout := req.WaitTimeout
		if timeout <= 0 {
			timeout = defaultWaitTimeout
		}
		waitCtx, cancelWait := context.WithTimeout(tabCtx, timeout)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(req.WaitSelector, chromedp.ByQuery))
		cancelWait()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Collect whatever rendered
			c.mu.Lock()
			c.stats.WaitTimeouts++
			c.mu.Unlock()
		}
	}

	var actions []chromedp.Action
	for i := 0; i < req.ScrollCount; i++ {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight`, nil),
			chromedp.Sleep(scrollPause),
		)
	}
	if c.config.WaitDelay > 0 {
		actions = append(actions, chromedp.Sleep(c.config.WaitDelay))
	}

	script, err := collectScript(req.Selectors, req.Attributes)
	if err != nil {
		return nil, err
	}
	result := &RenderResult{}
	actions = append(actions,
		chromedp.Evaluate(script, &result.MediaURLs),
		chromedp.Location(&result.FinalURL),
	)
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		c.recordError()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("media collection failed: %w", err)
	}

	result.LoadTime = time.Since(start)
	c.recordLoad(result.LoadTime)
	return result, nil
}

// collectScript builds the in-page collector. URLs are resolved against
// document.baseURI and only http(s) survives.
func collectScript(selectors, attributes []string) (string, error) {
	if len(attributes) == 0 {
		attributes = DefaultAttributes
	}
	sels, err := json.Marshal(selectors)
	if err != nil {
		return "", fmt.Errorf("failed to encode selectors: %w", err)
	}
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return fmt.Sprintf(`(() => {
	const out = [];
	const seen = new Set();
	for (const sel of %s) {
		for (const el of document.querySelectorAll(sel)) {
			for (const attr of %s) {
				const v = el.getAttribute(attr);
				if (!v) continue;
				try {
					const u = new URL(v, document.baseURI);
					if ((u.protocol === "http:" || u.protocol === "https:") && !seen.has(u.href)) {
						seen.add(u.href);
						out.push(u.href);
					}
				} catch (e) {}
				break;
			}
		}
	}
	return out;
})()`, sels, attrs), nil
}

func (c *ChromeClient) recordError() {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
}

func (c *ChromeClient) recordLoad(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.PagesLoaded++
	if c.stats.PagesLoaded == 1 {
		c.stats.AverageLoadTime = d
	} else {
		c.stats.AverageLoadTime = (c.stats.AverageLoadTime + d) / 2
	}
}

// GetStats returns browser statistics
func (c *ChromeClient) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close shuts the browser down
func (c *ChromeClient) Close() error {
	c.browserCancel()
	c.allocCancel()
	return nil
}
