// pkg/api/api.go

// Package api is the embedding surface: it builds an engine, its methods
// and their collaborators from one configuration.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/valpere/MediaScrapexter/internal/browser"
	"github.com/valpere/MediaScrapexter/internal/config"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/methods"
	"github.com/valpere/MediaScrapexter/internal/monitoring"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Options are collaborators a host may inject; zero values build the
// production defaults from config
type Options struct {
	Fs      afero.Fs
	Logger  utils.Logger
	Metrics *monitoring.MetricsManager
	Clock   func() time.Time

	// Renderer replaces the Chrome pool for HEADLESS_BROWSER methods
	Renderer methods.Renderer
	// Extractor replaces yt-dlp for UNIVERSAL_EXTRACTOR methods
	Extractor methods.ExtractorRunner
	// Reddit replaces the go-reddit client factory
	Reddit methods.RedditFactory
}

// Client owns an engine and the browser pool its methods share
type Client struct {
	config  *config.EngineConfig
	engine  *scraper.Engine
	http    *scraper.HTTPClient
	pool    *browser.Pool
	metrics *monitoring.MetricsManager
	logger  utils.Logger
}

// LoadConfig reads and validates a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	return config.LoadFromFile(path)
}

// New builds an engine from cfg with every configured method and source
// registered
func New(cfg *Config, opts Options) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	httpClient, err := scraper.NewClientFactory().CreateClient(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{config: cfg, http: httpClient, metrics: opts.Metrics, logger: logger}

	deps := methods.Deps{
		Client:    httpClient,
		Extractor: opts.Extractor,
		Reddit:    opts.Reddit,
	}
	switch {
	case opts.Renderer != nil:
		deps.Renderer = opts.Renderer
	case usesKind(cfg, types.KindHeadlessBrowser):
		c.pool = browser.NewPool(BrowserConfig(cfg), cfg.Browser.PoolSize)
		deps.Renderer = c.pool
	}

	built, err := methods.FromConfig(cfg, deps)
	if err != nil {
		c.closePool()
		return nil, err
	}

	engineOpts := []scraper.EngineOption{scraper.WithLogger(logger)}
	if opts.Fs != nil {
		engineOpts = append(engineOpts, scraper.WithFs(opts.Fs))
	}
	if opts.Metrics != nil {
		engineOpts = append(engineOpts, scraper.WithMetrics(opts.Metrics))
	}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, scraper.WithClock(opts.Clock))
	}

	engine, err := scraper.NewEngine(scraper.SettingsFromConfig(cfg), engineOpts...)
	if err != nil {
		c.closePool()
		return nil, err
	}
	c.engine = engine

	for _, m := range built {
		engine.RegisterMethod(m)
	}
	for _, mc := range cfg.Methods {
		if mc.IsEnabled() {
			continue
		}
		if err := engine.SetMethodEnabled(mc.Name, false); err != nil {
			c.Close()
			return nil, err
		}
	}
	for _, src := range scraper.SourcesFromConfig(cfg) {
		if err := engine.RegisterSource(src); err != nil {
			c.Close()
			return nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
	}

	logger.Infof("client ready: %d methods, %d sources", len(built), len(cfg.Sources))
	return c, nil
}

// BrowserConfig maps the browser section of cfg onto a Chrome config
func BrowserConfig(cfg *config.EngineConfig) browser.Config {
	bc := browser.DefaultConfig()
	if cfg.Browser.Headless != nil {
		bc.Headless = *cfg.Browser.Headless
	}
	bc.ExecPath = cfg.Browser.ExecPath
	bc.NoSandbox = cfg.Browser.NoSandbox
	bc.ProxyAddress = cfg.Browser.ProxyAddress
	if cfg.Browser.WaitSeconds > 0 {
		bc.WaitDelay = time.Duration(cfg.Browser.WaitSeconds * float64(time.Second))
	}
	if len(cfg.UserAgents) > 0 {
		bc.UserAgent = cfg.UserAgents[0]
	}
	return bc
}

func usesKind(cfg *config.EngineConfig, kind types.MethodKind) bool {
	for _, m := range cfg.Methods {
		if types.MethodKind(strings.ToUpper(m.Kind)) == kind && m.IsEnabled() {
			return true
		}
	}
	return false
}

// Run starts a job; follow it through Job.Events and Job.Wait
func (c *Client) Run(ctx context.Context, req JobRequest) (*Job, error) {
	return c.engine.RunJob(ctx, req)
}

// RunAndWait starts a job, discards its events and blocks until it is
// terminal. Cancelling ctx cancels the job; the cancelled summary is still
// returned.
func (c *Client) RunAndWait(ctx context.Context, req JobRequest) (JobSummary, error) {
	job, err := c.engine.RunJob(ctx, req)
	if err != nil {
		return JobSummary{}, err
	}
	go func() {
		for range job.Events() {
		}
	}()
	<-job.Done()
	return job.Summary(), nil
}

// RegisterMethod adds a host-supplied method, typically a CUSTOM one
func (c *Client) RegisterMethod(m Method) {
	c.engine.RegisterMethod(m)
}

// Engine exposes the underlying engine
func (c *Client) Engine() *scraper.Engine {
	return c.engine
}

// Config returns the configuration the client was built from
func (c *Client) Config() *Config {
	return c.config
}

// Metrics returns the metrics manager, nil when none was injected
func (c *Client) Metrics() *monitoring.MetricsManager {
	return c.metrics
}

// Health builds a health manager reporting on breakers, proxies and the
// stats store
func (c *Client) Health() *monitoring.HealthManager {
	hm := monitoring.NewHealthManager(5 * time.Second)
	hm.RegisterCheck("breakers", false, func(context.Context) (monitoring.HealthStatus, string) {
		open := 0
		for _, b := range c.engine.Breakers() {
			if b.State != mmerrors.CircuitClosed.String() {
				open++
			}
		}
		if open > 0 {
			return monitoring.HealthStatusDegraded, fmt.Sprintf("%d source breakers not closed", open)
		}
		return monitoring.HealthStatusHealthy, "all breakers closed"
	})
	if c.http.ProxyStats() != nil {
		hm.RegisterCheck("proxies", false, func(context.Context) (monitoring.HealthStatus, string) {
			stats := c.http.ProxyStats()
			benched := 0
			for _, st := range stats {
				if !st.Healthy {
					benched++
				}
			}
			switch {
			case benched == len(stats):
				return monitoring.HealthStatusUnhealthy, "every proxy is benched"
			case benched > 0:
				return monitoring.HealthStatusDegraded, fmt.Sprintf("%d of %d proxies benched", benched, len(stats))
			}
			return monitoring.HealthStatusHealthy, fmt.Sprintf("%d proxies healthy", len(stats))
		})
	}
	hm.RegisterCheck("stats", true, func(context.Context) (monitoring.HealthStatus, string) {
		if err := c.engine.FlushStats(); err != nil {
			return monitoring.HealthStatusUnhealthy, err.Error()
		}
		return monitoring.HealthStatusHealthy, "stats persisted"
	})
	return hm
}

// Close shuts the engine down, then the browser pool
func (c *Client) Close() error {
	var errs []error
	if c.engine != nil {
		errs = append(errs, c.engine.Close())
	}
	errs = append(errs, c.closePool())
	return errors.Join(errs...)
}

func (c *Client) closePool() error {
	if c.pool == nil {
		return nil
	}
	return c.pool.Close()
}
