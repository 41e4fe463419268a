// internal/config/types.go

// Package config provides configuration types for MediaScrapexter: engine
// tuning, method definitions, and per-source method profiles.
package config

import (
	"github.com/valpere/MediaScrapexter/internal/proxy"
	"github.com/valpere/MediaScrapexter/internal/utils"
)

// Default engine settings
const (
	DefaultDownloadsRoot          = "./downloads"
	DefaultStatsFile              = ".mmse-stats.json"
	DefaultStatsFlushSeconds      = 30
	DefaultMaxRetries             = 5
	DefaultBaseDelaySeconds       = 1.0
	DefaultMaxDelaySeconds        = 60.0
	DefaultMethodTimeoutSeconds   = 120.0
	DefaultExtractorTimeout       = 240.0
	DefaultSourceFanout           = 4
	DefaultMethodConcurrency      = 4
	DefaultBreakerThreshold       = 3
	DefaultBreakerCooldownSeconds = 300.0
	DefaultRateLimitPerMin        = 60.0
	DefaultProgressBuffer         = 256
	DefaultJobRetentionSeconds    = 300.0
	DefaultHTTPTimeoutSeconds     = 30.0
	DefaultBrowserPoolSize        = 2
)

// EngineConfig is the complete configuration of an engine
type EngineConfig struct {
	// DownloadsRoot is the directory all job output lives under
	DownloadsRoot string `yaml:"downloads_root" json:"downloads_root" validate:"required"`

	// StatsPath is the learned stats document, defaulting under DownloadsRoot
	StatsPath                 string  `yaml:"stats_path" json:"stats_path"`
	StatsFlushIntervalSeconds float64 `yaml:"stats_flush_interval_seconds" json:"stats_flush_interval_seconds" validate:"gte=0"`

	// Retry policy
	MaxRetries       int     `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=50"`
	BaseDelaySeconds float64 `yaml:"base_delay_seconds" json:"base_delay_seconds" validate:"gte=0"`
	MaxDelaySeconds  float64 `yaml:"max_delay_seconds" json:"max_delay_seconds" validate:"gt=0"`
	RetryJitter      bool    `yaml:"retry_jitter" json:"retry_jitter"`

	// Executor timeouts; MethodTimeouts is keyed by method kind
	MethodTimeoutSeconds float64            `yaml:"method_timeout_seconds" json:"method_timeout_seconds" validate:"gt=0"`
	MethodTimeouts       map[string]float64 `yaml:"method_timeouts,omitempty" json:"method_timeouts,omitempty"`
	HTTPTimeoutSeconds   float64            `yaml:"http_timeout_seconds" json:"http_timeout_seconds" validate:"gt=0"`

	// Concurrency
	SourceFanout      int `yaml:"source_fanout" json:"source_fanout" validate:"gte=1,lte=64"`
	MethodConcurrency int `yaml:"method_concurrency" json:"method_concurrency" validate:"gte=1,lte=64"`

	// Circuit breaker
	BreakerThreshold       int     `yaml:"breaker_threshold" json:"breaker_threshold" validate:"gte=1"`
	BreakerCooldownSeconds float64 `yaml:"breaker_cooldown_seconds" json:"breaker_cooldown_seconds" validate:"gt=0"`

	// RateLimitPerMin overrides the per-source bucket rate
	RateLimitPerMin map[string]float64 `yaml:"rate_limit_per_min,omitempty" json:"rate_limit_per_min,omitempty"`

	// Jobs
	ProgressBuffer      int     `yaml:"progress_buffer" json:"progress_buffer" validate:"gte=0"`
	JobRetentionSeconds float64 `yaml:"job_retention_seconds" json:"job_retention_seconds" validate:"gte=0"`

	UserAgents []string `yaml:"user_agents,omitempty" json:"user_agents,omitempty"`

	Logging utils.LogConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig   `yaml:"metrics" json:"metrics"`
	Catalog CatalogConfig   `yaml:"catalog" json:"catalog"`
	Browser BrowserConfig   `yaml:"browser" json:"browser"`
	Proxy   proxy.Config    `yaml:"proxy" json:"proxy"`

	Methods []MethodConfig `yaml:"methods" json:"methods" validate:"dive"`
	Sources []SourceConfig `yaml:"sources" json:"sources" validate:"dive"`
}

// MetricsConfig configures the Prometheus endpoint of the host harness
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
	Path          string `yaml:"path" json:"path"`
	Namespace     string `yaml:"namespace" json:"namespace"`
}

// CatalogConfig configures the optional SQL asset catalog
type CatalogConfig struct {
	Driver      string `yaml:"driver,omitempty" json:"driver,omitempty" validate:"omitempty,oneof=sqlite3 postgres mysql"`
	DSN         string `yaml:"dsn,omitempty" json:"dsn,omitempty" validate:"required_with=Driver"`
	TablePrefix string `yaml:"table_prefix,omitempty" json:"table_prefix,omitempty" validate:"omitempty,alphanum"`
}

// BrowserConfig configures the headless browser pool
type BrowserConfig struct {
	Headless     *bool   `yaml:"headless,omitempty" json:"headless,omitempty"`
	PoolSize     int     `yaml:"pool_size" json:"pool_size" validate:"gte=0,lte=16"`
	ExecPath     string  `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	WaitSeconds  float64 `yaml:"wait_seconds" json:"wait_seconds" validate:"gte=0"`
	NoSandbox    bool    `yaml:"no_sandbox" json:"no_sandbox"`
	ProxyAddress string  `yaml:"proxy,omitempty" json:"proxy,omitempty"`
}

// MethodConfig declares a method. Its per-source parameters live in the
// source profiles that reference it by name.
type MethodConfig struct {
	Name           string  `yaml:"name" json:"name" validate:"required"`
	Kind           string  `yaml:"kind" json:"kind" validate:"required"`
	Priority       int     `yaml:"priority" json:"priority"`
	Enabled        *bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds float64 `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" validate:"gte=0"`
}

// IsEnabled reports whether the method starts enabled (default true)
func (m MethodConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// SourceConfig declares a source and how each method talks to it
type SourceConfig struct {
	ID              string                  `yaml:"id" json:"id" validate:"required"`
	Category        string                  `yaml:"category" json:"category"`
	NSFW            bool                    `yaml:"nsfw" json:"nsfw"`
	RequiresAuth    bool                    `yaml:"requires_auth" json:"requires_auth"`
	RateLimitPerMin float64                 `yaml:"rate_limit_per_min" json:"rate_limit_per_min" validate:"gte=0"`
	Methods         map[string]MethodParams `yaml:"methods" json:"methods"`
}

// MethodParams are the per-source settings of one method. Which fields are
// read depends on the method kind.
type MethodParams struct {
	ContentTypes    []string          `yaml:"content_types,omitempty" json:"content_types,omitempty"`
	SearchURL       string            `yaml:"search_url,omitempty" json:"search_url,omitempty"`
	SafeSearchParam string            `yaml:"safe_search_param,omitempty" json:"safe_search_param,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Referer         string            `yaml:"referer,omitempty" json:"referer,omitempty"`

	// HTML_JSON_EXTRACTION: regexes whose first group is JSON or a URL,
	// and the JSON keys holding media URLs
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	JSONKeys []string `yaml:"json_keys,omitempty" json:"json_keys,omitempty"`

	// HTML_DOM_SCRAPE and HEADLESS_BROWSER
	Selectors             []string `yaml:"selectors,omitempty" json:"selectors,omitempty"`
	Attributes            []string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	RequireMediaExtension bool     `yaml:"require_media_extension,omitempty" json:"require_media_extension,omitempty"`
	NextSelector          string   `yaml:"next_selector,omitempty" json:"next_selector,omitempty"`
	WaitSelector          string   `yaml:"wait_selector,omitempty" json:"wait_selector,omitempty"`
	ScrollCount           int      `yaml:"scroll_count,omitempty" json:"scroll_count,omitempty"`

	// SITE_API: api is "reddit" or "json"
	API          string `yaml:"api,omitempty" json:"api,omitempty"`
	Subreddit    string `yaml:"subreddit,omitempty" json:"subreddit,omitempty"`
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	Username     string `yaml:"username,omitempty" json:"username,omitempty"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	ItemsPath    string `yaml:"items_path,omitempty" json:"items_path,omitempty"`
	URLPath      string `yaml:"url_path,omitempty" json:"url_path,omitempty"`
	NSFWPath     string `yaml:"nsfw_path,omitempty" json:"nsfw_path,omitempty"`
	Token        string `yaml:"token,omitempty" json:"token,omitempty"`
	PageSize     int    `yaml:"page_size,omitempty" json:"page_size,omitempty"`
	FirstPage    int    `yaml:"first_page,omitempty" json:"first_page,omitempty"`
	MaxPages     int    `yaml:"max_pages,omitempty" json:"max_pages,omitempty"`

	// UNIVERSAL_EXTRACTOR: yt-dlp search prefix such as "ytsearch"
	SearchPrefix string `yaml:"search_prefix,omitempty" json:"search_prefix,omitempty"`
	Format       string `yaml:"format,omitempty" json:"format,omitempty"`
}
