// internal/scraper/config_integration.go
package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/valpere/MediaScrapexter/internal/config"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/proxy"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// ClientFactory creates HTTP clients configured from an EngineConfig
type ClientFactory struct{}

// NewClientFactory creates a new client factory instance
func NewClientFactory() *ClientFactory {
	return &ClientFactory{}
}

// CreateClient builds the shared HTTPClient. Source headers are applied per
// request by the methods, not here.
func (f *ClientFactory) CreateClient(cfg *config.EngineConfig) (*HTTPClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine configuration cannot be nil")
	}

	clientConfig := ClientConfig{
		Timeout:    seconds(cfg.HTTPTimeoutSeconds),
		UserAgents: cfg.UserAgents,
	}
	if err := f.validateClientConfig(clientConfig); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	if cfg.Proxy.Enabled {
		proxies, err := proxy.NewManager(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy configuration: %w", err)
		}
		clientConfig.Proxies = proxies
	}
	return NewHTTPClient(clientConfig), nil
}

func (f *ClientFactory) validateClientConfig(c ClientConfig) error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	for i, ua := range c.UserAgents {
		if strings.TrimSpace(ua) == "" {
			return fmt.Errorf("user_agents[%d] is empty", i)
		}
	}
	return nil
}

// SettingsFromConfig converts a validated EngineConfig into engine settings
func SettingsFromConfig(cfg *config.EngineConfig) Settings {
	s := Settings{
		DownloadsRoot:      cfg.DownloadsRoot,
		StatsPath:          cfg.StatsPath,
		StatsFlushInterval: seconds(cfg.StatsFlushIntervalSeconds),
		Retry: mmerrors.RetryConfig{
			MaxRetries:       cfg.MaxRetries,
			BaseDelaySeconds: cfg.BaseDelaySeconds,
			MaxDelaySeconds:  cfg.MaxDelaySeconds,
			Jitter:           cfg.RetryJitter,
		},
		MethodTimeout:     seconds(cfg.MethodTimeoutSeconds),
		KindTimeouts:      make(map[types.MethodKind]time.Duration, len(cfg.MethodTimeouts)),
		SourceFanout:      cfg.SourceFanout,
		MethodConcurrency: cfg.MethodConcurrency,
		Breaker: mmerrors.CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerThreshold,
			ResetTimeout: seconds(cfg.BreakerCooldownSeconds),
		},
		RateLimitPerMin: cfg.RateLimitPerMin,
		ProgressBuffer:  cfg.ProgressBuffer,
		JobRetention:    seconds(cfg.JobRetentionSeconds),
	}
	for kind, t := range cfg.MethodTimeouts {
		s.KindTimeouts[types.MethodKind(strings.ToUpper(kind))] = seconds(t)
	}
	return s
}

// SourcesFromConfig returns the source descriptors declared in cfg
func SourcesFromConfig(cfg *config.EngineConfig) []types.Source {
	out := make([]types.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		out = append(out, types.Source{
			ID:                     sc.ID,
			Category:               sc.Category,
			NSFW:                   sc.NSFW,
			RequiresAuth:           sc.RequiresAuth,
			DefaultRateLimitPerMin: cfg.RateLimitFor(sc),
		})
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
