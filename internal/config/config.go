// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*EngineConfig, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes
func LoadFromBytes(data []byte) (*EngineConfig, error) {
	config, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Parse decodes YAML and applies defaults without validating
func Parse(data []byte) (*EngineConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}

	expanded := expandEnvironmentVariables(string(data))

	// Decoding over the defaults keeps an explicit max_retries: 0
	config := *DefaultConfig()
	config.StatsPath = ""
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	ApplyDefaults(&config)
	return &config, nil
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*EngineConfig, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read from reader: %w", err)
	}

	return LoadFromBytes(data)
}

var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvironmentVariables replaces ${VAR} references. Bare $ is left
// alone so regex patterns and CSS attribute selectors survive.
func expandEnvironmentVariables(content string) string {
	return envReference.ReplaceAllStringFunc(content, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// SaveToWriter writes configuration as YAML
func SaveToWriter(config *EngineConfig, writer io.Writer) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if writer == nil {
		return fmt.Errorf("writer cannot be nil")
	}

	enc := yaml.NewEncoder(writer)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}
	return enc.Close()
}

// DefaultConfig returns a configuration with every default applied and no
// sources or methods
func DefaultConfig() *EngineConfig {
	config := &EngineConfig{MaxRetries: DefaultMaxRetries}
	ApplyDefaults(config)
	return config
}

// ApplyDefaults fills zero values with defaults. MaxRetries is left alone
// since zero retries is a valid setting.
func ApplyDefaults(config *EngineConfig) {
	if config.DownloadsRoot == "" {
		config.DownloadsRoot = DefaultDownloadsRoot
	}
	if config.StatsPath == "" {
		config.StatsPath = filepath.Join(config.DownloadsRoot, DefaultStatsFile)
	}
	if config.StatsFlushIntervalSeconds == 0 {
		config.StatsFlushIntervalSeconds = DefaultStatsFlushSeconds
	}
	if config.BaseDelaySeconds == 0 {
		config.BaseDelaySeconds = DefaultBaseDelaySeconds
	}
	if config.MaxDelaySeconds == 0 {
		config.MaxDelaySeconds = DefaultMaxDelaySeconds
	}
	if config.MethodTimeoutSeconds == 0 {
		config.MethodTimeoutSeconds = DefaultMethodTimeoutSeconds
	}
	if config.MethodTimeouts == nil {
		config.MethodTimeouts = make(map[string]float64)
	}
	if _, ok := config.MethodTimeouts["UNIVERSAL_EXTRACTOR"]; !ok {
		config.MethodTimeouts["UNIVERSAL_EXTRACTOR"] = DefaultExtractorTimeout
	}
	if config.HTTPTimeoutSeconds == 0 {
		config.HTTPTimeoutSeconds = DefaultHTTPTimeoutSeconds
	}
	if config.SourceFanout == 0 {
		config.SourceFanout = DefaultSourceFanout
	}
	if config.MethodConcurrency == 0 {
		config.MethodConcurrency = DefaultMethodConcurrency
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = DefaultBreakerThreshold
	}
	if config.BreakerCooldownSeconds == 0 {
		config.BreakerCooldownSeconds = DefaultBreakerCooldownSeconds
	}
	if config.ProgressBuffer == 0 {
		config.ProgressBuffer = DefaultProgressBuffer
	}
	if config.JobRetentionSeconds == 0 {
		config.JobRetentionSeconds = DefaultJobRetentionSeconds
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}
	if config.Metrics.ListenAddress == "" {
		config.Metrics.ListenAddress = ":9090"
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "mediascrapexter"
	}
	if config.Browser.PoolSize == 0 {
		config.Browser.PoolSize = DefaultBrowserPoolSize
	}
	for i := range config.Sources {
		if config.Sources[i].RateLimitPerMin == 0 {
			config.Sources[i].RateLimitPerMin = DefaultRateLimitPerMin
		}
		config.Sources[i].ID = strings.TrimSpace(config.Sources[i].ID)
	}
}

// Method returns the method definition named name
func (c *EngineConfig) Method(name string) (MethodConfig, bool) {
	for _, m := range c.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodConfig{}, false
}

// Source returns the source profile with the given id
func (c *EngineConfig) Source(id string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// TimeoutFor returns the executor timeout in seconds for a method: its own
// override, then the kind override, then the global default
func (c *EngineConfig) TimeoutFor(m MethodConfig) float64 {
	if m.TimeoutSeconds > 0 {
		return m.TimeoutSeconds
	}
	if t, ok := c.MethodTimeouts[strings.ToUpper(m.Kind)]; ok && t > 0 {
		return t
	}
	return c.MethodTimeoutSeconds
}

// RateLimitFor returns the bucket rate for a source, honouring overrides
func (c *EngineConfig) RateLimitFor(s SourceConfig) float64 {
	if r, ok := c.RateLimitPerMin[s.ID]; ok && r > 0 {
		return r
	}
	if s.RateLimitPerMin > 0 {
		return s.RateLimitPerMin
	}
	return DefaultRateLimitPerMin
}
