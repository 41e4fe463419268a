// internal/errors/retry.go
package errors

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Retry defaults
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 1.0
	DefaultMaxDelay   = 60.0
	jitterFraction    = 0.10
)

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries       int     `yaml:"max_retries" json:"max_retries"`
	BaseDelaySeconds float64 `yaml:"base_delay_seconds" json:"base_delay_seconds"`
	MaxDelaySeconds  float64 `yaml:"max_delay_seconds" json:"max_delay_seconds"`
	Jitter           bool    `yaml:"retry_jitter" json:"retry_jitter"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       DefaultMaxRetries,
		BaseDelaySeconds: DefaultBaseDelay,
		MaxDelaySeconds:  DefaultMaxDelay,
	}
}

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first. It never sleeps itself.
type RetryPolicy struct {
	config RetryConfig
	rngMu  sync.Mutex
	rng    *rand.Rand
}

// NewRetryPolicy creates a policy. Negative values fall back to defaults.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxRetries < 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.BaseDelaySeconds < 0 {
		config.BaseDelaySeconds = DefaultBaseDelay
	}
	if config.MaxDelaySeconds <= 0 {
		config.MaxDelaySeconds = DefaultMaxDelay
	}
	return &RetryPolicy{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// MaxRetries returns the configured retry budget
func (p *RetryPolicy) MaxRetries() int {
	return p.config.MaxRetries
}

// ShouldRetry reports whether attempt (zero based) may be followed by another
func (p *RetryPolicy) ShouldRetry(attempt int, kind types.ErrorKind) bool {
	if attempt >= p.config.MaxRetries {
		return false
	}
	switch kind.Retry() {
	case types.RetryAlways, types.RetrySlow:
		return true
	case types.RetryOnce:
		return attempt == 0
	default:
		return false
	}
}

// DelaySeconds computes min(max, base * 2^attempt). With jitter enabled the
// value moves up to 10% either way and stays capped at max.
func (p *RetryPolicy) DelaySeconds(attempt int) float64 {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.config.BaseDelaySeconds * math.Pow(2, float64(attempt))
	if delay > p.config.MaxDelaySeconds || math.IsInf(delay, 1) {
		delay = p.config.MaxDelaySeconds
	}
	if p.config.Jitter && delay > 0 {
		p.rngMu.Lock()
		factor := 1 + jitterFraction*(2*p.rng.Float64()-1)
		p.rngMu.Unlock()
		delay = math.Min(p.config.MaxDelaySeconds, delay*factor)
	}
	return delay
}

// Delay returns the wait before the retry that follows attempt. Rate limited
// failures wait twice as long, still capped.
func (p *RetryPolicy) Delay(attempt int, kind types.ErrorKind) time.Duration {
	seconds := p.DelaySeconds(attempt)
	if kind.Retry() == types.RetrySlow {
		seconds = math.Min(p.config.MaxDelaySeconds, seconds*2)
	}
	return time.Duration(seconds * float64(time.Second))
}
