// internal/scraper/ratelimiter.go
package scraper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiting constants
const (
	// MinRatePerMin is the floor the adaptive limiter never goes below
	MinRatePerMin = 1.0

	// DefaultBackoffWindow is how long a halved rate holds without a success
	DefaultBackoffWindow = 5 * time.Minute

	// RateLimitBackoffFactor scales the rate after a RATE_LIMITED outcome
	RateLimitBackoffFactor = 0.5
)

// Limiter hands out request tokens. Methods call Wait once per page fetch
// or download.
type Limiter interface {
	Wait(ctx context.Context) error
}

// AdaptiveRateLimiter is a per-source token bucket that slows down when the
// source answers RATE_LIMITED and recovers on the next success or once the
// backoff window has passed.
type AdaptiveRateLimiter struct {
	limiter *rate.Limiter
	mu      sync.Mutex

	source        string
	basePerMin    float64
	currentPerMin float64
	window        time.Duration
	backoffUntil  time.Time
	now           func() time.Time

	successCount int
	limitedCount int
	waitCount    int

	onWait func(source string)
}

// RateLimiterConfig configures one source's limiter
type RateLimiterConfig struct {
	Source        string
	PerMinute     float64
	BackoffWindow time.Duration

	// OnWait is called whenever a caller had to wait for a token
	OnWait func(source string)
	Now    func() time.Time
}

// NewAdaptiveRateLimiter creates a limiter at the configured rate. Burst is
// one token so requests are spread evenly.
func NewAdaptiveRateLimiter(config RateLimiterConfig) *AdaptiveRateLimiter {
	if config.PerMinute <= 0 {
		config.PerMinute = 60
	}
	if config.BackoffWindow <= 0 {
		config.BackoffWindow = DefaultBackoffWindow
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	rl := &AdaptiveRateLimiter{
		source:        config.Source,
		basePerMin:    config.PerMinute,
		currentPerMin: config.PerMinute,
		window:        config.BackoffWindow,
		now:           config.Now,
		onWait:        config.OnWait,
	}
	rl.limiter = rate.NewLimiter(perMinute(config.PerMinute), 1)
	return rl
}

func perMinute(n float64) rate.Limit {
	return rate.Limit(n / 60.0)
}

// Wait blocks until a token is available or ctx is done
func (rl *AdaptiveRateLimiter) Wait(ctx context.Context) error {
	rl.expireBackoff()

	r := rl.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limiter for %s cannot grant a token", rl.source)
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	rl.mu.Lock()
	rl.waitCount++
	onWait := rl.onWait
	rl.mu.Unlock()
	if onWait != nil {
		onWait(rl.source)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// ReportSuccess restores the configured rate
func (rl *AdaptiveRateLimiter) ReportSuccess() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.successCount++
	if rl.currentPerMin != rl.basePerMin {
		rl.setRateLocked(rl.basePerMin)
		rl.backoffUntil = time.Time{}
	}
}

// ReportRateLimited halves the rate, never below MinRatePerMin, for one
// backoff window
func (rl *AdaptiveRateLimiter) ReportRateLimited() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limitedCount++
	rl.setRateLocked(math.Max(MinRatePerMin, rl.currentPerMin*RateLimitBackoffFactor))
	rl.backoffUntil = rl.now().Add(rl.window)
}

func (rl *AdaptiveRateLimiter) expireBackoff() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.backoffUntil.IsZero() && !rl.now().Before(rl.backoffUntil) {
		rl.setRateLocked(rl.basePerMin)
		rl.backoffUntil = time.Time{}
	}
}

// setRateLocked must be called with mu held
func (rl *AdaptiveRateLimiter) setRateLocked(perMin float64) {
	rl.currentPerMin = perMin
	rl.limiter.SetLimit(perMinute(perMin))
}

// GetCurrentRate returns the current tokens per minute
func (rl *AdaptiveRateLimiter) GetCurrentRate() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.currentPerMin
}

// GetStats returns current rate limiter statistics
func (rl *AdaptiveRateLimiter) GetStats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return RateLimiterStats{
		Source:        rl.source,
		BasePerMin:    rl.basePerMin,
		CurrentPerMin: rl.currentPerMin,
		SuccessCount:  rl.successCount,
		LimitedCount:  rl.limitedCount,
		WaitCount:     rl.waitCount,
		BackoffUntil:  rl.backoffUntil,
	}
}

// RateLimiterStats contains rate limiter statistics
type RateLimiterStats struct {
	Source        string    `json:"source"`
	BasePerMin    float64   `json:"base_per_min"`
	CurrentPerMin float64   `json:"current_per_min"`
	SuccessCount  int       `json:"success_count"`
	LimitedCount  int       `json:"limited_count"`
	WaitCount     int       `json:"wait_count"`
	BackoffUntil  time.Time `json:"backoff_until,omitempty"`
}

// String returns a string representation of the rate limiter
func (rl *AdaptiveRateLimiter) String() string {
	stats := rl.GetStats()
	return fmt.Sprintf("AdaptiveRateLimiter(source=%s, rate=%.2f/min, base=%.2f/min, limited=%d)",
		stats.Source, stats.CurrentPerMin, stats.BasePerMin, stats.LimitedCount)
}

// LimiterTable holds one limiter per source, created on first use
type LimiterTable struct {
	limiters map[string]*AdaptiveRateLimiter
	mu       sync.Mutex
	window   time.Duration
	onWait   func(source string)
	now      func() time.Time
}

// NewLimiterTable creates a table; window is the backoff window
func NewLimiterTable(window time.Duration, onWait func(source string), now func() time.Time) *LimiterTable {
	return &LimiterTable{
		limiters: make(map[string]*AdaptiveRateLimiter),
		window:   window,
		onWait:   onWait,
		now:      now,
	}
}

// Get returns the limiter for source, creating it at perMin
func (t *LimiterTable) Get(source string, perMin float64) *AdaptiveRateLimiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rl, ok := t.limiters[source]; ok {
		return rl
	}
	rl := NewAdaptiveRateLimiter(RateLimiterConfig{
		Source:        source,
		PerMinute:     perMin,
		BackoffWindow: t.window,
		OnWait:        t.onWait,
		Now:           t.now,
	})
	t.limiters[source] = rl
	return rl
}

// Snapshot returns stats for every known source
func (t *LimiterTable) Snapshot() []RateLimiterStats {
	t.mu.Lock()
	limiters := make([]*AdaptiveRateLimiter, 0, len(t.limiters))
	for _, rl := range t.limiters {
		limiters = append(limiters, rl)
	}
	t.mu.Unlock()

	out := make([]RateLimiterStats, 0, len(limiters))
	for _, rl := range limiters {
		out = append(out, rl.GetStats())
	}
	return out
}
