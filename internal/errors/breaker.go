// internal/errors/breaker.go - Per-source circuit breakers
package errors

import (
	"sort"
	"sync"
	"time"
)

// Breaker defaults
const (
	DefaultBreakerThreshold = 3
	DefaultBreakerCooldown  = 300 * time.Second
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures" json:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// TransitionFunc observes breaker state changes
type TransitionFunc func(name string, from, to CircuitBreakerState)

// CircuitBreaker tracks consecutive failures for one source.
//
// CLOSED(n) counts failures and opens at the threshold. OPEN rejects runs
// until the reset timeout passes; the first query after that moves it to
// HALF_OPEN, which admits a single probe run. The probe's verdict closes or
// reopens the breaker.
type CircuitBreaker struct {
	name            string
	maxFailures     int
	resetTimeout    time.Duration
	state           CircuitBreakerState
	failures        int
	probing         bool
	lastFailureTime time.Time
	nextAttemptTime time.Time
	now             func() time.Time
	onTransition    TransitionFunc
	mu              sync.Mutex
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig, now func() time.Time) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultBreakerThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultBreakerCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  config.MaxFailures,
		resetTimeout: config.ResetTimeout,
		state:        CircuitClosed,
		now:          now,
	}
}

// Admit is called once when a pipeline run starts. It reports whether the
// run may proceed and whether the run is the half-open probe.
func (cb *CircuitBreaker) Admit() (admitted bool, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expireLocked()

	switch cb.state {
	case CircuitClosed:
		return true, false
	case CircuitHalfOpen:
		if cb.probing {
			return false, false
		}
		cb.probing = true
		return true, true
	default:
		return false, false
	}
}

// IsOpen reports whether execution is currently blocked. Reads are cheap and
// may race with a concurrent transition; mutations are serialised.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == CircuitOpen && cb.now().Before(cb.nextAttemptTime)
}

// RecordSuccess records successful execution
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.setStateLocked(CircuitClosed)
}

// RecordFailure records failed execution
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.lastFailureTime = now

	switch cb.state {
	case CircuitHalfOpen:
		cb.probing = false
		cb.openLocked(now)
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.openLocked(now)
		}
	}
}

// Release ends a probe run that produced no verdict so another run may probe
func (cb *CircuitBreaker) Release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// GetState returns current circuit breaker state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	return cb.state
}

// BreakerSnapshot is a point-in-time view of one breaker
type BreakerSnapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	MaxFailures     int       `json:"max_failures"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	NextAttemptTime time.Time `json:"next_attempt_time,omitempty"`
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerSnapshot{
		Name:            cb.name,
		State:           cb.state.String(),
		Failures:        cb.failures,
		MaxFailures:     cb.maxFailures,
		LastFailureTime: cb.lastFailureTime,
		NextAttemptTime: cb.nextAttemptTime,
	}
}

func (cb *CircuitBreaker) expireLocked() {
	if cb.state == CircuitOpen && !cb.now().Before(cb.nextAttemptTime) {
		cb.probing = false
		cb.setStateLocked(CircuitHalfOpen)
	}
}

func (cb *CircuitBreaker) openLocked(now time.Time) {
	cb.nextAttemptTime = now.Add(cb.resetTimeout)
	cb.setStateLocked(CircuitOpen)
}

func (cb *CircuitBreaker) setStateLocked(to CircuitBreakerState) {
	from := cb.state
	cb.state = to
	if from != to && cb.onTransition != nil {
		cb.onTransition(cb.name, from, to)
	}
}

// BreakerTable owns one breaker per source
type BreakerTable struct {
	config       CircuitBreakerConfig
	now          func() time.Time
	onTransition TransitionFunc
	breakers     map[string]*CircuitBreaker
	mu           sync.RWMutex
}

// NewBreakerTable creates an empty table
func NewBreakerTable(config CircuitBreakerConfig, now func() time.Time) *BreakerTable {
	return &BreakerTable{
		config:   config,
		now:      now,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// OnTransition registers an observer for breakers created afterwards
func (t *BreakerTable) OnTransition(fn TransitionFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTransition = fn
}

// Get returns the breaker for source, creating it closed on first use
func (t *BreakerTable) Get(source string) *CircuitBreaker {
	t.mu.RLock()
	cb, exists := t.breakers[source]
	t.mu.RUnlock()
	if exists {
		return cb
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, exists := t.breakers[source]; exists {
		return cb
	}
	cb = NewCircuitBreaker(source, t.config, t.now)
	cb.onTransition = t.onTransition
	t.breakers[source] = cb
	return cb
}

// Snapshot returns the stats of every breaker, sorted by source
func (t *BreakerTable) Snapshot() []BreakerSnapshot {
	t.mu.RLock()
	names := make([]string, 0, len(t.breakers))
	for name := range t.breakers {
		names = append(names, name)
	}
	t.mu.RUnlock()
	sort.Strings(names)

	out := make([]BreakerSnapshot, 0, len(names))
	for _, name := range names {
		out = append(out, t.Get(name).GetStats())
	}
	return out
}

// Reset manually closes the breaker for source
func (t *BreakerTable) Reset(source string) {
	t.Get(source).RecordSuccess()
}
