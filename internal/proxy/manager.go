// internal/proxy/manager.go
package proxy

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"
)

// ErrNoProxy is returned when every proxy is sitting out a failure streak
var ErrNoProxy = errors.New("no healthy proxy available")

// Manager picks a proxy per request and benches proxies that keep failing
type Manager struct {
	rotation  RotationStrategy
	threshold int
	recovery  time.Duration
	proxies   []*instance
	next      int
	rng       *rand.Rand
	now       func() time.Time
	mu        sync.Mutex
}

// NewManager builds a manager from config. A config without providers is an
// error; callers check Enabled first.
func NewManager(config Config) (*Manager, error) {
	if len(config.Providers) == 0 {
		return nil, fmt.Errorf("proxy configuration has no providers")
	}
	if config.Rotation == "" {
		config.Rotation = RotationRoundRobin
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.RecoverySeconds <= 0 {
		config.RecoverySeconds = DefaultRecoverySeconds
	}

	m := &Manager{
		rotation:  config.Rotation,
		threshold: config.FailureThreshold,
		recovery:  time.Duration(config.RecoverySeconds * float64(time.Second)),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
	for i, p := range config.Providers {
		u, err := buildProxyURL(p)
		if err != nil {
			return nil, fmt.Errorf("providers[%d]: %w", i, err)
		}
		name := p.Name
		if name == "" {
			name = u.Host
		}
		weight := p.Weight
		if weight <= 0 {
			weight = 1
		}
		m.proxies = append(m.proxies, &instance{name: name, url: u, weight: weight})
	}
	return m, nil
}

// buildProxyURL constructs a proxy URL from provider configuration
func buildProxyURL(p Provider) (*url.URL, error) {
	scheme := p.Type
	if scheme == "" {
		scheme = ProxyTypeHTTP
	}
	switch scheme {
	case ProxyTypeHTTP, ProxyTypeHTTPS, ProxyTypeSOCKS5:
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", p.Type)
	}
	if p.Host == "" || p.Port <= 0 {
		return nil, fmt.Errorf("proxy needs a host and port")
	}

	u := &url.URL{Scheme: string(scheme), Host: fmt.Sprintf("%s:%d", p.Host, p.Port)}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// Get returns the next proxy according to the rotation strategy
func (m *Manager) Get() (*url.URL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var live []*instance
	for _, p := range m.proxies {
		if !p.disabledUntil.After(now) {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return nil, ErrNoProxy
	}

	var picked *instance
	switch m.rotation {
	case RotationRandom:
		picked = live[m.rng.Intn(len(live))]
	case RotationWeighted:
		picked = m.weighted(live)
	default:
		picked = m.roundRobin(now)
	}
	picked.uses++
	return picked.url, nil
}

// roundRobin walks the full list so benched proxies keep their slot
func (m *Manager) roundRobin(now time.Time) *instance {
	for i := 0; i < len(m.proxies); i++ {
		p := m.proxies[(m.next+i)%len(m.proxies)]
		if !p.disabledUntil.After(now) {
			m.next = (m.next + i + 1) % len(m.proxies)
			return p
		}
	}
	return nil
}

func (m *Manager) weighted(live []*instance) *instance {
	total := 0
	for _, p := range live {
		total += p.weight
	}
	r := m.rng.Intn(total)
	for _, p := range live {
		r -= p.weight
		if r < 0 {
			return p
		}
	}
	return live[len(live)-1]
}

// ReportSuccess clears the failure streak of u
func (m *Manager) ReportSuccess(u *url.URL) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.lookup(u); p != nil {
		p.streak = 0
	}
}

// ReportFailure counts a failure against u, benching it at the threshold
func (m *Manager) ReportFailure(u *url.URL) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.lookup(u)
	if p == nil {
		return
	}
	p.failures++
	p.streak++
	if p.streak >= m.threshold {
		p.disabledUntil = m.now().Add(m.recovery)
		p.streak = 0
	}
}

func (m *Manager) lookup(u *url.URL) *instance {
	if u == nil {
		return nil
	}
	for _, p := range m.proxies {
		if p.url.String() == u.String() {
			return p
		}
	}
	return nil
}

// Stats returns a snapshot per proxy, credentials redacted
func (m *Manager) Stats() []Stat {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]Stat, 0, len(m.proxies))
	for _, p := range m.proxies {
		st := Stat{
			Name:     p.name,
			URL:      p.url.Redacted(),
			Healthy:  !p.disabledUntil.After(now),
			Uses:     p.uses,
			Failures: p.failures,
		}
		if !st.Healthy {
			until := p.disabledUntil
			st.DisabledUntil = &until
		}
		out = append(out, st)
	}
	return out
}

// Len returns the number of configured proxies
func (m *Manager) Len() int {
	return len(m.proxies)
}
