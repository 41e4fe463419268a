// internal/scraper/registry.go
package scraper

import (
	"sort"
	"sync"

	"github.com/valpere/MediaScrapexter/internal/stats"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// StatsReader is the part of the stats store ordering needs
type StatsReader interface {
	Get(source, method string) stats.MethodStats
}

type registration struct {
	method  Method
	enabled bool
	order   int
}

// Registry holds the known methods and orders them per source from the
// learned stats. It is read-mostly.
type Registry struct {
	methods map[string]*registration
	stats   StatsReader
	seq     int
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry ordering by st
func NewRegistry(st StatsReader) *Registry {
	return &Registry{
		methods: make(map[string]*registration),
		stats:   st,
	}
}

// Register adds m, replacing any method with the same name. A replaced
// method keeps its enabled flag.
func (r *Registry) Register(m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.methods[m.Name()]; ok {
		existing.method = m
		return
	}
	r.seq++
	r.methods[m.Name()] = &registration{method: m, enabled: true, order: r.seq}
}

// SetEnabled toggles a method; it reports false for unknown names
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.methods[name]
	if !ok {
		return false
	}
	reg.enabled = enabled
	return true
}

// Get returns the method registered under name
func (r *Registry) Get(name string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.methods[name]
	if !ok {
		return nil, false
	}
	return reg.method, true
}

// Names returns registered method names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	regs := make([]*registration, 0, len(r.methods))
	for _, reg := range r.methods {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool { return regs[i].order < regs[j].order })
	names := make([]string, len(regs))
	for i, reg := range regs {
		names[i] = reg.method.Name()
	}
	return names
}

type rankedMethod struct {
	method Method
	rate   float64
	tried  bool
}

// MethodsFor returns the enabled methods that apply to source, best first:
// higher success rate, then lower priority, then name. An untried method
// ranks as rate zero but ahead of tried methods that also sit at zero.
func (r *Registry) MethodsFor(source types.Source, ct types.ContentType) []Method {
	r.mu.RLock()
	candidates := make([]rankedMethod, 0, len(r.methods))
	for _, reg := range r.methods {
		if !reg.enabled || !reg.method.AppliesTo(source, ct) {
			continue
		}
		candidates = append(candidates, rankedMethod{method: reg.method})
	}
	r.mu.RUnlock()

	for i := range candidates {
		if r.stats == nil {
			continue
		}
		st := r.stats.Get(source.ID, candidates[i].method.Name())
		candidates[i].rate = st.SuccessRate()
		candidates[i].tried = st.Attempts > 0
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rate != b.rate {
			return a.rate > b.rate
		}
		if a.rate == 0 && a.tried != b.tried {
			return !a.tried
		}
		if a.method.Priority() != b.method.Priority() {
			return a.method.Priority() < b.method.Priority()
		}
		return a.method.Name() < b.method.Name()
	})

	out := make([]Method, len(candidates))
	for i, c := range candidates {
		out[i] = c.method
	}
	return out
}
