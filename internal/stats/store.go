// internal/stats/store.go

// Package stats keeps per-(source, method) outcome counters that drive
// method ordering. The document is persisted as JSON and replaced
// atomically on every flush.
package stats

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// MethodStats holds the learned counters for one (source, method) pair
type MethodStats struct {
	Attempts             int        `json:"attempts"`
	Successes            int        `json:"successes"`
	Failures             int        `json:"failures"`
	TotalFiles           int        `json:"total_files"`
	MeanExecutionSeconds float64    `json:"mean_execution_seconds"`
	LastSuccessAt        *time.Time `json:"last_success_at"`
	LastFailureAt        *time.Time `json:"last_failure_at"`
}

// SuccessRate returns successes/attempts, zero when untried
func (s MethodStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Document is the persisted shape: source -> method name -> stats
type Document map[string]map[string]MethodStats

// Store is the durable stats store. Reads take a shared lock; writes to any
// key are serialised.
type Store struct {
	fs     afero.Fs
	path   string
	logger utils.Logger
	now    func() time.Time
	data   Document

	// version counts records; flushed is the version last persisted
	version uint64
	flushed uint64

	mu    sync.RWMutex
	flush sync.Mutex
}

// Option customises a Store
type Option func(*Store)

// WithClock overrides the time source used for last_*_at stamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the store at path on fs. A missing file starts an empty store;
// a malformed or unreadable one is discarded with a warning.
func Open(fs afero.Fs, path string, logger utils.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &Store{
		fs:     fs,
		path:   path,
		logger: logger.WithField("component", "stats"),
		now:    time.Now,
		data:   make(Document),
	}
	for _, opt := range opts {
		opt(s)
	}

	if path == "" {
		return s, nil
	}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		s.logger.Warnf("ignoring unreadable stats file %s: %v", path, err)
		return s, nil
	}
	if !exists {
		return s, nil
	}

	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		s.logger.Warnf("ignoring unreadable stats file %s: %v", path, err)
		return s, nil
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warnf("discarding malformed stats file %s: %v", path, err)
		return s, nil
	}
	for source, methods := range doc {
		if methods == nil {
			continue
		}
		for name, st := range methods {
			if st.Attempts != st.Successes+st.Failures {
				st.Attempts = st.Successes + st.Failures
			}
			s.putLocked(source, name, st)
		}
	}
	return s, nil
}

// Record folds one executor outcome into the (source, method) counters
func (s *Store) Record(source, method string, outcome types.MethodOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.data[source][method]
	st.Attempts++
	now := s.now().UTC()
	if outcome.Success {
		st.Successes++
		st.LastSuccessAt = &now
	} else {
		st.Failures++
		st.LastFailureAt = &now
	}
	st.TotalFiles += outcome.FilesDownloaded
	st.MeanExecutionSeconds += (outcome.ExecutionSeconds - st.MeanExecutionSeconds) / float64(st.Attempts)

	s.putLocked(source, method, st)
	s.version++
}

// Get returns a snapshot, the zero record when the pair was never recorded
func (s *Store) Get(source, method string) MethodStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyStats(s.data[source][method])
}

// Snapshot returns a deep copy of the whole document
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Document, len(s.data))
	for source, methods := range s.data {
		m := make(map[string]MethodStats, len(methods))
		for name, st := range methods {
			m[name] = copyStats(st)
		}
		out[source] = m
	}
	return out
}

// Sources returns the source ids with recorded stats, sorted
func (s *Store) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for source := range s.data {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// Flush persists the document by writing a temp file next to the target and
// renaming it into place. A store without a path only keeps memory.
func (s *Store) Flush() error {
	if s.path == "" {
		return nil
	}
	s.flush.Lock()
	defer s.flush.Unlock()

	s.mu.RLock()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	version := s.version
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stats directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp stats file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write temp stats file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to sync temp stats file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close temp stats file: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace stats file: %w", err)
	}

	s.mu.Lock()
	s.flushed = version
	s.mu.Unlock()
	return nil
}

// Dirty reports whether there are unflushed records
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version != s.flushed
}

func (s *Store) putLocked(source, method string, st MethodStats) {
	methods, ok := s.data[source]
	if !ok {
		methods = make(map[string]MethodStats)
		s.data[source] = methods
	}
	methods[method] = st
}

func copyStats(st MethodStats) MethodStats {
	if st.LastSuccessAt != nil {
		t := *st.LastSuccessAt
		st.LastSuccessAt = &t
	}
	if st.LastFailureAt != nil {
		t := *st.LastFailureAt
		st.LastFailureAt = &t
	}
	return st
}
