// internal/scraper/engine.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/progress"
	"github.com/valpere/MediaScrapexter/internal/stats"
	"github.com/valpere/MediaScrapexter/internal/storage"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Engine defaults
const (
	DefaultStatsFlushInterval = 30 * time.Second
	DefaultJobRetention       = 300 * time.Second
	DefaultRateLimitPerMin    = 60.0

	// StatsFileName is the stats document under the downloads root
	StatsFileName = ".mmse-stats.json"
)

// ErrEngineClosed is returned by RunJob after Close
var ErrEngineClosed = errors.New("engine is closed")

// Settings are the engine's tuning knobs
type Settings struct {
	DownloadsRoot      string
	StatsPath          string
	StatsFlushInterval time.Duration

	Retry         mmerrors.RetryConfig
	MethodTimeout time.Duration
	KindTimeouts  map[types.MethodKind]time.Duration

	SourceFanout      int
	MethodConcurrency int

	Breaker mmerrors.CircuitBreakerConfig

	// RateLimitBackoff is how long a halved bucket rate holds; it defaults
	// to the breaker cooldown
	RateLimitBackoff time.Duration
	RateLimitPerMin  map[string]float64

	ProgressBuffer int
	JobRetention   time.Duration
}

// DefaultSettings returns settings with every default applied
func DefaultSettings() Settings {
	return Settings{
		DownloadsRoot:      "./downloads",
		StatsFlushInterval: DefaultStatsFlushInterval,
		Retry:              mmerrors.DefaultRetryConfig(),
		MethodTimeout:      DefaultMethodTimeout,
		SourceFanout:       DefaultSourceFanout,
		MethodConcurrency:  4,
		Breaker: mmerrors.CircuitBreakerConfig{
			MaxFailures:  mmerrors.DefaultBreakerThreshold,
			ResetTimeout: mmerrors.DefaultBreakerCooldown,
		},
		ProgressBuffer: progress.DefaultBuffer,
		JobRetention:   DefaultJobRetention,
	}
}

// EngineMetrics is everything the engine reports; MetricsManager implements it
type EngineMetrics interface {
	Metrics
	RecordBreakerTransition(source, state string)
	RecordRateLimitWait(source string)
	RecordJobStart()
	RecordJobFinished(status string, duration time.Duration)
}

type nopEngineMetrics struct{ nopMetrics }

func (nopEngineMetrics) RecordBreakerTransition(string, string)  {}
func (nopEngineMetrics) RecordRateLimitWait(string)              {}
func (nopEngineMetrics) RecordJobStart()                         {}
func (nopEngineMetrics) RecordJobFinished(string, time.Duration) {}

// EngineOption customises an engine
type EngineOption func(*engineOptions)

type engineOptions struct {
	fs      afero.Fs
	logger  utils.Logger
	metrics EngineMetrics
	now     func() time.Time
}

// WithFs sets the filesystem downloads and stats live on (afero.OsFs by default)
func WithFs(fs afero.Fs) EngineOption {
	return func(o *engineOptions) { o.fs = fs }
}

// WithLogger sets the engine logger
func WithLogger(logger utils.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m EngineMetrics) EngineOption {
	return func(o *engineOptions) { o.metrics = m }
}

// WithClock sets the clock breakers, limiters and stats use
func WithClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) { o.now = now }
}

// JobRequest asks the engine to run a job
type JobRequest struct {
	// JobID names the job and its output directory; generated when empty
	JobID        string
	Query        string
	Sources      []string
	MaxPerSource int
	SafeSearch   bool
	ContentType  types.ContentType

	// Deadline cancels the job when reached; zero means none
	Deadline time.Time
}

// Engine owns the registry, stats, breakers, limiters and job table. Create
// one per process with NewEngine and Close it on shutdown.
type Engine struct {
	settings Settings
	logger   utils.Logger
	metrics  EngineMetrics

	layout   *storage.Layout
	stats    *stats.Store
	registry *Registry
	executor *Executor
	breakers *mmerrors.BreakerTable
	limiters *LimiterTable
	coord    *Coordinator

	sources   map[string]types.Source
	sourcesMu sync.RWMutex

	jobs   map[string]*Job
	jobsMu sync.Mutex
	closed bool
	active sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
	flushed  chan struct{}
}

// NewEngine creates an engine and loads its stats document
func NewEngine(settings Settings, opts ...EngineOption) (*Engine, error) {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.logger == nil {
		o.logger = utils.NewNopLogger()
	}
	if o.metrics == nil {
		o.metrics = nopEngineMetrics{}
	}
	if o.now == nil {
		o.now = time.Now
	}

	settings = normalizeSettings(settings)
	logger := o.logger.WithField("component", "engine")

	store, err := stats.Open(o.fs, settings.StatsPath, o.logger, stats.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("failed to open stats store: %w", err)
	}

	e := &Engine{
		settings: settings,
		logger:   logger,
		metrics:  o.metrics,
		layout:   storage.NewLayout(o.fs, settings.DownloadsRoot),
		stats:    store,
		registry: NewRegistry(store),
		executor: NewExecutor(mmerrors.NewRetryPolicy(settings.Retry), settings.MethodTimeout, settings.KindTimeouts),
		breakers: mmerrors.NewBreakerTable(settings.Breaker, o.now),
		sources:  make(map[string]types.Source),
		jobs:     make(map[string]*Job),
		stop:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}

	e.breakers.OnTransition(func(source string, from, to mmerrors.CircuitBreakerState) {
		logger.WithField("source", source).Infof("circuit breaker %s -> %s", from, to)
		e.metrics.RecordBreakerTransition(source, to.String())
	})
	e.limiters = NewLimiterTable(settings.RateLimitBackoff, e.metrics.RecordRateLimitWait, o.now)

	e.coord = NewCoordinator(CoordinatorDeps{
		Registry:    e.registry,
		Executor:    e.executor,
		Stats:       store,
		Breakers:    e.breakers,
		Limiters:    e.limiters,
		Layout:      e.layout,
		Resolve:     e.resolveSource,
		Logger:      o.logger,
		Metrics:     e.metrics,
		Fanout:      settings.SourceFanout,
		Concurrency: settings.MethodConcurrency,
	})

	go e.flushLoop()

	logger.Infof("engine ready: root=%s stats=%s fanout=%d", settings.DownloadsRoot, settings.StatsPath, settings.SourceFanout)
	return e, nil
}

func normalizeSettings(s Settings) Settings {
	d := DefaultSettings()
	if s.DownloadsRoot == "" {
		s.DownloadsRoot = d.DownloadsRoot
	}
	if s.StatsPath == "" {
		s.StatsPath = filepath.Join(s.DownloadsRoot, StatsFileName)
	}
	if s.StatsFlushInterval <= 0 {
		s.StatsFlushInterval = d.StatsFlushInterval
	}
	if s.Retry.MaxDelaySeconds <= 0 {
		s.Retry.MaxDelaySeconds = d.Retry.MaxDelaySeconds
	}
	if s.MethodTimeout <= 0 {
		s.MethodTimeout = d.MethodTimeout
	}
	if s.SourceFanout <= 0 {
		s.SourceFanout = d.SourceFanout
	}
	if s.MethodConcurrency <= 0 {
		s.MethodConcurrency = d.MethodConcurrency
	}
	if s.Breaker.MaxFailures <= 0 {
		s.Breaker.MaxFailures = d.Breaker.MaxFailures
	}
	if s.Breaker.ResetTimeout <= 0 {
		s.Breaker.ResetTimeout = d.Breaker.ResetTimeout
	}
	if s.RateLimitBackoff <= 0 {
		s.RateLimitBackoff = s.Breaker.ResetTimeout
	}
	if s.ProgressBuffer <= 0 {
		s.ProgressBuffer = d.ProgressBuffer
	}
	if s.JobRetention <= 0 {
		s.JobRetention = d.JobRetention
	}
	return s
}

// Settings returns the effective settings
func (e *Engine) Settings() Settings {
	return e.settings
}

// Layout returns the downloads layout
func (e *Engine) Layout() *storage.Layout {
	return e.layout
}

// RegisterMethod adds or replaces a method
func (e *Engine) RegisterMethod(m Method) {
	e.registry.Register(m)
	e.logger.Debugf("registered method %s (%s, priority %d)", m.Name(), m.Kind(), m.Priority())
}

// SetMethodEnabled toggles a registered method
func (e *Engine) SetMethodEnabled(name string, enabled bool) error {
	if !e.registry.SetEnabled(name, enabled) {
		return fmt.Errorf("unknown method %q", name)
	}
	return nil
}

// Methods returns registered method names in registration order
func (e *Engine) Methods() []string {
	return e.registry.Names()
}

// RegisterSource adds or replaces a source
func (e *Engine) RegisterSource(src types.Source) error {
	src.ID = strings.TrimSpace(src.ID)
	if src.ID == "" {
		return fmt.Errorf("source id is required")
	}
	if src.DefaultRateLimitPerMin < 0 {
		return fmt.Errorf("source %s: rate limit must not be negative", src.ID)
	}
	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()
	e.sources[src.ID] = src
	return nil
}

// Source looks up a registered source
func (e *Engine) Source(id string) (types.Source, bool) {
	e.sourcesMu.RLock()
	defer e.sourcesMu.RUnlock()
	src, ok := e.sources[id]
	return src, ok
}

// Sources returns the registered sources sorted by id
func (e *Engine) Sources() []types.Source {
	e.sourcesMu.RLock()
	out := make([]types.Source, 0, len(e.sources))
	for _, src := range e.sources {
		out = append(out, src)
	}
	e.sourcesMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) resolveSource(id string) (types.Source, float64, bool) {
	src, ok := e.Source(id)
	if !ok {
		return types.Source{}, 0, false
	}
	perMin := src.DefaultRateLimitPerMin
	if v, ok := e.settings.RateLimitPerMin[id]; ok && v > 0 {
		perMin = v
	}
	if perMin <= 0 {
		perMin = DefaultRateLimitPerMin
	}
	return src, perMin, true
}

// MethodOrder returns the names of the methods a job would try for source,
// in the current learned order
func (e *Engine) MethodOrder(sourceID string, ct types.ContentType) ([]string, error) {
	src, ok := e.Source(sourceID)
	if !ok {
		return nil, mmerrors.New(types.ErrUnknownSource, "unknown source %s", sourceID)
	}
	methods := e.registry.MethodsFor(src, ct)
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = m.Name()
	}
	return names, nil
}

// Stats returns a copy of the learned stats document
func (e *Engine) Stats() stats.Document {
	return e.stats.Snapshot()
}

// MethodStats returns the counters of one (source, method) pair
func (e *Engine) MethodStats(source, method string) stats.MethodStats {
	return e.stats.Get(source, method)
}

// Breakers returns the state of every source breaker
func (e *Engine) Breakers() []mmerrors.BreakerSnapshot {
	return e.breakers.Snapshot()
}

// ResetBreaker closes the breaker of source
func (e *Engine) ResetBreaker(source string) {
	e.breakers.Reset(source)
}

// RateLimits returns the state of every source limiter
func (e *Engine) RateLimits() []RateLimiterStats {
	return e.limiters.Snapshot()
}

// FlushStats persists the stats document now
func (e *Engine) FlushStats() error {
	return e.stats.Flush()
}

// RunJob starts a job and returns its handle. The caller must drain
// Job.Events until it is closed. Cancelling ctx cancels the job.
func (e *Engine) RunJob(ctx context.Context, req JobRequest) (*Job, error) {
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	if err := validateJobID(req.JobID); err != nil {
		return nil, err
	}
	if req.ContentType == "" {
		req.ContentType = types.ContentAny
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if req.Deadline.IsZero() {
		jobCtx, cancel = context.WithCancel(ctx)
	} else {
		jobCtx, cancel = context.WithDeadline(ctx, req.Deadline)
	}

	job := &Job{
		id:      req.JobID,
		request: req,
		bus:     progress.NewBus(e.settings.ProgressBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  types.StatusRunning,
	}

	e.jobsMu.Lock()
	if e.closed {
		e.jobsMu.Unlock()
		cancel()
		return nil, ErrEngineClosed
	}
	if existing, ok := e.jobs[req.JobID]; ok && !existing.Status().IsTerminal() {
		e.jobsMu.Unlock()
		cancel()
		return nil, fmt.Errorf("job %s is already running", req.JobID)
	}
	e.jobs[req.JobID] = job
	e.active.Add(1)
	e.jobsMu.Unlock()

	e.metrics.RecordJobStart()
	go e.runJob(jobCtx, job)
	return job, nil
}

func (e *Engine) runJob(ctx context.Context, job *Job) {
	defer e.active.Done()
	defer job.cancel()

	summary := e.coord.Run(ctx, JobSpec{
		JobID:        job.id,
		Query:        job.request.Query,
		Sources:      job.request.Sources,
		MaxPerSource: job.request.MaxPerSource,
		SafeSearch:   job.request.SafeSearch,
		ContentType:  job.request.ContentType,
	}, job.bus)

	e.metrics.RecordJobFinished(string(summary.Status), summary.FinishedAt.Sub(summary.StartedAt))
	if err := e.stats.Flush(); err != nil {
		e.logger.Errorf("failed to flush stats after job %s: %v", job.id, err)
	}

	job.finish(summary)

	time.AfterFunc(e.settings.JobRetention, func() {
		e.jobsMu.Lock()
		defer e.jobsMu.Unlock()
		if current, ok := e.jobs[job.id]; ok && current == job {
			delete(e.jobs, job.id)
		}
	})
}

// Job returns a job that is running or finished within the retention window
func (e *Engine) Job(id string) (*Job, bool) {
	e.jobsMu.Lock()
	defer e.jobsMu.Unlock()
	job, ok := e.jobs[id]
	return job, ok
}

// Cancel cancels a job by id; it reports whether the job was known
func (e *Engine) Cancel(id string) bool {
	job, ok := e.Job(id)
	if !ok {
		return false
	}
	job.Cancel()
	return true
}

// Jobs returns the ids of jobs in the table, sorted
func (e *Engine) Jobs() []string {
	e.jobsMu.Lock()
	ids := make([]string, 0, len(e.jobs))
	for id := range e.jobs {
		ids = append(ids, id)
	}
	e.jobsMu.Unlock()
	sort.Strings(ids)
	return ids
}

func (e *Engine) flushLoop() {
	defer close(e.flushed)
	ticker := time.NewTicker(e.settings.StatsFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.stats.Dirty() {
				continue
			}
			if err := e.stats.Flush(); err != nil {
				e.logger.Errorf("periodic stats flush failed: %v", err)
			}
		case <-e.stop:
			return
		}
	}
}

// Close cancels running jobs, waits for them to wind down and flushes stats
func (e *Engine) Close() error {
	e.jobsMu.Lock()
	if e.closed {
		e.jobsMu.Unlock()
		return nil
	}
	e.closed = true
	running := make([]*Job, 0, len(e.jobs))
	for _, job := range e.jobs {
		running = append(running, job)
	}
	e.jobsMu.Unlock()

	for _, job := range running {
		job.Cancel()
	}
	e.active.Wait()

	e.stopOnce.Do(func() { close(e.stop) })
	<-e.flushed

	if err := e.stats.Flush(); err != nil {
		return fmt.Errorf("failed to flush stats: %w", err)
	}
	e.logger.Info("engine closed")
	return nil
}

// validateJobID rejects ids that cannot name a directory under the root
func validateJobID(id string) error {
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return mmerrors.New(types.ErrInvalidInput, "invalid job id %q", id)
	}
	return nil
}

// Job is the handle of one running or finished job
type Job struct {
	id      string
	request JobRequest
	bus     *progress.Bus
	cancel  context.CancelFunc
	done    chan struct{}

	status  types.JobStatus
	summary JobSummary
	mu      sync.RWMutex
}

// ID returns the job id
func (j *Job) ID() string {
	return j.id
}

// Request returns the request the job was started with
func (j *Job) Request() JobRequest {
	return j.request
}

// Events is the job's progress stream; it is closed after job_finished
func (j *Job) Events() <-chan progress.Event {
	return j.bus.Events()
}

// History returns the events published so far
func (j *Job) History() []progress.Event {
	return j.bus.History()
}

// Cancel requests cancellation; the job winds down and finishes cancelled
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed once the job has finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done. Events must be drained
// concurrently or the job cannot finish.
func (j *Job) Wait(ctx context.Context) (JobSummary, error) {
	select {
	case <-j.done:
		return j.Summary(), nil
	case <-ctx.Done():
		return JobSummary{}, ctx.Err()
	}
}

// Status returns the current status
func (j *Job) Status() types.JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Summary returns the terminal summary; it is zero until the job finishes
func (j *Job) Summary() JobSummary {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.summary
}

func (j *Job) finish(summary JobSummary) {
	j.mu.Lock()
	j.status = summary.Status
	j.summary = summary
	j.mu.Unlock()
	close(j.done)
}
