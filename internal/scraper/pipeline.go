// internal/scraper/pipeline.go
package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/progress"
	"github.com/valpere/MediaScrapexter/internal/storage"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// StatsRecorder is the part of the stats store pipelines write to
type StatsRecorder interface {
	Record(source, method string, outcome types.MethodOutcome)
}

// Metrics receives engine measurements; MetricsManager implements it
type Metrics interface {
	RecordMethod(source, method string, success bool, retries int, duration time.Duration)
	RecordFile(source string, size int64)
}

type nopMetrics struct{}

func (nopMetrics) RecordMethod(string, string, bool, int, time.Duration) {}
func (nopMetrics) RecordFile(string, int64)                              {}

// SourceRun describes one pipeline run
type SourceRun struct {
	JobID       string
	Source      types.Source
	Query       string
	MaxResults  int
	SafeSearch  bool
	ContentType types.ContentType
}

// SourceResult is the aggregate of one pipeline run
type SourceResult struct {
	Source       string                         `json:"source"`
	Success      bool                           `json:"success"`
	Files        []types.MediaFile              `json:"files"`
	ErrorKind    types.ErrorKind                `json:"error_kind,omitempty"`
	ErrorMessage string                         `json:"error_message,omitempty"`
	Outcomes     map[string]types.MethodOutcome `json:"outcomes,omitempty"`
}

// Pipeline walks a source's methods in learned order until the target is
// met, recording every outcome and feeding the source breaker
type Pipeline struct {
	registry    *Registry
	executor    *Executor
	stats       StatsRecorder
	breaker     *mmerrors.CircuitBreaker
	limiter     *AdaptiveRateLimiter
	layout      *storage.Layout
	logger      utils.Logger
	metrics     Metrics
	concurrency int
}

// PipelineDeps are the collaborators a pipeline borrows from the engine
type PipelineDeps struct {
	Registry    *Registry
	Executor    *Executor
	Stats       StatsRecorder
	Breaker     *mmerrors.CircuitBreaker
	Limiter     *AdaptiveRateLimiter
	Layout      *storage.Layout
	Logger      utils.Logger
	Metrics     Metrics
	Concurrency int
}

// NewPipeline creates a pipeline for one source
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = utils.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 4
	}
	return &Pipeline{
		registry:    deps.Registry,
		executor:    deps.Executor,
		stats:       deps.Stats,
		breaker:     deps.Breaker,
		limiter:     deps.Limiter,
		layout:      deps.Layout,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		concurrency: deps.Concurrency,
	}
}

// Run executes the pipeline. emit receives source_progress and
// file_downloaded events in order; it must not be nil.
func (p *Pipeline) Run(ctx context.Context, run SourceRun, emit func(progress.Event)) SourceResult {
	result := SourceResult{Source: run.Source.ID, Outcomes: make(map[string]types.MethodOutcome)}
	log := p.logger.WithFields(map[string]interface{}{"job_id": run.JobID, "source": run.Source.ID})

	fail := func(kind types.ErrorKind, format string, args ...interface{}) SourceResult {
		result.ErrorKind = kind
		result.ErrorMessage = fmt.Sprintf(format, args...)
		return result
	}

	if run.MaxResults <= 0 {
		return fail(types.ErrInvalidInput, "max_results must be positive, got %d", run.MaxResults)
	}
	if strings.TrimSpace(run.Query) == "" {
		return fail(types.ErrInvalidInput, "query is empty")
	}

	admitted, probe := p.breaker.Admit()
	if !admitted {
		return fail(types.ErrCircuitOpen, "circuit open for %s", run.Source.ID)
	}
	verdict := false
	defer func() {
		if !verdict {
			p.breaker.Release(probe)
		}
	}()

	methods := p.registry.MethodsFor(run.Source, run.ContentType)
	if len(methods) == 0 {
		return fail(types.ErrNoMethods, "no method applies to %s", run.Source.ID)
	}

	outputDir, err := p.layout.SourceDir(run.JobID, run.Source.ID)
	if err != nil {
		return fail(types.ErrInvalidInput, "cannot prepare output directory: %v", err)
	}

	acc := newAcceptor(ctx, p, run, emit)

	var (
		productive bool
		debited    bool
		lastKind   types.ErrorKind
		lastMsg    string
	)

	for _, m := range methods {
		if ctx.Err() != nil || acc.count() >= run.MaxResults {
			break
		}
		if p.breaker.IsOpen() {
			log.Infof("breaker opened, skipping remaining methods")
			if lastKind == "" {
				lastKind, lastMsg = types.ErrCircuitOpen, "circuit opened during run"
			}
			break
		}

		emit(progress.NewSourceProgress(run.JobID, run.Source.ID,
			fmt.Sprintf("trying method %s", m.Name()), -1, acc.count()))

		mlog := log.WithField("method", m.Name())
		before := acc.count()
		req := &Request{
			JobID:       run.JobID,
			Source:      run.Source,
			Query:       run.Query,
			MaxResults:  run.MaxResults - before,
			SafeSearch:  run.SafeSearch,
			ContentType: run.ContentType,
			OutputDir:   outputDir,
			Layout:      p.layout,
			Logger:      mlog,
			Concurrency: p.concurrency,
			Sink:        acc.accept,
			Progress: func(message string, scanned int) {
				emit(progress.NewSourceProgress(run.JobID, run.Source.ID, message, scanned, acc.count()))
			},
		}

		if p.limiter != nil {
			req.Limiter = p.limiter
		}

		outcome := p.executor.Execute(ctx, m, req)
		outcome.Files = acc.since(before)
		outcome.FilesDownloaded = len(outcome.Files)
		result.Outcomes[m.Name()] = outcome

		if outcome.ErrorKind == types.ErrCancelled {
			// cancellation says nothing about the method
			mlog.Debugf("cancelled after %.2fs", outcome.ExecutionSeconds)
			break
		}

		p.stats.Record(run.Source.ID, m.Name(), outcome)
		p.metrics.RecordMethod(run.Source.ID, m.Name(), outcome.Success, outcome.RetryCount,
			time.Duration(outcome.ExecutionSeconds*float64(time.Second)))

		switch {
		case outcome.Productive():
			productive = true
			if p.limiter != nil {
				p.limiter.ReportSuccess()
			}
			mlog.Infof("downloaded %d files in %.2fs (%d retries)",
				outcome.FilesDownloaded, outcome.ExecutionSeconds, outcome.RetryCount)
		case outcome.Success:
			// a success with nothing to show still counts against the source
			if !productive {
				p.breaker.RecordFailure()
				debited = true
			}
			lastKind, lastMsg = types.ErrNotFound, fmt.Sprintf("method %s found no files", m.Name())
			mlog.Infof("succeeded without files")
		default:
			if outcome.ErrorKind == types.ErrRateLimited && p.limiter != nil {
				p.limiter.ReportRateLimited()
			}
			if !productive && outcome.ErrorKind.TripsBreaker() {
				p.breaker.RecordFailure()
				debited = true
			}
			lastKind, lastMsg = outcome.ErrorKind, outcome.ErrorMessage
			mlog.Warnf("failed with %s after %d retries: %s",
				outcome.ErrorKind, outcome.RetryCount, utils.TruncateString(outcome.ErrorMessage, 300))
		}
	}

	if productive {
		p.breaker.RecordSuccess()
	}
	verdict = productive || debited

	result.Files = acc.all()
	result.Success = len(result.Files) > 0
	if !result.Success {
		switch {
		case ctx.Err() != nil:
			result.ErrorKind, result.ErrorMessage = types.ErrCancelled, ctx.Err().Error()
		case lastKind != "":
			result.ErrorKind, result.ErrorMessage = lastKind, lastMsg
		default:
			result.ErrorKind, result.ErrorMessage = types.ErrNoMethods, "no method ran"
		}
	}
	return result
}

// acceptor is the file sink of one pipeline run. It deduplicates by
// origin URL and content hash, checks files exist and are non-empty, and
// deletes whatever it refuses.
type acceptor struct {
	ctx    context.Context
	p      *Pipeline
	run    SourceRun
	emit   func(progress.Event)
	files  []types.MediaFile
	byPath map[string]bool
	byURL  map[string]bool
	byHash map[string]bool
	mu     sync.Mutex
}

func newAcceptor(ctx context.Context, p *Pipeline, run SourceRun, emit func(progress.Event)) *acceptor {
	return &acceptor{
		ctx:    ctx,
		p:      p,
		run:    run,
		emit:   emit,
		byPath: make(map[string]bool),
		byURL:  make(map[string]bool),
		byHash: make(map[string]bool),
	}
}

func (a *acceptor) accept(f types.MediaFile) (bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	layout := a.p.layout
	if a.byPath[f.LocalPath] {
		return false, len(a.files) < a.run.MaxResults
	}
	if a.ctx.Err() != nil || len(a.files) >= a.run.MaxResults {
		layout.Remove(f.LocalPath)
		return false, false
	}

	info, err := layout.Inspect(f.LocalPath)
	if err != nil || info.Size == 0 {
		layout.Remove(f.LocalPath)
		return false, true
	}
	if f.OriginURL != "" && a.byURL[f.OriginURL] {
		layout.Remove(f.LocalPath)
		return false, true
	}
	hash, err := layout.ContentHash(f.LocalPath)
	if err != nil {
		layout.Remove(f.LocalPath)
		return false, true
	}
	if a.byHash[hash] {
		layout.Remove(f.LocalPath)
		return false, true
	}

	f.ByteSize = info.Size
	if f.ContentType == "" {
		f.ContentType = info.ContentType
	}
	if f.Kind == "" {
		f.Kind = types.MediaKindFromContentType(f.ContentType)
	}
	if !a.run.ContentType.Matches(f.Kind) {
		layout.Remove(f.LocalPath)
		return false, true
	}
	f.Source = a.run.Source.ID
	if f.DiscoveredAt.IsZero() {
		f.DiscoveredAt = time.Now().UTC()
	}

	a.byPath[f.LocalPath] = true
	if f.OriginURL != "" {
		a.byURL[f.OriginURL] = true
	}
	a.byHash[hash] = true
	a.files = append(a.files, f)

	a.emit(progress.NewFileDownloaded(a.run.JobID, a.run.Source.ID, f))
	a.p.metrics.RecordFile(a.run.Source.ID, f.ByteSize)

	return true, len(a.files) < a.run.MaxResults
}

func (a *acceptor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.files)
}

func (a *acceptor) since(n int) []types.MediaFile {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n >= len(a.files) {
		return nil
	}
	return append([]types.MediaFile(nil), a.files[n:]...)
}

func (a *acceptor) all() []types.MediaFile {
	return a.since(0)
}
