// internal/scraper/coordinator.go
package scraper

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/progress"
	"github.com/valpere/MediaScrapexter/internal/storage"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// DefaultSourceFanout bounds how many source pipelines run at once
const DefaultSourceFanout = 4

// JobSpec is a validated job handed to the coordinator
type JobSpec struct {
	JobID        string
	Query        string
	Sources      []string
	MaxPerSource int
	SafeSearch   bool
	ContentType  types.ContentType
}

// JobSummary is the terminal state of a job
type JobSummary struct {
	JobID      string                  `json:"job_id"`
	Status     types.JobStatus         `json:"status"`
	ErrorKind  types.ErrorKind         `json:"error_kind,omitempty"`
	Totals     progress.Totals         `json:"totals"`
	Results    map[string]SourceResult `json:"results"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
}

// SourceResolver looks a source up by id and returns its bucket rate
type SourceResolver func(id string) (types.Source, float64, bool)

// Coordinator fans a job out over its sources and is the only writer of
// the job's bus
type Coordinator struct {
	registry    *Registry
	executor    *Executor
	stats       StatsRecorder
	breakers    *mmerrors.BreakerTable
	limiters    *LimiterTable
	layout      *storage.Layout
	resolve     SourceResolver
	logger      utils.Logger
	metrics     Metrics
	fanout      int
	concurrency int
}

// CoordinatorDeps are the collaborators a coordinator borrows from the engine
type CoordinatorDeps struct {
	Registry    *Registry
	Executor    *Executor
	Stats       StatsRecorder
	Breakers    *mmerrors.BreakerTable
	Limiters    *LimiterTable
	Layout      *storage.Layout
	Resolve     SourceResolver
	Logger      utils.Logger
	Metrics     Metrics
	Fanout      int
	Concurrency int
}

// NewCoordinator creates a coordinator
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	if deps.Fanout <= 0 {
		deps.Fanout = DefaultSourceFanout
	}
	if deps.Logger == nil {
		deps.Logger = utils.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	return &Coordinator{
		registry:    deps.Registry,
		executor:    deps.Executor,
		stats:       deps.Stats,
		breakers:    deps.Breakers,
		limiters:    deps.Limiters,
		layout:      deps.Layout,
		resolve:     deps.Resolve,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		fanout:      deps.Fanout,
		concurrency: deps.Concurrency,
	}
}

// Run executes the job and publishes its events to bus, closing it after
// job_finished. It blocks until every pipeline has ended.
func (c *Coordinator) Run(ctx context.Context, spec JobSpec, bus *progress.Bus) JobSummary {
	started := time.Now().UTC()
	sources := dedupeSources(spec.Sources)
	log := c.logger.WithField("job_id", spec.JobID)

	summary := JobSummary{
		JobID:     spec.JobID,
		Totals:    progress.Totals{PerSource: make(map[string]int, len(sources))},
		Results:   make(map[string]SourceResult, len(sources)),
		StartedAt: started,
	}

	bus.Publish(progress.NewJobStarted(spec.JobID, spec.Query, sources, spec.MaxPerSource, started))
	log.Infof("job started: query=%q sources=%v max=%d", spec.Query, sources, spec.MaxPerSource)

	// pipelines hand events to the forwarder, which alone writes the bus
	events := make(chan progress.Event, 64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range events {
			bus.Publish(ev)
		}
	}()

	var mu sync.Mutex
	record := func(res SourceResult) {
		mu.Lock()
		defer mu.Unlock()
		summary.Results[res.Source] = res
		summary.Totals.PerSource[res.Source] = len(res.Files)
		summary.Totals.Downloaded += len(res.Files)
	}

	pool := pond.NewPool(c.fanout)
	group := pool.NewGroup()

	for _, id := range sources {
		src, perMin, ok := c.resolve(id)
		if !ok {
			res := SourceResult{Source: id, ErrorKind: types.ErrUnknownSource, ErrorMessage: "unknown source " + id}
			record(res)
			events <- progress.NewSourceFinished(spec.JobID, id, false, 0, types.ErrUnknownSource)
			continue
		}

		group.Submit(func() {
			if ctx.Err() != nil {
				res := SourceResult{Source: src.ID, ErrorKind: types.ErrCancelled, ErrorMessage: ctx.Err().Error()}
				record(res)
				events <- progress.NewSourceFinished(spec.JobID, src.ID, false, 0, types.ErrCancelled)
				return
			}

			events <- progress.NewSourceStarted(spec.JobID, src.ID)
			res := c.pipelineFor(src, perMin).Run(ctx, SourceRun{
				JobID:       spec.JobID,
				Source:      src,
				Query:       spec.Query,
				MaxResults:  spec.MaxPerSource,
				SafeSearch:  spec.SafeSearch,
				ContentType: spec.ContentType,
			}, func(ev progress.Event) { events <- ev })
			record(res)
			events <- progress.NewSourceFinished(spec.JobID, src.ID, res.Success, len(res.Files), res.ErrorKind)
		})
	}

	group.Wait()
	pool.StopAndWait()
	close(events)
	<-forwarded

	if removed, err := c.layout.RemovePartials(c.layout.JobDir(spec.JobID)); err != nil {
		log.Warnf("failed to sweep partial files: %v", err)
	} else if removed > 0 {
		log.Debugf("removed %d partial files", removed)
	}

	summary.Status, summary.ErrorKind = jobStatus(ctx, sources, summary)
	summary.FinishedAt = time.Now().UTC()

	bus.Publish(progress.NewJobFinished(spec.JobID, summary.Status, summary.Totals, summary.ErrorKind, summary.FinishedAt))
	bus.Close()

	log.Infof("job finished: status=%s downloaded=%d in %v",
		summary.Status, summary.Totals.Downloaded, summary.FinishedAt.Sub(started).Round(time.Millisecond))
	return summary
}

func (c *Coordinator) pipelineFor(src types.Source, perMin float64) *Pipeline {
	return NewPipeline(PipelineDeps{
		Registry:    c.registry,
		Executor:    c.executor,
		Stats:       c.stats,
		Breaker:     c.breakers.Get(src.ID),
		Limiter:     c.limiters.Get(src.ID, perMin),
		Layout:      c.layout,
		Logger:      c.logger,
		Metrics:     c.metrics,
		Concurrency: c.concurrency,
	})
}

// jobStatus derives the terminal status. A failed job carries the kind of
// the first failing source in request order.
func jobStatus(ctx context.Context, sources []string, summary JobSummary) (types.JobStatus, types.ErrorKind) {
	if ctx.Err() != nil {
		return types.StatusCancelled, types.ErrCancelled
	}
	if summary.Totals.Downloaded > 0 || len(sources) == 0 {
		return types.StatusCompleted, ""
	}
	for _, id := range sources {
		if res, ok := summary.Results[id]; ok && res.ErrorKind != "" {
			return types.StatusFailed, res.ErrorKind
		}
	}
	return types.StatusFailed, ""
}

// dedupeSources trims ids and drops repeats, keeping first occurrences
func dedupeSources(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
