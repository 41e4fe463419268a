// internal/scraper/helpers_test.go
package scraper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/progress"
	"github.com/valpere/MediaScrapexter/internal/stats"
	"github.com/valpere/MediaScrapexter/internal/storage"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

type fakeClock struct {
	t  time.Time
	mu sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// writeMedia stages and commits a file through the request layout
func writeMedia(req *Request, name, content string) (types.MediaFile, error) {
	part, err := req.Layout.Create(req.OutputDir, name)
	if err != nil {
		return types.MediaFile{}, err
	}
	if _, err := part.Write([]byte(content)); err != nil {
		part.Abort()
		return types.MediaFile{}, err
	}
	path, err := part.Commit()
	if err != nil {
		return types.MediaFile{}, err
	}
	return types.MediaFile{
		LocalPath:   path,
		OriginURL:   "https://media.example.com/" + name,
		ContentType: "image/jpeg",
	}, nil
}

// producer returns a method body emitting n distinct files
func producer(n int) ExecuteFunc {
	return func(ctx context.Context, req *Request) (*Result, error) {
		for i := 0; i < n; i++ {
			f, err := writeMedia(req, fmt.Sprintf("%s-%d.jpg", req.Source.ID, i), fmt.Sprintf("%s payload %d", req.Source.ID, i))
			if err != nil {
				return nil, err
			}
			if !req.Emit(f) {
				break
			}
		}
		return &Result{}, nil
	}
}

// failing returns a method body that always fails with kind
func failing(kind types.ErrorKind) ExecuteFunc {
	return func(ctx context.Context, req *Request) (*Result, error) {
		return nil, mmerrors.New(kind, "simulated %s", kind)
	}
}

// counted wraps fn and counts invocations
func counted(fn ExecuteFunc, calls *int32) ExecuteFunc {
	return func(ctx context.Context, req *Request) (*Result, error) {
		atomic.AddInt32(calls, 1)
		return fn(ctx, req)
	}
}

func fastRetry(maxRetries int) mmerrors.RetryConfig {
	return mmerrors.RetryConfig{MaxRetries: maxRetries, BaseDelaySeconds: 0.01, MaxDelaySeconds: 0.05}
}

func newTestEngine(t *testing.T, settings Settings, clock *fakeClock) (*Engine, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if settings.DownloadsRoot == "" {
		settings.DownloadsRoot = "/downloads"
	}
	if settings.Retry == (mmerrors.RetryConfig{}) {
		settings.Retry = fastRetry(0)
	}
	opts := []EngineOption{WithFs(fs)}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	e, err := NewEngine(settings, opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, fs
}

func runAndCollect(t *testing.T, e *Engine, req JobRequest) (JobSummary, []progress.Event) {
	t.Helper()
	job, err := e.RunJob(context.Background(), req)
	if err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}
	events := progress.Collect(job.Events())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, err := job.Wait(ctx)
	if err != nil {
		t.Fatalf("Job did not finish: %v", err)
	}
	return summary, events
}

func eventsOfType(events []progress.Event, et progress.EventType) []progress.Event {
	var out []progress.Event
	for _, ev := range events {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

func newTestPipeline(t *testing.T, reg *Registry, store *stats.Store, breaker *mmerrors.CircuitBreaker, retries int) (*Pipeline, *storage.Layout) {
	t.Helper()
	layout := storage.NewLayout(afero.NewMemMapFs(), "/downloads")
	return NewPipeline(PipelineDeps{
		Registry: reg,
		Executor: NewExecutor(mmerrors.NewRetryPolicy(fastRetry(retries)), time.Second, nil),
		Stats:    store,
		Breaker:  breaker,
		Layout:   layout,
	}), layout
}

func openMemStore(t *testing.T) *stats.Store {
	t.Helper()
	store, err := stats.Open(afero.NewMemMapFs(), "", nil)
	if err != nil {
		t.Fatalf("Failed to open stats store: %v", err)
	}
	return store
}
