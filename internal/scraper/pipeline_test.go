// internal/scraper/pipeline_test.go
package scraper

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/progress"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

func sourceRun(max int) SourceRun {
	return SourceRun{
		JobID:       "job",
		Source:      types.Source{ID: "src"},
		Query:       "cats",
		MaxResults:  max,
		ContentType: types.ContentAny,
	}
}

func discard(progress.Event) {}

func TestPipeline_InvalidInput(t *testing.T) {
	var calls int32
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("m", 0, counted(producer(1), &calls)))
	p, _ := newTestPipeline(t, reg, openMemStore(t), mmerrors.NewCircuitBreaker("src", mmerrors.CircuitBreakerConfig{}, nil), 0)

	res := p.Run(context.Background(), sourceRun(0), discard)
	if res.Success || res.ErrorKind != types.ErrInvalidInput {
		t.Errorf("Expected INVALID_INPUT for max_results=0, got %+v", res)
	}

	run := sourceRun(3)
	run.Query = "   "
	res = p.Run(context.Background(), run, discard)
	if res.ErrorKind != types.ErrInvalidInput {
		t.Errorf("Expected INVALID_INPUT for empty query, got %s", res.ErrorKind)
	}
	if calls != 0 {
		t.Errorf("Expected no method executed, got %d calls", calls)
	}
}

func TestPipeline_NoMethods(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("elsewhere", 0, producer(1), "other"))
	p, _ := newTestPipeline(t, reg, openMemStore(t), mmerrors.NewCircuitBreaker("src", mmerrors.CircuitBreakerConfig{}, nil), 0)

	res := p.Run(context.Background(), sourceRun(3), discard)
	if res.ErrorKind != types.ErrNoMethods {
		t.Errorf("Expected NO_METHODS, got %+v", res)
	}
}

func TestPipeline_StopsAtTarget(t *testing.T) {
	var second int32
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("first", 0, producer(10)))
	reg.Register(NewCustomMethod("second", 1, counted(producer(10), &second)))
	store := openMemStore(t)
	p, layout := newTestPipeline(t, reg, store, mmerrors.NewCircuitBreaker("src", mmerrors.CircuitBreakerConfig{}, nil), 0)

	var downloaded int
	res := p.Run(context.Background(), sourceRun(4), func(ev progress.Event) {
		if ev.Type == progress.FileDownloaded {
			downloaded++
		}
	})
	if !res.Success || len(res.Files) != 4 {
		t.Fatalf("Expected 4 files, got %d (%+v)", len(res.Files), res)
	}
	if downloaded != 4 {
		t.Errorf("Expected 4 file_downloaded events, got %d", downloaded)
	}
	if second != 0 {
		t.Error("Expected second method to be skipped once the target was met")
	}
	for _, f := range res.Files {
		if f.Source != "src" || f.ByteSize == 0 || f.Kind != types.MediaImage {
			t.Errorf("Unexpected file metadata: %+v", f)
		}
		if ok, _ := afero.Exists(layout.Fs(), f.LocalPath); !ok {
			t.Errorf("Expected %s on disk", f.LocalPath)
		}
	}
	if st := store.Get("src", "first"); st.Attempts != 1 || st.TotalFiles != 4 {
		t.Errorf("Unexpected stats for first: %+v", st)
	}
}

func TestPipeline_DeduplicatesByURLAndHash(t *testing.T) {
	fn := func(ctx context.Context, req *Request) (*Result, error) {
		a, _ := writeMedia(req, "a.jpg", "same bytes")
		b, _ := writeMedia(req, "b.jpg", "same bytes")
		c, _ := writeMedia(req, "c.jpg", "other bytes")
		c.OriginURL = a.OriginURL
		d, _ := writeMedia(req, "d.jpg", "fresh bytes")
		for _, f := range []types.MediaFile{a, b, c, d} {
			req.Emit(f)
		}
		return &Result{}, nil
	}
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("m", 0, fn))
	p, layout := newTestPipeline(t, reg, openMemStore(t), mmerrors.NewCircuitBreaker("src", mmerrors.CircuitBreakerConfig{}, nil), 0)

	res := p.Run(context.Background(), sourceRun(10), discard)
	if len(res.Files) != 2 {
		t.Fatalf("Expected 2 unique files, got %d", len(res.Files))
	}
	files, _ := layout.ListFiles("/downloads/job/src")
	if len(files) != 2 {
		t.Errorf("Expected duplicates removed from disk, found %v", files)
	}
}

func TestPipeline_ContentTypeFilter(t *testing.T) {
	fn := func(ctx context.Context, req *Request) (*Result, error) {
		img, _ := writeMedia(req, "a.jpg", "image bytes")
		vid, _ := writeMedia(req, "b.mp4", "video bytes")
		vid.ContentType = "video/mp4"
		req.Emit(img)
		req.Emit(vid)
		return &Result{}, nil
	}
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("m", 0, fn))
	p, _ := newTestPipeline(t, reg, openMemStore(t), mmerrors.NewCircuitBreaker("src", mmerrors.CircuitBreakerConfig{}, nil), 0)

	run := sourceRun(10)
	run.ContentType = types.ContentVideo
	res := p.Run(context.Background(), run, discard)
	if len(res.Files) != 1 || res.Files[0].Kind != types.MediaVideo {
		t.Errorf("Expected only the video, got %+v", res.Files)
	}
}

func TestPipeline_ZeroFileSuccessDebitsBreaker(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("empty", 0, producer(0)))
	breaker := mmerrors.NewCircuitBreaker("src", mmerrors.CircuitBreakerConfig{MaxFailures: 2}, nil)
	p, _ := newTestPipeline(t, reg, openMemStore(t), breaker, 0)

	for i := 0; i < 2; i++ {
		res := p.Run(context.Background(), sourceRun(3), discard)
		if res.Success || res.ErrorKind != types.ErrNotFound {
			t.Errorf("Run %d: expected NOT_FOUND, got %+v", i, res)
		}
	}
	if breaker.GetState() != mmerrors.CircuitOpen {
		t.Errorf("Expected breaker open, got %s", breaker.GetState())
	}

	res := p.Run(context.Background(), sourceRun(3), discard)
	if res.ErrorKind != types.ErrCircuitOpen {
		t.Errorf("Expected CIRCUIT_OPEN, got %s", res.ErrorKind)
	}
}

func TestPipeline_NonTrippingFailureKeepsBreakerClosed(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("auth", 0, failing(types.ErrAuthRequired)))
	breaker := mmerrors.NewCircuitBreaker("src", mmerrors.CircuitBreakerConfig{MaxFailures: 1}, nil)
	p, _ := newTestPipeline(t, reg, openMemStore(t), breaker, 0)

	res := p.Run(context.Background(), sourceRun(3), discard)
	if res.ErrorKind != types.ErrAuthRequired {
		t.Errorf("Expected AUTH_REQUIRED, got %s", res.ErrorKind)
	}
	if breaker.GetState() != mmerrors.CircuitClosed {
		t.Errorf("Expected breaker closed, got %s", breaker.GetState())
	}
}

func TestPipeline_CancelledNotRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fn := func(c context.Context, req *Request) (*Result, error) {
		cancel()
		<-c.Done()
		return nil, c.Err()
	}
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("m", 0, fn))
	store := openMemStore(t)
	p, _ := newTestPipeline(t, reg, store, mmerrors.NewCircuitBreaker("src", mmerrors.CircuitBreakerConfig{}, nil), 3)

	res := p.Run(ctx, sourceRun(3), discard)
	if res.ErrorKind != types.ErrCancelled {
		t.Errorf("Expected CANCELLED, got %s", res.ErrorKind)
	}
	if st := store.Get("src", "m"); st.Attempts != 0 {
		t.Errorf("Expected cancelled run to leave stats untouched, got %+v", st)
	}
}

func TestPipeline_ProgressEvents(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("m", 0, func(ctx context.Context, req *Request) (*Result, error) {
		req.ReportProgress("scanned page 1", 12)
		return producer(1)(ctx, req)
	}))
	p, _ := newTestPipeline(t, reg, openMemStore(t), mmerrors.NewCircuitBreaker("src", mmerrors.CircuitBreakerConfig{}, nil), 0)

	var events []progress.Event
	p.Run(context.Background(), sourceRun(1), func(ev progress.Event) { events = append(events, ev) })

	progressEvents := eventsOfType(events, progress.SourceProgress)
	if len(progressEvents) != 2 {
		t.Fatalf("Expected 2 progress events, got %d", len(progressEvents))
	}
	scanned := progressEvents[1].ScannedSoFar
	if scanned == nil || *scanned != 12 {
		t.Errorf("Expected scanned_so_far 12, got %v", scanned)
	}
	if events[len(events)-1].Type != progress.FileDownloaded {
		t.Errorf("Expected file_downloaded last, got %s", events[len(events)-1].Type)
	}
}
