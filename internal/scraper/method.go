// internal/scraper/method.go
package scraper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/valpere/MediaScrapexter/internal/storage"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Method is one way of obtaining media from a source. Execute returns an
// error for failure; the executor classifies it. Files should be reported
// through Request.Emit as each one lands on disk.
type Method interface {
	Name() string
	Kind() types.MethodKind
	Priority() int
	AppliesTo(source types.Source, contentType types.ContentType) bool
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// TimedMethod is implemented by methods that carry their own hard timeout,
// overriding the per-kind limit when positive
type TimedMethod interface {
	Timeout() time.Duration
}

// FileSink receives a finished file. accepted reports whether the file was
// kept; more reports whether further files are wanted.
type FileSink func(file types.MediaFile) (accepted bool, more bool)

// Request is everything a method gets for one attempt
type Request struct {
	JobID       string
	Source      types.Source
	Query       string
	MaxResults  int
	SafeSearch  bool
	ContentType types.ContentType

	// OutputDir is <downloads_root>/<job_id>/<source>, already created
	OutputDir string
	Layout    *storage.Layout
	Limiter   Limiter
	Logger    utils.Logger

	// Concurrency caps parallel downloads inside the method
	Concurrency int

	Sink     FileSink
	Progress func(message string, scanned int)

	accepted int64
}

// Result is what a method returns on success. Files listed here that were
// not already emitted are passed through the sink by the executor.
type Result struct {
	Files   []types.MediaFile
	Scanned int
}

// Emit hands a finished file to the pipeline and reports whether the method
// should keep going. With no sink every file is accepted.
func (r *Request) Emit(file types.MediaFile) bool {
	if r.Sink == nil {
		n := atomic.AddInt64(&r.accepted, 1)
		return r.MaxResults <= 0 || int(n) < r.MaxResults
	}
	accepted, more := r.Sink(file)
	if accepted {
		atomic.AddInt64(&r.accepted, 1)
	}
	return more
}

// Accepted returns how many emitted files were kept
func (r *Request) Accepted() int {
	return int(atomic.LoadInt64(&r.accepted))
}

// Remaining is how many more files the method should try to produce
func (r *Request) Remaining() int {
	left := r.MaxResults - r.Accepted()
	if left < 0 {
		return 0
	}
	return left
}

// ReportProgress forwards a scan progress message, if anyone listens
func (r *Request) ReportProgress(message string, scanned int) {
	if r.Progress != nil {
		r.Progress(message, scanned)
	}
}

// Log returns the request logger, never nil
func (r *Request) Log() utils.Logger {
	if r.Logger == nil {
		return utils.NewNopLogger()
	}
	return r.Logger
}

// ExecuteFunc is the body of a custom method
type ExecuteFunc func(ctx context.Context, req *Request) (*Result, error)

// CustomMethod adapts a function into a Method of kind CUSTOM. Hosts use it
// to plug in bespoke techniques; tests use it as a double.
type CustomMethod struct {
	name        string
	kind        types.MethodKind
	priority    int
	sources     map[string]bool
	contentType []types.ContentType
	timeout     time.Duration
	fn          ExecuteFunc
}

// NewCustomMethod creates a custom method. With no sources it applies to
// every source.
func NewCustomMethod(name string, priority int, fn ExecuteFunc, sources ...string) *CustomMethod {
	m := &CustomMethod{
		name:     name,
		kind:     types.KindCustom,
		priority: priority,
		fn:       fn,
	}
	if len(sources) > 0 {
		m.sources = make(map[string]bool, len(sources))
		for _, s := range sources {
			m.sources[s] = true
		}
	}
	return m
}

// WithKind reports a different kind, for doubles standing in for a real method
func (m *CustomMethod) WithKind(kind types.MethodKind) *CustomMethod {
	m.kind = kind
	return m
}

// WithContentTypes restricts the method to the given content types
func (m *CustomMethod) WithContentTypes(cts ...types.ContentType) *CustomMethod {
	m.contentType = cts
	return m
}

// WithTimeout sets a hard timeout for this method alone
func (m *CustomMethod) WithTimeout(d time.Duration) *CustomMethod {
	m.timeout = d
	return m
}

func (m *CustomMethod) Timeout() time.Duration { return m.timeout }

func (m *CustomMethod) Name() string           { return m.name }
func (m *CustomMethod) Kind() types.MethodKind { return m.kind }
func (m *CustomMethod) Priority() int          { return m.priority }

func (m *CustomMethod) AppliesTo(source types.Source, ct types.ContentType) bool {
	if m.sources != nil && !m.sources[source.ID] {
		return false
	}
	return ContentTypeAllowed(m.contentType, ct)
}

func (m *CustomMethod) Execute(ctx context.Context, req *Request) (*Result, error) {
	return m.fn(ctx, req)
}

// ContentTypeAllowed reports whether a method supporting supported serves a
// request for ct. An empty list or a request for any content matches.
func ContentTypeAllowed(supported []types.ContentType, ct types.ContentType) bool {
	if len(supported) == 0 || ct == types.ContentAny || ct == "" {
		return true
	}
	for _, s := range supported {
		if s == ct || s == types.ContentAny {
			return true
		}
	}
	return false
}
