// internal/scraper/executor.go
package scraper

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Executor timeouts
const (
	DefaultMethodTimeout    = 120 * time.Second
	DefaultExtractorTimeout = 240 * time.Second

	// abandonGrace is how long a timed-out or cancelled method gets to wind
	// down before the executor stops waiting for it
	abandonGrace = 2 * time.Second
)

// Executor runs one method under a hard timeout and the retry policy. It
// never touches stats or breakers.
type Executor struct {
	policy   *mmerrors.RetryPolicy
	timeouts map[types.MethodKind]time.Duration
	fallback time.Duration
	grace    time.Duration
}

// NewExecutor creates an executor. timeouts overrides the per-kind limits.
func NewExecutor(policy *mmerrors.RetryPolicy, fallback time.Duration, timeouts map[types.MethodKind]time.Duration) *Executor {
	if policy == nil {
		policy = mmerrors.NewRetryPolicy(mmerrors.DefaultRetryConfig())
	}
	if fallback <= 0 {
		fallback = DefaultMethodTimeout
	}
	t := map[types.MethodKind]time.Duration{
		types.KindUniversalExtractor: DefaultExtractorTimeout,
	}
	for k, v := range timeouts {
		if v > 0 {
			t[k] = v
		}
	}
	return &Executor{policy: policy, timeouts: t, fallback: fallback, grace: abandonGrace}
}

// TimeoutFor returns the hard timeout applied to a method of kind
func (e *Executor) TimeoutFor(kind types.MethodKind) time.Duration {
	if t, ok := e.timeouts[kind]; ok {
		return t
	}
	return e.fallback
}

func (e *Executor) timeoutOf(m Method) time.Duration {
	if tm, ok := m.(TimedMethod); ok && tm.Timeout() > 0 {
		return tm.Timeout()
	}
	return e.TimeoutFor(m.Kind())
}

// Execute runs m until it yields files, fails terminally or runs out of
// retries. Files accepted through the request sink during any attempt count
// toward the outcome.
func (e *Executor) Execute(ctx context.Context, m Method, req *Request) types.MethodOutcome {
	start := time.Now()
	timeout := e.timeoutOf(m)

	var (
		failed   int
		accepted int
		lastErr  error
		stray    <-chan struct{}
	)

	err := retry.Do(
		func() error {
			// an abandoned attempt must exit before the method runs again
			if stray != nil {
				select {
				case <-stray:
					stray = nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			attemptReq := *req
			attemptReq.accepted = 0
			attemptReq.MaxResults = req.MaxResults - accepted

			var err error
			stray, err = e.attempt(ctx, m, &attemptReq, timeout)
			accepted += attemptReq.Accepted()
			if err == nil {
				return nil
			}
			failed++
			lastErr = err
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.policy.MaxRetries()+1)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil || accepted >= req.MaxResults {
				return false
			}
			return e.policy.ShouldRetry(failed-1, mmerrors.KindOf(err))
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			return e.policy.Delay(failed-1, mmerrors.KindOf(err))
		}),
		retry.OnRetry(func(_ uint, err error) {
			req.Log().WithFields(map[string]interface{}{
				"method":  m.Name(),
				"attempt": failed,
				"kind":    mmerrors.KindOf(err),
			}).Debugf("retrying after failure: %v", err)
		}),
	)

	outcome := types.MethodOutcome{
		FilesDownloaded:  accepted,
		ExecutionSeconds: time.Since(start).Seconds(),
		RetryCount:       retryCount(failed, err == nil),
	}

	switch {
	case err == nil:
		outcome.Success = true
	case ctx.Err() != nil:
		// a job deadline is a cancellation from the method's point of view
		outcome.ErrorKind = types.ErrCancelled
		outcome.ErrorMessage = ctx.Err().Error()
	default:
		if lastErr == nil {
			lastErr = err
		}
		outcome.ErrorKind = mmerrors.KindOf(lastErr)
		outcome.ErrorMessage = lastErr.Error()
	}

	// files that landed before a later attempt failed still count
	if !outcome.Success && accepted > 0 && outcome.ErrorKind != types.ErrCancelled {
		outcome.Success = true
		outcome.ErrorKind = ""
		outcome.ErrorMessage = ""
	}
	return outcome
}

// retryCount is the number of attempts beyond the first
func retryCount(failed int, succeeded bool) int {
	if succeeded {
		return failed
	}
	if failed == 0 {
		return 0
	}
	return failed - 1
}

// attempt runs a single invocation under timeout. Late emissions from a
// method that outlived its attempt are refused and their files removed.
// When the method is abandoned, stray closes once its goroutine returns.
func (e *Executor) attempt(ctx context.Context, m Method, req *Request, timeout time.Duration) (stray <-chan struct{}, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		closed bool
	)
	inner := req.Sink
	emitted := make(map[string]bool)
	req.Sink = func(f types.MediaFile) (bool, bool) {
		mu.Lock()
		if closed {
			mu.Unlock()
			if req.Layout != nil && f.LocalPath != "" {
				req.Layout.Remove(f.LocalPath)
			}
			return false, false
		}
		emitted[f.LocalPath] = true
		mu.Unlock()

		if inner == nil {
			return true, true
		}
		return inner(f)
	}
	defer func() {
		mu.Lock()
		closed = true
		mu.Unlock()
	}()

	type done struct {
		result *Result
		err    error
	}
	ch := make(chan done, 1)
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer func() {
			if r := recover(); r != nil {
				req.Log().Errorf("method %s panicked: %v\n%s", m.Name(), r, debug.Stack())
				ch <- done{err: mmerrors.New(types.ErrParse, "method %s panicked: %v", m.Name(), r)}
			}
		}()
		res, err := m.Execute(attemptCtx, req)
		ch <- done{result: res, err: err}
	}()

	var d done
	select {
	case d = <-ch:
	case <-attemptCtx.Done():
		cancel()
		select {
		case d = <-ch:
		case <-time.After(e.grace):
			req.Log().Warnf("method %s did not stop within %v of its deadline", m.Name(), e.grace)
			stray = exited
		}
		if ctx.Err() != nil {
			return stray, ctx.Err()
		}
		return stray, mmerrors.New(types.ErrTimeout, "method %s exceeded %v", m.Name(), timeout)
	}

	if d.err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attemptCtx.Err() != nil {
			return nil, mmerrors.Wrap(types.ErrTimeout, d.err, fmt.Sprintf("method %s exceeded %v", m.Name(), timeout))
		}
		return nil, d.err
	}

	if d.result != nil {
		for _, f := range d.result.Files {
			mu.Lock()
			seen := emitted[f.LocalPath]
			mu.Unlock()
			if seen {
				continue
			}
			if !req.Emit(f) {
				break
			}
		}
	}
	return nil, nil
}
