// internal/methods/download.go
package methods

import (
	"context"
	"errors"
	"io"
	"mime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sourcegraph/conc/pool"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/internal/storage"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

const (
	chunkSize          = 32 << 10
	defaultConcurrency = 4
)

// Target is one media URL to download
type Target struct {
	URL     string
	Referer string
	Headers map[string]string
}

// Downloader streams media into a request's output directory
type Downloader struct {
	client *scraper.HTTPClient
}

// NewDownloader creates a downloader on client
func NewDownloader(client *scraper.HTTPClient) *Downloader {
	return &Downloader{client: client}
}

// Fetch downloads one target to <name>.part and renames it into place.
// A document where media was expected is PARSE; a body shorter than its
// Content-Length is NETWORK.
func (d *Downloader) Fetch(ctx context.Context, req *scraper.Request, t Target) (types.MediaFile, error) {
	resp, err := d.client.Get(ctx, t.URL, scraper.RequestOptions{
		Referer: t.Referer,
		Accept:  "*/*",
		Headers: t.Headers,
	})
	if err != nil {
		return types.MediaFile{}, err
	}
	defer resp.Body.Close()

	contentType := baseType(resp.Header.Get("Content-Type"))
	if utils.IsTextContent(contentType) {
		return types.MediaFile{}, mmerrors.New(types.ErrParse, "expected media from %s, got %s", t.URL, contentType)
	}

	pf, err := req.Layout.Create(req.OutputDir, storage.NameFromURL(t.URL, extensionFor(contentType)))
	if err != nil {
		return types.MediaFile{}, mmerrors.Wrap(types.ErrInvalidInput, err, "cannot create output file")
	}

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			pf.Abort()
			return types.MediaFile{}, err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := pf.Write(buf[:n]); werr != nil {
				pf.Abort()
				return types.MediaFile{}, mmerrors.Wrap(types.ErrInvalidInput, werr, "failed to write "+pf.FinalPath())
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			pf.Abort()
			if ctx.Err() != nil {
				return types.MediaFile{}, ctx.Err()
			}
			return types.MediaFile{}, mmerrors.Wrap(types.ErrNetwork, rerr, "download of "+t.URL+" interrupted")
		}
	}

	if resp.ContentLength > 0 && pf.Written() < resp.ContentLength {
		pf.Abort()
		return types.MediaFile{}, mmerrors.New(types.ErrNetwork, "short body from %s: %d of %d bytes",
			t.URL, pf.Written(), resp.ContentLength)
	}

	size := pf.Written()
	localPath, err := pf.Commit()
	if err != nil {
		return types.MediaFile{}, mmerrors.Wrap(types.ErrParse, err, "empty or unwritable download")
	}

	if contentType == "application/octet-stream" {
		contentType = ""
	}
	return types.MediaFile{
		LocalPath:    localPath,
		Source:       req.Source.ID,
		OriginURL:    t.URL,
		ByteSize:     size,
		ContentType:  contentType,
		DiscoveredAt: time.Now().UTC(),
	}, nil
}

// FetchAll downloads targets in parallel, at most req.Concurrency at a
// time, emitting each file as it lands. It stops once the sink wants no
// more. The first failure is returned only when nothing was kept.
func (d *Downloader) FetchAll(ctx context.Context, req *scraper.Request, targets []Target) (int, error) {
	if len(targets) == 0 {
		return 0, nil
	}
	start := req.Accepted()

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		stopped  atomic.Bool
		mu       sync.Mutex
		firstErr error
	)
	p := pool.New().WithMaxGoroutines(concurrencyOf(req)).WithContext(workCtx)
	for _, t := range targets {
		if workCtx.Err() != nil || stopped.Load() || req.Remaining() <= 0 {
			break
		}
		p.Go(func(ctx context.Context) error {
			if stopped.Load() {
				return nil
			}
			f, err := d.Fetch(ctx, req, t)
			if err != nil {
				if ctx.Err() == nil {
					req.Log().WithField("url", t.URL).Debugf("download failed: %v", err)
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
				return nil
			}
			if !req.Emit(f) {
				stopped.Store(true)
				cancel()
			}
			return nil
		})
	}
	p.Wait()

	kept := req.Accepted() - start
	if err := ctx.Err(); err != nil {
		return kept, err
	}
	if kept == 0 && firstErr != nil {
		return 0, firstErr
	}
	return kept, nil
}

// tally runs FetchAll page after page. A page whose downloads all fail
// does not end the walk; its error is reported only when the whole
// method kept nothing.
type tally struct {
	d       *Downloader
	start   int
	lastErr error
}

func newTally(d *Downloader, req *scraper.Request) *tally {
	return &tally{d: d, start: req.Accepted()}
}

// fetch downloads one page of targets. Only cancellation is returned.
func (t *tally) fetch(ctx context.Context, req *scraper.Request, targets []Target) error {
	if _, err := t.d.FetchAll(ctx, req, targets); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.lastErr = err
	}
	return nil
}

// err is the last download failure when no page kept a file
func (t *tally) err(req *scraper.Request) error {
	if req.Accepted() > t.start {
		return nil
	}
	return t.lastErr
}

// targetsFor wraps URLs with a shared referer and headers
func targetsFor(urls []string, referer string, headers map[string]string) []Target {
	out := make([]Target, 0, len(urls))
	for _, u := range urls {
		out = append(out, Target{URL: u, Referer: referer, Headers: headers})
	}
	return out
}

func concurrencyOf(req *scraper.Request) int {
	if req.Concurrency > 0 {
		return req.Concurrency
	}
	return defaultConcurrency
}

func baseType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}

func extensionFor(contentType string) string {
	if contentType == "" {
		return ""
	}
	if mt := mimetype.Lookup(contentType); mt != nil {
		return mt.Extension()
	}
	return ""
}
