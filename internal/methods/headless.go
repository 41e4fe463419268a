// internal/methods/headless.go
package methods

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/valpere/MediaScrapexter/internal/browser"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

const defaultHeadlessPages = 1

// Renderer renders pages in a browser; *browser.Pool satisfies it
type Renderer interface {
	Render(ctx context.Context, req browser.RenderRequest) (*browser.RenderResult, error)
}

// HeadlessBrowser renders search pages in Chrome and downloads the media
// the page script finds
type HeadlessBrowser struct {
	base
	renderer   Renderer
	downloader *Downloader
}

// NewHeadlessBrowser creates a HEADLESS_BROWSER method
func NewHeadlessBrowser(info Info, renderer Renderer, client *scraper.HTTPClient) *HeadlessBrowser {
	return &HeadlessBrowser{
		base:       base{info: info, kind: types.KindHeadlessBrowser},
		renderer:   renderer,
		downloader: NewDownloader(client),
	}
}

func (m *HeadlessBrowser) Execute(ctx context.Context, req *scraper.Request) (*scraper.Result, error) {
	p, err := m.params(req)
	if err != nil {
		return nil, err
	}
	if m.renderer == nil {
		return nil, mmerrors.New(types.ErrExtractorFailed, "no browser available")
	}

	seen := make(map[string]bool)
	scanned := 0
	downloads := newTally(m.downloader, req)
	err = newPager(p, defaultHeadlessPages).walk(ctx, req, func(page Page) (string, bool, error) {
		if err := waitLimiter(ctx, req); err != nil {
			return "", false, err
		}
		res, err := m.renderer.Render(ctx, browser.RenderRequest{
			URL:          page.URL,
			WaitSelector: p.WaitSelector,
			Selectors:    p.Selectors,
			Attributes:   p.Attributes,
			ScrollCount:  p.ScrollCount,
		})
		if err != nil {
			return "", false, renderError(ctx, err)
		}

		urls := res.MediaURLs
		if p.RequireMediaExtension {
			urls = lo.Filter(urls, func(u string, _ int) bool { return hasMediaExtension(u) })
		}
		fresh := unseen(urls, seen)
		scanned += len(fresh)
		req.ReportProgress(fmt.Sprintf("rendered page %d: %d candidates", page.Number, len(fresh)), scanned)

		referer := res.FinalURL
		if referer == "" {
			referer = page.URL
		}
		if err := downloads.fetch(ctx, req, targetsFor(fresh, referer, p.Headers)); err != nil {
			return "", false, err
		}
		return "", len(fresh) > 0, nil
	})
	if err == nil {
		err = downloads.err(req)
	}
	if err != nil {
		return nil, err
	}
	return &scraper.Result{Scanned: scanned}, nil
}

func renderError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var tagged *mmerrors.Error
	if errors.As(err, &tagged) {
		return err
	}
	if errors.Is(err, browser.ErrPoolClosed) || errors.Is(err, browser.ErrUnavailable) {
		return mmerrors.Wrap(types.ErrExtractorFailed, err, "no browser")
	}
	return mmerrors.Wrap(types.ErrNetwork, err, "render failed")
}
