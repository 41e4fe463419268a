// internal/methods/html.go
package methods

import (
	"context"
	"fmt"
	"strings"

	"github.com/valpere/MediaScrapexter/internal/config"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

const defaultHTMLPages = 3

// HTMLDOMScrape fetches search pages and picks media elements with CSS
// selectors
type HTMLDOMScrape struct {
	base
	client     *scraper.HTTPClient
	downloader *Downloader
}

// NewHTMLDOMScrape creates an HTML_DOM_SCRAPE method
func NewHTMLDOMScrape(info Info, client *scraper.HTTPClient) *HTMLDOMScrape {
	return &HTMLDOMScrape{
		base:       base{info: info, kind: types.KindHTMLDOMScrape},
		client:     client,
		downloader: NewDownloader(client),
	}
}

func (m *HTMLDOMScrape) Execute(ctx context.Context, req *scraper.Request) (*scraper.Result, error) {
	p, err := m.params(req)
	if err != nil {
		return nil, err
	}
	if len(p.Selectors) == 0 {
		return nil, mmerrors.New(types.ErrInvalidInput, "no selectors configured for %s", req.Source.ID)
	}

	seen := make(map[string]bool)
	scanned := 0
	downloads := newTally(m.downloader, req)
	err = newPager(p, defaultHTMLPages).walk(ctx, req, func(page Page) (string, bool, error) {
		body, err := fetchPage(ctx, m.client, req, p, page.URL)
		if err != nil {
			return "", false, err
		}
		parser, err := NewHTMLParser(body, page.URL)
		if err != nil {
			return "", false, err
		}

		fresh := unseen(parser.MediaURLs(p.Selectors, p.Attributes, p.RequireMediaExtension), seen)
		scanned += len(fresh)
		req.ReportProgress(fmt.Sprintf("page %d: %d candidates", page.Number, len(fresh)), scanned)

		if err := downloads.fetch(ctx, req, targetsFor(fresh, page.URL, p.Headers)); err != nil {
			return "", false, err
		}
		return parser.NextURL(p.NextSelector), len(fresh) > 0, nil
	})
	if err == nil {
		err = downloads.err(req)
	}
	if err != nil {
		return nil, err
	}
	return &scraper.Result{Scanned: scanned}, nil
}

// HTMLJSONExtraction fetches search pages and mines embedded JSON for
// media URLs
type HTMLJSONExtraction struct {
	base
	client     *scraper.HTTPClient
	downloader *Downloader
}

// NewHTMLJSONExtraction creates an HTML_JSON_EXTRACTION method
func NewHTMLJSONExtraction(info Info, client *scraper.HTTPClient) *HTMLJSONExtraction {
	return &HTMLJSONExtraction{
		base:       base{info: info, kind: types.KindHTMLJSONExtraction},
		client:     client,
		downloader: NewDownloader(client),
	}
}

func (m *HTMLJSONExtraction) Execute(ctx context.Context, req *scraper.Request) (*scraper.Result, error) {
	p, err := m.params(req)
	if err != nil {
		return nil, err
	}
	extractor, err := NewJSONExtractor(p.Patterns, p.JSONKeys)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	scanned := 0
	downloads := newTally(m.downloader, req)
	err = newPager(p, defaultHTMLPages).walk(ctx, req, func(page Page) (string, bool, error) {
		body, err := fetchPage(ctx, m.client, req, p, page.URL)
		if err != nil {
			return "", false, err
		}
		urls, err := extractor.Extract(body)
		if err != nil {
			return "", false, err
		}

		fresh := unseen(urls, seen)
		scanned += len(fresh)
		req.ReportProgress(fmt.Sprintf("page %d: %d candidates", page.Number, len(fresh)), scanned)

		if err := downloads.fetch(ctx, req, targetsFor(fresh, page.URL, p.Headers)); err != nil {
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

// fetchPage GETs a search page through the source's limiter. Media where
// a page was expected is PARSE.
func fetchPage(ctx context.Context, client *scraper.HTTPClient, req *scraper.Request, p config.MethodParams, pageURL string) ([]byte, error) {
	body, contentType, err := client.GetBody(ctx, pageURL, scraper.RequestOptions{
		Referer: p.Referer,
		Headers: p.Headers,
		Limiter: req.Limiter,
	})
	if err != nil {
		return nil, err
	}
	ct := strings.ToLower(contentType)
	if ct != "" && (strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "video/") || strings.HasPrefix(ct, "audio/")) {
		return nil, mmerrors.New(types.ErrParse, "expected a page from %s, got %s", pageURL, contentType)
	}
	return body, nil
}

// unseen returns the URLs not yet in seen, marking them
func unseen(urls []string, seen map[string]bool) []string {
	var out []string
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
