// internal/methods/direct.go
package methods

import (
	"context"
	"strings"

	"github.com/samber/lo"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// DirectHTTP downloads the whitespace-separated URLs given as the query
type DirectHTTP struct {
	base
	downloader *Downloader
}

// NewDirectHTTP creates a DIRECT_HTTP method
func NewDirectHTTP(info Info, client *scraper.HTTPClient) *DirectHTTP {
	return &DirectHTTP{
		base:       base{info: info, kind: types.KindDirectHTTP},
		downloader: NewDownloader(client),
	}
}

func (m *DirectHTTP) Execute(ctx context.Context, req *scraper.Request) (*scraper.Result, error) {
	p, err := m.params(req)
	if err != nil {
		return nil, err
	}

	urls := lo.Uniq(lo.Filter(strings.Fields(req.Query), func(s string, _ int) bool {
		return utils.IsHTTPURL(s)
	}))
	if len(urls) == 0 {
		return nil, mmerrors.New(types.ErrInvalidInput, "query holds no http(s) URL")
	}

	targets := targetsFor(urls, p.Referer, p.Headers)
	if _, err := m.downloader.FetchAll(ctx, req, targets); err != nil {
		return nil, err
	}
	return &scraper.Result{Scanned: len(urls)}, nil
}
