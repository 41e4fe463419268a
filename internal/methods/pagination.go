// internal/methods/pagination.go
package methods

import (
	"context"
	"strings"

	"github.com/valpere/MediaScrapexter/internal/config"
	"github.com/valpere/MediaScrapexter/internal/scraper"
)

const (
	defaultFirstPage = 1
	defaultPageSize  = 50
	maxPageSize      = 100
)

// Page is one step of a paginated search
type Page struct {
	Index  int
	Number int
	URL    string
	Limit  int
}

// pager walks the pages of a search URL template. Templates with {page}
// or {offset} are numbered; anything else is a single page unless the
// visitor returns a next link.
type pager struct {
	template string
	params   config.MethodParams
	first    int
	maxPages int
	pageSize int
	numbered bool
}

func newPager(p config.MethodParams, defaultMaxPages int) pager {
	pg := pager{
		template: p.SearchURL,
		params:   p,
		first:    p.FirstPage,
		maxPages: p.MaxPages,
		pageSize: p.PageSize,
		numbered: strings.Contains(p.SearchURL, "{page}") || strings.Contains(p.SearchURL, "{offset}"),
	}
	if pg.first <= 0 {
		pg.first = defaultFirstPage
	}
	if pg.maxPages <= 0 {
		pg.maxPages = defaultMaxPages
	}
	if !pg.numbered && p.NextSelector == "" {
		pg.maxPages = 1
	}
	return pg
}

// pageLimit picks the per-page item count once per walk so offsets stay
// aligned with what earlier pages already covered
func (pg pager) pageLimit(req *scraper.Request) int {
	limit := pg.pageSize
	if limit <= 0 {
		limit = req.Remaining()
		if limit > defaultPageSize {
			limit = defaultPageSize
		}
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

// page returns the index-th page for req
func (pg pager) page(req *scraper.Request, index, limit int) Page {
	number := pg.first + index
	offset := index * limit
	raw := fillTemplate(pg.template, req.Query, number, limit, offset)
	return Page{
		Index:  index,
		Number: number,
		URL:    withSafeSearch(raw, pg.params, req.SafeSearch),
		Limit:  limit,
	}
}

// visitFunc handles one page. progressed reports whether it produced new
// candidates; next, when set, is followed instead of the numbered page.
type visitFunc func(page Page) (next string, progressed bool, err error)

// walk visits pages until one yields nothing new, enough files were
// kept, or pages run out
func (pg pager) walk(ctx context.Context, req *scraper.Request, visit visitFunc) error {
	limit := pg.pageLimit(req)
	cur := pg.page(req, 0, limit)
	for i := 0; i < pg.maxPages; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.Remaining() <= 0 {
			return nil
		}

		next, progressed, err := visit(cur)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}

		switch {
		case next != "":
			cur = Page{Index: i + 1, Number: cur.Number + 1, URL: next, Limit: cur.Limit}
		case pg.numbered:
			cur = pg.page(req, i+1, limit)
		default:
			return nil
		}
	}
	return nil
}
