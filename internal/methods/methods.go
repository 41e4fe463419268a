// internal/methods/methods.go

// Package methods implements the built-in method kinds. A method instance
// is built from one method definition and carries the parameters of every
// source profile that references it.
package methods

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/valpere/MediaScrapexter/internal/config"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Profiles maps a source id to that source's parameters for one method
type Profiles map[string]config.MethodParams

// Info is what every method is built from
type Info struct {
	Name     string
	Priority int
	Timeout  time.Duration

	// Profiles lists the sources the method serves. Nil means every source
	// with zero parameters.
	Profiles Profiles
}

type base struct {
	info Info
	kind types.MethodKind
}

func (b *base) Name() string           { return b.info.Name }
func (b *base) Kind() types.MethodKind { return b.kind }
func (b *base) Priority() int          { return b.info.Priority }
func (b *base) Timeout() time.Duration { return b.info.Timeout }

// AppliesTo reports whether the source has a profile for this method that
// allows the requested content type
func (b *base) AppliesTo(source types.Source, ct types.ContentType) bool {
	if b.info.Profiles == nil {
		return true
	}
	p, ok := b.info.Profiles[source.ID]
	if !ok {
		return false
	}
	return scraper.ContentTypeAllowed(contentTypes(p), ct)
}

// params returns the profile for the request's source. NSFW sources are
// refused while safe search is on.
func (b *base) params(req *scraper.Request) (config.MethodParams, error) {
	if req.SafeSearch && req.Source.NSFW {
		return config.MethodParams{}, mmerrors.New(types.ErrInvalidInput,
			"source %s is NSFW and safe search is on", req.Source.ID)
	}
	if b.info.Profiles == nil {
		return config.MethodParams{}, nil
	}
	p, ok := b.info.Profiles[req.Source.ID]
	if !ok {
		return config.MethodParams{}, mmerrors.New(types.ErrInvalidInput,
			"method %s has no profile for source %s", b.info.Name, req.Source.ID)
	}
	return p, nil
}

func contentTypes(p config.MethodParams) []types.ContentType {
	return lo.FilterMap(p.ContentTypes, func(s string, _ int) (types.ContentType, bool) {
		ct, err := types.ParseContentType(s)
		return ct, err == nil
	})
}

// fillTemplate substitutes {query}, {page}, {limit} and {offset}
func fillTemplate(tmpl, query string, page, limit, offset int) string {
	return strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{page}", strconv.Itoa(page),
		"{limit}", strconv.Itoa(limit),
		"{offset}", strconv.Itoa(offset),
	).Replace(tmpl)
}

// withSafeSearch appends the profile's safe search parameter ("key=value")
// when safe search is on
func withSafeSearch(rawURL string, p config.MethodParams, safe bool) string {
	if !safe || p.SafeSearchParam == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	key, value, _ := strings.Cut(p.SafeSearchParam, "=")
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// waitLimiter takes a page token for fetches that bypass the HTTP client
func waitLimiter(ctx context.Context, req *scraper.Request) error {
	if req.Limiter == nil {
		return nil
	}
	return req.Limiter.Wait(ctx)
}

// headersFor merges the profile headers with extra ones
func headersFor(p config.MethodParams, extra map[string]string) map[string]string {
	if len(p.Headers) == 0 && len(extra) == 0 {
		return nil
	}
	return lo.Assign(p.Headers, extra)
}
