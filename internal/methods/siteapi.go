// internal/methods/siteapi.go
package methods

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/vartanbeno/go-reddit/v2/reddit"

	"github.com/valpere/MediaScrapexter/internal/config"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

const (
	APIReddit = "reddit"
	APIJSON   = "json"

	defaultAPIPages    = 5
	defaultRedditPages = 5
	redditPageLimit    = 100
)

// RedditSearcher is the slice of the Reddit client used here;
// *reddit.SubredditService satisfies it
type RedditSearcher interface {
	SearchPosts(ctx context.Context, query string, subreddit string, opts *reddit.ListPostSearchOptions) ([]*reddit.Post, *reddit.Response, error)
}

// RedditFactory builds a searcher from a source profile
type RedditFactory func(p config.MethodParams) (RedditSearcher, error)

// NewRedditFactory returns a factory whose clients share httpClient.
// Profiles with app credentials get an OAuth client, others a read-only one.
func NewRedditFactory(httpClient *http.Client, userAgent string) RedditFactory {
	return func(p config.MethodParams) (RedditSearcher, error) {
		opts := []reddit.Opt{reddit.WithHTTPClient(httpClient)}
		if userAgent != "" {
			opts = append(opts, reddit.WithUserAgent(userAgent))
		}

		var (
			client *reddit.Client
			err    error
		)
		if p.ClientID != "" && p.ClientSecret != "" {
			client, err = reddit.NewClient(reddit.Credentials{
				ID:       p.ClientID,
				Secret:   p.ClientSecret,
				Username: p.Username,
				Password: p.Password,
			}, opts...)
		} else {
			client, err = reddit.NewReadonlyClient(opts...)
		}
		if err != nil {
			return nil, fmt.Errorf("create reddit client: %w", err)
		}
		return client.Subreddit, nil
	}
}

// SiteAPI queries a site's search API: Reddit, or a generic JSON API
// described by URL template and field paths
type SiteAPI struct {
	base
	client     *scraper.HTTPClient
	downloader *Downloader
	reddit     RedditFactory

	mu       sync.Mutex
	searcher map[string]RedditSearcher
}

// NewSiteAPI creates a SITE_API method. A nil factory builds read-only or
// OAuth Reddit clients on client.
func NewSiteAPI(info Info, client *scraper.HTTPClient, factory RedditFactory) *SiteAPI {
	if factory == nil {
		factory = NewRedditFactory(client.StdClient(), client.UserAgent())
	}
	return &SiteAPI{
		base:       base{info: info, kind: types.KindSiteAPI},
		client:     client,
		downloader: NewDownloader(client),
		reddit:     factory,
		searcher:   make(map[string]RedditSearcher),
	}
}

func (m *SiteAPI) Execute(ctx context.Context, req *scraper.Request) (*scraper.Result, error) {
	p, err := m.params(req)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(p.API) {
	case APIReddit:
		if req.Source.RequiresAuth && (p.ClientID == "" || p.ClientSecret == "") {
			return nil, mmerrors.New(types.ErrAuthRequired, "source %s requires reddit credentials", req.Source.ID)
		}
		return m.searchReddit(ctx, req, p)
	case APIJSON:
		if req.Source.RequiresAuth && p.Token == "" {
			return nil, mmerrors.New(types.ErrAuthRequired, "source %s requires an API token", req.Source.ID)
		}
		return m.searchJSON(ctx, req, p)
	default:
		return nil, mmerrors.New(types.ErrInvalidInput, "unknown api %q for source %s", p.API, req.Source.ID)
	}
}

func (m *SiteAPI) searcherFor(sourceID string, p config.MethodParams) (RedditSearcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.searcher[sourceID]; ok {
		return s, nil
	}
	s, err := m.reddit(p)
	if err != nil {
		return nil, mmerrors.Wrap(types.ErrInvalidInput, err, "reddit client unavailable")
	}
	m.searcher[sourceID] = s
	return s, nil
}

// searchReddit pages through search results with the after cursor
func (m *SiteAPI) searchReddit(ctx context.Context, req *scraper.Request, p config.MethodParams) (*scraper.Result, error) {
	searcher, err := m.searcherFor(req.Source.ID, p)
	if err != nil {
		return nil, err
	}

	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = defaultRedditPages
	}

	scanned := 0
	after := ""
	downloads := newTally(m.downloader, req)
	for page := 0; page < maxPages && req.Remaining() > 0; page++ {
		if err := waitLimiter(ctx, req); err != nil {
			return nil, err
		}

		limit := req.Remaining() * 2
		if limit > redditPageLimit {
			limit = redditPageLimit
		}
		posts, resp, err := searcher.SearchPosts(ctx, req.Query, p.Subreddit, &reddit.ListPostSearchOptions{
			ListPostOptions: reddit.ListPostOptions{
				ListOptions: reddit.ListOptions{Limit: limit, After: after},
			},
			Sort: "relevance",
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, redditError(err)
		}
		if len(posts) == 0 {
			break
		}

		urls := redditMediaURLs(posts, req.SafeSearch)
		scanned += len(posts)
		req.ReportProgress(fmt.Sprintf("reddit page %d: %d posts, %d media", page+1, len(posts), len(urls)), scanned)

		if err := downloads.fetch(ctx, req, targetsFor(urls, "https://www.reddit.com/", p.Headers)); err != nil {
			return nil, err
		}

		if resp == nil || resp.After == "" {
			break
		}
		after = resp.After
	}
	if err := downloads.err(req); err != nil {
		return nil, err
	}
	return &scraper.Result{Scanned: scanned}, nil
}

// redditMediaURLs keeps link posts that point at media. NSFW posts are
// dropped under safe search.
func redditMediaURLs(posts []*reddit.Post, safe bool) []string {
	var out []string
	for _, post := range posts {
		if post == nil || post.IsSelfPost || post.Stickied {
			continue
		}
		if safe && post.NSFW {
			continue
		}
		if utils.IsHTTPURL(post.URL) && hasMediaExtension(post.URL) {
			out = append(out, post.URL)
		}
	}
	return out
}

func redditError(err error) error {
	var rateErr *reddit.RateLimitError
	if errors.As(err, &rateErr) {
		return mmerrors.Wrap(types.ErrRateLimited, err, "reddit rate limit")
	}
	var respErr *reddit.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return mmerrors.Wrap(mmerrors.KindForStatus(respErr.Response.StatusCode), err, "reddit search failed")
	}
	return err
}

// searchJSON pages through a JSON search API. Items are read at
// items_path, their media URL at url_path and an NSFW flag at nsfw_path.
func (m *SiteAPI) searchJSON(ctx context.Context, req *scraper.Request, p config.MethodParams) (*scraper.Result, error) {
	itemsPath := splitPath(p.ItemsPath)
	urlPath := splitPath(p.URLPath)
	nsfwPath := splitPath(p.NSFWPath)

	var extra map[string]string
	if p.Token != "" {
		extra = map[string]string{"Authorization": "Bearer " + p.Token}
	}
	headers := headersFor(p, extra)

	seen := make(map[string]bool)
	scanned := 0
	downloads := newTally(m.downloader, req)
	err := newPager(p, defaultAPIPages).walk(ctx, req, func(page Page) (string, bool, error) {
		body, _, err := m.client.GetBody(ctx, page.URL, scraper.RequestOptions{
			Accept:  "application/json",
			Referer: p.Referer,
			Headers: headers,
			Limiter: req.Limiter,
		})
		if err != nil {
			return "", false, err
		}

		base, _ := url.Parse(page.URL)
		var urls []string
		items := 0
		_, err = jsonparser.ArrayEach(body, func(item []byte, _ jsonparser.ValueType, _ int, _ error) {
			items++
			if req.SafeSearch && len(nsfwPath) > 0 {
				if nsfw, err := jsonparser.GetBoolean(item, nsfwPath...); err == nil && nsfw {
					return
				}
			}
			raw, err := jsonparser.GetString(item, urlPath...)
			if err != nil {
				return
			}
			if u := utils.ResolveURL(base, raw); u != "" {
				urls = append(urls, u)
			}
		}, itemsPath...)
		if err != nil {
			return "", false, mmerrors.Wrap(types.ErrParse, err, "unexpected API payload from "+page.URL)
		}

		fresh := unseen(urls, seen)
		scanned += items
		req.ReportProgress(fmt.Sprintf("api page %d: %d items, %d media", page.Number, items, len(fresh)), scanned)

		if err := downloads.fetch(ctx, req, targetsFor(fresh, p.Referer, p.Headers)); err != nil {
			return "", false, err
		}
		return "", items > 0 && len(fresh) > 0, nil
	})
	if err == nil {
		err = downloads.err(req)
	}
	if err != nil {
		return nil, err
	}
	return &scraper.Result{Scanned: scanned}, nil
}

// splitPath turns "data.items" into jsonparser keys; array indexes use
// jsonparser's "[0]" form
func splitPath(p string) []string {
	p = strings.TrimSpace(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}
