// internal/methods/extract.go
package methods

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/buger/jsonparser"
	"github.com/samber/lo"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// defaultAttributes is the dereference order for media elements
var defaultAttributes = []string{"data-src", "src", "href"}

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".avif": true, ".bmp": true,
	".mp4": true, ".webm": true, ".mov": true, ".mkv": true, ".m4v": true,
	".mp3": true, ".m4a": true, ".ogg": true, ".opus": true, ".wav": true, ".flac": true,
}

// hasMediaExtension reports whether the URL path ends in a known media extension
func hasMediaExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return mediaExtensions[strings.ToLower(path.Ext(u.Path))]
}

// HTMLParser extracts media URLs from a parsed page
type HTMLParser struct {
	document *goquery.Document
	base     *url.URL
}

// NewHTMLParser parses body as HTML; relative URLs resolve against pageURL
func NewHTMLParser(body []byte, pageURL string) (*HTMLParser, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, mmerrors.Wrap(types.ErrParse, err, "failed to parse HTML")
	}
	base, _ := url.Parse(pageURL)
	return &HTMLParser{document: doc, base: base}, nil
}

// MediaURLs returns, in document order and without duplicates, the URL of
// every element matched by selectors. Each element contributes its first
// non-empty attribute from attrs.
func (hp *HTMLParser) MediaURLs(selectors, attrs []string, requireExtension bool) []string {
	if len(attrs) == 0 {
		attrs = defaultAttributes
	}
	var out []string
	for _, selector := range selectors {
		hp.document.Find(selector).Each(func(_ int, s *goquery.Selection) {
			for _, attr := range attrs {
				value, ok := s.Attr(attr)
				if !ok || strings.TrimSpace(value) == "" {
					continue
				}
				if resolved := utils.ResolveURL(hp.base, value); resolved != "" {
					if !requireExtension || hasMediaExtension(resolved) {
						out = append(out, resolved)
					}
				}
				break
			}
		})
	}
	return lo.Uniq(out)
}

// NextURL returns the resolved href of the first element matching selector
func (hp *HTMLParser) NextURL(selector string) string {
	if selector == "" {
		return ""
	}
	href, ok := hp.document.Find(selector).First().Attr("href")
	if !ok {
		return ""
	}
	return utils.ResolveURL(hp.base, href)
}

// JSONExtractor pulls media URLs out of pages that embed JSON
type JSONExtractor struct {
	patterns []*regexp.Regexp
	keys     map[string]bool
}

// NewJSONExtractor compiles patterns. The first capture group of each
// match is either a URL or a JSON document; with no patterns the whole
// body is treated as JSON. Empty keys collects every http(s) string.
func NewJSONExtractor(patterns, keys []string) (*JSONExtractor, error) {
	e := &JSONExtractor{keys: make(map[string]bool, len(keys))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, mmerrors.Wrap(types.ErrInvalidInput, err, fmt.Sprintf("invalid pattern %q", p))
		}
		e.patterns = append(e.patterns, re)
	}
	for _, k := range keys {
		e.keys[k] = true
	}
	return e, nil
}

// Extract returns the media URLs in body, deduplicated in first-seen order.
// The result depends only on body.
func (e *JSONExtractor) Extract(body []byte) ([]string, error) {
	var out []string
	if len(e.patterns) == 0 {
		if err := e.walkDocument(body, &out); err != nil {
			return nil, mmerrors.Wrap(types.ErrParse, err, "page is not a JSON document")
		}
		return lo.Uniq(out), nil
	}

	for _, re := range e.patterns {
		for _, m := range re.FindAllSubmatch(body, -1) {
			group := m[0]
			if len(m) > 1 {
				group = m[1]
			}
			group = bytes.TrimSpace(group)
			if len(group) == 0 {
				continue
			}
			if bytes.HasPrefix(group, []byte("{")) || bytes.HasPrefix(group, []byte("[")) {
				// A malformed embedded blob is skipped; other matches may still hold media
				e.walkDocument(group, &out)
				continue
			}
			if u := cleanURL(group); u != "" {
				out = append(out, u)
			}
		}
	}
	return lo.Uniq(out), nil
}

func (e *JSONExtractor) walkDocument(data []byte, out *[]string) error {
	value, vt, _, err := jsonparser.Get(data)
	if err != nil {
		return err
	}
	return e.walk(value, vt, "", out)
}

func (e *JSONExtractor) walk(data []byte, vt jsonparser.ValueType, key string, out *[]string) error {
	switch vt {
	case jsonparser.Object:
		return jsonparser.ObjectEach(data, func(k, v []byte, t jsonparser.ValueType, _ int) error {
			return e.walk(v, t, string(k), out)
		})
	case jsonparser.Array:
		var inner error
		_, err := jsonparser.ArrayEach(data, func(v []byte, t jsonparser.ValueType, _ int, _ error) {
			if inner == nil {
				inner = e.walk(v, t, key, out)
			}
		})
		if err != nil {
			return err
		}
		return inner
	case jsonparser.String:
		if len(e.keys) > 0 && !e.keys[key] {
			return nil
		}
		if s, err := jsonparser.ParseString(data); err == nil && utils.IsHTTPURL(s) {
			*out = append(*out, s)
		}
	}
	return nil
}

// cleanURL unescapes a URL captured from inline script or markup
func cleanURL(raw []byte) string {
	s := string(raw)
	if unescaped, err := jsonparser.ParseString(raw); err == nil {
		s = unescaped
	}
	s = html.UnescapeString(strings.Trim(s, `"'`))
	if !utils.IsHTTPURL(s) {
		return ""
	}
	return s
}
