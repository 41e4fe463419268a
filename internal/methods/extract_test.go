// internal/methods/extract_test.go
package methods

import (
	"reflect"
	"testing"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

func TestHTMLParser_MediaURLs(t *testing.T) {
	body := []byte(`<html><body>
		<img class="m" src="/thumb/1.gif" data-src="/full/1.jpg">
		<img class="m" src="full/2.png">
		<img class="m" src="data:image/png;base64,AAAA">
		<img class="m" src="/full/1.jpg">
		<a class="m" href="https://cdn.example.com/v/3.mp4">video</a>
		<a class="m" href="/about">about</a>
	</body></html>`)

	parser, err := NewHTMLParser(body, "https://site.example.com/search/page")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	got := parser.MediaURLs([]string{".m"}, nil, false)
	want := []string{
		"https://site.example.com/full/1.jpg",
		"https://site.example.com/search/full/2.png",
		"https://cdn.example.com/v/3.mp4",
		"https://site.example.com/about",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	filtered := parser.MediaURLs([]string{".m"}, nil, true)
	if len(filtered) != 3 {
		t.Errorf("Expected the non-media link dropped, got %v", filtered)
	}

	srcFirst := parser.MediaURLs([]string{"img.m"}, []string{"src"}, false)
	if len(srcFirst) == 0 || srcFirst[0] != "https://site.example.com/thumb/1.gif" {
		t.Errorf("Expected attribute order to be honoured, got %v", srcFirst)
	}
}

func TestHTMLParser_NextURL(t *testing.T) {
	parser, _ := NewHTMLParser([]byte(`<a class="next" href="?page=2">next</a>`), "https://site.example.com/s?page=1")
	if got := parser.NextURL("a.next"); got != "https://site.example.com/s?page=2" {
		t.Errorf("Expected resolved next link, got %q", got)
	}
	if got := parser.NextURL("a.missing"); got != "" {
		t.Errorf("Expected no next link, got %q", got)
	}
}

func TestJSONExtractor_Patterns(t *testing.T) {
	body := []byte(`<script>window.__DATA__ = {"items":[{"image":"https:\/\/cdn.example.com\/a.jpg","title":"https://not.media/"},{"image":"https://cdn.example.com/b.png"}]};</script>` +
		`<meta property="og:image" content="https://cdn.example.com/c.gif?x=1&amp;y=2">`)

	e, err := NewJSONExtractor([]string{
		`window\.__DATA__ = (\{.*?\});</script>`,
		`og:image" content="([^"]+)"`,
	}, []string{"image"})
	if err != nil {
		t.Fatalf("Failed to build extractor: %v", err)
	}

	got, err := e.Extract(body)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/b.png",
		"https://cdn.example.com/c.gif?x=1&y=2",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	again, _ := e.Extract(body)
	if !reflect.DeepEqual(got, again) {
		t.Errorf("Expected identical results on the same page, got %v then %v", got, again)
	}
}

func TestJSONExtractor_WholeDocument(t *testing.T) {
	e, _ := NewJSONExtractor(nil, nil)
	got, err := e.Extract([]byte(`{"data":{"children":[{"url":"https://x.example.com/a.jpg"},{"url":"not a url"},["https://x.example.com/b.jpg"]]}}`))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 URLs, got %v", got)
	}

	if _, err := e.Extract([]byte("<html>")); mmerrors.KindOf(err) != types.ErrParse {
		t.Errorf("Expected PARSE for a non-JSON page, got %v", err)
	}
}

func TestNewJSONExtractor_InvalidPattern(t *testing.T) {
	if _, err := NewJSONExtractor([]string{"("}, nil); mmerrors.KindOf(err) != types.ErrInvalidInput {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
}

func TestHasMediaExtension(t *testing.T) {
	tests := map[string]bool{
		"https://x.example.com/a.JPG":       true,
		"https://x.example.com/a.mp4?sig=1": true,
		"https://x.example.com/watch?v=1":   false,
		"https://x.example.com/a.html":      false,
	}
	for in, want := range tests {
		if got := hasMediaExtension(in); got != want {
			t.Errorf("hasMediaExtension(%q): expected %v, got %v", in, want, got)
		}
	}
}
