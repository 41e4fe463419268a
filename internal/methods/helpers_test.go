// internal/methods/helpers_test.go
package methods

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"

	"github.com/valpere/MediaScrapexter/internal/config"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/internal/storage"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

var testSource = types.Source{ID: "src"}

func newRequest(t *testing.T, source types.Source, query string, max int) *scraper.Request {
	t.Helper()
	layout := storage.NewLayout(afero.NewMemMapFs(), "/downloads")
	dir, err := layout.SourceDir("job", source.ID)
	if err != nil {
		t.Fatalf("Failed to create source dir: %v", err)
	}
	return &scraper.Request{
		JobID:       "job",
		Source:      source,
		Query:       query,
		MaxResults:  max,
		ContentType: types.ContentAny,
		OutputDir:   dir,
		Layout:      layout,
		Concurrency: 2,
	}
}

// collector records emitted files and accepts up to the request's target
type collector struct {
	mu    sync.Mutex
	files []types.MediaFile
}

func collect(req *scraper.Request) *collector {
	c := &collector{}
	req.Sink = func(f types.MediaFile) (bool, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.files) >= req.MaxResults {
			req.Layout.Remove(f.LocalPath)
			return false, false
		}
		c.files = append(c.files, f)
		return true, len(c.files) < req.MaxResults
	}
	return c
}

func (c *collector) urls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, f.OriginURL)
	}
	return out
}

// mediaHandler serves distinct JPEG-typed bytes for every path
func mediaHandler(hits *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("\xff\xd8\xff\xe0 media " + r.URL.Path))
	}
}

func newClient() *scraper.HTTPClient {
	return scraper.NewHTTPClient(scraper.ClientConfig{UserAgents: []string{"MediaScrapexterTest/1.0"}})
}

func info(name string, profiles Profiles) Info {
	return Info{Name: name, Profiles: profiles}
}

func profile(p config.MethodParams) Profiles {
	return Profiles{testSource.ID: p}
}

func containsAll(haystack []string, needles ...string) bool {
	joined := strings.Join(haystack, "\n")
	for _, n := range needles {
		if !strings.Contains(joined, n) {
			return false
		}
	}
	return true
}

func newServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}
