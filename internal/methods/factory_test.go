// internal/methods/factory_test.go
package methods

import (
	"testing"
	"time"

	"github.com/valpere/MediaScrapexter/internal/config"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

const factoryYAML = `
methods:
  - name: "ytdlp"
    kind: "UNIVERSAL_EXTRACTOR"
    priority: 1
  - name: "gallery_dom"
    kind: "html_dom_scrape"
    priority: 2
    timeout_seconds: 30
  - name: "direct"
    kind: "DIRECT_HTTP"
    priority: 9
sources:
  - id: "videosite"
    category: "video"
    methods:
      ytdlp:
        search_prefix: "ytsearch"
  - id: "gallery"
    category: "image"
    methods:
      gallery_dom:
        search_url: "https://gallery.example.com/search?q={query}&page={page}"
        selectors: ["img.thumb"]
        content_types: ["image"]
      direct: {}
`

func TestFromConfig(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(factoryYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	built, err := FromConfig(cfg, Deps{Client: newClient()})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if len(built) != 3 {
		t.Fatalf("Expected 3 methods, got %d", len(built))
	}

	wantKinds := []types.MethodKind{types.KindUniversalExtractor, types.KindHTMLDOMScrape, types.KindDirectHTTP}
	for i, m := range built {
		if m.Kind() != wantKinds[i] {
			t.Errorf("Method %d: expected kind %s, got %s", i, wantKinds[i], m.Kind())
		}
	}

	ytdlp := built[0].(*UniversalExtractor)
	if ytdlp.Timeout() != 240*time.Second {
		t.Errorf("Expected kind timeout 240s, got %s", ytdlp.Timeout())
	}
	dom := built[1].(*HTMLDOMScrape)
	if dom.Timeout() != 30*time.Second || dom.Priority() != 2 {
		t.Errorf("Expected 30s and priority 2, got %s and %d", dom.Timeout(), dom.Priority())
	}

	gallery := types.Source{ID: "gallery"}
	video := types.Source{ID: "videosite"}
	if !dom.AppliesTo(gallery, types.ContentImage) || dom.AppliesTo(gallery, types.ContentVideo) {
		t.Error("Expected gallery_dom to serve gallery images only")
	}
	if dom.AppliesTo(video, types.ContentAny) {
		t.Error("Expected gallery_dom not to serve videosite")
	}
	if !built[0].AppliesTo(video, types.ContentAny) || built[0].AppliesTo(gallery, types.ContentAny) {
		t.Error("Expected ytdlp to serve videosite only")
	}
	if !built[2].AppliesTo(gallery, types.ContentVideo) {
		t.Error("Expected direct to serve gallery")
	}
}

func TestFromConfig_Errors(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := FromConfig(cfg, Deps{}); err == nil {
		t.Error("Expected an error without an HTTP client")
	}

	cfg.Methods = []config.MethodConfig{{Name: "mine", Kind: "CUSTOM"}}
	if _, err := FromConfig(cfg, Deps{Client: newClient()}); err == nil {
		t.Error("Expected CUSTOM to be refused")
	}

	cfg.Methods = []config.MethodConfig{{Name: "odd", Kind: "TELEPATHY"}}
	if _, err := FromConfig(cfg, Deps{Client: newClient()}); err == nil {
		t.Error("Expected an unknown kind to be refused")
	}
}

func TestProfilesFromConfig(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(factoryYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	profiles := ProfilesFromConfig(cfg)

	if len(profiles["ytdlp"]) != 1 || profiles["ytdlp"]["videosite"].SearchPrefix != "ytsearch" {
		t.Errorf("Unexpected ytdlp profiles: %+v", profiles["ytdlp"])
	}
	if _, ok := profiles["direct"]["gallery"]; !ok {
		t.Error("Expected an empty direct profile for gallery")
	}
}
