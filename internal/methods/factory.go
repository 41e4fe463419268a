// internal/methods/factory.go
package methods

import (
	"fmt"
	"strings"
	"time"

	"github.com/valpere/MediaScrapexter/internal/config"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Deps are the collaborators built-in methods share
type Deps struct {
	Client *scraper.HTTPClient

	// Renderer backs HEADLESS_BROWSER; nil makes those methods fail
	// with EXTRACTOR_FAILED
	Renderer Renderer

	// Extractor backs UNIVERSAL_EXTRACTOR; nil runs yt-dlp
	Extractor ExtractorRunner

	// Reddit builds SITE_API Reddit clients; nil uses go-reddit on Client
	Reddit RedditFactory
}

// ProfilesFromConfig groups source profiles by the method they reference
func ProfilesFromConfig(cfg *config.EngineConfig) map[string]Profiles {
	out := make(map[string]Profiles, len(cfg.Methods))
	for _, m := range cfg.Methods {
		out[m.Name] = Profiles{}
	}
	for _, s := range cfg.Sources {
		for name, params := range s.Methods {
			if _, ok := out[name]; !ok {
				continue
			}
			out[name][s.ID] = params
		}
	}
	return out
}

// FromConfig builds one method per definition, in definition order. Each
// applies to the sources whose profile names it.
func FromConfig(cfg *config.EngineConfig, deps Deps) ([]scraper.Method, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("methods need an HTTP client")
	}
	profiles := ProfilesFromConfig(cfg)

	built := make([]scraper.Method, 0, len(cfg.Methods))
	for _, mc := range cfg.Methods {
		info := Info{
			Name:     mc.Name,
			Priority: mc.Priority,
			Timeout:  time.Duration(cfg.TimeoutFor(mc) * float64(time.Second)),
			Profiles: profiles[mc.Name],
		}
		m, err := New(types.MethodKind(strings.ToUpper(mc.Kind)), info, deps)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", mc.Name, err)
		}
		built = append(built, m)
	}
	return built, nil
}

// New builds a method of the given kind
func New(kind types.MethodKind, info Info, deps Deps) (scraper.Method, error) {
	switch kind {
	case types.KindUniversalExtractor:
		return NewUniversalExtractor(info, deps.Extractor), nil
	case types.KindHTMLJSONExtraction:
		return NewHTMLJSONExtraction(info, deps.Client), nil
	case types.KindHTMLDOMScrape:
		return NewHTMLDOMScrape(info, deps.Client), nil
	case types.KindSiteAPI:
		return NewSiteAPI(info, deps.Client, deps.Reddit), nil
	case types.KindDirectHTTP:
		return NewDirectHTTP(info, deps.Client), nil
	case types.KindHeadlessBrowser:
		return NewHeadlessBrowser(info, deps.Renderer, deps.Client), nil
	case types.KindCustom:
		return nil, fmt.Errorf("CUSTOM methods are registered in code, not configured")
	}
	return nil, fmt.Errorf("unknown method kind %q", kind)
}
