// pkg/api/types.go
package api

import (
	"github.com/valpere/MediaScrapexter/internal/config"
	"github.com/valpere/MediaScrapexter/internal/progress"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Re-export types from internal packages for public API
type (
	Config       = config.EngineConfig
	JobRequest   = scraper.JobRequest
	JobSummary   = scraper.JobSummary
	SourceResult = scraper.SourceResult
	Job          = scraper.Job
	Method       = scraper.Method
	Request      = scraper.Request
	Result       = scraper.Result
	ExecuteFunc  = scraper.ExecuteFunc
	Event        = progress.Event
	Totals       = progress.Totals
	Source       = types.Source
	MediaFile    = types.MediaFile
	ContentType  = types.ContentType
	JobStatus    = types.JobStatus
	ErrorKind    = types.ErrorKind
)

// NewCustomMethod adapts fn into a CUSTOM method for the given sources
func NewCustomMethod(name string, priority int, fn ExecuteFunc, sources ...string) *scraper.CustomMethod {
	return scraper.NewCustomMethod(name, priority, fn, sources...)
}
