// internal/methods/universal.go
package methods

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

const (
	// ExitMaxDownloads is yt-dlp's exit code when --max-downloads was reached
	ExitMaxDownloads = 101

	defaultSearchPrefix   = "ytsearch"
	defaultOutputTemplate = "%(title).150B [%(id)s].%(ext)s"
	safeSearchAgeLimit    = 17
	stderrTailLines       = 10
)

// Invocation is one extractor run
type Invocation struct {
	Target         string
	OutputDir      string
	OutputTemplate string
	MaxDownloads   int
	AgeLimit       int
	Format         string
}

// ExtractorResult is how an extractor run ended
type ExtractorResult struct {
	ExitCode int
	Stderr   string
}

// ExtractorRunner runs the external extractor. Run returns an error only
// when the extractor could not be run at all.
type ExtractorRunner interface {
	Run(ctx context.Context, inv Invocation) (*ExtractorResult, error)
}

// YTDLPRunner runs yt-dlp through go-ytdlp
type YTDLPRunner struct{}

func (YTDLPRunner) Run(ctx context.Context, inv Invocation) (*ExtractorResult, error) {
	cmd := ytdlp.New().
		MaxDownloads(inv.MaxDownloads).
		RestrictFilenames().
		NoProgress().
		Output(filepath.Join(inv.OutputDir, inv.OutputTemplate))
	if inv.AgeLimit > 0 {
		cmd = cmd.AgeLimit(inv.AgeLimit)
	}
	if inv.Format != "" {
		cmd = cmd.Format(inv.Format)
	}

	res, err := cmd.Run(ctx, inv.Target)
	if res != nil {
		return &ExtractorResult{ExitCode: res.ExitCode, Stderr: res.Stderr}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, mmerrors.Wrap(types.ErrExtractorFailed, err, "yt-dlp could not be run")
}

// UniversalExtractor hands the query to yt-dlp: a URL as is, anything else
// as a search with the source's prefix
type UniversalExtractor struct {
	base
	runner ExtractorRunner
}

// NewUniversalExtractor creates a UNIVERSAL_EXTRACTOR method. A nil runner
// uses yt-dlp.
func NewUniversalExtractor(info Info, runner ExtractorRunner) *UniversalExtractor {
	if runner == nil {
		runner = YTDLPRunner{}
	}
	return &UniversalExtractor{
		base:   base{info: info, kind: types.KindUniversalExtractor},
		runner: runner,
	}
}

func (m *UniversalExtractor) Execute(ctx context.Context, req *scraper.Request) (*scraper.Result, error) {
	p, err := m.params(req)
	if err != nil {
		return nil, err
	}

	want := req.Remaining()
	query := strings.TrimSpace(req.Query)
	target := query
	if !utils.IsHTTPURL(query) {
		prefix := p.SearchPrefix
		if prefix == "" {
			prefix = defaultSearchPrefix
		}
		target = fmt.Sprintf("%s%d:%s", prefix, want, query)
	}

	before, err := m.existing(req)
	if err != nil {
		return nil, err
	}

	inv := Invocation{
		Target:         target,
		OutputDir:      req.OutputDir,
		OutputTemplate: defaultOutputTemplate,
		MaxDownloads:   want,
		Format:         p.Format,
	}
	if req.SafeSearch {
		inv.AgeLimit = safeSearchAgeLimit
	}

	req.Log().WithField("target", target).Debug("running extractor")
	res, err := m.runner.Run(ctx, inv)
	if err != nil {
		return nil, err
	}

	// Files landed before a failure still count
	after, err := req.Layout.ListFiles(req.OutputDir)
	if err != nil {
		return nil, mmerrors.Wrap(types.ErrExtractorFailed, err, "cannot list extractor output")
	}
	fresh := 0
	for _, f := range after {
		if before[f] {
			continue
		}
		fresh++
		if !req.Emit(types.MediaFile{LocalPath: f, Source: req.Source.ID}) {
			break
		}
	}

	if res.ExitCode != 0 && res.ExitCode != ExitMaxDownloads {
		return nil, extractorError(res)
	}
	return &scraper.Result{Scanned: fresh}, nil
}

func (m *UniversalExtractor) existing(req *scraper.Request) (map[string]bool, error) {
	files, err := req.Layout.ListFiles(req.OutputDir)
	if err != nil {
		return nil, mmerrors.Wrap(types.ErrInvalidInput, err, "cannot list output directory")
	}
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f] = true
	}
	return seen, nil
}

// extractorError classifies a failed run from its stderr and carries the tail
func extractorError(res *ExtractorResult) error {
	tail := utils.TailLines(res.Stderr, stderrTailLines)
	lower := strings.ToLower(tail)

	kind := types.ErrExtractorFailed
	switch {
	case strings.Contains(lower, "http error 429"), strings.Contains(lower, "too many requests"):
		kind = types.ErrRateLimited
	case strings.Contains(lower, "sign in to confirm"), strings.Contains(lower, "login required"),
		strings.Contains(lower, "requires authentication"):
		kind = types.ErrAuthRequired
	case strings.Contains(lower, "http error 403"):
		kind = types.ErrForbidden
	case strings.Contains(lower, "http error 404"), strings.Contains(lower, "video unavailable"):
		kind = types.ErrNotFound
	case strings.Contains(lower, "unsupported url"):
		kind = types.ErrInvalidInput
	}
	return mmerrors.New(kind, "yt-dlp exited with code %d: %s", res.ExitCode, tail)
}
