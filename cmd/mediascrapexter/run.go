// cmd/mediascrapexter/run.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/MediaScrapexter/internal/config"
	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/internal/monitoring"
	"github.com/valpere/MediaScrapexter/internal/output"
	"github.com/valpere/MediaScrapexter/internal/progress"
	"github.com/valpere/MediaScrapexter/internal/scraper"
	"github.com/valpere/MediaScrapexter/internal/utils"
	"github.com/valpere/MediaScrapexter/pkg/api"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

type runOptions struct {
	query       string
	sources     []string
	max         int
	safeSearch  bool
	deadline    time.Duration
	jobID       string
	contentType string
	events      string
	jsonOutput  bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scraping job",
		Example: `  mediascrapexter run -c engine.yaml --query "red pandas" --sources gallery,videosite --max 20
  mediascrapexter run --query "https://example.com/a.jpg" --sources direct --events job.ndjson`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.query, "query", "q", "", "Search query or URL")
	flags.StringSliceVarP(&opts.sources, "sources", "s", nil, "Source ids to search (default: every configured source)")
	flags.IntVarP(&opts.max, "max", "n", 10, "Files to keep per source")
	flags.BoolVar(&opts.safeSearch, "safe-search", false, "Skip NSFW sources and ask sources to filter adult content")
	flags.DurationVar(&opts.deadline, "deadline", 0, "Cancel the job after this long (0 means no deadline)")
	flags.StringVar(&opts.jobID, "job-id", "", "Job id and output directory name (generated when empty)")
	flags.StringVar(&opts.contentType, "content-type", "any", "Content type filter: any, image, video or audio")
	flags.StringVar(&opts.events, "events", "", "Append NDJSON progress events to this file (- for stdout)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the job summary as JSON")
	cmd.MarkFlagRequired("query")
	return cmd
}

func (a *app) run(parent context.Context, opts *runOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := a.logger(cfg)
	if err != nil {
		return err
	}
	ct, err := types.ParseContentType(opts.contentType)
	if err != nil {
		return mmerrors.Wrap(types.ErrInvalidInput, err, "bad --content-type")
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *monitoring.MetricsManager
	if cfg.Metrics.Enabled {
		metrics = monitoring.NewMetricsManager(monitoring.MetricsConfig{
			Namespace:       cfg.Metrics.Namespace,
			EnableGoMetrics: true,
		})
	}

	client, err := api.New(cfg, api.Options{Logger: logger, Metrics: metrics})
	if err != nil {
		return withCode(mmerrors.ExitConfig, err)
	}
	defer client.Close()

	if metrics != nil {
		go func() {
			if err := metrics.StartMetricsServer(ctx, cfg.Metrics.ListenAddress, cfg.Metrics.Path, client.Health()); err != nil {
				logger.Errorf("metrics server stopped: %v", err)
			}
		}()
		logger.Infof("serving metrics on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	outputs, err := output.NewManager(ctx, output.OptionsFromConfig(cfg, opts.events), logger)
	if err != nil {
		return withCode(mmerrors.ExitConfig, err)
	}
	defer outputs.Close()

	req := api.JobRequest{
		JobID:        opts.jobID,
		Query:        opts.query,
		Sources:      opts.sources,
		MaxPerSource: opts.max,
		SafeSearch:   opts.safeSearch,
		ContentType:  ct,
	}
	if len(req.Sources) == 0 {
		req.Sources = configuredSources(cfg)
	}
	if opts.deadline > 0 {
		req.Deadline = time.Now().Add(opts.deadline)
	}

	job, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for ev := range job.Events() {
			logEvent(logger, ev)
			outputs.WriteEvent(ev)
		}
	}()
	<-job.Done()
	<-consumed

	summary := job.Summary()
	if err := a.printSummary(summary, opts.jsonOutput); err != nil {
		return err
	}

	code := mmerrors.ExitCodeForStatus(summary.Status)
	if code == mmerrors.ExitOK {
		return nil
	}
	kind := summary.ErrorKind
	if summary.Status == types.StatusCancelled {
		kind = types.ErrCancelled
	}
	return withCode(code, mmerrors.New(kind, "job %s %s", summary.JobID, summary.Status))
}

func configuredSources(cfg *config.EngineConfig) []string {
	ids := make([]string, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		ids = append(ids, s.ID)
	}
	return ids
}

func logEvent(logger utils.Logger, ev progress.Event) {
	l := logger.WithField("job_id", ev.JobID)
	if ev.Source != "" {
		l = l.WithField("source", ev.Source)
	}
	switch ev.Type {
	case progress.JobStarted:
		l.Infof("job started: %q on %d sources", ev.Query, len(ev.Sources))
	case progress.SourceProgress:
		l.Debug(ev.Message)
	case progress.FileDownloaded:
		if ev.File != nil {
			l.Infof("downloaded %s (%d bytes)", ev.File.LocalPath, ev.File.ByteSize)
		}
	case progress.SourceFinished:
		if ev.Success {
			l.Infof("source finished: %d files", ev.Downloaded)
		} else {
			l.Warnf("source failed: %s (%d files)", ev.ErrorKind, ev.Downloaded)
		}
	case progress.JobFinished:
		l.Infof("job %s", ev.Status)
	}
}

func (a *app) printSummary(summary scraper.JobSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintf(a.stdout, "Job %s %s: %d files in %s\n", summary.JobID, summary.Status,
		summary.Totals.Downloaded, summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))

	ids := make([]string, 0, len(summary.Results))
	for id := range summary.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := summary.Results[id]
		if r.Success {
			fmt.Fprintf(a.stdout, "  ✓ %s: %d files\n", id, len(r.Files))
		} else {
			fmt.Fprintf(a.stdout, "  ✗ %s: %s\n", id, r.ErrorKind)
		}
	}
	return nil
}
