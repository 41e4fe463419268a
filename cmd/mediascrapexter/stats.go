// cmd/mediascrapexter/stats.go
package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/valpere/MediaScrapexter/internal/stats"
)

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show learned per-source method statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.stats(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw stats document")
	return cmd
}

func (a *app) stats(asJSON bool) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := a.logger(cfg)
	if err != nil {
		return err
	}
	store, err := stats.Open(afero.NewOsFs(), cfg.StatsPath, logger)
	if err != nil {
		return err
	}
	doc := store.Snapshot()

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	if len(doc) == 0 {
		fmt.Fprintf(a.stdout, "No stats recorded yet in %s\n", cfg.StatsPath)
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tMETHOD\tATTEMPTS\tSUCCESS\tFILES\tMEAN(s)")
	for _, source := range sortedKeys(doc) {
		methods := doc[source]
		names := make([]string, 0, len(methods))
		for name := range methods {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := methods[name]
			fmt.Fprintf(w, "%s\t%s\t%d\t%.0f%%\t%d\t%.2f\n",
				source, name, st.Attempts, st.SuccessRate()*100, st.TotalFiles, st.MeanExecutionSeconds)
		}
	}
	return w.Flush()
}

func sortedKeys(doc stats.Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
