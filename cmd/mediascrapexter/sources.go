// cmd/mediascrapexter/sources.go
package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	mmerrors "github.com/valpere/MediaScrapexter/internal/errors"
	"github.com/valpere/MediaScrapexter/pkg/api"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

func newSourcesCmd(a *app) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and their current method order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := types.ParseContentType(contentType)
			if err != nil {
				return mmerrors.Wrap(types.ErrInvalidInput, err, "bad --content-type")
			}
			return a.sources(ct)
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "any", "Rank methods for this content type")
	return cmd
}

func (a *app) sources(ct types.ContentType) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := a.logger(cfg)
	if err != nil {
		return err
	}
	client, err := api.New(cfg, api.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer client.Close()

	engine := client.Engine()
	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tCATEGORY\tNSFW\tAUTH\tRATE/MIN\tMETHODS")
	for _, src := range engine.Sources() {
		order, err := engine.MethodOrder(src.ID, ct)
		methods := strings.Join(order, ",")
		if err != nil {
			methods = "(" + string(types.ErrNoMethods) + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%.0f\t%s\n",
			src.ID, src.Category, src.NSFW, src.RequiresAuth, src.DefaultRateLimitPerMin, methods)
	}
	return w.Flush()
}
